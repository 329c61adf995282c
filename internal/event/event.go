package event

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeDepositRequested
	EventTypeWithdrawalRequested
	EventTypePriceUpdate
	EventTypeBalanceChanged
)

// Event is the interface all inbound payloads implement
type Event interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// EventType returns the discriminator
	EventType() EventType

	// SourceSequence returns upstream ordering key
	SourceSequence() int64
}

func (et EventType) String() string {
	switch et {
	case EventTypeDepositRequested:
		return "DepositRequested"
	case EventTypeWithdrawalRequested:
		return "WithdrawalRequested"
	case EventTypePriceUpdate:
		return "PriceUpdate"
	case EventTypeBalanceChanged:
		return "BalanceChanged"
	default:
		return "Unknown"
	}
}
