package event

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DepositRequested is a custody-confirmed deposit to credit to a user.
type DepositRequested struct {
	DepositID uuid.UUID
	UserID    uuid.UUID
	Asset     string
	Amount    decimal.Decimal
	Sequence  int64
	Timestamp time.Time
}

func (d *DepositRequested) IdempotencyKey() string {
	return d.DepositID.String()
}

func (d *DepositRequested) EventType() EventType {
	return EventTypeDepositRequested
}

func (d *DepositRequested) SourceSequence() int64 {
	return d.Sequence
}
