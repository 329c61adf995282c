package event

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// WithdrawalRequested represents a user's request to withdraw funds
type WithdrawalRequested struct {
	WithdrawalID uuid.UUID
	UserID       uuid.UUID
	Asset        string
	Amount       decimal.Decimal
	Sequence     int64
	Timestamp    time.Time
}

func (w *WithdrawalRequested) IdempotencyKey() string {
	return w.WithdrawalID.String()
}

func (w *WithdrawalRequested) EventType() EventType {
	return EventTypeWithdrawalRequested
}

func (w *WithdrawalRequested) SourceSequence() int64 {
	return w.Sequence
}
