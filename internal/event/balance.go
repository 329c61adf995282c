package event

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BalanceChanged is published after a unit that mutated the balance commits.
type BalanceChanged struct {
	UserID    uuid.UUID       `json:"user_id"`
	Asset     string          `json:"asset"`
	Available decimal.Decimal `json:"available"`
	Locked    decimal.Decimal `json:"locked"`
	Version   int64           `json:"version"`
	Cause     string          `json:"cause"`
	RefType   string          `json:"ref_type,omitempty"`
	RefID     string          `json:"ref_id,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

func (b *BalanceChanged) EventType() EventType {
	return EventTypeBalanceChanged
}

// PartitionKey orders events per user on partitioned buses.
func (b *BalanceChanged) PartitionKey() string {
	return b.UserID.String()
}
