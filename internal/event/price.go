package event

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// PriceUpdate is a reference price for one market from the price feeder.
type PriceUpdate struct {
	Symbol        string
	Price         decimal.Decimal
	PriceSequence int64 // Monotonic per symbol
	Timestamp     time.Time
}

func (p *PriceUpdate) IdempotencyKey() string {
	return fmt.Sprintf("%s:price:%d", p.Symbol, p.PriceSequence)
}

func (p *PriceUpdate) EventType() EventType {
	return EventTypePriceUpdate
}

func (p *PriceUpdate) SourceSequence() int64 {
	return p.PriceSequence
}
