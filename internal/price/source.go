// Package price supplies the reference price used to settle market orders.
package price

import (
	"context"

	"SpotLedger/internal/event"
	"SpotLedger/internal/ledger"

	"github.com/shopspring/decimal"
)

// Source returns the current reference price for a BASE-QUOTE symbol.
// An unavailable price is reported as an error matching
// ledger.ErrPriceUnavailable.
type Source interface {
	GetCurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// Sink accepts price updates from the feed. It reports whether the update
// was applied; stale sequences are ignored without error.
type Sink interface {
	Update(ctx context.Context, u event.PriceUpdate) (bool, error)
}

func unavailable(format string, args ...any) error {
	return ledger.Errorf(ledger.CodePriceUnavailable, format, args...)
}

// Static serves fixed prices. Useful for tests and single-market demos.
type Static map[string]decimal.Decimal

func (s Static) GetCurrentPrice(_ context.Context, symbol string) (decimal.Decimal, error) {
	p, ok := s[symbol]
	if !ok || !p.IsPositive() {
		return decimal.Decimal{}, unavailable("no price for %s", symbol)
	}
	return p, nil
}

func invalidPrice(u event.PriceUpdate) error {
	return ledger.Errorf(ledger.CodeInvalidAmount, "price for %s must be > 0, got %s", u.Symbol, u.Price)
}
