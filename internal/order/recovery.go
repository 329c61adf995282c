package order

import (
	"context"
	"errors"
	"time"

	"SpotLedger/internal/core"
	"SpotLedger/internal/ledger"
	"SpotLedger/internal/observability"

	"github.com/shopspring/decimal"
)

// RecoveryReport summarizes one recovery pass.
type RecoveryReport struct {
	Scanned  int
	Released int
	Rejected int
	Kept     int
}

// Recover refunds ORDER holds left behind by an interrupted unit. It scans
// ACTIVE holds older than olderThan:
//   - order terminal: the hold is released.
//   - MARKET order still NEW: settlement never committed, so the hold is
//     released and the order is REJECTED.
//   - open LIMIT order: the hold is kept.
//   - no order row: placement writes the hold and the order in one unit, so
//     the hold was reserved directly by a caller and is kept.
func (c *Controller) Recover(ctx context.Context, olderThan time.Duration) (RecoveryReport, error) {
	holds, err := c.store.ListHolds(ctx, ledger.HoldFilter{
		Status:        ledger.HoldActive,
		RefType:       ledger.RefOrder,
		CreatedBefore: c.since(olderThan),
	})
	if err != nil {
		return RecoveryReport{}, err
	}

	var rep RecoveryReport
	for _, h := range holds {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		rep.Scanned++
		outcome, err := c.recoverHold(ctx, h)
		if err != nil {
			log := observability.WithRef(observability.WithBalance(c.log, h.UserID, h.Asset), h.Ref)
			log.Error().
				Err(err).
				Str("hold_id", h.ID.String()).
				Msg("hold recovery failed")
			return rep, err
		}
		switch outcome {
		case outcomeReleased:
			rep.Released++
		case outcomeRejected:
			rep.Released++
			rep.Rejected++
		default:
			rep.Kept++
		}
	}

	if rep.Released > 0 {
		c.metrics.RecoveredHolds.Add(float64(rep.Released))
		c.log.Warn().
			Int("scanned", rep.Scanned).
			Int("released", rep.Released).
			Int("rejected", rep.Rejected).
			Msg("recovered orphaned order holds")
	}
	return rep, nil
}

type outcome int

const (
	outcomeKept outcome = iota
	outcomeReleased
	outcomeRejected
)

func (c *Controller) recoverHold(ctx context.Context, h ledger.WalletHold) (outcome, error) {
	var result outcome
	err := c.engine.Execute(ctx, "recover_hold", func(u *core.Unit) error {
		result = outcomeKept
		if err := u.Lock(h.Key()); err != nil {
			return err
		}

		o, err := u.Tx().GetOrderForUpdate(u.Context(), h.Ref.ID)
		if errors.Is(err, ledger.ErrOrderNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		reject := false
		switch {
		case o.Status.Terminal():
		case o.Type == ledger.OrderTypeMarket && o.Status == ledger.OrderNew:
			reject = true
		default:
			return nil
		}

		released, err := u.Release(h.UserID, h.Asset, decimal.Zero, h.Ref)
		if err != nil || released == nil {
			// nil: settled or refunded by a concurrent unit.
			return err
		}
		result = outcomeReleased
		if reject {
			o.Status = ledger.OrderRejected
			if _, err := u.Tx().UpdateOrder(u.Context(), o, o.Version); err != nil {
				return err
			}
			result = outcomeRejected
		}
		return nil
	})
	return result, err
}

// RunRecovery runs Recover once immediately and then every interval until
// ctx is canceled. A failed pass is logged and retried on the next tick.
func (c *Controller) RunRecovery(ctx context.Context, interval, olderThan time.Duration) error {
	if _, err := c.Recover(ctx, olderThan); err != nil && ctx.Err() == nil {
		c.log.Warn().Err(err).Msg("startup recovery failed")
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := c.Recover(ctx, olderThan); err != nil && ctx.Err() == nil {
				c.log.Warn().Err(err).Msg("recovery pass failed")
			}
		}
	}
}
