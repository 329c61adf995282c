package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Balance is the durable available/locked pair for one (user, asset).
// Version starts at 0 and increases by exactly one on every mutation.
type Balance struct {
	UserID    uuid.UUID
	Asset     string
	Available decimal.Decimal
	Locked    decimal.Decimal
	Version   int64
	UpdatedAt time.Time
}

func ZeroBalance(key BalanceKey) Balance {
	return Balance{UserID: key.UserID, Asset: key.Asset}
}

func (b Balance) Key() BalanceKey {
	return BalanceKey{UserID: b.UserID, Asset: b.Asset}
}

func (b Balance) Total() decimal.Decimal {
	return b.Available.Add(b.Locked)
}

// Apply returns b with the deltas added, or an InsufficientBalanceError if
// either side would go negative. The version is not touched.
func (b Balance) Apply(availableDelta, lockedDelta decimal.Decimal) (Balance, error) {
	avail := b.Available.Add(availableDelta)
	if avail.IsNegative() {
		reason := ReasonAmountTooLow
		if b.Version == 0 && b.Available.IsZero() && b.Locked.IsZero() {
			reason = ReasonNoBalanceRow
		}
		return b, &InsufficientBalanceError{
			UserID:    b.UserID,
			Asset:     b.Asset,
			Required:  availableDelta.Neg(),
			Available: b.Available,
			Reason:    reason,
		}
	}
	locked := b.Locked.Add(lockedDelta)
	if locked.IsNegative() {
		return b, &InsufficientBalanceError{
			UserID:    b.UserID,
			Asset:     b.Asset,
			Required:  lockedDelta.Neg(),
			Available: b.Locked,
			Reason:    ReasonLockedTooLow,
		}
	}
	b.Available = avail
	b.Locked = locked
	return b, nil
}
