package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// BalanceTracker rebuilds balances by replaying journal entries. It is not
// safe for concurrent use.
type BalanceTracker struct {
	balances map[BalanceKey]JournalTotals
	lastSeq  int64
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		balances: make(map[BalanceKey]JournalTotals),
	}
}

// ApplyEntry validates and applies one entry. Entries must arrive in
// sequence order.
func (bt *BalanceTracker) ApplyEntry(e JournalEntry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	if e.Sequence != 0 && e.Sequence <= bt.lastSeq {
		return fmt.Errorf("journal sequence %d not after %d", e.Sequence, bt.lastSeq)
	}
	if e.Sequence != 0 {
		bt.lastSeq = e.Sequence
	}

	key := e.Key()
	cur := bt.balances[key]
	cur.Available = cur.Available.Add(e.AvailableDelta)
	cur.Locked = cur.Locked.Add(e.LockedDelta)
	bt.balances[key] = cur
	return nil
}

func (bt *BalanceTracker) ApplyEntries(entries []JournalEntry) error {
	for _, e := range entries {
		if err := bt.ApplyEntry(e); err != nil {
			return err
		}
	}
	return nil
}

// GetBalance returns the replayed totals for key; zero if never touched.
func (bt *BalanceTracker) GetBalance(key BalanceKey) JournalTotals {
	return bt.balances[key]
}

// ValidateNonNegative checks the replayed balance for key.
func (bt *BalanceTracker) ValidateNonNegative(key BalanceKey) error {
	t := bt.balances[key]
	if t.Available.IsNegative() || t.Locked.IsNegative() {
		return fmt.Errorf("%s replays negative: available %s, locked %s",
			key.AccountPath(), t.Available, t.Locked)
	}
	return nil
}

// ComputeGlobalBalance returns Σ(available+locked) per asset.
func (bt *BalanceTracker) ComputeGlobalBalance() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal)
	for key, t := range bt.balances {
		out[key.Asset] = out[key.Asset].Add(t.Available).Add(t.Locked)
	}
	return out
}

// Snapshot returns a copy of all replayed balances.
func (bt *BalanceTracker) Snapshot() map[BalanceKey]JournalTotals {
	out := make(map[BalanceKey]JournalTotals, len(bt.balances))
	for k, v := range bt.balances {
		out[k] = v
	}
	return out
}
