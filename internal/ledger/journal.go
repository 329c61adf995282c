package ledger

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EntryKind represents the purpose of a journal entry
type EntryKind string

const (
	EntryDeposit     EntryKind = "DEPOSIT"
	EntryWithdraw    EntryKind = "WITHDRAW"
	EntryReserve     EntryKind = "RESERVE"
	EntryRelease     EntryKind = "RELEASE"
	EntryCapture     EntryKind = "CAPTURE"
	EntryTransferIn  EntryKind = "TRANSFER_IN"
	EntryTransferOut EntryKind = "TRANSFER_OUT"
)

// JournalEntry is the immutable audit record of one balance mutation.
// Replaying every entry of a balance in sequence order reproduces its
// available and locked amounts.
type JournalEntry struct {
	Sequence       int64     // Store-assigned, strictly increasing
	ID             uuid.UUID // Unique identifier
	UserID         uuid.UUID
	Asset          string
	Kind           EntryKind
	AvailableDelta decimal.Decimal
	LockedDelta    decimal.Decimal
	Ref            Ref   // Causing operation, zero for unreferenced deposits/withdrawals
	BalanceVersion int64 // Balance version after the mutation
	CreatedAt      time.Time
}

func (e JournalEntry) Key() BalanceKey {
	return BalanceKey{UserID: e.UserID, Asset: e.Asset}
}

// Validate checks that the deltas have the shape their kind requires.
// Reserve and release move funds between the two sides, so they must sum
// to zero; capture only ever consumes locked funds.
func (e JournalEntry) Validate() error {
	av, lk := e.AvailableDelta, e.LockedDelta
	if av.IsZero() && lk.IsZero() {
		return fmt.Errorf("journal %s has zero deltas", e.ID)
	}

	var ok bool
	switch e.Kind {
	case EntryDeposit, EntryTransferIn:
		ok = av.IsPositive() && lk.IsZero()
	case EntryWithdraw, EntryTransferOut:
		ok = av.IsNegative() && lk.IsZero()
	case EntryReserve:
		ok = av.IsNegative() && lk.Equal(av.Neg())
	case EntryRelease:
		ok = av.IsPositive() && lk.Equal(av.Neg())
	case EntryCapture:
		ok = av.IsZero() && lk.IsNegative()
	default:
		return fmt.Errorf("journal %s has unknown kind %q", e.ID, e.Kind)
	}
	if !ok {
		return fmt.Errorf("journal %s: %s deltas (available %s, locked %s) are inconsistent",
			e.ID, e.Kind, av, lk)
	}
	return nil
}

// JournalTotals is the sum of all journal deltas of one balance.
type JournalTotals struct {
	Available decimal.Decimal
	Locked    decimal.Decimal
}
