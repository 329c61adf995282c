package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// NewEntry builds the journal entry for a mutation that produced after.
// Sequence is left for the store to assign.
func NewEntry(after Balance, kind EntryKind, availableDelta, lockedDelta decimal.Decimal, ref Ref, now time.Time) JournalEntry {
	return JournalEntry{
		ID:             uuid.New(),
		UserID:         after.UserID,
		Asset:          after.Asset,
		Kind:           kind,
		AvailableDelta: availableDelta,
		LockedDelta:    lockedDelta,
		Ref:            ref,
		BalanceVersion: after.Version,
		CreatedAt:      now,
	}
}

// DedupKind reports whether entries of this kind are exactly-once per
// (kind, ref, user, asset) when a reference is supplied.
func (k EntryKind) DedupKind() bool {
	switch k {
	case EntryDeposit, EntryWithdraw, EntryTransferIn, EntryTransferOut:
		return true
	}
	return false
}
