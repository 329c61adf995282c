package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Store is the transactional storage behind the reservation engine.
type Store interface {
	Reader

	// InTx runs fn inside one transaction. A nil return commits; any error
	// rolls back every write fn made. Commit conflicts surface as
	// ErrConcurrentModification.
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the write surface available inside a transaction. Balance rows are
// locked by GetBalanceForUpdate/LockBalances until the transaction ends.
type Tx interface {
	// GetBalance reads without locking. A missing row reads as zero.
	GetBalance(ctx context.Context, key BalanceKey) (Balance, error)
	// GetBalanceForUpdate creates the row if missing and locks it.
	GetBalanceForUpdate(ctx context.Context, key BalanceKey) (Balance, error)
	// LockBalances locks every key in global order.
	LockBalances(ctx context.Context, keys ...BalanceKey) error
	// UpdateBalance writes b if the stored version equals expectedVersion and
	// returns the row with its new version.
	UpdateBalance(ctx context.Context, b Balance, expectedVersion int64) (Balance, error)

	// FindHold returns the most recent hold for (ref, asset) in status, or nil.
	FindHold(ctx context.Context, ref Ref, asset string, status HoldStatus) (*WalletHold, error)
	InsertHold(ctx context.Context, h WalletHold) (WalletHold, error)
	// CloseHold moves an ACTIVE hold to a terminal status.
	CloseHold(ctx context.Context, id uuid.UUID, status HoldStatus, settled decimal.Decimal) error

	// InsertJournal appends e and returns it with its sequence assigned.
	InsertJournal(ctx context.Context, e JournalEntry) (JournalEntry, error)
	HasJournalRef(ctx context.Context, kind EntryKind, ref Ref, key BalanceKey) (bool, error)

	InsertOrder(ctx context.Context, o Order) (Order, error)
	GetOrderForUpdate(ctx context.Context, id uuid.UUID) (Order, error)
	UpdateOrder(ctx context.Context, o Order, expectedVersion int64) (Order, error)
	InsertTrade(ctx context.Context, t Trade) (Trade, error)
	GetTradeByFillID(ctx context.Context, fillID uuid.UUID) (*Trade, error)
}

// Reader is the read-only surface used by queries and recovery.
type Reader interface {
	ReadBalance(ctx context.Context, key BalanceKey) (Balance, error)
	ListBalances(ctx context.Context, userID uuid.UUID) ([]Balance, error)
	AllBalances(ctx context.Context) ([]Balance, error)
	ListHolds(ctx context.Context, f HoldFilter) ([]WalletHold, error)
	GetOrder(ctx context.Context, id uuid.UUID) (Order, error)
	ListOrders(ctx context.Context, userID uuid.UUID, limit int) ([]Order, error)
	ListTrades(ctx context.Context, orderID uuid.UUID) ([]Trade, error)
	// JournalHistory pages through a balance's entries after cursor (a sequence).
	JournalHistory(ctx context.Context, key BalanceKey, cursor int64, limit int) ([]JournalEntry, error)
	// Snapshot reads balances, active holds and the journal at one point in time.
	Snapshot(ctx context.Context) (Snapshot, error)
	JournalRefExists(ctx context.Context, kind EntryKind, ref Ref) (bool, error)
}

// Snapshot is a consistent view used for integrity verification.
type Snapshot struct {
	Balances   []Balance
	ActiveHeld map[BalanceKey]decimal.Decimal
	Journal    []JournalEntry // sequence order
}

// Verify replays the journal and runs every invariant check.
func (s Snapshot) Verify() ([]Violation, error) {
	tracker := NewBalanceTracker()
	if err := tracker.ApplyEntries(s.Journal); err != nil {
		return nil, err
	}
	return NewInvariantValidator(tracker).Check(s.Balances, s.ActiveHeld), nil
}

// AuditReport is the outcome of verifying one Snapshot.
type AuditReport struct {
	JournalSequence int64    // last sequence covered
	JournalHash     [32]byte // JournalHasher tip over the snapshot journal
	BalanceCount    int
	ActiveHolds     int // balances with at least one ACTIVE hold
	Violations      []Violation
	CreatedAt       time.Time
}

func (r AuditReport) OK() bool { return len(r.Violations) == 0 }

// Audit verifies the snapshot and fingerprints its journal.
func (s Snapshot) Audit(now time.Time) (AuditReport, error) {
	violations, err := s.Verify()
	if err != nil {
		return AuditReport{}, err
	}
	h := NewJournalHasher()
	for i := range s.Journal {
		h.Add(s.Journal[i])
	}
	tip, seq := h.Tip()
	return AuditReport{
		JournalSequence: seq,
		JournalHash:     tip,
		BalanceCount:    len(s.Balances),
		ActiveHolds:     len(s.ActiveHeld),
		Violations:      violations,
		CreatedAt:       now,
	}, nil
}
