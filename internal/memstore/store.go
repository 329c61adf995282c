// Package memstore is an in-memory ledger.Store. Balance rows are locked
// per key for the life of a transaction and writes are buffered until
// commit, so a failed unit leaves no trace.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"SpotLedger/internal/ledger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type refKey struct {
	ref   ledger.Ref
	asset string
}

type journalRefKey struct {
	kind ledger.EntryKind
	ref  ledger.Ref
	key  ledger.BalanceKey
}

// Store holds committed state behind mu. Row locks live in rowLocks and
// are independent of mu.
type Store struct {
	mu         sync.RWMutex
	balances   map[ledger.BalanceKey]ledger.Balance
	holds      map[uuid.UUID]ledger.WalletHold
	holdsByRef map[refKey][]uuid.UUID
	holdOrder  []uuid.UUID
	journal    []ledger.JournalEntry
	journalRef map[journalRefKey]struct{}
	orders     map[uuid.UUID]ledger.Order
	orderSeq   []uuid.UUID
	trades     map[uuid.UUID]ledger.Trade // by fill id
	tradeSeq   []uuid.UUID
	seq        int64

	locksMu  sync.Mutex
	rowLocks map[ledger.BalanceKey]chan struct{}

	now func() time.Time
}

type Option func(*Store)

// WithClock overrides the clock used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(opts ...Option) *Store {
	s := &Store{
		balances:   make(map[ledger.BalanceKey]ledger.Balance),
		holds:      make(map[uuid.UUID]ledger.WalletHold),
		holdsByRef: make(map[refKey][]uuid.UUID),
		journalRef: make(map[journalRefKey]struct{}),
		orders:     make(map[uuid.UUID]ledger.Order),
		trades:     make(map[uuid.UUID]ledger.Trade),
		rowLocks:   make(map[ledger.BalanceKey]chan struct{}),
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Store) rowLock(key ledger.BalanceKey) chan struct{} {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	ch, ok := s.rowLocks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		s.rowLocks[key] = ch
	}
	return ch
}

func (s *Store) nextSeq() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return s.seq
}

// InTx runs fn against a buffered transaction and commits on success.
func (s *Store) InTx(ctx context.Context, fn func(tx ledger.Tx) error) error {
	t := newTx(s)
	defer t.unlockAll()

	if err := fn(t); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return t.commit()
}

// ============================================================================
// Reader
// ============================================================================

func (s *Store) ReadBalance(_ context.Context, key ledger.BalanceKey) (ledger.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if b, ok := s.balances[key]; ok {
		return b, nil
	}
	return ledger.ZeroBalance(key), nil
}

func (s *Store) ListBalances(_ context.Context, userID uuid.UUID) ([]ledger.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ledger.Balance
	for k, b := range s.balances {
		if k.UserID == userID {
			out = append(out, b)
		}
	}
	sortBalances(out)
	return out, nil
}

func (s *Store) AllBalances(_ context.Context) ([]ledger.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ledger.Balance, 0, len(s.balances))
	for _, b := range s.balances {
		out = append(out, b)
	}
	sortBalances(out)
	return out, nil
}

func sortBalances(bs []ledger.Balance) {
	sort.Slice(bs, func(i, j int) bool { return bs[i].Key().Less(bs[j].Key()) })
}

func (s *Store) ListHolds(_ context.Context, f ledger.HoldFilter) ([]ledger.WalletHold, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ledger.WalletHold
	for _, id := range s.holdOrder {
		h := s.holds[id]
		if f.UserID != uuid.Nil && h.UserID != f.UserID {
			continue
		}
		if f.Asset != "" && h.Asset != f.Asset {
			continue
		}
		if f.Status != "" && h.Status != f.Status {
			continue
		}
		if f.RefType != "" && h.Ref.Type != f.RefType {
			continue
		}
		if !f.Ref.IsZero() && h.Ref != f.Ref {
			continue
		}
		if !f.CreatedBefore.IsZero() && !h.CreatedAt.Before(f.CreatedBefore) {
			continue
		}
		out = append(out, h)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

func (s *Store) GetOrder(_ context.Context, id uuid.UUID) (ledger.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return ledger.Order{}, ledger.Errorf(ledger.CodeOrderNotFound, "order %s not found", id)
	}
	return o, nil
}

func (s *Store) ListOrders(_ context.Context, userID uuid.UUID, limit int) ([]ledger.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ledger.Order
	for i := len(s.orderSeq) - 1; i >= 0; i-- {
		o := s.orders[s.orderSeq[i]]
		if o.UserID != userID {
			continue
		}
		out = append(out, o)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) ListTrades(_ context.Context, orderID uuid.UUID) ([]ledger.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ledger.Trade
	for _, fill := range s.tradeSeq {
		if t := s.trades[fill]; t.OrderID == orderID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *Store) JournalHistory(_ context.Context, key ledger.BalanceKey, cursor int64, limit int) ([]ledger.JournalEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ledger.JournalEntry
	for _, e := range s.journal {
		if e.Sequence <= cursor || e.Key() != key {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) Snapshot(_ context.Context) (ledger.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := ledger.Snapshot{
		Balances:   make([]ledger.Balance, 0, len(s.balances)),
		ActiveHeld: make(map[ledger.BalanceKey]decimal.Decimal),
		Journal:    make([]ledger.JournalEntry, len(s.journal)),
	}
	for _, b := range s.balances {
		snap.Balances = append(snap.Balances, b)
	}
	sortBalances(snap.Balances)
	for _, h := range s.holds {
		if h.Status == ledger.HoldActive {
			snap.ActiveHeld[h.Key()] = snap.ActiveHeld[h.Key()].Add(h.Amount)
		}
	}
	copy(snap.Journal, s.journal)
	return snap, nil
}

func (s *Store) JournalRefExists(_ context.Context, kind ledger.EntryKind, ref ledger.Ref) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for k := range s.journalRef {
		if k.kind == kind && k.ref == ref {
			return true, nil
		}
	}
	return false, nil
}

var _ ledger.Store = (*Store)(nil)

func errNotLocked(key ledger.BalanceKey) error {
	return fmt.Errorf("balance %s written without lock", key.AccountPath())
}
