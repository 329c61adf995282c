package memstore

import (
	"context"
	"fmt"
	"sort"

	"SpotLedger/internal/ledger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const absent int64 = -1

type tx struct {
	s *Store

	held    map[ledger.BalanceKey]struct{}
	highest *ledger.BalanceKey

	balances    map[ledger.BalanceKey]ledger.Balance
	baseVersion map[ledger.BalanceKey]int64

	holds    map[uuid.UUID]ledger.WalletHold
	newHolds []uuid.UUID

	journal []ledger.JournalEntry

	orders    map[uuid.UUID]ledger.Order
	orderBase map[uuid.UUID]int64
	newOrders []uuid.UUID

	trades []ledger.Trade
}

func newTx(s *Store) *tx {
	return &tx{
		s:           s,
		held:        make(map[ledger.BalanceKey]struct{}),
		balances:    make(map[ledger.BalanceKey]ledger.Balance),
		baseVersion: make(map[ledger.BalanceKey]int64),
		holds:       make(map[uuid.UUID]ledger.WalletHold),
		orders:      make(map[uuid.UUID]ledger.Order),
		orderBase:   make(map[uuid.UUID]int64),
	}
}

// lock takes the row lock for key. Keys must be taken in ascending order;
// a key below one already held is only tried, never waited on, so two
// units can never wait on each other.
func (t *tx) lock(ctx context.Context, key ledger.BalanceKey) error {
	if _, ok := t.held[key]; ok {
		return nil
	}
	ch := t.s.rowLock(key)

	if t.highest != nil && key.Less(*t.highest) {
		select {
		case ch <- struct{}{}:
		default:
			return fmt.Errorf("lock %s out of order: %w", key.AccountPath(), ledger.ErrConcurrentModification)
		}
	} else {
		select {
		case ch <- struct{}{}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	t.held[key] = struct{}{}
	if t.highest == nil || t.highest.Less(key) {
		k := key
		t.highest = &k
	}
	return nil
}

func (t *tx) unlockAll() {
	for key := range t.held {
		<-t.s.rowLock(key)
	}
	t.held = nil
}

// ============================================================================
// Balances
// ============================================================================

func (t *tx) view(key ledger.BalanceKey) (ledger.Balance, bool) {
	if b, ok := t.balances[key]; ok {
		return b, true
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	b, ok := t.s.balances[key]
	return b, ok
}

func (t *tx) GetBalance(_ context.Context, key ledger.BalanceKey) (ledger.Balance, error) {
	if b, ok := t.view(key); ok {
		return b, nil
	}
	return ledger.ZeroBalance(key), nil
}

func (t *tx) GetBalanceForUpdate(ctx context.Context, key ledger.BalanceKey) (ledger.Balance, error) {
	if err := t.lock(ctx, key); err != nil {
		return ledger.Balance{}, err
	}
	b, ok := t.view(key)
	if _, seen := t.baseVersion[key]; !seen {
		if ok {
			t.baseVersion[key] = b.Version
		} else {
			t.baseVersion[key] = absent
		}
	}
	if !ok {
		b = ledger.ZeroBalance(key)
		b.UpdatedAt = t.s.now()
		t.balances[key] = b
	}
	return b, nil
}

func (t *tx) LockBalances(ctx context.Context, keys ...ledger.BalanceKey) error {
	for _, key := range ledger.SortKeys(keys...) {
		if _, err := t.GetBalanceForUpdate(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

func (t *tx) UpdateBalance(_ context.Context, b ledger.Balance, expectedVersion int64) (ledger.Balance, error) {
	key := b.Key()
	if _, ok := t.held[key]; !ok {
		return ledger.Balance{}, errNotLocked(key)
	}
	cur, _ := t.view(key)
	if cur.Version != expectedVersion {
		return ledger.Balance{}, fmt.Errorf("balance %s version %d, expected %d: %w",
			key.AccountPath(), cur.Version, expectedVersion, ledger.ErrConcurrentModification)
	}
	if b.Available.IsNegative() || b.Locked.IsNegative() {
		return ledger.Balance{}, fmt.Errorf("balance %s would go negative (available %s, locked %s)",
			key.AccountPath(), b.Available, b.Locked)
	}
	b.Version = expectedVersion + 1
	b.UpdatedAt = t.s.now()
	t.balances[key] = b
	return b, nil
}

// ============================================================================
// Holds
// ============================================================================

func (t *tx) holdView(id uuid.UUID) (ledger.WalletHold, bool) {
	if h, ok := t.holds[id]; ok {
		return h, true
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	h, ok := t.s.holds[id]
	return h, ok
}

func (t *tx) FindHold(_ context.Context, ref ledger.Ref, asset string, status ledger.HoldStatus) (*ledger.WalletHold, error) {
	rk := refKey{ref: ref, asset: asset}

	t.s.mu.RLock()
	ids := append([]uuid.UUID(nil), t.s.holdsByRef[rk]...)
	t.s.mu.RUnlock()
	for _, id := range t.newHolds {
		if h := t.holds[id]; h.Ref == ref && h.Asset == asset {
			ids = append(ids, id)
		}
	}

	for i := len(ids) - 1; i >= 0; i-- {
		h, ok := t.holdView(ids[i])
		if ok && h.Status == status {
			return &h, nil
		}
	}
	return nil, nil
}

func (t *tx) InsertHold(ctx context.Context, h ledger.WalletHold) (ledger.WalletHold, error) {
	if !h.Amount.IsPositive() {
		return ledger.WalletHold{}, fmt.Errorf("hold %s: amount must be > 0, got %s", h.ID, h.Amount)
	}
	if h.Status == ledger.HoldActive {
		existing, err := t.FindHold(ctx, h.Ref, h.Asset, ledger.HoldActive)
		if err != nil {
			return ledger.WalletHold{}, err
		}
		if existing != nil {
			return ledger.WalletHold{}, fmt.Errorf("active hold for %s/%s exists: %w", h.Ref, h.Asset, ledger.ErrConcurrentModification)
		}
	}
	now := t.s.now()
	h.CreatedAt, h.UpdatedAt = now, now
	t.holds[h.ID] = h
	t.newHolds = append(t.newHolds, h.ID)
	return h, nil
}

func (t *tx) CloseHold(_ context.Context, id uuid.UUID, status ledger.HoldStatus, settled decimal.Decimal) error {
	if !status.Terminal() {
		return fmt.Errorf("hold %s: %s is not a terminal status", id, status)
	}
	h, ok := t.holdView(id)
	if !ok {
		return ledger.Errorf(ledger.CodeHoldNotFound, "hold %s not found", id)
	}
	if h.Status != ledger.HoldActive {
		return fmt.Errorf("hold %s is %s: %w", id, h.Status, ledger.ErrConcurrentModification)
	}
	h.Status = status
	h.SettledAmount = settled
	h.UpdatedAt = t.s.now()
	t.holds[id] = h
	return nil
}

// ============================================================================
// Journal
// ============================================================================

func (t *tx) InsertJournal(ctx context.Context, e ledger.JournalEntry) (ledger.JournalEntry, error) {
	if err := e.Validate(); err != nil {
		return ledger.JournalEntry{}, err
	}
	if e.Kind.DedupKind() && !e.Ref.IsZero() {
		dup, err := t.HasJournalRef(ctx, e.Kind, e.Ref, e.Key())
		if err != nil {
			return ledger.JournalEntry{}, err
		}
		if dup {
			return ledger.JournalEntry{}, fmt.Errorf("journal %s %s exists: %w", e.Kind, e.Ref, ledger.ErrConcurrentModification)
		}
	}
	e.Sequence = t.s.nextSeq()
	t.journal = append(t.journal, e)
	return e, nil
}

func (t *tx) HasJournalRef(_ context.Context, kind ledger.EntryKind, ref ledger.Ref, key ledger.BalanceKey) (bool, error) {
	for _, e := range t.journal {
		if e.Kind == kind && e.Ref == ref && e.Key() == key {
			return true, nil
		}
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	_, ok := t.s.journalRef[journalRefKey{kind: kind, ref: ref, key: key}]
	return ok, nil
}

// ============================================================================
// Orders and trades
// ============================================================================

func (t *tx) orderView(id uuid.UUID) (ledger.Order, bool) {
	if o, ok := t.orders[id]; ok {
		return o, true
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	o, ok := t.s.orders[id]
	return o, ok
}

func (t *tx) InsertOrder(_ context.Context, o ledger.Order) (ledger.Order, error) {
	if _, ok := t.orderView(o.ID); ok {
		return ledger.Order{}, fmt.Errorf("order %s exists: %w", o.ID, ledger.ErrConcurrentModification)
	}
	if err := checkOrderRow(o); err != nil {
		return ledger.Order{}, err
	}
	now := t.s.now()
	o.CreatedAt, o.UpdatedAt = now, now
	t.orders[o.ID] = o
	t.orderBase[o.ID] = absent
	t.newOrders = append(t.newOrders, o.ID)
	return o, nil
}

func (t *tx) GetOrderForUpdate(_ context.Context, id uuid.UUID) (ledger.Order, error) {
	o, ok := t.orderView(id)
	if !ok {
		return ledger.Order{}, ledger.Errorf(ledger.CodeOrderNotFound, "order %s not found", id)
	}
	if _, seen := t.orderBase[id]; !seen {
		t.orderBase[id] = o.Version
	}
	return o, nil
}

func (t *tx) UpdateOrder(_ context.Context, o ledger.Order, expectedVersion int64) (ledger.Order, error) {
	cur, ok := t.orderView(o.ID)
	if !ok {
		return ledger.Order{}, ledger.Errorf(ledger.CodeOrderNotFound, "order %s not found", o.ID)
	}
	if cur.Version != expectedVersion {
		return ledger.Order{}, fmt.Errorf("order %s version %d, expected %d: %w",
			o.ID, cur.Version, expectedVersion, ledger.ErrConcurrentModification)
	}
	if o.FilledAmount.LessThan(cur.FilledAmount) {
		return ledger.Order{}, fmt.Errorf("order %s filled amount decreasing %s -> %s", o.ID, cur.FilledAmount, o.FilledAmount)
	}
	if o.Status != cur.Status && !cur.Status.CanTransition(o.Status) {
		return ledger.Order{}, fmt.Errorf("order %s status %s -> %s not allowed", o.ID, cur.Status, o.Status)
	}
	if err := checkOrderRow(o); err != nil {
		return ledger.Order{}, err
	}
	if _, seen := t.orderBase[o.ID]; !seen {
		t.orderBase[o.ID] = cur.Version
	}
	o.Version = expectedVersion + 1
	o.CreatedAt = cur.CreatedAt
	o.UpdatedAt = t.s.now()
	t.orders[o.ID] = o
	return o, nil
}

// checkOrderRow mirrors the orders table CHECK constraints.
func checkOrderRow(o ledger.Order) error {
	switch {
	case !o.Amount.IsPositive():
		return fmt.Errorf("order %s: amount must be > 0", o.ID)
	case o.FilledAmount.IsNegative() || o.FilledAmount.GreaterThan(o.Amount):
		return fmt.Errorf("order %s: filled %s outside [0, %s]", o.ID, o.FilledAmount, o.Amount)
	case o.Type == ledger.OrderTypeLimit && (!o.Price.Valid || !o.Price.Decimal.IsPositive()):
		return fmt.Errorf("order %s: limit order requires price > 0", o.ID)
	}
	return nil
}

func (t *tx) InsertTrade(ctx context.Context, tr ledger.Trade) (ledger.Trade, error) {
	existing, err := t.GetTradeByFillID(ctx, tr.FillID)
	if err != nil {
		return ledger.Trade{}, err
	}
	if existing != nil {
		return ledger.Trade{}, fmt.Errorf("trade for fill %s exists: %w", tr.FillID, ledger.ErrConcurrentModification)
	}
	tr.CreatedAt = t.s.now()
	t.trades = append(t.trades, tr)
	return tr, nil
}

func (t *tx) GetTradeByFillID(_ context.Context, fillID uuid.UUID) (*ledger.Trade, error) {
	for _, tr := range t.trades {
		if tr.FillID == fillID {
			tr := tr
			return &tr, nil
		}
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	if tr, ok := t.s.trades[fillID]; ok {
		return &tr, nil
	}
	return nil, nil
}

// ============================================================================
// Commit
// ============================================================================

// commit re-checks every optimistic assumption under the store lock and
// applies the buffered writes in one step.
func (t *tx) commit() error {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, base := range t.baseVersion {
		cur, ok := s.balances[key]
		if (!ok && base != absent) || (ok && cur.Version != base) {
			return fmt.Errorf("balance %s changed underneath: %w", key.AccountPath(), ledger.ErrConcurrentModification)
		}
	}
	for id, base := range t.orderBase {
		cur, ok := s.orders[id]
		if (!ok && base != absent) || (ok && (base == absent || cur.Version != base)) {
			return fmt.Errorf("order %s changed underneath: %w", id, ledger.ErrConcurrentModification)
		}
	}
	for _, id := range t.newHolds {
		h := t.holds[id]
		if h.Status != ledger.HoldActive {
			continue
		}
		for _, other := range s.holdsByRef[refKey{ref: h.Ref, asset: h.Asset}] {
			status := s.holds[other].Status
			if mine, ok := t.holds[other]; ok {
				status = mine.Status
			}
			if status == ledger.HoldActive {
				return fmt.Errorf("active hold for %s/%s exists: %w", h.Ref, h.Asset, ledger.ErrConcurrentModification)
			}
		}
	}
	for _, e := range t.journal {
		if !e.Kind.DedupKind() || e.Ref.IsZero() {
			continue
		}
		if _, dup := s.journalRef[journalRefKey{kind: e.Kind, ref: e.Ref, key: e.Key()}]; dup {
			return fmt.Errorf("journal %s %s exists: %w", e.Kind, e.Ref, ledger.ErrConcurrentModification)
		}
	}
	for _, tr := range t.trades {
		if _, dup := s.trades[tr.FillID]; dup {
			return fmt.Errorf("trade for fill %s exists: %w", tr.FillID, ledger.ErrConcurrentModification)
		}
	}

	for key, b := range t.balances {
		s.balances[key] = b
	}
	for _, id := range t.newHolds {
		h := t.holds[id]
		rk := refKey{ref: h.Ref, asset: h.Asset}
		s.holdsByRef[rk] = append(s.holdsByRef[rk], id)
		s.holdOrder = append(s.holdOrder, id)
	}
	for id, h := range t.holds {
		s.holds[id] = h
	}
	for _, e := range t.journal {
		s.journal = append(s.journal, e)
		if e.Kind.DedupKind() && !e.Ref.IsZero() {
			s.journalRef[journalRefKey{kind: e.Kind, ref: e.Ref, key: e.Key()}] = struct{}{}
		}
	}
	sort.Slice(s.journal, func(i, j int) bool { return s.journal[i].Sequence < s.journal[j].Sequence })
	for id, o := range t.orders {
		s.orders[id] = o
	}
	s.orderSeq = append(s.orderSeq, t.newOrders...)
	for _, tr := range t.trades {
		s.trades[tr.FillID] = tr
		s.tradeSeq = append(s.tradeSeq, tr.FillID)
	}
	return nil
}

var _ ledger.Tx = (*tx)(nil)
