package core

import (
	"context"

	"SpotLedger/internal/event"
	"SpotLedger/internal/ledger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Unit is one attempt of an atomic engine operation. It is only valid inside
// the callback passed to Engine.Execute and must not be retained.
type Unit struct {
	ctx    context.Context
	tx     ledger.Tx
	engine *Engine

	changes []event.BalanceChanged
	index   map[ledger.BalanceKey]int
}

func newUnit(ctx context.Context, e *Engine) *Unit {
	return &Unit{
		ctx:    ctx,
		engine: e,
		index:  make(map[ledger.BalanceKey]int),
	}
}

func (u *Unit) Context() context.Context { return u.ctx }

// Tx exposes the transaction for order and trade rows. Balance and hold
// rows must only be changed through the Unit methods.
func (u *Unit) Tx() ledger.Tx { return u.tx }

// Lock takes the row locks for keys in global order. Callers that touch
// more than one balance lock them all up front.
func (u *Unit) Lock(keys ...ledger.BalanceKey) error {
	return u.tx.LockBalances(u.ctx, keys...)
}

// apply is the single balance mutation path: lock, check non-negativity,
// compare-and-swap the version and journal the deltas.
func (u *Unit) apply(key ledger.BalanceKey, kind ledger.EntryKind, availableDelta, lockedDelta decimal.Decimal, ref ledger.Ref) (ledger.Balance, error) {
	b, err := u.tx.GetBalanceForUpdate(u.ctx, key)
	if err != nil {
		return ledger.Balance{}, err
	}
	next, err := b.Apply(availableDelta, lockedDelta)
	if err != nil {
		return ledger.Balance{}, err
	}
	saved, err := u.tx.UpdateBalance(u.ctx, next, b.Version)
	if err != nil {
		return ledger.Balance{}, err
	}
	if _, err := u.tx.InsertJournal(u.ctx, ledger.NewEntry(saved, kind, availableDelta, lockedDelta, ref, u.engine.now())); err != nil {
		return ledger.Balance{}, err
	}
	u.record(saved, kind, ref)
	return saved, nil
}

// record keeps the latest state per balance for post-commit notification.
func (u *Unit) record(b ledger.Balance, kind ledger.EntryKind, ref ledger.Ref) {
	evt := event.BalanceChanged{
		UserID:    b.UserID,
		Asset:     b.Asset,
		Available: b.Available,
		Locked:    b.Locked,
		Version:   b.Version,
		Cause:     string(kind),
		Timestamp: b.UpdatedAt,
	}
	if !ref.IsZero() {
		evt.RefType = ref.Type
		evt.RefID = ref.ID.String()
	}
	if i, ok := u.index[b.Key()]; ok {
		u.changes[i] = evt
		return
	}
	u.index[b.Key()] = len(u.changes)
	u.changes = append(u.changes, evt)
}

// seen reports whether a referenced entry of kind was already journaled for
// key. The row must already be locked.
func (u *Unit) seen(kind ledger.EntryKind, ref ledger.Ref, key ledger.BalanceKey) (bool, error) {
	if ref.IsZero() {
		return false, nil
	}
	if err := ref.Validate(); err != nil {
		return false, err
	}
	return u.tx.HasJournalRef(u.ctx, kind, ref, key)
}

func (u *Unit) Deposit(userID uuid.UUID, asset string, amount decimal.Decimal, ref ledger.Ref) (ledger.Balance, error) {
	if err := ledger.RequirePositive(amount); err != nil {
		return ledger.Balance{}, err
	}
	key := ledger.NewBalanceKey(userID, asset)
	b, err := u.tx.GetBalanceForUpdate(u.ctx, key)
	if err != nil {
		return ledger.Balance{}, err
	}
	dup, err := u.seen(ledger.EntryDeposit, ref, key)
	if err != nil {
		return ledger.Balance{}, err
	}
	if dup {
		return b, nil
	}
	return u.apply(key, ledger.EntryDeposit, amount, decimal.Zero, ref)
}

func (u *Unit) Withdraw(userID uuid.UUID, asset string, amount decimal.Decimal, ref ledger.Ref) (ledger.Balance, error) {
	if err := ledger.RequirePositive(amount); err != nil {
		return ledger.Balance{}, err
	}
	key := ledger.NewBalanceKey(userID, asset)
	b, err := u.tx.GetBalanceForUpdate(u.ctx, key)
	if err != nil {
		return ledger.Balance{}, err
	}
	dup, err := u.seen(ledger.EntryWithdraw, ref, key)
	if err != nil {
		return ledger.Balance{}, err
	}
	if dup {
		return b, nil
	}
	return u.apply(key, ledger.EntryWithdraw, amount.Neg(), decimal.Zero, ref)
}

// Reserve locks the balance before looking for an existing ACTIVE hold, so
// concurrent retries of one reservation serialize and only the first one
// moves funds.
func (u *Unit) Reserve(userID uuid.UUID, asset string, amount decimal.Decimal, ref ledger.Ref) (ledger.WalletHold, error) {
	if err := ledger.RequirePositive(amount); err != nil {
		return ledger.WalletHold{}, err
	}
	if err := ref.Validate(); err != nil {
		return ledger.WalletHold{}, err
	}
	key := ledger.NewBalanceKey(userID, asset)
	if _, err := u.tx.GetBalanceForUpdate(u.ctx, key); err != nil {
		return ledger.WalletHold{}, err
	}

	existing, err := u.tx.FindHold(u.ctx, ref, asset, ledger.HoldActive)
	if err != nil {
		return ledger.WalletHold{}, err
	}
	if existing != nil {
		return *existing, nil
	}

	if _, err := u.apply(key, ledger.EntryReserve, amount.Neg(), amount, ref); err != nil {
		return ledger.WalletHold{}, err
	}
	return u.tx.InsertHold(u.ctx, ledger.WalletHold{
		ID:            uuid.New(),
		UserID:        userID,
		Asset:         asset,
		Amount:        amount,
		Status:        ledger.HoldActive,
		Ref:           ref,
		SettledAmount: decimal.Zero,
	})
}

// Release returns the ACTIVE hold for ref to available. A zero amount
// releases whatever the hold carries; a non-zero amount must match it.
// Without an ACTIVE hold the call is a no-op returning nil if the ref was
// already released or captured, and fails with HoldNotFound otherwise.
func (u *Unit) Release(userID uuid.UUID, asset string, amount decimal.Decimal, ref ledger.Ref) (*ledger.WalletHold, error) {
	if amount.IsNegative() {
		return nil, ledger.Errorf(ledger.CodeInvalidAmount, "amount must be >= 0, got %s", amount)
	}
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	key := ledger.NewBalanceKey(userID, asset)
	if _, err := u.tx.GetBalanceForUpdate(u.ctx, key); err != nil {
		return nil, err
	}

	h, err := u.tx.FindHold(u.ctx, ref, asset, ledger.HoldActive)
	if err != nil {
		return nil, err
	}
	if h == nil {
		return nil, u.requireSettled(ref, asset)
	}
	if h.UserID != userID {
		return nil, ledger.Errorf(ledger.CodeHoldNotFound, "hold %s belongs to another user", ref)
	}
	if !amount.IsZero() && !amount.Equal(h.Amount) {
		return nil, ledger.Errorf(ledger.CodeInvalidAmount,
			"release %s of %s does not match held %s", amount, ref, h.Amount)
	}

	if _, err := u.apply(key, ledger.EntryRelease, h.Amount, h.Amount.Neg(), ref); err != nil {
		return nil, err
	}
	if err := u.tx.CloseHold(u.ctx, h.ID, ledger.HoldReleased, h.Amount); err != nil {
		return nil, err
	}
	h.Status = ledger.HoldReleased
	h.SettledAmount = h.Amount
	return h, nil
}

// requireSettled reports HoldNotFound unless a terminal hold exists for ref.
func (u *Unit) requireSettled(ref ledger.Ref, asset string) error {
	for _, st := range []ledger.HoldStatus{ledger.HoldReleased, ledger.HoldCaptured} {
		h, err := u.tx.FindHold(u.ctx, ref, asset, st)
		if err != nil {
			return err
		}
		if h != nil {
			return nil
		}
	}
	return ledger.Errorf(ledger.CodeHoldNotFound, "no hold for %s/%s", ref, asset)
}

// CaptureReserved consumes the whole ACTIVE hold for ref; amount must equal
// the held amount. Without an ACTIVE hold, a previously CAPTURED hold is
// returned unchanged; if there is none either the call fails with
// HoldNotFound.
func (u *Unit) CaptureReserved(userID uuid.UUID, asset string, amount decimal.Decimal, ref ledger.Ref) (ledger.WalletHold, error) {
	return u.capture(userID, asset, amount, ref, false)
}

// CapturePartial consumes amount of the ACTIVE hold for ref. Capturing less
// than the hold closes it and opens an ACTIVE remainder under the same ref,
// so a repeated call captures again: the caller must key its own
// idempotency, as FillOrder does on the fill id.
func (u *Unit) CapturePartial(userID uuid.UUID, asset string, amount decimal.Decimal, ref ledger.Ref) (ledger.WalletHold, error) {
	return u.capture(userID, asset, amount, ref, true)
}

func (u *Unit) capture(userID uuid.UUID, asset string, amount decimal.Decimal, ref ledger.Ref, partial bool) (ledger.WalletHold, error) {
	if err := ledger.RequirePositive(amount); err != nil {
		return ledger.WalletHold{}, err
	}
	if err := ref.Validate(); err != nil {
		return ledger.WalletHold{}, err
	}
	key := ledger.NewBalanceKey(userID, asset)
	if _, err := u.tx.GetBalanceForUpdate(u.ctx, key); err != nil {
		return ledger.WalletHold{}, err
	}

	h, err := u.tx.FindHold(u.ctx, ref, asset, ledger.HoldActive)
	if err != nil {
		return ledger.WalletHold{}, err
	}
	if h == nil {
		done, err := u.tx.FindHold(u.ctx, ref, asset, ledger.HoldCaptured)
		if err != nil {
			return ledger.WalletHold{}, err
		}
		if done != nil {
			return *done, nil
		}
		return ledger.WalletHold{}, ledger.Errorf(ledger.CodeHoldNotFound, "no hold for %s/%s", ref, asset)
	}
	if h.UserID != userID {
		return ledger.WalletHold{}, ledger.Errorf(ledger.CodeHoldNotFound, "hold %s belongs to another user", ref)
	}
	if amount.GreaterThan(h.Amount) {
		return ledger.WalletHold{}, ledger.Errorf(ledger.CodeInvalidAmount,
			"capture %s exceeds held %s for %s", amount, h.Amount, ref)
	}
	if !partial && !amount.Equal(h.Amount) {
		return ledger.WalletHold{}, ledger.Errorf(ledger.CodeInvalidAmount,
			"capture %s of %s does not match held %s", amount, ref, h.Amount)
	}

	if _, err := u.apply(key, ledger.EntryCapture, decimal.Zero, amount.Neg(), ref); err != nil {
		return ledger.WalletHold{}, err
	}
	if err := u.tx.CloseHold(u.ctx, h.ID, ledger.HoldCaptured, amount); err != nil {
		return ledger.WalletHold{}, err
	}
	if rest := h.Amount.Sub(amount); rest.IsPositive() {
		if _, err := u.tx.InsertHold(u.ctx, ledger.WalletHold{
			ID:            uuid.New(),
			UserID:        userID,
			Asset:         asset,
			Amount:        rest,
			Status:        ledger.HoldActive,
			Ref:           ref,
			SettledAmount: decimal.Zero,
			ParentID:      uuid.NullUUID{UUID: h.ID, Valid: true},
		}); err != nil {
			return ledger.WalletHold{}, err
		}
	}
	h.Status = ledger.HoldCaptured
	h.SettledAmount = amount
	return *h, nil
}

// Transfer locks both balances in global order before touching either, so
// opposite transfers between the same pair cannot deadlock.
func (u *Unit) Transfer(from, to uuid.UUID, asset string, amount decimal.Decimal, ref ledger.Ref) (ledger.Balance, ledger.Balance, error) {
	if err := ledger.RequirePositive(amount); err != nil {
		return ledger.Balance{}, ledger.Balance{}, err
	}
	if from == to {
		return ledger.Balance{}, ledger.Balance{}, ledger.Errorf(ledger.CodeInvalidAmount, "transfer from %s to itself", from)
	}
	fromKey := ledger.NewBalanceKey(from, asset)
	toKey := ledger.NewBalanceKey(to, asset)
	if err := u.Lock(fromKey, toKey); err != nil {
		return ledger.Balance{}, ledger.Balance{}, err
	}

	dup, err := u.seen(ledger.EntryTransferOut, ref, fromKey)
	if err != nil {
		return ledger.Balance{}, ledger.Balance{}, err
	}
	if dup {
		fromB, err := u.tx.GetBalance(u.ctx, fromKey)
		if err != nil {
			return ledger.Balance{}, ledger.Balance{}, err
		}
		toB, err := u.tx.GetBalance(u.ctx, toKey)
		return fromB, toB, err
	}

	fromB, err := u.apply(fromKey, ledger.EntryTransferOut, amount.Neg(), decimal.Zero, ref)
	if err != nil {
		return ledger.Balance{}, ledger.Balance{}, err
	}
	toB, err := u.apply(toKey, ledger.EntryTransferIn, amount, decimal.Zero, ref)
	if err != nil {
		return ledger.Balance{}, ledger.Balance{}, err
	}
	return fromB, toB, nil
}
