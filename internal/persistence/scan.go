package persistence

import (
	"database/sql"

	"SpotLedger/internal/ledger"

	"github.com/google/uuid"
)

type rowScanner interface {
	Scan(dest ...any) error
}

const balanceColumns = `user_id, asset, available, locked, version, updated_at`

func scanBalance(r rowScanner) (ledger.Balance, error) {
	var b ledger.Balance
	err := r.Scan(&b.UserID, &b.Asset, &b.Available, &b.Locked, &b.Version, &b.UpdatedAt)
	return b, err
}

const holdColumns = `id, user_id, asset, amount, status, ref_type, ref_id, settled_amount, parent_id, created_at, updated_at`

func scanHold(r rowScanner) (ledger.WalletHold, error) {
	var (
		h      ledger.WalletHold
		status string
	)
	err := r.Scan(&h.ID, &h.UserID, &h.Asset, &h.Amount, &status, &h.Ref.Type, &h.Ref.ID,
		&h.SettledAmount, &h.ParentID, &h.CreatedAt, &h.UpdatedAt)
	h.Status = ledger.HoldStatus(status)
	return h, err
}

const orderColumns = `id, user_id, symbol, side, type, status, amount, filled_amount, price,
	reserved_asset, reserved_amount, version, created_at, updated_at`

func scanOrder(r rowScanner) (ledger.Order, error) {
	var (
		o                 ledger.Order
		side, typ, status string
	)
	err := r.Scan(&o.ID, &o.UserID, &o.Symbol, &side, &typ, &status, &o.Amount, &o.FilledAmount, &o.Price,
		&o.ReservedAsset, &o.ReservedAmount, &o.Version, &o.CreatedAt, &o.UpdatedAt)
	o.Side = ledger.Side(side)
	o.Type = ledger.OrderType(typ)
	o.Status = ledger.OrderStatus(status)
	return o, err
}

const tradeColumns = `id, order_id, fill_id, user_id, symbol, side, quantity, price_usd, total_usd, fee_usd, created_at`

func scanTrade(r rowScanner) (ledger.Trade, error) {
	var (
		t    ledger.Trade
		side string
	)
	err := r.Scan(&t.ID, &t.OrderID, &t.FillID, &t.UserID, &t.Symbol, &side,
		&t.Quantity, &t.PriceUSD, &t.TotalUSD, &t.FeeUSD, &t.CreatedAt)
	t.Side = ledger.Side(side)
	return t, err
}

const journalColumns = `sequence, id, user_id, asset, kind, available_delta, locked_delta,
	ref_type, ref_id, balance_version, created_at`

func scanJournal(r rowScanner) (ledger.JournalEntry, error) {
	var (
		e       ledger.JournalEntry
		kind    string
		refType sql.NullString
		refID   uuid.NullUUID
	)
	err := r.Scan(&e.Sequence, &e.ID, &e.UserID, &e.Asset, &kind, &e.AvailableDelta, &e.LockedDelta,
		&refType, &refID, &e.BalanceVersion, &e.CreatedAt)
	e.Kind = ledger.EntryKind(kind)
	if refType.Valid && refID.Valid {
		e.Ref = ledger.Ref{Type: refType.String, ID: refID.UUID}
	}
	return e, err
}

// refArgs encodes a zero Ref as NULLs.
func refArgs(ref ledger.Ref) (sql.NullString, uuid.NullUUID) {
	if ref.IsZero() {
		return sql.NullString{}, uuid.NullUUID{}
	}
	return sql.NullString{String: ref.Type, Valid: true}, uuid.NullUUID{UUID: ref.ID, Valid: true}
}
