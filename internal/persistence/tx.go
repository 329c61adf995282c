package persistence

import (
	"context"
	"database/sql"
	"fmt"

	"SpotLedger/internal/ledger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// pgTx implements ledger.Tx on one database transaction.
type pgTx struct {
	tx *sql.Tx
}

// ============================================================================
// Balances
// ============================================================================

func (t *pgTx) GetBalance(ctx context.Context, key ledger.BalanceKey) (ledger.Balance, error) {
	b, err := scanBalance(t.tx.QueryRowContext(ctx,
		`SELECT `+balanceColumns+` FROM spot.balances WHERE user_id = $1 AND asset = $2`,
		key.UserID, key.Asset,
	))
	if isNoRows(err) {
		return ledger.ZeroBalance(key), nil
	}
	if err != nil {
		return ledger.Balance{}, mapErr("get balance", err)
	}
	return b, nil
}

// GetBalanceForUpdate inserts the zero row if missing, then locks it.
func (t *pgTx) GetBalanceForUpdate(ctx context.Context, key ledger.BalanceKey) (ledger.Balance, error) {
	if _, err := t.tx.ExecContext(ctx,
		`INSERT INTO spot.balances (user_id, asset) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		key.UserID, key.Asset,
	); err != nil {
		return ledger.Balance{}, mapErr("ensure balance", err)
	}
	b, err := scanBalance(t.tx.QueryRowContext(ctx,
		`SELECT `+balanceColumns+` FROM spot.balances WHERE user_id = $1 AND asset = $2 FOR UPDATE`,
		key.UserID, key.Asset,
	))
	if err != nil {
		return ledger.Balance{}, mapErr("lock balance", err)
	}
	return b, nil
}

func (t *pgTx) LockBalances(ctx context.Context, keys ...ledger.BalanceKey) error {
	for _, key := range ledger.SortKeys(keys...) {
		if _, err := t.GetBalanceForUpdate(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

func (t *pgTx) UpdateBalance(ctx context.Context, b ledger.Balance, expectedVersion int64) (ledger.Balance, error) {
	err := t.tx.QueryRowContext(ctx, `
		UPDATE spot.balances
		SET available = $3, locked = $4, version = version + 1, updated_at = clock_timestamp()
		WHERE user_id = $1 AND asset = $2 AND version = $5
		RETURNING version, updated_at`,
		b.UserID, b.Asset, b.Available, b.Locked, expectedVersion,
	).Scan(&b.Version, &b.UpdatedAt)
	if isNoRows(err) {
		return ledger.Balance{}, fmt.Errorf("balance %s moved past version %d: %w",
			b.Key().AccountPath(), expectedVersion, ledger.ErrConcurrentModification)
	}
	if err != nil {
		return ledger.Balance{}, mapErr("update balance", err)
	}
	return b, nil
}

// ============================================================================
// Holds
// ============================================================================

func (t *pgTx) FindHold(ctx context.Context, ref ledger.Ref, asset string, status ledger.HoldStatus) (*ledger.WalletHold, error) {
	h, err := scanHold(t.tx.QueryRowContext(ctx, `
		SELECT `+holdColumns+` FROM spot.wallet_holds
		WHERE ref_type = $1 AND ref_id = $2 AND asset = $3 AND status = $4
		ORDER BY created_at DESC, id DESC
		LIMIT 1`,
		ref.Type, ref.ID, asset, string(status),
	))
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, mapErr("find hold", err)
	}
	return &h, nil
}

func (t *pgTx) InsertHold(ctx context.Context, h ledger.WalletHold) (ledger.WalletHold, error) {
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO spot.wallet_holds
			(id, user_id, asset, amount, status, ref_type, ref_id, settled_amount, parent_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at`,
		h.ID, h.UserID, h.Asset, h.Amount, string(h.Status), h.Ref.Type, h.Ref.ID, h.SettledAmount, h.ParentID,
	).Scan(&h.CreatedAt, &h.UpdatedAt)
	if err != nil {
		return ledger.WalletHold{}, mapErr("insert hold", err)
	}
	return h, nil
}

func (t *pgTx) CloseHold(ctx context.Context, id uuid.UUID, status ledger.HoldStatus, settled decimal.Decimal) error {
	if !status.Terminal() {
		return fmt.Errorf("hold %s: %s is not a terminal status", id, status)
	}
	res, err := t.tx.ExecContext(ctx, `
		UPDATE spot.wallet_holds
		SET status = $2, settled_amount = $3, updated_at = clock_timestamp()
		WHERE id = $1 AND status = 'ACTIVE'`,
		id, string(status), settled,
	)
	if err != nil {
		return mapErr("close hold", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return mapErr("close hold", err)
	}
	if n == 0 {
		return fmt.Errorf("hold %s is no longer active: %w", id, ledger.ErrConcurrentModification)
	}
	return nil
}

// ============================================================================
// Journal
// ============================================================================

func (t *pgTx) InsertJournal(ctx context.Context, e ledger.JournalEntry) (ledger.JournalEntry, error) {
	if err := e.Validate(); err != nil {
		return ledger.JournalEntry{}, err
	}
	refType, refID := refArgs(e.Ref)
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO spot.journal
			(id, user_id, asset, kind, available_delta, locked_delta, ref_type, ref_id, balance_version, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING sequence`,
		e.ID, e.UserID, e.Asset, string(e.Kind), e.AvailableDelta, e.LockedDelta,
		refType, refID, e.BalanceVersion, e.CreatedAt,
	).Scan(&e.Sequence)
	if err != nil {
		return ledger.JournalEntry{}, mapErr("insert journal", err)
	}
	return e, nil
}

// ============================================================================
// Orders and trades
// ============================================================================

func (t *pgTx) InsertOrder(ctx context.Context, o ledger.Order) (ledger.Order, error) {
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO spot.orders
			(id, user_id, symbol, side, type, status, amount, filled_amount, price, reserved_asset, reserved_amount)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING version, created_at, updated_at`,
		o.ID, o.UserID, o.Symbol, string(o.Side), string(o.Type), string(o.Status),
		o.Amount, o.FilledAmount, o.Price, o.ReservedAsset, o.ReservedAmount,
	).Scan(&o.Version, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return ledger.Order{}, mapErr("insert order", err)
	}
	return o, nil
}

func (t *pgTx) GetOrderForUpdate(ctx context.Context, id uuid.UUID) (ledger.Order, error) {
	o, err := scanOrder(t.tx.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM spot.orders WHERE id = $1 FOR UPDATE`, id))
	if isNoRows(err) {
		return ledger.Order{}, ledger.Errorf(ledger.CodeOrderNotFound, "order %s not found", id)
	}
	if err != nil {
		return ledger.Order{}, mapErr("lock order", err)
	}
	return o, nil
}

func (t *pgTx) UpdateOrder(ctx context.Context, o ledger.Order, expectedVersion int64) (ledger.Order, error) {
	err := t.tx.QueryRowContext(ctx, `
		UPDATE spot.orders
		SET status = $2, filled_amount = $3, version = version + 1, updated_at = clock_timestamp()
		WHERE id = $1 AND version = $4
		RETURNING version, created_at, updated_at`,
		o.ID, string(o.Status), o.FilledAmount, expectedVersion,
	).Scan(&o.Version, &o.CreatedAt, &o.UpdatedAt)
	if isNoRows(err) {
		return ledger.Order{}, fmt.Errorf("order %s moved past version %d: %w",
			o.ID, expectedVersion, ledger.ErrConcurrentModification)
	}
	if err != nil {
		return ledger.Order{}, mapErr("update order", err)
	}
	return o, nil
}

func (t *pgTx) InsertTrade(ctx context.Context, tr ledger.Trade) (ledger.Trade, error) {
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO spot.trades
			(id, order_id, fill_id, user_id, symbol, side, quantity, price_usd, total_usd, fee_usd)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at`,
		tr.ID, tr.OrderID, tr.FillID, tr.UserID, tr.Symbol, string(tr.Side),
		tr.Quantity, tr.PriceUSD, tr.TotalUSD, tr.FeeUSD,
	).Scan(&tr.CreatedAt)
	if err != nil {
		return ledger.Trade{}, mapErr("insert trade", err)
	}
	return tr, nil
}

func (t *pgTx) GetTradeByFillID(ctx context.Context, fillID uuid.UUID) (*ledger.Trade, error) {
	tr, err := scanTrade(t.tx.QueryRowContext(ctx,
		`SELECT `+tradeColumns+` FROM spot.trades WHERE fill_id = $1`, fillID))
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, mapErr("get trade", err)
	}
	return &tr, nil
}

var _ ledger.Tx = (*pgTx)(nil)
