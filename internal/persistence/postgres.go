package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"SpotLedger/internal/ledger"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// PostgresStore is the production ledger.Store. Balance rows are locked
// with SELECT ... FOR UPDATE and written with a version compare-and-swap;
// the schema's CHECK constraints and partial unique indexes back every
// invariant the engine enforces.
type PostgresStore struct {
	db *sql.DB
}

// PoolConfig sizes the connection pool.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Open connects with lib/pq and verifies the connection.
func Open(ctx context.Context, dsn string, pool PoolConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if pool.MaxOpenConns > 0 {
		db.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		db.SetMaxIdleConns(pool.MaxIdleConns)
	}
	if pool.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// DB exposes the pool for health probes and the migrator.
func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// InTx runs fn in a READ COMMITTED transaction. Row locks provide the
// isolation the engine needs; the version CAS catches the rest.
func (s *PostgresStore) InTx(ctx context.Context, fn func(tx ledger.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return mapErr("begin", err)
	}
	if err := fn(&pgTx{tx: sqlTx}); err != nil {
		sqlTx.Rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return mapErr("commit", err)
	}
	return nil
}

// ============================================================================
// Reader
// ============================================================================

func (s *PostgresStore) ReadBalance(ctx context.Context, key ledger.BalanceKey) (ledger.Balance, error) {
	b, err := scanBalance(s.db.QueryRowContext(ctx,
		`SELECT `+balanceColumns+` FROM spot.balances WHERE user_id = $1 AND asset = $2`,
		key.UserID, key.Asset,
	))
	if isNoRows(err) {
		return ledger.ZeroBalance(key), nil
	}
	if err != nil {
		return ledger.Balance{}, mapErr("read balance", err)
	}
	return b, nil
}

func (s *PostgresStore) ListBalances(ctx context.Context, userID uuid.UUID) ([]ledger.Balance, error) {
	return s.queryBalances(ctx,
		`SELECT `+balanceColumns+` FROM spot.balances WHERE user_id = $1 ORDER BY asset`, userID)
}

func (s *PostgresStore) AllBalances(ctx context.Context) ([]ledger.Balance, error) {
	return s.queryBalances(ctx,
		`SELECT `+balanceColumns+` FROM spot.balances ORDER BY user_id, asset`)
}

func (s *PostgresStore) queryBalances(ctx context.Context, query string, args ...any) ([]ledger.Balance, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapErr("list balances", err)
	}
	defer rows.Close()

	var out []ledger.Balance
	for rows.Next() {
		b, err := scanBalance(rows)
		if err != nil {
			return nil, mapErr("scan balance", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListHolds(ctx context.Context, f ledger.HoldFilter) ([]ledger.WalletHold, error) {
	query := `SELECT ` + holdColumns + ` FROM spot.wallet_holds WHERE TRUE`
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		query += fmt.Sprintf(" AND "+cond, len(args))
	}
	if f.UserID != uuid.Nil {
		add("user_id = $%d", f.UserID)
	}
	if f.Asset != "" {
		add("asset = $%d", f.Asset)
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	if f.RefType != "" {
		add("ref_type = $%d", f.RefType)
	}
	if !f.Ref.IsZero() {
		add("ref_type = $%d", f.Ref.Type)
		add("ref_id = $%d", f.Ref.ID)
	}
	if !f.CreatedBefore.IsZero() {
		add("created_at < $%d", f.CreatedBefore)
	}
	query += " ORDER BY created_at, id"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapErr("list holds", err)
	}
	defer rows.Close()

	var out []ledger.WalletHold
	for rows.Next() {
		h, err := scanHold(rows)
		if err != nil {
			return nil, mapErr("scan hold", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetOrder(ctx context.Context, id uuid.UUID) (ledger.Order, error) {
	o, err := scanOrder(s.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM spot.orders WHERE id = $1`, id))
	if isNoRows(err) {
		return ledger.Order{}, ledger.Errorf(ledger.CodeOrderNotFound, "order %s not found", id)
	}
	if err != nil {
		return ledger.Order{}, mapErr("get order", err)
	}
	return o, nil
}

func (s *PostgresStore) ListOrders(ctx context.Context, userID uuid.UUID, limit int) ([]ledger.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM spot.orders WHERE user_id = $1 ORDER BY created_at DESC, id`
	args := []any{userID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapErr("list orders", err)
	}
	defer rows.Close()

	var out []ledger.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, mapErr("scan order", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListTrades(ctx context.Context, orderID uuid.UUID) ([]ledger.Trade, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+tradeColumns+` FROM spot.trades WHERE order_id = $1 ORDER BY created_at, id`, orderID)
	if err != nil {
		return nil, mapErr("list trades", err)
	}
	defer rows.Close()

	var out []ledger.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, mapErr("scan trade", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *PostgresStore) JournalHistory(ctx context.Context, key ledger.BalanceKey, cursor int64, limit int) ([]ledger.JournalEntry, error) {
	query := `SELECT ` + journalColumns + ` FROM spot.journal
		WHERE user_id = $1 AND asset = $2 AND sequence > $3
		ORDER BY sequence`
	args := []any{key.UserID, key.Asset, cursor}
	if limit > 0 {
		query += ` LIMIT $4`
		args = append(args, limit)
	}
	return queryJournal(ctx, s.db, query, args...)
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func queryJournal(ctx context.Context, q querier, query string, args ...any) ([]ledger.JournalEntry, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapErr("query journal", err)
	}
	defer rows.Close()

	var out []ledger.JournalEntry
	for rows.Next() {
		e, err := scanJournal(rows)
		if err != nil {
			return nil, mapErr("scan journal", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Snapshot reads every table the integrity checks need inside one
// REPEATABLE READ, read-only transaction.
func (s *PostgresStore) Snapshot(ctx context.Context) (ledger.Snapshot, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return ledger.Snapshot{}, mapErr("begin snapshot", err)
	}
	defer tx.Rollback()

	snap := ledger.Snapshot{ActiveHeld: make(map[ledger.BalanceKey]decimal.Decimal)}

	rows, err := tx.QueryContext(ctx, `SELECT `+balanceColumns+` FROM spot.balances ORDER BY user_id, asset`)
	if err != nil {
		return ledger.Snapshot{}, mapErr("snapshot balances", err)
	}
	for rows.Next() {
		b, err := scanBalance(rows)
		if err != nil {
			rows.Close()
			return ledger.Snapshot{}, mapErr("scan balance", err)
		}
		snap.Balances = append(snap.Balances, b)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return ledger.Snapshot{}, mapErr("snapshot balances", err)
	}

	rows, err = tx.QueryContext(ctx, `
		SELECT user_id, asset, SUM(amount)
		FROM spot.wallet_holds
		WHERE status = 'ACTIVE'
		GROUP BY user_id, asset`)
	if err != nil {
		return ledger.Snapshot{}, mapErr("snapshot holds", err)
	}
	for rows.Next() {
		var (
			key ledger.BalanceKey
			sum decimal.Decimal
		)
		if err := rows.Scan(&key.UserID, &key.Asset, &sum); err != nil {
			rows.Close()
			return ledger.Snapshot{}, mapErr("scan held", err)
		}
		snap.ActiveHeld[key] = sum
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return ledger.Snapshot{}, mapErr("snapshot holds", err)
	}

	snap.Journal, err = queryJournal(ctx, tx, `SELECT `+journalColumns+` FROM spot.journal ORDER BY sequence`)
	if err != nil {
		return ledger.Snapshot{}, err
	}
	return snap, nil
}

var _ ledger.Store = (*PostgresStore)(nil)
