// Package query serves read-only views of the ledger and runs integrity
// verification over a consistent snapshot.
package query

import (
	"context"
	"fmt"
	"strings"
	"time"

	"SpotLedger/internal/ledger"
	"SpotLedger/internal/observability"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	DefaultPageSize = 100
	MaxPageSize     = 1000
)

// AuditSink records integrity reports. *persistence.AuditStore satisfies it.
type AuditSink interface {
	SaveAudit(ctx context.Context, r ledger.AuditReport) error
}

// QueryService provides read-only access to balances, holds, orders and
// the journal. Every read goes straight to the store; there is no
// projection lag.
type QueryService struct {
	reader  ledger.Reader
	audits  AuditSink
	metrics *observability.Metrics
	log     zerolog.Logger
	now     func() time.Time
}

type Option func(*QueryService)

// WithAuditSink persists every VerifyIntegrity report.
func WithAuditSink(s AuditSink) Option {
	return func(q *QueryService) { q.audits = s }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(q *QueryService) { q.metrics = m }
}

func WithLogger(l zerolog.Logger) Option {
	return func(q *QueryService) { q.log = l }
}

func WithClock(now func() time.Time) Option {
	return func(q *QueryService) { q.now = now }
}

func NewQueryService(reader ledger.Reader, opts ...Option) *QueryService {
	qs := &QueryService{
		reader: reader,
		log:    zerolog.Nop(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(qs)
	}
	if qs.metrics == nil {
		qs.metrics = observability.NewNopMetrics()
	}
	return qs
}

// GetBalance returns a user's balance for a specific asset. A balance that
// was never touched reads as zero at version 0.
func (qs *QueryService) GetBalance(ctx context.Context, userID uuid.UUID, asset string) (*BalanceResponse, error) {
	key, err := balanceKey(userID, asset)
	if err != nil {
		return nil, err
	}
	b, err := qs.reader.ReadBalance(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("read balance: %w", err)
	}
	resp := NewBalanceResponse(b)
	return &resp, nil
}

// ListBalances returns every balance row of a user, ordered by asset.
func (qs *QueryService) ListBalances(ctx context.Context, userID uuid.UUID) ([]BalanceResponse, error) {
	if userID == uuid.Nil {
		return nil, ledger.Errorf(ledger.CodeInvalidRequest, "user_id is required")
	}
	rows, err := qs.reader.ListBalances(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list balances: %w", err)
	}
	out := make([]BalanceResponse, 0, len(rows))
	for _, b := range rows {
		out = append(out, NewBalanceResponse(b))
	}
	return out, nil
}

// ListHolds returns a user's holds, optionally narrowed to one status.
func (qs *QueryService) ListHolds(ctx context.Context, userID uuid.UUID, status string, limit int) ([]HoldResponse, error) {
	if userID == uuid.Nil {
		return nil, ledger.Errorf(ledger.CodeInvalidRequest, "user_id is required")
	}
	f := ledger.HoldFilter{UserID: userID, Limit: pageSize(limit)}
	if status != "" {
		f.Status = ledger.HoldStatus(strings.ToUpper(status))
		if !f.Status.Valid() {
			return nil, ledger.Errorf(ledger.CodeInvalidRequest, "unknown hold status %q", status)
		}
	}
	holds, err := qs.reader.ListHolds(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list holds: %w", err)
	}
	out := make([]HoldResponse, 0, len(holds))
	for _, h := range holds {
		out = append(out, NewHoldResponse(h))
	}
	return out, nil
}

// GetOrder returns an order with its trades.
func (qs *QueryService) GetOrder(ctx context.Context, orderID uuid.UUID) (*OrderResponse, error) {
	o, err := qs.reader.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	trades, err := qs.reader.ListTrades(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("list trades: %w", err)
	}
	resp := NewOrderResponse(o, trades)
	return &resp, nil
}

// ListOrders returns a user's most recent orders first.
func (qs *QueryService) ListOrders(ctx context.Context, userID uuid.UUID, limit int) ([]OrderResponse, error) {
	if userID == uuid.Nil {
		return nil, ledger.Errorf(ledger.CodeInvalidRequest, "user_id is required")
	}
	orders, err := qs.reader.ListOrders(ctx, userID, pageSize(limit))
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	out := make([]OrderResponse, 0, len(orders))
	for _, o := range orders {
		out = append(out, NewOrderResponse(o, nil))
	}
	return out, nil
}

// GetJournalHistory returns a balance's journal entries in sequence order,
// starting after cursor.
func (qs *QueryService) GetJournalHistory(ctx context.Context, userID uuid.UUID, asset string, limit int, cursor int64) (*JournalPage, error) {
	key, err := balanceKey(userID, asset)
	if err != nil {
		return nil, err
	}
	if cursor < 0 {
		return nil, ledger.Errorf(ledger.CodeInvalidRequest, "cursor must be >= 0, got %d", cursor)
	}
	limit = pageSize(limit)

	// One extra row tells us whether another page exists.
	entries, err := qs.reader.JournalHistory(ctx, key, cursor, limit+1)
	if err != nil {
		return nil, fmt.Errorf("journal history: %w", err)
	}
	page := &JournalPage{UserID: key.UserID, Asset: key.Asset, Entries: []JournalHistoryEntry{}}
	if len(entries) > limit {
		entries = entries[:limit]
		page.NextCursor = entries[limit-1].Sequence
	}
	for _, e := range entries {
		page.Entries = append(page.Entries, newJournalEntry(e))
	}
	return page, nil
}

// --- Admin APIs ---

// VerifyIntegrity checks, over one consistent snapshot, that every balance
// is non-negative, that locked equals the sum of its ACTIVE holds and that
// replaying the journal reproduces it.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	snap, err := qs.reader.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	audit, err := snap.Audit(qs.now())
	if err != nil {
		return nil, fmt.Errorf("audit: %w", err)
	}

	qs.metrics.IntegrityViolations.Set(float64(len(audit.Violations)))
	if !audit.OK() {
		for _, v := range audit.Violations {
			qs.log.Error().
				Str("account", v.Key.AccountPath()).
				Str("check", v.Check).
				Str("detail", v.Detail).
				Msg("integrity violation")
		}
	}
	if qs.audits != nil {
		if err := qs.audits.SaveAudit(ctx, audit); err != nil {
			qs.log.Warn().Err(err).Msg("save audit failed")
		}
	}
	return newIntegrityReport(audit), nil
}

// RunAuditor verifies integrity every interval until ctx is canceled.
func (qs *QueryService) RunAuditor(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			report, err := qs.VerifyIntegrity(ctx)
			if err != nil {
				qs.log.Warn().Err(err).Msg("integrity audit failed")
				continue
			}
			qs.log.Info().
				Bool("healthy", report.IsHealthy).
				Int64("journal_sequence", report.JournalSequence).
				Int("balances", report.BalancesChecked).
				Msg("integrity audit")
		}
	}
}

// --- helpers ---

func balanceKey(userID uuid.UUID, asset string) (ledger.BalanceKey, error) {
	if userID == uuid.Nil {
		return ledger.BalanceKey{}, ledger.Errorf(ledger.CodeInvalidRequest, "user_id is required")
	}
	asset = strings.ToUpper(strings.TrimSpace(asset))
	if asset == "" {
		return ledger.BalanceKey{}, ledger.Errorf(ledger.CodeInvalidRequest, "asset is required")
	}
	return ledger.NewBalanceKey(userID, asset), nil
}

func pageSize(limit int) int {
	switch {
	case limit <= 0:
		return DefaultPageSize
	case limit > MaxPageSize:
		return MaxPageSize
	}
	return limit
}
