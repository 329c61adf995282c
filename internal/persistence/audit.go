package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"SpotLedger/internal/ledger"
)

// AuditStore persists integrity reports so operators can see when the
// ledger last verified clean and which journal tip it covered.
type AuditStore struct {
	db *sql.DB
}

func NewAuditStore(db *sql.DB) *AuditStore {
	return &AuditStore{db: db}
}

type violationRow struct {
	Account string `json:"account"`
	Check   string `json:"check"`
	Detail  string `json:"detail"`
}

// SaveAudit records a report.
func (a *AuditStore) SaveAudit(ctx context.Context, r ledger.AuditReport) error {
	rows := make([]violationRow, 0, len(r.Violations))
	for _, v := range r.Violations {
		rows = append(rows, violationRow{Account: v.Key.AccountPath(), Check: v.Check, Detail: v.Detail})
	}
	data, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("marshal violations: %w", err)
	}

	_, err = a.db.ExecContext(ctx, `
		INSERT INTO spot.integrity_audits
			(journal_sequence, journal_hash, balance_count, active_holds, violations, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, r.JournalSequence, r.JournalHash[:], r.BalanceCount, r.ActiveHolds, data, r.CreatedAt)
	return mapErr("save audit", err)
}

// LatestAudit loads the most recent report. It returns nil when no audit
// has run yet.
func (a *AuditStore) LatestAudit(ctx context.Context) (*ledger.AuditReport, error) {
	var (
		r          ledger.AuditReport
		hash, data []byte
	)
	err := a.db.QueryRowContext(ctx, `
		SELECT journal_sequence, journal_hash, balance_count, active_holds, violations, created_at
		FROM spot.integrity_audits
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`).Scan(&r.JournalSequence, &hash, &r.BalanceCount, &r.ActiveHolds, &data, &r.CreatedAt)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, mapErr("load audit", err)
	}
	copy(r.JournalHash[:], hash)

	var rows []violationRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("unmarshal violations: %w", err)
	}
	for _, v := range rows {
		key, err := ledger.ParseAccountPath(v.Account)
		if err != nil {
			return nil, err
		}
		r.Violations = append(r.Violations, ledger.Violation{Key: key, Check: v.Check, Detail: v.Detail})
	}
	return &r, nil
}
