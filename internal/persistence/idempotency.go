package persistence

import (
	"context"

	"SpotLedger/internal/ledger"
)

// HasJournalRef checks the journal_ref_dedup index for an applied
// referenced mutation. The balance row must already be locked so the
// answer cannot change before commit.
func (t *pgTx) HasJournalRef(ctx context.Context, kind ledger.EntryKind, ref ledger.Ref, key ledger.BalanceKey) (bool, error) {
	var exists bool
	err := t.tx.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM spot.journal
			WHERE kind = $1 AND ref_type = $2 AND ref_id = $3 AND user_id = $4 AND asset = $5
		)`,
		string(kind), ref.Type, ref.ID, key.UserID, key.Asset,
	).Scan(&exists)
	if err != nil {
		return false, mapErr("journal ref lookup", err)
	}
	return exists, nil
}

// JournalRefExists is the durable tier of bus deduplication: a message
// whose reference already reached the journal was applied before a
// restart and can be acked without replay.
func (s *PostgresStore) JournalRefExists(ctx context.Context, kind ledger.EntryKind, ref ledger.Ref) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM spot.journal
			WHERE kind = $1 AND ref_type = $2 AND ref_id = $3
		)`,
		string(kind), ref.Type, ref.ID,
	).Scan(&exists)
	if err != nil {
		return false, mapErr("journal ref lookup", err)
	}
	return exists, nil
}
