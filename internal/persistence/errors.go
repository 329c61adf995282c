package persistence

import (
	"database/sql"
	"errors"
	"fmt"

	"SpotLedger/internal/ledger"

	"github.com/lib/pq"
)

// Postgres SQLSTATEs that mean another transaction got there first. The
// engine re-runs the unit on ErrConcurrentModification.
const (
	pqSerializationFailure = "40001"
	pqDeadlockDetected     = "40P01"
	pqUniqueViolation      = "23505"
	pqLockNotAvailable     = "55P03"
)

// mapErr translates driver errors into ledger errors.
func mapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case pqSerializationFailure, pqDeadlockDetected, pqUniqueViolation, pqLockNotAvailable:
			return fmt.Errorf("%s: %s (%s): %w", op, pqErr.Message, pqErr.Code, ledger.ErrConcurrentModification)
		}
		return fmt.Errorf("%s: %s (%s, constraint %q)", op, pqErr.Message, pqErr.Code, pqErr.Constraint)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
