package persistence

import (
	"database/sql"
	"errors"
	"testing"
	"testing/fstest"

	"SpotLedger/internal/ledger"

	"github.com/lib/pq"
	"github.com/rs/zerolog"
)

func TestMapErr_ConflictCodes(t *testing.T) {
	for _, code := range []pq.ErrorCode{"40001", "40P01", "23505", "55P03"} {
		err := mapErr("op", &pq.Error{Code: code, Message: "conflict"})
		if !errors.Is(err, ledger.ErrConcurrentModification) {
			t.Errorf("%s: want concurrent modification, got %v", code, err)
		}
	}
}

func TestMapErr_Other(t *testing.T) {
	err := mapErr("op", &pq.Error{Code: "23514", Message: "check", Constraint: "balances_available_non_negative"})
	if errors.Is(err, ledger.ErrConcurrentModification) {
		t.Fatalf("check violation must not be retried: %v", err)
	}
	if ledger.IsBusiness(err) {
		t.Errorf("check violation is not a business error")
	}

	if mapErr("op", nil) != nil {
		t.Error("nil must stay nil")
	}
	if !errors.Is(mapErr("op", sql.ErrConnDone), sql.ErrConnDone) {
		t.Error("driver errors must stay wrapped")
	}
}

func TestMigrator_ListsFilesInOrder(t *testing.T) {
	fsys := fstest.MapFS{
		"000002_b.up.sql":   {Data: []byte("SELECT 2")},
		"000001_a.up.sql":   {Data: []byte("SELECT 1")},
		"000001_a.down.sql": {Data: []byte("SELECT 0")},
		"README.md":         {Data: []byte("x")},
	}
	m := NewMigrator(nil, fsys, zerolog.Nop())

	files, err := m.listMigrationFiles(".up.sql")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []string{"000001_a.up.sql", "000002_b.up.sql"}
	if len(files) != len(want) {
		t.Fatalf("got %v, want %v", files, want)
	}
	for i := range want {
		if files[i] != want[i] {
			t.Errorf("files[%d] = %s, want %s", i, files[i], want[i])
		}
	}
	if v := extractVersion(files[1]); v != "000002" {
		t.Errorf("version = %s", v)
	}
}
