package event_test

import (
	"encoding/json"
	"testing"
	"time"

	"SpotLedger/internal/event"
	"SpotLedger/internal/testutil"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func TestBalanceChanged_WireFormat(t *testing.T) {
	evt := event.BalanceChanged{
		UserID:    uuid.MustParse("550e8400-e29b-41d4-a716-446655440000"),
		Asset:     "USDT",
		Available: decimal.RequireFromString("1500.250000"),
		Locked:    decimal.Zero,
		Version:   3,
		Cause:     "DEPOSIT",
		RefType:   "DEPOSIT",
		RefID:     "7c9e6679-7425-40de-944b-e07fc1f90ae7",
		Timestamp: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}

	got, err := json.MarshalIndent(evt, "", "  ")
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	testutil.AssertGolden(t, "balance_changed.json", append(got, '\n'))

	if key := evt.PartitionKey(); key != evt.UserID.String() {
		t.Errorf("partition key = %q", key)
	}
}

func TestBalanceChanged_OmitsEmptyRef(t *testing.T) {
	evt := event.BalanceChanged{UserID: uuid.New(), Asset: "BTC", Cause: "RESERVE"}
	data, err := json.Marshal(evt)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := m["ref_type"]; ok {
		t.Error("ref_type present for unreferenced change")
	}
	if _, ok := m["ref_id"]; ok {
		t.Error("ref_id present for unreferenced change")
	}
}

func TestEventType_String(t *testing.T) {
	cases := map[event.EventType]string{
		event.EventTypeDepositRequested:    "DepositRequested",
		event.EventTypeWithdrawalRequested: "WithdrawalRequested",
		event.EventTypePriceUpdate:         "PriceUpdate",
		event.EventTypeBalanceChanged:      "BalanceChanged",
		event.EventTypeUnknown:             "Unknown",
	}
	for et, want := range cases {
		if got := et.String(); got != want {
			t.Errorf("%d: got %q, want %q", et, got, want)
		}
	}
}
