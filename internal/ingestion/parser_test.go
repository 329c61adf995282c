package ingestion_test

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"SpotLedger/internal/event"
	"SpotLedger/internal/ingestion"
	"SpotLedger/internal/ledger"

	"github.com/shopspring/decimal"
)

func rawFromJSON(t *testing.T, eventType string, v interface{}) ingestion.RawEvent {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return ingestion.RawEvent{
		Subject:   "test",
		EventType: eventType,
		Data:      data,
		Timestamp: time.Now(),
		AckFunc:   func() {},
		NakFunc:   func() {},
	}
}

func TestParseDeposit(t *testing.T) {
	payload := map[string]interface{}{
		"deposit_id":   "550e8400-e29b-41d4-a716-446655440000",
		"user_id":      "660e8400-e29b-41d4-a716-446655440001",
		"asset":        " usdt ",
		"amount":       "1500.25",
		"sequence":     int64(42),
		"timestamp_us": int64(1700000000000000),
	}

	raw := rawFromJSON(t, ingestion.TypeDeposit, payload)
	evt, err := ingestion.ParseRawEvent(raw, raw.EventType)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	dep, ok := evt.(*event.DepositRequested)
	if !ok {
		t.Fatalf("expected *event.DepositRequested, got %T", evt)
	}
	if dep.Asset != "USDT" {
		t.Errorf("asset: got %q, want USDT", dep.Asset)
	}
	if !dep.Amount.Equal(decimal.RequireFromString("1500.25")) {
		t.Errorf("amount: got %s, want 1500.25", dep.Amount)
	}
	if dep.DepositID.String() != "550e8400-e29b-41d4-a716-446655440000" {
		t.Errorf("deposit_id: got %s", dep.DepositID)
	}
	if dep.IdempotencyKey() != dep.DepositID.String() {
		t.Errorf("idempotency key: got %s", dep.IdempotencyKey())
	}
	if dep.Sequence != 42 {
		t.Errorf("sequence: got %d, want 42", dep.Sequence)
	}
	if !dep.Timestamp.Equal(time.UnixMicro(1700000000000000)) {
		t.Errorf("timestamp: got %s", dep.Timestamp)
	}
}

func TestParseDeposit_NumericAmount(t *testing.T) {
	payload := map[string]interface{}{
		"deposit_id": "550e8400-e29b-41d4-a716-446655440000",
		"user_id":    "660e8400-e29b-41d4-a716-446655440001",
		"asset":      "BTC",
		"amount":     0.5,
	}

	raw := rawFromJSON(t, ingestion.TypeDeposit, payload)
	evt, err := ingestion.ParseRawEvent(raw, raw.EventType)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if got := evt.(*event.DepositRequested).Amount; !got.Equal(decimal.RequireFromString("0.5")) {
		t.Errorf("amount: got %s, want 0.5", got)
	}
	if ts := evt.(*event.DepositRequested).Timestamp; !ts.IsZero() {
		t.Errorf("timestamp: got %s, want zero", ts)
	}
}

func TestParseWithdrawal(t *testing.T) {
	payload := map[string]interface{}{
		"withdrawal_id": "770e8400-e29b-41d4-a716-446655440002",
		"user_id":       "660e8400-e29b-41d4-a716-446655440001",
		"asset":         "ETH",
		"amount":        "2.000000000000000001",
		"sequence":      int64(7),
	}

	raw := rawFromJSON(t, ingestion.TypeWithdrawal, payload)
	evt, err := ingestion.ParseRawEvent(raw, raw.EventType)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	wd, ok := evt.(*event.WithdrawalRequested)
	if !ok {
		t.Fatalf("expected *event.WithdrawalRequested, got %T", evt)
	}
	if wd.Amount.String() != "2.000000000000000001" {
		t.Errorf("amount lost precision: got %s", wd.Amount)
	}
	if wd.EventType() != event.EventTypeWithdrawalRequested {
		t.Errorf("event type: got %s", wd.EventType())
	}
}

func TestParsePriceUpdate(t *testing.T) {
	payload := map[string]interface{}{
		"symbol":         "btc-usdt",
		"price":          "60000.5",
		"price_sequence": int64(9),
		"timestamp_us":   int64(1700000000000000),
	}

	raw := rawFromJSON(t, ingestion.TypePrice, payload)
	evt, err := ingestion.ParseRawEvent(raw, raw.EventType)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	pu, ok := evt.(*event.PriceUpdate)
	if !ok {
		t.Fatalf("expected *event.PriceUpdate, got %T", evt)
	}
	if pu.Symbol != "BTC-USDT" {
		t.Errorf("symbol: got %s, want BTC-USDT", pu.Symbol)
	}
	if pu.IdempotencyKey() != "BTC-USDT:price:9" {
		t.Errorf("idempotency key: got %s", pu.IdempotencyKey())
	}
}

func TestParseRawEvent_Errors(t *testing.T) {
	cases := []struct {
		name      string
		eventType string
		payload   interface{}
	}{
		{"unknown type", "TradeFill", map[string]interface{}{}},
		{"bad deposit id", ingestion.TypeDeposit, map[string]interface{}{
			"deposit_id": "nope", "user_id": "660e8400-e29b-41d4-a716-446655440001", "asset": "BTC", "amount": "1",
		}},
		{"bad user id", ingestion.TypeWithdrawal, map[string]interface{}{
			"withdrawal_id": "770e8400-e29b-41d4-a716-446655440002", "user_id": "", "asset": "BTC", "amount": "1",
		}},
		{"missing asset", ingestion.TypeDeposit, map[string]interface{}{
			"deposit_id": "550e8400-e29b-41d4-a716-446655440000", "user_id": "660e8400-e29b-41d4-a716-446655440001", "amount": "1",
		}},
		{"bad amount", ingestion.TypeDeposit, map[string]interface{}{
			"deposit_id": "550e8400-e29b-41d4-a716-446655440000", "user_id": "660e8400-e29b-41d4-a716-446655440001", "asset": "BTC", "amount": "1e",
		}},
		{"unknown asset", ingestion.TypeDeposit, map[string]interface{}{
			"deposit_id": "550e8400-e29b-41d4-a716-446655440000", "user_id": "660e8400-e29b-41d4-a716-446655440001", "asset": "NOSUCHCOIN", "amount": "5",
		}},
		{"amount beyond scale", ingestion.TypeWithdrawal, map[string]interface{}{
			"withdrawal_id": "770e8400-e29b-41d4-a716-446655440002", "user_id": "660e8400-e29b-41d4-a716-446655440001", "asset": "USDT", "amount": "1.1234567891",
		}},
		{"bad symbol", ingestion.TypePrice, map[string]interface{}{
			"symbol": "BTCUSDT", "price": "1", "price_sequence": 1,
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			raw := rawFromJSON(t, tc.eventType, tc.payload)
			if _, err := ingestion.ParseRawEvent(raw, tc.eventType); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestParseRawEvent_AmountErrorsCarryLedgerCodes(t *testing.T) {
	raw := rawFromJSON(t, ingestion.TypeDeposit, map[string]interface{}{
		"deposit_id": "550e8400-e29b-41d4-a716-446655440000",
		"user_id":    "660e8400-e29b-41d4-a716-446655440001",
		"asset":      "BTC",
		"amount":     "0.123456789",
	})
	_, err := ingestion.ParseRawEvent(raw, raw.EventType)
	if !errors.Is(err, ledger.ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
}

func TestParseRawEvent_MalformedJSON(t *testing.T) {
	raw := ingestion.RawEvent{Subject: "spot.deposits.x", Data: []byte("{not json")}
	if _, err := ingestion.ParseRawEvent(raw, ingestion.TypeDeposit); err == nil {
		t.Fatal("expected error")
	}
}
