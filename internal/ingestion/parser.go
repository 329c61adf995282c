package ingestion

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"SpotLedger/internal/event"
	"SpotLedger/internal/ledger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Event type names carried in SubjectConfig.EventType.
const (
	TypeDeposit    = "DepositRequested"
	TypeWithdrawal = "WithdrawalRequested"
	TypePrice      = "PriceUpdate"
)

// ParseRawEvent converts a RawEvent (JSON bytes + event type string) into a
// typed event.Event. Parse failures are permanent: redelivering the same
// bytes cannot succeed.
func ParseRawEvent(raw RawEvent, eventType string) (event.Event, error) {
	switch eventType {
	case TypeDeposit:
		return parseDeposit(raw.Data)
	case TypeWithdrawal:
		return parseWithdrawal(raw.Data)
	case TypePrice:
		return parsePriceUpdate(raw.Data)
	default:
		return nil, fmt.Errorf("unknown event type: %s", eventType)
	}
}

// --- JSON wire formats ---
// Field names use snake_case to match upstream producers. Amounts and
// prices are decimal strings; bare JSON numbers are accepted too.

type depositJSON struct {
	DepositID   string          `json:"deposit_id"`
	UserID      string          `json:"user_id"`
	Asset       string          `json:"asset"`
	Amount      decimal.Decimal `json:"amount"`
	Sequence    int64           `json:"sequence"`
	TimestampUs int64           `json:"timestamp_us"`
}

type withdrawalJSON struct {
	WithdrawalID string          `json:"withdrawal_id"`
	UserID       string          `json:"user_id"`
	Asset        string          `json:"asset"`
	Amount       decimal.Decimal `json:"amount"`
	Sequence     int64           `json:"sequence"`
	TimestampUs  int64           `json:"timestamp_us"`
}

type priceUpdateJSON struct {
	Symbol        string          `json:"symbol"`
	Price         decimal.Decimal `json:"price"`
	PriceSequence int64           `json:"price_sequence"`
	TimestampUs   int64           `json:"timestamp_us"`
}

func parseDeposit(data []byte) (*event.DepositRequested, error) {
	var j depositJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("unmarshal deposit: %w", err)
	}
	depositID, err := uuid.Parse(j.DepositID)
	if err != nil {
		return nil, fmt.Errorf("parse deposit_id: %w", err)
	}
	userID, err := uuid.Parse(j.UserID)
	if err != nil {
		return nil, fmt.Errorf("parse user_id: %w", err)
	}
	asset, err := parseAsset(j.Asset, j.Amount)
	if err != nil {
		return nil, err
	}
	return &event.DepositRequested{
		DepositID: depositID,
		UserID:    userID,
		Asset:     asset,
		Amount:    j.Amount,
		Sequence:  j.Sequence,
		Timestamp: fromMicros(j.TimestampUs),
	}, nil
}

func parseWithdrawal(data []byte) (*event.WithdrawalRequested, error) {
	var j withdrawalJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("unmarshal withdrawal: %w", err)
	}
	withdrawalID, err := uuid.Parse(j.WithdrawalID)
	if err != nil {
		return nil, fmt.Errorf("parse withdrawal_id: %w", err)
	}
	userID, err := uuid.Parse(j.UserID)
	if err != nil {
		return nil, fmt.Errorf("parse user_id: %w", err)
	}
	asset, err := parseAsset(j.Asset, j.Amount)
	if err != nil {
		return nil, err
	}
	return &event.WithdrawalRequested{
		WithdrawalID: withdrawalID,
		UserID:       userID,
		Asset:        asset,
		Amount:       j.Amount,
		Sequence:     j.Sequence,
		Timestamp:    fromMicros(j.TimestampUs),
	}, nil
}

func parsePriceUpdate(data []byte) (*event.PriceUpdate, error) {
	var j priceUpdateJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("unmarshal price update: %w", err)
	}
	symbol := strings.ToUpper(strings.TrimSpace(j.Symbol))
	if base, quote, ok := strings.Cut(symbol, "-"); !ok || base == "" || quote == "" {
		return nil, fmt.Errorf("parse symbol: %q is not BASE-QUOTE", j.Symbol)
	}
	return &event.PriceUpdate{
		Symbol:        symbol,
		Price:         j.Price,
		PriceSequence: j.PriceSequence,
		Timestamp:     fromMicros(j.TimestampUs),
	}, nil
}

func parseAsset(s string, amount decimal.Decimal) (string, error) {
	asset := strings.ToUpper(strings.TrimSpace(s))
	if asset == "" {
		return "", fmt.Errorf("parse asset: empty")
	}
	if _, err := ledger.LookupAmount(asset, amount); err != nil {
		return "", fmt.Errorf("parse amount: %w", err)
	}
	return asset, nil
}

func fromMicros(us int64) time.Time {
	if us == 0 {
		return time.Time{}
	}
	return time.UnixMicro(us).UTC()
}
