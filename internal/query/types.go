package query

import (
	"encoding/hex"
	"time"

	"SpotLedger/internal/ledger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BalanceResponse represents user balance state for API queries.
type BalanceResponse struct {
	UserID    uuid.UUID       `json:"user_id"`
	Asset     string          `json:"asset"`
	Available decimal.Decimal `json:"available"`
	Locked    decimal.Decimal `json:"locked"`
	Total     decimal.Decimal `json:"total"` // available + locked
	Version   int64           `json:"version"`
	UpdatedAt *time.Time      `json:"updated_at,omitempty"` // nil for a row that does not exist yet
}

func NewBalanceResponse(b ledger.Balance) BalanceResponse {
	r := BalanceResponse{
		UserID:    b.UserID,
		Asset:     b.Asset,
		Available: b.Available,
		Locked:    b.Locked,
		Total:     b.Available.Add(b.Locked),
		Version:   b.Version,
	}
	if !b.UpdatedAt.IsZero() {
		at := b.UpdatedAt
		r.UpdatedAt = &at
	}
	return r
}

// HoldResponse represents a wallet hold for API queries.
type HoldResponse struct {
	ID            uuid.UUID       `json:"id"`
	UserID        uuid.UUID       `json:"user_id"`
	Asset         string          `json:"asset"`
	Amount        decimal.Decimal `json:"amount"`
	SettledAmount decimal.Decimal `json:"settled_amount"`
	Status        string          `json:"status"`
	RefType       string          `json:"ref_type"`
	RefID         uuid.UUID       `json:"ref_id"`
	ParentID      *uuid.UUID      `json:"parent_id,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func NewHoldResponse(h ledger.WalletHold) HoldResponse {
	r := HoldResponse{
		ID:            h.ID,
		UserID:        h.UserID,
		Asset:         h.Asset,
		Amount:        h.Amount,
		SettledAmount: h.SettledAmount,
		Status:        string(h.Status),
		RefType:       h.Ref.Type,
		RefID:         h.Ref.ID,
		CreatedAt:     h.CreatedAt,
		UpdatedAt:     h.UpdatedAt,
	}
	if h.ParentID.Valid {
		id := h.ParentID.UUID
		r.ParentID = &id
	}
	return r
}

// OrderResponse represents an order and its fills for API queries.
type OrderResponse struct {
	ID             uuid.UUID        `json:"id"`
	UserID         uuid.UUID        `json:"user_id"`
	Symbol         string           `json:"symbol"`
	Side           string           `json:"side"`
	Type           string           `json:"type"`
	Status         string           `json:"status"`
	Amount         decimal.Decimal  `json:"amount"`
	FilledAmount   decimal.Decimal  `json:"filled_amount"`
	Price          *decimal.Decimal `json:"price,omitempty"` // nil for MARKET
	ReservedAsset  string           `json:"reserved_asset"`
	ReservedAmount decimal.Decimal  `json:"reserved_amount"`
	Version        int64            `json:"version"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
	Trades         []TradeResponse  `json:"trades,omitempty"`
}

func NewOrderResponse(o ledger.Order, trades []ledger.Trade) OrderResponse {
	r := OrderResponse{
		ID:             o.ID,
		UserID:         o.UserID,
		Symbol:         o.Symbol,
		Side:           string(o.Side),
		Type:           string(o.Type),
		Status:         string(o.Status),
		Amount:         o.Amount,
		FilledAmount:   o.FilledAmount,
		ReservedAsset:  o.ReservedAsset,
		ReservedAmount: o.ReservedAmount,
		Version:        o.Version,
		CreatedAt:      o.CreatedAt,
		UpdatedAt:      o.UpdatedAt,
	}
	if o.Price.Valid {
		px := o.Price.Decimal
		r.Price = &px
	}
	for _, t := range trades {
		r.Trades = append(r.Trades, NewTradeResponse(t))
	}
	return r
}

// TradeResponse represents a settled fill.
type TradeResponse struct {
	ID        uuid.UUID       `json:"id"`
	OrderID   uuid.UUID       `json:"order_id"`
	FillID    uuid.UUID       `json:"fill_id"`
	Symbol    string          `json:"symbol"`
	Side      string          `json:"side"`
	Quantity  decimal.Decimal `json:"quantity"`
	PriceUSD  decimal.Decimal `json:"price_usd"`
	TotalUSD  decimal.Decimal `json:"total_usd"`
	FeeUSD    decimal.Decimal `json:"fee_usd"`
	CreatedAt time.Time       `json:"created_at"`
}

func NewTradeResponse(t ledger.Trade) TradeResponse {
	return TradeResponse{
		ID:        t.ID,
		OrderID:   t.OrderID,
		FillID:    t.FillID,
		Symbol:    t.Symbol,
		Side:      string(t.Side),
		Quantity:  t.Quantity,
		PriceUSD:  t.PriceUSD,
		TotalUSD:  t.TotalUSD,
		FeeUSD:    t.FeeUSD,
		CreatedAt: t.CreatedAt,
	}
}

// JournalHistoryEntry represents a journal entry for API queries.
type JournalHistoryEntry struct {
	Sequence       int64           `json:"sequence"`
	ID             uuid.UUID       `json:"id"`
	Kind           string          `json:"kind"`
	AvailableDelta decimal.Decimal `json:"available_delta"`
	LockedDelta    decimal.Decimal `json:"locked_delta"`
	RefType        string          `json:"ref_type,omitempty"`
	RefID          string          `json:"ref_id,omitempty"`
	BalanceVersion int64           `json:"balance_version"`
	CreatedAt      time.Time       `json:"created_at"`
}

// JournalPage is one page of a balance's history. NextCursor is the
// sequence to pass as the next cursor, 0 when the page is the last one.
type JournalPage struct {
	UserID     uuid.UUID             `json:"user_id"`
	Asset      string                `json:"asset"`
	Entries    []JournalHistoryEntry `json:"entries"`
	NextCursor int64                 `json:"next_cursor,omitempty"`
}

func newJournalEntry(e ledger.JournalEntry) JournalHistoryEntry {
	j := JournalHistoryEntry{
		Sequence:       e.Sequence,
		ID:             e.ID,
		Kind:           string(e.Kind),
		AvailableDelta: e.AvailableDelta,
		LockedDelta:    e.LockedDelta,
		BalanceVersion: e.BalanceVersion,
		CreatedAt:      e.CreatedAt,
	}
	if !e.Ref.IsZero() {
		j.RefType = e.Ref.Type
		j.RefID = e.Ref.ID.String()
	}
	return j
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy       bool                 `json:"is_healthy"`
	JournalSequence int64                `json:"journal_sequence"`
	JournalHash     string               `json:"journal_hash"`
	BalancesChecked int                  `json:"balances_checked"`
	ActiveHolds     int                  `json:"balances_with_holds"`
	Violations      []IntegrityViolation `json:"violations,omitempty"`
	CheckedAt       time.Time            `json:"checked_at"`
}

// IntegrityViolation is one failed check on one balance.
type IntegrityViolation struct {
	Account string `json:"account"`
	Check   string `json:"check"`
	Detail  string `json:"detail"`
}

func newIntegrityReport(r ledger.AuditReport) *IntegrityReport {
	out := &IntegrityReport{
		IsHealthy:       r.OK(),
		JournalSequence: r.JournalSequence,
		JournalHash:     hex.EncodeToString(r.JournalHash[:]),
		BalancesChecked: r.BalanceCount,
		ActiveHolds:     r.ActiveHolds,
		CheckedAt:       r.CreatedAt,
	}
	for _, v := range r.Violations {
		out.Violations = append(out.Violations, IntegrityViolation{
			Account: v.Key.AccountPath(),
			Check:   v.Check,
			Detail:  v.Detail,
		})
	}
	return out
}
