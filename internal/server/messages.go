package server

import (
	"SpotLedger/internal/query"

	"github.com/shopspring/decimal"
)

// Request and response messages of spotledger.v1.Ledger. Ids are UUID
// strings; amounts and prices are decimal strings.

type GetBalanceRequest struct {
	UserID string `json:"user_id"`
	Asset  string `json:"asset"`
}

type ListBalancesRequest struct {
	UserID string `json:"user_id"`
}

type BalanceList struct {
	Balances []query.BalanceResponse `json:"balances"`
}

// DepositRequest credits available. RefID, when set, makes the call
// exactly-once under ("DEPOSIT", ref_id); WithdrawRequest likewise under
// ("WITHDRAWAL", ref_id).
type DepositRequest struct {
	UserID string          `json:"user_id"`
	Asset  string          `json:"asset"`
	Amount decimal.Decimal `json:"amount"`
	RefID  string          `json:"ref_id,omitempty"`
}

type WithdrawRequest DepositRequest

type TransferRequest struct {
	FromUserID string          `json:"from_user_id"`
	ToUserID   string          `json:"to_user_id"`
	Asset      string          `json:"asset"`
	Amount     decimal.Decimal `json:"amount"`
	TransferID string          `json:"transfer_id,omitempty"`
}

type TransferResponse struct {
	From query.BalanceResponse `json:"from"`
	To   query.BalanceResponse `json:"to"`
}

// HoldRequest addresses the hold of (ref_type, ref_id, asset). Amount is
// ignored by Release when zero.
type HoldRequest struct {
	UserID  string          `json:"user_id"`
	Asset   string          `json:"asset"`
	Amount  decimal.Decimal `json:"amount"`
	RefType string          `json:"ref_type"`
	RefID   string          `json:"ref_id"`
}

type ReleaseResponse struct {
	Released bool                `json:"released"`
	Hold     *query.HoldResponse `json:"hold,omitempty"`
}

type ListHoldsRequest struct {
	UserID string `json:"user_id"`
	Status string `json:"status,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

type HoldList struct {
	Holds []query.HoldResponse `json:"holds"`
}

type PlaceOrderRequest struct {
	OrderID string           `json:"order_id,omitempty"`
	UserID  string           `json:"user_id"`
	Symbol  string           `json:"symbol"`
	Side    string           `json:"side"`
	Type    string           `json:"type"`
	Amount  decimal.Decimal  `json:"amount"`
	Price   *decimal.Decimal `json:"price,omitempty"`
}

type PlaceOrderResponse struct {
	Order query.OrderResponse  `json:"order"`
	Hold  query.HoldResponse   `json:"hold"`
	Trade *query.TradeResponse `json:"trade,omitempty"`
}

type CancelOrderRequest struct {
	UserID  string `json:"user_id"`
	OrderID string `json:"order_id"`
}

type FillOrderRequest struct {
	OrderID  string          `json:"order_id"`
	FillID   string          `json:"fill_id"`
	Quantity decimal.Decimal `json:"quantity"`
}

type GetOrderRequest struct {
	OrderID string `json:"order_id"`
}

type ListJournalRequest struct {
	UserID string `json:"user_id"`
	Asset  string `json:"asset"`
	Cursor int64  `json:"cursor,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

type VerifyIntegrityRequest struct{}
