package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

func (s Side) Valid() bool { return s == SideBuy || s == SideSell }

type OrderType string

const (
	OrderTypeLimit  OrderType = "LIMIT"
	OrderTypeMarket OrderType = "MARKET"
)

func (t OrderType) Valid() bool { return t == OrderTypeLimit || t == OrderTypeMarket }

type OrderStatus string

const (
	OrderNew             OrderStatus = "NEW"
	OrderPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderFilled          OrderStatus = "FILLED"
	OrderCanceled        OrderStatus = "CANCELED"
	OrderRejected        OrderStatus = "REJECTED"
)

// Open reports whether the order still encumbers funds.
func (s OrderStatus) Open() bool {
	return s == OrderNew || s == OrderPartiallyFilled
}

func (s OrderStatus) Terminal() bool {
	return s == OrderFilled || s == OrderCanceled || s == OrderRejected
}

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderNew:             {OrderPartiallyFilled, OrderFilled, OrderCanceled, OrderRejected},
	OrderPartiallyFilled: {OrderPartiallyFilled, OrderFilled, OrderCanceled},
}

// CanTransition enforces monotonic status changes.
func (s OrderStatus) CanTransition(to OrderStatus) bool {
	for _, next := range orderTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Order is a spot order. Price is NULL only for MARKET orders. ReservedAsset
// and ReservedAmount record what the order encumbered at placement.
type Order struct {
	ID             uuid.UUID
	UserID         uuid.UUID
	Symbol         string
	Side           Side
	Type           OrderType
	Status         OrderStatus
	Amount         decimal.Decimal
	FilledAmount   decimal.Decimal
	Price          decimal.NullDecimal
	ReservedAsset  string
	ReservedAmount decimal.Decimal
	Version        int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (o Order) Remaining() decimal.Decimal {
	return o.Amount.Sub(o.FilledAmount)
}

func (o Order) Ref() Ref {
	return Ref{Type: RefOrder, ID: o.ID}
}

// Trade is the immutable settlement record written when a capture commits.
// FillID is unique; the market path uses the order id.
type Trade struct {
	ID        uuid.UUID
	OrderID   uuid.UUID
	FillID    uuid.UUID
	UserID    uuid.UUID
	Symbol    string
	Side      Side
	Quantity  decimal.Decimal
	PriceUSD  decimal.Decimal
	TotalUSD  decimal.Decimal
	FeeUSD    decimal.Decimal
	CreatedAt time.Time
}
