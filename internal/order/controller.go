// Package order drives the order lifecycle on top of the reservation engine:
// placement reserves, settlement captures, cancellation releases.
package order

import (
	"context"
	"errors"
	"time"

	"SpotLedger/internal/core"
	"SpotLedger/internal/ledger"
	"SpotLedger/internal/observability"
	"SpotLedger/internal/price"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Controller owns order rows and the holds that back them. Every state
// change is one engine unit, so an order and its hold never disagree.
type Controller struct {
	engine  *core.Engine
	store   ledger.Store
	prices  price.Source
	feeRate decimal.Decimal
	metrics *observability.Metrics
	log     zerolog.Logger
	now     func() time.Time
}

type Option func(*Controller)

// WithFeeRate sets the flat fee withheld from the received side of a trade.
func WithFeeRate(rate decimal.Decimal) Option {
	return func(c *Controller) { c.feeRate = rate }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Controller) { c.log = l }
}

func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

func NewController(engine *core.Engine, prices price.Source, opts ...Option) (*Controller, error) {
	c := &Controller{
		engine:  engine,
		store:   engine.Store(),
		prices:  prices,
		feeRate: decimal.Zero,
		log:     zerolog.Nop(),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(c)
	}
	if c.feeRate.IsNegative() || c.feeRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return nil, ledger.Errorf(ledger.CodeInvalidRequest, "fee rate must be in [0, 1), got %s", c.feeRate)
	}
	if c.metrics == nil {
		c.metrics = observability.NewNopMetrics()
	}
	return c, nil
}

// PlaceRequest describes a new order. OrderID is optional; a client supplied
// id makes placement idempotent.
type PlaceRequest struct {
	OrderID uuid.UUID
	UserID  uuid.UUID
	Symbol  string
	Side    ledger.Side
	Type    ledger.OrderType
	Amount  decimal.Decimal
	Price   decimal.NullDecimal
}

// PlaceResult carries the persisted order, the hold backing it and, for
// market orders, the settlement trade.
type PlaceResult struct {
	Order ledger.Order
	Hold  ledger.WalletHold
	Trade *ledger.Trade
}

func (c *Controller) validate(req PlaceRequest) (ledger.Market, error) {
	if req.UserID == uuid.Nil {
		return ledger.Market{}, ledger.Errorf(ledger.CodeInvalidRequest, "user id is required")
	}
	m, err := ledger.ParseMarket(req.Symbol)
	if err != nil {
		return ledger.Market{}, err
	}
	if !req.Side.Valid() {
		return ledger.Market{}, ledger.Errorf(ledger.CodeInvalidOrder, "unknown side %q", req.Side)
	}
	if !req.Type.Valid() {
		return ledger.Market{}, ledger.Errorf(ledger.CodeInvalidOrder, "unknown order type %q", req.Type)
	}
	if err := ledger.RequirePositive(req.Amount); err != nil {
		return ledger.Market{}, err
	}
	if !m.Base.FitsScale(req.Amount) {
		return ledger.Market{}, ledger.Errorf(ledger.CodeInvalidAmount,
			"amount %s exceeds %s precision of %d", req.Amount, m.Base.Symbol, m.Base.Scale)
	}

	switch req.Type {
	case ledger.OrderTypeLimit:
		if !req.Price.Valid || !req.Price.Decimal.IsPositive() {
			return ledger.Market{}, ledger.Errorf(ledger.CodeInvalidOrder, "limit order requires price > 0")
		}
		if !m.Quote.FitsScale(req.Price.Decimal) {
			return ledger.Market{}, ledger.Errorf(ledger.CodeInvalidOrder,
				"price %s exceeds %s precision of %d", req.Price.Decimal, m.Quote.Symbol, m.Quote.Scale)
		}
	case ledger.OrderTypeMarket:
		if req.Price.Valid {
			return ledger.Market{}, ledger.Errorf(ledger.CodeInvalidOrder, "market order must not carry a price")
		}
	}
	return m, nil
}

// encumbrance returns the asset and amount an order must lock.
func encumbrance(m ledger.Market, side ledger.Side, amount, px decimal.Decimal) (string, decimal.Decimal) {
	if side == ledger.SideSell {
		return m.Base.Symbol, amount
	}
	return m.Quote.Symbol, px.Mul(amount).RoundCeil(m.Quote.Scale)
}

// PlaceOrder validates, reserves and persists an order in one unit. Market
// orders settle immediately against the reference price, which is fetched
// before anything is reserved.
func (c *Controller) PlaceOrder(ctx context.Context, req PlaceRequest) (PlaceResult, error) {
	res, err := c.placeOrder(ctx, req)
	result := "ok"
	if err != nil {
		result = string(ledger.CodeOf(err))
	}
	c.metrics.OrdersTotal.WithLabelValues(string(req.Side), string(req.Type), result).Inc()
	if err == nil && res.Trade != nil {
		c.metrics.TradesSettled.WithLabelValues(res.Trade.Symbol, string(res.Trade.Side)).Inc()
	}
	return res, err
}

func (c *Controller) placeOrder(ctx context.Context, req PlaceRequest) (PlaceResult, error) {
	m, err := c.validate(req)
	if err != nil {
		return PlaceResult{}, err
	}

	px := req.Price.Decimal
	if req.Type == ledger.OrderTypeMarket {
		px, err = c.prices.GetCurrentPrice(ctx, m.Symbol)
		if err != nil {
			if !errors.Is(err, ledger.ErrPriceUnavailable) {
				err = ledger.Errorf(ledger.CodePriceUnavailable, "price for %s: %v", m.Symbol, err)
			}
			return PlaceResult{}, err
		}
		if !px.IsPositive() {
			return PlaceResult{}, ledger.Errorf(ledger.CodePriceUnavailable, "price for %s is %s", m.Symbol, px)
		}
	}

	asset, amount := encumbrance(m, req.Side, req.Amount, px)
	if !amount.IsPositive() {
		return PlaceResult{}, ledger.Errorf(ledger.CodeInvalidAmount, "order %s %s encumbers nothing", req.Amount, m.Base.Symbol)
	}

	orderID := req.OrderID
	if orderID == uuid.Nil {
		orderID = uuid.New()
	}
	baseKey := ledger.NewBalanceKey(req.UserID, m.Base.Symbol)
	quoteKey := ledger.NewBalanceKey(req.UserID, m.Quote.Symbol)

	var res PlaceResult
	err = c.engine.Execute(ctx, "place_order", func(u *core.Unit) error {
		res = PlaceResult{}
		if err := u.Lock(baseKey, quoteKey); err != nil {
			return err
		}

		existing, err := u.Tx().GetOrderForUpdate(u.Context(), orderID)
		switch {
		case err == nil:
			if existing.UserID != req.UserID {
				return ledger.Errorf(ledger.CodeInvalidOrder, "order id %s already in use", orderID)
			}
			res.Order = existing
			return nil
		case !errors.Is(err, ledger.ErrOrderNotFound):
			return err
		}

		ref := ledger.NewRef(ledger.RefOrder, orderID)
		hold, err := u.Reserve(req.UserID, asset, amount, ref)
		if err != nil {
			return err
		}
		o := ledger.Order{
			ID:             orderID,
			UserID:         req.UserID,
			Symbol:         m.Symbol,
			Side:           req.Side,
			Type:           req.Type,
			Status:         ledger.OrderNew,
			Amount:         req.Amount,
			FilledAmount:   decimal.Zero,
			ReservedAsset:  asset,
			ReservedAmount: amount,
		}
		if req.Type == ledger.OrderTypeLimit {
			o.Price = decimal.NewNullDecimal(px)
		}
		if o, err = u.Tx().InsertOrder(u.Context(), o); err != nil {
			return err
		}
		res.Order, res.Hold = o, hold

		if req.Type == ledger.OrderTypeMarket {
			// The order id doubles as the fill id of its only trade.
			o, tr, err := c.settle(u, m, o, orderID, req.Amount, px)
			if err != nil {
				return err
			}
			res.Order, res.Trade = o, &tr
		}
		return nil
	})
	if err != nil {
		return PlaceResult{}, err
	}

	c.log.Info().
		Str("order_id", res.Order.ID.String()).
		Str("user_id", req.UserID.String()).
		Str("symbol", m.Symbol).
		Str("side", string(req.Side)).
		Str("type", string(req.Type)).
		Str("status", string(res.Order.Status)).
		Msg("order placed")
	return res, nil
}

// CancelOrder releases what remains of the order's hold and marks it
// CANCELED. Only NEW and PARTIALLY_FILLED orders can be canceled.
func (c *Controller) CancelOrder(ctx context.Context, userID, orderID uuid.UUID) (ledger.Order, error) {
	o, err := c.store.GetOrder(ctx, orderID)
	if err != nil {
		return ledger.Order{}, err
	}
	if o.UserID != userID {
		return ledger.Order{}, ledger.Errorf(ledger.CodeOrderNotFound, "order %s not found", orderID)
	}
	keys, err := orderKeys(o)
	if err != nil {
		return ledger.Order{}, err
	}

	var out ledger.Order
	err = c.engine.Execute(ctx, "cancel_order", func(u *core.Unit) error {
		if err := u.Lock(keys...); err != nil {
			return err
		}
		cur, err := u.Tx().GetOrderForUpdate(u.Context(), orderID)
		if err != nil {
			return err
		}
		if !cur.Status.Open() {
			return ledger.Errorf(ledger.CodeInvalidOrder, "order %s is %s", orderID, cur.Status)
		}
		if _, err := u.Release(cur.UserID, cur.ReservedAsset, decimal.Zero, cur.Ref()); err != nil {
			return err
		}
		cur.Status = ledger.OrderCanceled
		out, err = u.Tx().UpdateOrder(u.Context(), cur, cur.Version)
		return err
	})
	if err != nil {
		return ledger.Order{}, err
	}
	c.log.Info().Str("order_id", orderID.String()).Msg("order canceled")
	return out, nil
}

// FillOrder settles quantity of an open LIMIT order at its limit price. The
// call is idempotent on fillID.
func (c *Controller) FillOrder(ctx context.Context, orderID, fillID uuid.UUID, quantity decimal.Decimal) (ledger.Trade, error) {
	if fillID == uuid.Nil {
		return ledger.Trade{}, ledger.Errorf(ledger.CodeInvalidRequest, "fill id is required")
	}
	if err := ledger.RequirePositive(quantity); err != nil {
		return ledger.Trade{}, err
	}
	o, err := c.store.GetOrder(ctx, orderID)
	if err != nil {
		return ledger.Trade{}, err
	}
	m, err := ledger.ParseMarket(o.Symbol)
	if err != nil {
		return ledger.Trade{}, err
	}
	if !m.Base.FitsScale(quantity) {
		return ledger.Trade{}, ledger.Errorf(ledger.CodeInvalidAmount,
			"quantity %s exceeds %s precision of %d", quantity, m.Base.Symbol, m.Base.Scale)
	}

	var (
		out   ledger.Trade
		fresh bool
	)
	err = c.engine.Execute(ctx, "fill_order", func(u *core.Unit) error {
		fresh = false
		if err := u.Lock(ledger.NewBalanceKey(o.UserID, m.Base.Symbol), ledger.NewBalanceKey(o.UserID, m.Quote.Symbol)); err != nil {
			return err
		}
		prev, err := u.Tx().GetTradeByFillID(u.Context(), fillID)
		if err != nil {
			return err
		}
		if prev != nil {
			if prev.OrderID != orderID {
				return ledger.Errorf(ledger.CodeInvalidOrder, "fill %s belongs to order %s", fillID, prev.OrderID)
			}
			out = *prev
			return nil
		}

		cur, err := u.Tx().GetOrderForUpdate(u.Context(), orderID)
		if err != nil {
			return err
		}
		if cur.Type != ledger.OrderTypeLimit || !cur.Status.Open() {
			return ledger.Errorf(ledger.CodeInvalidOrder, "order %s (%s %s) cannot be filled", orderID, cur.Type, cur.Status)
		}
		if quantity.GreaterThan(cur.Remaining()) {
			return ledger.Errorf(ledger.CodeInvalidAmount,
				"fill %s exceeds remaining %s of order %s", quantity, cur.Remaining(), orderID)
		}
		_, out, err = c.settle(u, m, cur, fillID, quantity, cur.Price.Decimal)
		fresh = err == nil
		return err
	})
	if err != nil {
		return ledger.Trade{}, err
	}
	if fresh {
		c.metrics.TradesSettled.WithLabelValues(out.Symbol, string(out.Side)).Inc()
		c.log.Info().
			Str("order_id", orderID.String()).
			Str("fill_id", fillID.String()).
			Str("quantity", quantity.String()).
			Msg("order filled")
	}
	return out, nil
}

func (c *Controller) GetOrder(ctx context.Context, id uuid.UUID) (ledger.Order, error) {
	return c.store.GetOrder(ctx, id)
}

func (c *Controller) ListOrders(ctx context.Context, userID uuid.UUID, limit int) ([]ledger.Order, error) {
	return c.store.ListOrders(ctx, userID, limit)
}

func (c *Controller) ListTrades(ctx context.Context, orderID uuid.UUID) ([]ledger.Trade, error) {
	return c.store.ListTrades(ctx, orderID)
}

func orderKeys(o ledger.Order) ([]ledger.BalanceKey, error) {
	m, err := ledger.ParseMarket(o.Symbol)
	if err != nil {
		return nil, err
	}
	return []ledger.BalanceKey{
		ledger.NewBalanceKey(o.UserID, m.Base.Symbol),
		ledger.NewBalanceKey(o.UserID, m.Quote.Symbol),
	}, nil
}

func (c *Controller) since(d time.Duration) time.Time {
	return c.now().Add(-d)
}
