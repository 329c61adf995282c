package order_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"SpotLedger/internal/core"
	"SpotLedger/internal/ledger"
	"SpotLedger/internal/memstore"
	"SpotLedger/internal/order"
	"SpotLedger/internal/price"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// --- Test helpers ---

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fixture struct {
	engine *core.Engine
	store  *memstore.Store
	ctrl   *order.Controller
}

func newFixture(t *testing.T, prices price.Source, opts ...order.Option) fixture {
	t.Helper()
	store := memstore.New()
	engine := core.NewEngine(store)
	ctrl, err := order.NewController(engine, prices, opts...)
	require.NoError(t, err)
	return fixture{engine: engine, store: store, ctrl: ctrl}
}

func (f fixture) fund(t *testing.T, user uuid.UUID, asset, amount string) {
	t.Helper()
	_, err := f.engine.Deposit(context.Background(), user, asset, d(amount), ledger.Ref{})
	require.NoError(t, err)
}

func (f fixture) requireBalance(t *testing.T, user uuid.UUID, asset, available, locked string) {
	t.Helper()
	b, err := f.engine.GetBalance(context.Background(), user, asset)
	require.NoError(t, err)
	assert.True(t, b.Available.Equal(d(available)), "%s available = %s, want %s", asset, b.Available, available)
	assert.True(t, b.Locked.Equal(d(locked)), "%s locked = %s, want %s", asset, b.Locked, locked)
}

func (f fixture) requireIntegrity(t *testing.T) {
	t.Helper()
	snap, err := f.store.Snapshot(context.Background())
	require.NoError(t, err)
	violations, err := snap.Verify()
	require.NoError(t, err)
	require.Empty(t, violations)
}

func limit(user uuid.UUID, side ledger.Side, amount, px string) order.PlaceRequest {
	return order.PlaceRequest{
		UserID: user,
		Symbol: "BTC-USDT",
		Side:   side,
		Type:   ledger.OrderTypeLimit,
		Amount: d(amount),
		Price:  decimal.NewNullDecimal(d(px)),
	}
}

func market(user uuid.UUID, side ledger.Side, amount string) order.PlaceRequest {
	return order.PlaceRequest{
		UserID: user,
		Symbol: "BTC-USDT",
		Side:   side,
		Type:   ledger.OrderTypeMarket,
		Amount: d(amount),
	}
}

var btc60k = price.Static{"BTC-USDT": decimal.NewFromInt(60000)}

// ============================================================================
// PlaceOrder
// ============================================================================

func TestPlaceOrder_LimitBuyReservesQuote(t *testing.T) {
	f := newFixture(t, btc60k)
	user := uuid.New()
	f.fund(t, user, "USDT", "10000")

	res, err := f.ctrl.PlaceOrder(context.Background(), limit(user, ledger.SideBuy, "0.1", "50000"))
	require.NoError(t, err)

	assert.Equal(t, ledger.OrderNew, res.Order.Status)
	assert.Equal(t, "USDT", res.Order.ReservedAsset)
	assert.True(t, res.Order.ReservedAmount.Equal(d("5000")))
	assert.Equal(t, ledger.HoldActive, res.Hold.Status)
	assert.Equal(t, res.Order.Ref(), res.Hold.Ref)
	assert.Nil(t, res.Trade)

	f.requireBalance(t, user, "USDT", "5000", "5000")
	f.requireIntegrity(t)
}

func TestPlaceOrder_LimitSellReservesBase(t *testing.T) {
	f := newFixture(t, btc60k)
	user := uuid.New()
	f.fund(t, user, "BTC", "2")

	res, err := f.ctrl.PlaceOrder(context.Background(), limit(user, ledger.SideSell, "1.5", "70000"))
	require.NoError(t, err)
	assert.Equal(t, "BTC", res.Order.ReservedAsset)
	f.requireBalance(t, user, "BTC", "0.5", "1.5")
}

func TestPlaceOrder_InsufficientLeavesNoOrder(t *testing.T) {
	f := newFixture(t, btc60k)
	user := uuid.New()
	f.fund(t, user, "USDT", "100")

	_, err := f.ctrl.PlaceOrder(context.Background(), limit(user, ledger.SideBuy, "1", "50000"))
	require.ErrorIs(t, err, ledger.ErrInsufficientBalance)

	orders, err := f.ctrl.ListOrders(context.Background(), user, 0)
	require.NoError(t, err)
	assert.Empty(t, orders)
	f.requireBalance(t, user, "USDT", "100", "0")
	f.requireIntegrity(t)
}

func TestPlaceOrder_Validation(t *testing.T) {
	f := newFixture(t, btc60k)
	user := uuid.New()
	f.fund(t, user, "USDT", "1000000")

	withPrice := market(user, ledger.SideBuy, "1")
	withPrice.Price = decimal.NewNullDecimal(d("1"))
	badSymbol := limit(user, ledger.SideBuy, "1", "1")
	badSymbol.Symbol = "BTCUSDT"
	badSide := limit(user, "HOLD", "1", "1")

	tests := []struct {
		name string
		req  order.PlaceRequest
		code ledger.Code
	}{
		{"zero amount", limit(user, ledger.SideBuy, "0", "100"), ledger.CodeInvalidAmount},
		{"negative amount", limit(user, ledger.SideBuy, "-1", "100"), ledger.CodeInvalidAmount},
		{"amount beyond base scale", limit(user, ledger.SideBuy, "0.000000001", "100"), ledger.CodeInvalidAmount},
		{"limit without price", limit(user, ledger.SideBuy, "1", "0"), ledger.CodeInvalidOrder},
		{"market with price", withPrice, ledger.CodeInvalidOrder},
		{"malformed symbol", badSymbol, ledger.CodeInvalidOrder},
		{"unknown side", badSide, ledger.CodeInvalidOrder},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.ctrl.PlaceOrder(context.Background(), tt.req)
			require.Error(t, err)
			assert.Equal(t, tt.code, ledger.CodeOf(err))
		})
	}

	f.requireBalance(t, user, "USDT", "1000000", "0")
	holds, err := f.store.ListHolds(context.Background(), ledger.HoldFilter{UserID: user})
	require.NoError(t, err)
	assert.Empty(t, holds)
}

func TestPlaceOrder_ClientOrderIDIsIdempotent(t *testing.T) {
	f := newFixture(t, btc60k)
	user := uuid.New()
	f.fund(t, user, "USDT", "10000")

	req := limit(user, ledger.SideBuy, "0.1", "50000")
	req.OrderID = uuid.New()

	first, err := f.ctrl.PlaceOrder(context.Background(), req)
	require.NoError(t, err)
	second, err := f.ctrl.PlaceOrder(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first.Order.ID, second.Order.ID)
	f.requireBalance(t, user, "USDT", "5000", "5000")

	// Same id from another user is refused.
	other := uuid.New()
	f.fund(t, other, "USDT", "10000")
	req.UserID = other
	_, err = f.ctrl.PlaceOrder(context.Background(), req)
	require.ErrorIs(t, err, ledger.ErrInvalidOrder)
	f.requireBalance(t, other, "USDT", "10000", "0")
}

// ============================================================================
// Immediate settlement
// ============================================================================

func TestPlaceOrder_MarketBuySettles(t *testing.T) {
	f := newFixture(t, btc60k)
	user := uuid.New()
	f.fund(t, user, "USDT", "100000")

	res, err := f.ctrl.PlaceOrder(context.Background(), market(user, ledger.SideBuy, "0.5"))
	require.NoError(t, err)

	assert.Equal(t, ledger.OrderFilled, res.Order.Status)
	assert.True(t, res.Order.FilledAmount.Equal(d("0.5")))
	assert.False(t, res.Order.Price.Valid)
	require.NotNil(t, res.Trade)
	assert.Equal(t, res.Order.ID, res.Trade.FillID)
	assert.True(t, res.Trade.Quantity.Equal(d("0.5")))
	assert.True(t, res.Trade.PriceUSD.Equal(d("60000")))
	assert.True(t, res.Trade.TotalUSD.Equal(d("30000")))
	assert.True(t, res.Trade.FeeUSD.IsZero())

	f.requireBalance(t, user, "USDT", "70000", "0")
	f.requireBalance(t, user, "BTC", "0.5", "0")

	trades, err := f.ctrl.ListTrades(context.Background(), res.Order.ID)
	require.NoError(t, err)
	require.Len(t, trades, 1)

	holds, err := f.store.ListHolds(context.Background(), ledger.HoldFilter{Ref: res.Order.Ref()})
	require.NoError(t, err)
	require.Len(t, holds, 1)
	assert.Equal(t, ledger.HoldCaptured, holds[0].Status)
	f.requireIntegrity(t)
}

func TestPlaceOrder_MarketSellWithFee(t *testing.T) {
	f := newFixture(t, btc60k, order.WithFeeRate(d("0.001")))
	user := uuid.New()
	f.fund(t, user, "BTC", "2")

	res, err := f.ctrl.PlaceOrder(context.Background(), market(user, ledger.SideSell, "1"))
	require.NoError(t, err)
	require.NotNil(t, res.Trade)
	assert.True(t, res.Trade.TotalUSD.Equal(d("60000")))
	assert.True(t, res.Trade.FeeUSD.Equal(d("60")))

	f.requireBalance(t, user, "BTC", "1", "0")
	f.requireBalance(t, user, "USDT", "59940", "0")
	f.requireIntegrity(t)
}

func TestPlaceOrder_MarketBuyWithFeeWithholdsBase(t *testing.T) {
	f := newFixture(t, btc60k, order.WithFeeRate(d("0.001")))
	user := uuid.New()
	f.fund(t, user, "USDT", "60000")

	res, err := f.ctrl.PlaceOrder(context.Background(), market(user, ledger.SideBuy, "1"))
	require.NoError(t, err)
	assert.True(t, res.Trade.FeeUSD.Equal(d("60")))

	f.requireBalance(t, user, "USDT", "0", "0")
	f.requireBalance(t, user, "BTC", "0.999", "0")
}

func TestPlaceOrder_MarketPriceUnavailableReservesNothing(t *testing.T) {
	f := newFixture(t, price.Static{})
	user := uuid.New()
	f.fund(t, user, "USDT", "1000")

	_, err := f.ctrl.PlaceOrder(context.Background(), market(user, ledger.SideBuy, "0.01"))
	require.ErrorIs(t, err, ledger.ErrPriceUnavailable)

	f.requireBalance(t, user, "USDT", "1000", "0")
	holds, err := f.store.ListHolds(context.Background(), ledger.HoldFilter{UserID: user})
	require.NoError(t, err)
	assert.Empty(t, holds)
	orders, err := f.ctrl.ListOrders(context.Background(), user, 0)
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestPlaceOrder_ConcurrentMarketBuysConserveFunds(t *testing.T) {
	f := newFixture(t, price.Static{"BTC-USDT": d("100")})
	user := uuid.New()
	f.fund(t, user, "USDT", "10")

	var filled, refused atomic.Int32
	var g errgroup.Group
	for i := 0; i < 20; i++ {
		g.Go(func() error {
			_, err := f.ctrl.PlaceOrder(context.Background(), market(user, ledger.SideBuy, "0.01"))
			switch {
			case err == nil:
				filled.Add(1)
			case ledger.CodeOf(err) == ledger.CodeInsufficientBalance:
				refused.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int32(10), filled.Load())
	assert.Equal(t, int32(10), refused.Load())
	f.requireBalance(t, user, "USDT", "0", "0")
	f.requireBalance(t, user, "BTC", "0.1", "0")
	f.requireIntegrity(t)
}

// ============================================================================
// CancelOrder
// ============================================================================

func TestCancelOrder_ReleasesHold(t *testing.T) {
	f := newFixture(t, btc60k)
	user := uuid.New()
	f.fund(t, user, "USDT", "10000")

	res, err := f.ctrl.PlaceOrder(context.Background(), limit(user, ledger.SideBuy, "0.1", "50000"))
	require.NoError(t, err)

	canceled, err := f.ctrl.CancelOrder(context.Background(), user, res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.OrderCanceled, canceled.Status)
	f.requireBalance(t, user, "USDT", "10000", "0")

	_, err = f.ctrl.CancelOrder(context.Background(), user, res.Order.ID)
	require.ErrorIs(t, err, ledger.ErrInvalidOrder)
	f.requireBalance(t, user, "USDT", "10000", "0")
	f.requireIntegrity(t)
}

func TestCancelOrder_ForeignOrUnknown(t *testing.T) {
	f := newFixture(t, btc60k)
	user := uuid.New()
	f.fund(t, user, "USDT", "10000")
	res, err := f.ctrl.PlaceOrder(context.Background(), limit(user, ledger.SideBuy, "0.1", "50000"))
	require.NoError(t, err)

	_, err = f.ctrl.CancelOrder(context.Background(), uuid.New(), res.Order.ID)
	require.ErrorIs(t, err, ledger.ErrOrderNotFound)
	_, err = f.ctrl.CancelOrder(context.Background(), user, uuid.New())
	require.ErrorIs(t, err, ledger.ErrOrderNotFound)

	f.requireBalance(t, user, "USDT", "5000", "5000")
}

func TestCancelOrder_FilledMarketOrder(t *testing.T) {
	f := newFixture(t, btc60k)
	user := uuid.New()
	f.fund(t, user, "USDT", "60000")
	res, err := f.ctrl.PlaceOrder(context.Background(), market(user, ledger.SideBuy, "1"))
	require.NoError(t, err)

	_, err = f.ctrl.CancelOrder(context.Background(), user, res.Order.ID)
	require.ErrorIs(t, err, ledger.ErrInvalidOrder)
}

// ============================================================================
// FillOrder
// ============================================================================

func TestFillOrder_PartialThenFinalConsumesDust(t *testing.T) {
	f := newFixture(t, btc60k)
	user := uuid.New()
	f.fund(t, user, "USDT", "1")

	// 1.000001 * 0.33333333 = 0.33333366333333, reserved as 0.333334.
	res, err := f.ctrl.PlaceOrder(context.Background(), limit(user, ledger.SideBuy, "0.33333333", "1.000001"))
	require.NoError(t, err)
	assert.True(t, res.Order.ReservedAmount.Equal(d("0.333334")))

	tr1, err := f.ctrl.FillOrder(context.Background(), res.Order.ID, uuid.New(), d("0.1"))
	require.NoError(t, err)
	assert.True(t, tr1.TotalUSD.Equal(d("0.1")), "total = %s", tr1.TotalUSD)
	f.requireBalance(t, user, "USDT", "0.666666", "0.233334")
	f.requireBalance(t, user, "BTC", "0.1", "0")

	o, err := f.ctrl.GetOrder(context.Background(), res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.OrderPartiallyFilled, o.Status)

	tr2, err := f.ctrl.FillOrder(context.Background(), res.Order.ID, uuid.New(), d("0.23333333"))
	require.NoError(t, err)
	assert.True(t, tr2.TotalUSD.Equal(d("0.233334")), "total = %s", tr2.TotalUSD)

	f.requireBalance(t, user, "USDT", "0.666666", "0")
	f.requireBalance(t, user, "BTC", "0.33333333", "0")

	o, err = f.ctrl.GetOrder(context.Background(), res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.OrderFilled, o.Status)
	assert.True(t, o.FilledAmount.Equal(o.Amount))

	active, err := f.store.ListHolds(context.Background(), ledger.HoldFilter{Ref: o.Ref(), Status: ledger.HoldActive})
	require.NoError(t, err)
	assert.Empty(t, active)
	f.requireIntegrity(t)
}

func TestFillOrder_Idempotent(t *testing.T) {
	f := newFixture(t, btc60k)
	user := uuid.New()
	f.fund(t, user, "BTC", "1")
	res, err := f.ctrl.PlaceOrder(context.Background(), limit(user, ledger.SideSell, "1", "50000"))
	require.NoError(t, err)

	fill := uuid.New()
	first, err := f.ctrl.FillOrder(context.Background(), res.Order.ID, fill, d("0.4"))
	require.NoError(t, err)
	again, err := f.ctrl.FillOrder(context.Background(), res.Order.ID, fill, d("0.4"))
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)

	f.requireBalance(t, user, "BTC", "0", "0.6")
	f.requireBalance(t, user, "USDT", "20000", "0")

	// Reusing the fill id for another order is refused.
	_, err = f.ctrl.PlaceOrder(context.Background(), limit(user, ledger.SideSell, "0.1", "50000"))
	require.ErrorIs(t, err, ledger.ErrInsufficientBalance)
	f.fund(t, user, "BTC", "0.1")
	other, err := f.ctrl.PlaceOrder(context.Background(), limit(user, ledger.SideSell, "0.1", "50000"))
	require.NoError(t, err)
	_, err = f.ctrl.FillOrder(context.Background(), other.Order.ID, fill, d("0.1"))
	require.ErrorIs(t, err, ledger.ErrInvalidOrder)
	f.requireIntegrity(t)
}

func TestFillOrder_Rejections(t *testing.T) {
	f := newFixture(t, btc60k)
	user := uuid.New()
	f.fund(t, user, "USDT", "100000")

	lim, err := f.ctrl.PlaceOrder(context.Background(), limit(user, ledger.SideBuy, "1", "50000"))
	require.NoError(t, err)
	mkt, err := f.ctrl.PlaceOrder(context.Background(), market(user, ledger.SideBuy, "0.1"))
	require.NoError(t, err)

	_, err = f.ctrl.FillOrder(context.Background(), lim.Order.ID, uuid.New(), d("1.1"))
	require.ErrorIs(t, err, ledger.ErrInvalidAmount)

	_, err = f.ctrl.FillOrder(context.Background(), lim.Order.ID, uuid.New(), d("0"))
	require.ErrorIs(t, err, ledger.ErrInvalidAmount)

	_, err = f.ctrl.FillOrder(context.Background(), mkt.Order.ID, uuid.New(), d("0.1"))
	require.ErrorIs(t, err, ledger.ErrInvalidOrder)

	_, err = f.ctrl.FillOrder(context.Background(), uuid.New(), uuid.New(), d("0.1"))
	require.ErrorIs(t, err, ledger.ErrOrderNotFound)

	_, err = f.ctrl.CancelOrder(context.Background(), user, lim.Order.ID)
	require.NoError(t, err)
	_, err = f.ctrl.FillOrder(context.Background(), lim.Order.ID, uuid.New(), d("0.1"))
	require.ErrorIs(t, err, ledger.ErrInvalidOrder)

	f.requireBalance(t, user, "USDT", "94000", "0")
	f.requireIntegrity(t)
}

func TestFillOrder_SellBelowQuotePrecisionRejected(t *testing.T) {
	f := newFixture(t, btc60k)
	user := uuid.New()
	f.fund(t, user, "BTC", "1")

	res, err := f.ctrl.PlaceOrder(context.Background(), limit(user, ledger.SideSell, "1", "0.01"))
	require.NoError(t, err)

	// 0.01 * 0.00000001 truncates to zero USDT.
	_, err = f.ctrl.FillOrder(context.Background(), res.Order.ID, uuid.New(), d("0.00000001"))
	require.ErrorIs(t, err, ledger.ErrInvalidAmount)

	f.requireBalance(t, user, "BTC", "0", "1")
	f.requireBalance(t, user, "USDT", "0", "0")
	o, err := f.ctrl.GetOrder(context.Background(), res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.OrderNew, o.Status)
	f.requireIntegrity(t)
}

func TestCancelAfterPartialFillReleasesRemainder(t *testing.T) {
	f := newFixture(t, btc60k)
	user := uuid.New()
	f.fund(t, user, "USDT", "50000")

	res, err := f.ctrl.PlaceOrder(context.Background(), limit(user, ledger.SideBuy, "1", "50000"))
	require.NoError(t, err)
	_, err = f.ctrl.FillOrder(context.Background(), res.Order.ID, uuid.New(), d("0.25"))
	require.NoError(t, err)
	f.requireBalance(t, user, "USDT", "0", "37500")

	o, err := f.ctrl.CancelOrder(context.Background(), user, res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.OrderCanceled, o.Status)
	assert.True(t, o.FilledAmount.Equal(d("0.25")))

	f.requireBalance(t, user, "USDT", "37500", "0")
	f.requireBalance(t, user, "BTC", "0.25", "0")
	f.requireIntegrity(t)
}

// ============================================================================
// Recovery
// ============================================================================

// insertStuckMarket leaves a NEW market order with its hold, as if the
// process died between reserve and capture.
func insertStuckMarket(t *testing.T, f fixture, user uuid.UUID, reserved string) uuid.UUID {
	t.Helper()
	id := uuid.New()
	err := f.engine.Execute(context.Background(), "test_stuck_market", func(u *core.Unit) error {
		if _, err := u.Reserve(user, "USDT", d(reserved), ledger.NewRef(ledger.RefOrder, id)); err != nil {
			return err
		}
		_, err := u.Tx().InsertOrder(u.Context(), ledger.Order{
			ID:             id,
			UserID:         user,
			Symbol:         "BTC-USDT",
			Side:           ledger.SideBuy,
			Type:           ledger.OrderTypeMarket,
			Status:         ledger.OrderNew,
			Amount:         d("0.1"),
			FilledAmount:   decimal.Zero,
			ReservedAsset:  "USDT",
			ReservedAmount: d(reserved),
		})
		return err
	})
	require.NoError(t, err)
	return id
}

func TestRecover_RefundsOrphanedHolds(t *testing.T) {
	ctx := context.Background()
	later := func() time.Time { return time.Now().UTC().Add(time.Hour) }
	f := newFixture(t, btc60k, order.WithClock(later))
	user := uuid.New()
	f.fund(t, user, "USDT", "100000")

	// Direct reservation under an ORDER ref without an order row.
	direct := ledger.NewRef(ledger.RefOrder, uuid.New())
	_, err := f.engine.Reserve(ctx, user, "USDT", d("1000"), direct)
	require.NoError(t, err)

	stuck := insertStuckMarket(t, f, user, "6000")

	// Resting limit order keeps its hold.
	resting, err := f.ctrl.PlaceOrder(ctx, limit(user, ledger.SideBuy, "0.1", "50000"))
	require.NoError(t, err)

	f.requireBalance(t, user, "USDT", "88000", "12000")

	rep, err := f.ctrl.Recover(ctx, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, order.RecoveryReport{Scanned: 3, Released: 1, Rejected: 1, Kept: 2}, rep)

	f.requireBalance(t, user, "USDT", "94000", "6000")

	o, err := f.ctrl.GetOrder(ctx, stuck)
	require.NoError(t, err)
	assert.Equal(t, ledger.OrderRejected, o.Status)
	o, err = f.ctrl.GetOrder(ctx, resting.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.OrderNew, o.Status)

	held, err := f.store.ListHolds(ctx, ledger.HoldFilter{UserID: user, Status: ledger.HoldActive, Ref: direct})
	require.NoError(t, err)
	require.Len(t, held, 1)

	// A second pass finds nothing to do.
	rep, err = f.ctrl.Recover(ctx, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, order.RecoveryReport{Scanned: 2, Kept: 2}, rep)
	f.requireIntegrity(t)
}

func TestRecover_IgnoresYoungHolds(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, btc60k)
	user := uuid.New()
	f.fund(t, user, "USDT", "1000")
	insertStuckMarket(t, f, user, "10")

	rep, err := f.ctrl.Recover(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, order.RecoveryReport{}, rep)
	f.requireBalance(t, user, "USDT", "990", "10")
}

func TestRunRecovery_StartupPass(t *testing.T) {
	later := func() time.Time { return time.Now().UTC().Add(time.Hour) }
	f := newFixture(t, btc60k, order.WithClock(later))
	user := uuid.New()
	f.fund(t, user, "USDT", "1000")
	insertStuckMarket(t, f, user, "250")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.ctrl.RunRecovery(ctx, time.Hour, time.Minute) }()

	require.Eventually(t, func() bool {
		b, err := f.engine.GetBalance(context.Background(), user, "USDT")
		return err == nil && b.Locked.IsZero()
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	f.requireBalance(t, user, "USDT", "1000", "0")
}

func TestNewController_RejectsFeeRate(t *testing.T) {
	engine := core.NewEngine(memstore.New())
	for _, rate := range []string{"-0.01", "1", "1.5"} {
		_, err := order.NewController(engine, btc60k, order.WithFeeRate(d(rate)))
		require.ErrorIs(t, err, ledger.ErrInvalidRequest, rate)
	}
}
