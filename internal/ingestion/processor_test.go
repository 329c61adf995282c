package ingestion_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"SpotLedger/internal/core"
	"SpotLedger/internal/ingestion"
	"SpotLedger/internal/ledger"
	"SpotLedger/internal/memstore"
	"SpotLedger/internal/price"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	engine *core.Engine
	prices *price.Cache
	proc   *ingestion.Processor
}

func newFixture() *fixture {
	store := memstore.New()
	engine := core.NewEngine(store)
	prices := price.NewCache(0)
	dedup := ingestion.NewDeduplicator(64, store, nil, zerolog.Nop())
	return &fixture{
		engine: engine,
		prices: prices,
		proc:   ingestion.NewProcessor(engine, prices, dedup, nil, zerolog.Nop()),
	}
}

func depositMsg(t *testing.T, id, user uuid.UUID, asset, amount string) ingestion.RawEvent {
	return rawFromJSON(t, ingestion.TypeDeposit, map[string]interface{}{
		"deposit_id": id.String(),
		"user_id":    user.String(),
		"asset":      asset,
		"amount":     amount,
	})
}

func withdrawalMsg(t *testing.T, id, user uuid.UUID, asset, amount string) ingestion.RawEvent {
	return rawFromJSON(t, ingestion.TypeWithdrawal, map[string]interface{}{
		"withdrawal_id": id.String(),
		"user_id":       user.String(),
		"asset":         asset,
		"amount":        amount,
	})
}

func priceMsg(t *testing.T, symbol, px string, seq int64) ingestion.RawEvent {
	return rawFromJSON(t, ingestion.TypePrice, map[string]interface{}{
		"symbol":         symbol,
		"price":          px,
		"price_sequence": seq,
	})
}

func requireAvailable(t *testing.T, e *core.Engine, user uuid.UUID, asset, want string) {
	t.Helper()
	b, err := e.GetBalance(context.Background(), user, asset)
	require.NoError(t, err)
	assert.True(t, b.Available.Equal(decimal.RequireFromString(want)), "available = %s, want %s", b.Available, want)
}

func TestProcessor_DepositExactlyOnce(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	user, id := uuid.New(), uuid.New()

	msg := depositMsg(t, id, user, "USDT", "100")
	assert.Equal(t, ingestion.OutcomeApplied, f.proc.Handle(ctx, msg))
	assert.Equal(t, ingestion.OutcomeDuplicate, f.proc.Handle(ctx, msg))

	// A fresh processor has a cold LRU; the journal still knows the ref.
	cold := ingestion.NewProcessor(f.engine, f.prices,
		ingestion.NewDeduplicator(64, f.engine.Store(), nil, zerolog.Nop()), nil, zerolog.Nop())
	assert.Equal(t, ingestion.OutcomeDuplicate, cold.Handle(ctx, msg))

	requireAvailable(t, f.engine, user, "USDT", "100")
}

func TestProcessor_WithdrawalRejectedIsAcked(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	user := uuid.New()

	require.Equal(t, ingestion.OutcomeApplied, f.proc.Handle(ctx, depositMsg(t, uuid.New(), user, "BTC", "1")))

	out := f.proc.Handle(ctx, withdrawalMsg(t, uuid.New(), user, "BTC", "2"))
	assert.Equal(t, ingestion.OutcomeRejected, out)
	assert.True(t, out.Acked())

	assert.Equal(t, ingestion.OutcomeApplied, f.proc.Handle(ctx, withdrawalMsg(t, uuid.New(), user, "BTC", "0.4")))
	requireAvailable(t, f.engine, user, "BTC", "0.6")
}

func TestProcessor_NonPositiveAmountRejected(t *testing.T) {
	f := newFixture()
	out := f.proc.Handle(context.Background(), depositMsg(t, uuid.New(), uuid.New(), "USDT", "-5"))
	assert.Equal(t, ingestion.OutcomeRejected, out)
}

func TestProcessor_MalformedIsAcked(t *testing.T) {
	f := newFixture()
	raw := ingestion.RawEvent{EventType: ingestion.TypeDeposit, Data: []byte(`{"deposit_id":"x"}`)}
	out := f.proc.Handle(context.Background(), raw)
	assert.Equal(t, ingestion.OutcomeMalformed, out)
	assert.True(t, out.Acked())
}

func TestProcessor_Prices(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	assert.Equal(t, ingestion.OutcomeApplied, f.proc.Handle(ctx, priceMsg(t, "BTC-USDT", "60000", 2)))
	assert.Equal(t, ingestion.OutcomeStale, f.proc.Handle(ctx, priceMsg(t, "BTC-USDT", "59000", 1)))
	assert.Equal(t, ingestion.OutcomeRejected, f.proc.Handle(ctx, priceMsg(t, "BTC-USDT", "0", 3)))

	px, err := f.prices.GetCurrentPrice(ctx, "BTC-USDT")
	require.NoError(t, err)
	assert.True(t, px.Equal(decimal.NewFromInt(60000)))
}

type brokenLedger struct{}

func (brokenLedger) Deposit(context.Context, uuid.UUID, string, decimal.Decimal, ledger.Ref) (ledger.Balance, error) {
	return ledger.Balance{}, errors.New("connection refused")
}

func (brokenLedger) Withdraw(context.Context, uuid.UUID, string, decimal.Decimal, ledger.Ref) (ledger.Balance, error) {
	return ledger.Balance{}, ledger.ErrConcurrencyExhausted
}

func TestProcessor_InfraErrorsAreRetried(t *testing.T) {
	proc := ingestion.NewProcessor(brokenLedger{}, nil, nil, nil, zerolog.Nop())
	ctx := context.Background()

	assert.Equal(t, ingestion.OutcomeRetry, proc.Handle(ctx, depositMsg(t, uuid.New(), uuid.New(), "USDT", "1")))
	assert.Equal(t, ingestion.OutcomeRetry, proc.Handle(ctx, withdrawalMsg(t, uuid.New(), uuid.New(), "USDT", "1")))
	assert.False(t, ingestion.OutcomeRetry.Acked())
}

func TestProcessor_RunAcksAndNaks(t *testing.T) {
	f := newFixture()
	var acks, naks atomic.Int32

	track := func(raw ingestion.RawEvent) ingestion.RawEvent {
		raw.AckFunc = func() { acks.Add(1) }
		raw.NakFunc = func() { naks.Add(1) }
		return raw
	}

	in := make(chan ingestion.RawEvent, 4)
	in <- track(depositMsg(t, uuid.New(), uuid.New(), "USDT", "5"))
	in <- track(ingestion.RawEvent{EventType: ingestion.TypePrice, Data: []byte("garbage")})
	close(in)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.proc.Run(ctx, in))
	assert.Equal(t, int32(2), acks.Load())
	assert.Equal(t, int32(0), naks.Load())

	retry := ingestion.NewProcessor(brokenLedger{}, nil, nil, nil, zerolog.Nop())
	in = make(chan ingestion.RawEvent, 1)
	in <- track(depositMsg(t, uuid.New(), uuid.New(), "USDT", "5"))
	close(in)
	require.NoError(t, retry.Run(ctx, in))
	assert.Equal(t, int32(1), naks.Load())
}
