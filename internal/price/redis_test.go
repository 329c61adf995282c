package price

import (
	"context"
	"strconv"
	"testing"
	"time"

	"SpotLedger/internal/ledger"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisSource(t *testing.T, maxAge time.Duration) (*RedisSource, *miniredis.Miniredis) {
	t.Helper()
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(s.Close)

	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisSource(client, maxAge), s
}

func TestRedisSource_Missing(t *testing.T) {
	src, _ := newRedisSource(t, 0)
	_, err := src.GetCurrentPrice(context.Background(), "BTC-USDT")
	require.ErrorIs(t, err, ledger.ErrPriceUnavailable)
}

func TestRedisSource_ReadsFeederHash(t *testing.T) {
	src, s := newRedisSource(t, time.Minute)
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	src = src.WithClock(func() time.Time { return now })

	s.HSet("price:BTC-USDT", "price", "64250.5", "ts", strconv.FormatInt(now.Add(-5*time.Second).UnixMilli(), 10))

	px, err := src.GetCurrentPrice(context.Background(), "BTC-USDT")
	require.NoError(t, err)
	assert.Equal(t, "64250.5", px.String())
}

func TestRedisSource_StaleAndMalformed(t *testing.T) {
	src, s := newRedisSource(t, time.Minute)
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	src = src.WithClock(func() time.Time { return now })

	s.HSet("price:BTC-USDT", "price", "64250", "ts", strconv.FormatInt(now.Add(-2*time.Minute).UnixMilli(), 10))
	_, err := src.GetCurrentPrice(context.Background(), "BTC-USDT")
	require.ErrorIs(t, err, ledger.ErrPriceUnavailable)

	s.HSet("price:ETH-USDT", "price", "abc", "ts", strconv.FormatInt(now.UnixMilli(), 10))
	_, err = src.GetCurrentPrice(context.Background(), "ETH-USDT")
	require.ErrorIs(t, err, ledger.ErrPriceUnavailable)

	s.HSet("price:SOL-USDT", "price", "150")
	_, err = src.GetCurrentPrice(context.Background(), "SOL-USDT")
	require.ErrorIs(t, err, ledger.ErrPriceUnavailable, "missing ts with max age set")
}

func TestRedisSource_UpdateIsMonotonic(t *testing.T) {
	ctx := context.Background()
	src, s := newRedisSource(t, 0)
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	applied, err := src.Update(ctx, update("BTC-USDT", "50000", 2, now))
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = src.Update(ctx, update("BTC-USDT", "49000", 1, now))
	require.NoError(t, err)
	assert.False(t, applied)

	applied, err = src.Update(ctx, update("BTC-USDT", "51000", 7, now))
	require.NoError(t, err)
	assert.True(t, applied)

	assert.Equal(t, "51000", s.HGet("price:BTC-USDT", "price"))
	assert.Equal(t, "7", s.HGet("price:BTC-USDT", "seq"))

	px, err := src.GetCurrentPrice(ctx, "BTC-USDT")
	require.NoError(t, err)
	assert.Equal(t, "51000", px.String())
}

func TestRedisSource_UpdateRejectsNonPositive(t *testing.T) {
	src, _ := newRedisSource(t, 0)
	_, err := src.Update(context.Background(), update("BTC-USDT", "0", 1, time.Time{}))
	require.ErrorIs(t, err, ledger.ErrInvalidAmount)
}
