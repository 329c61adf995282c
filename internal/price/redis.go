package price

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"SpotLedger/internal/event"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// DefaultKeyPrefix namespaces price hashes: price:<SYMBOL>.
const DefaultKeyPrefix = "price:"

var (
	// luaSetPrice writes a price only if its sequence is newer.
	// KEYS[1]: price key
	// ARGV[1]: price, ARGV[2]: timestamp (ms), ARGV[3]: sequence
	// Returns: 1 if applied, 0 if stale
	luaSetPrice = redis.NewScript(`
		local key = KEYS[1]
		local cur = redis.call('HGET', key, 'seq')
		if cur and tonumber(cur) >= tonumber(ARGV[3]) then
			return 0
		end
		redis.call('HSET', key, 'price', ARGV[1], 'ts', ARGV[2], 'seq', ARGV[3])
		return 1
	`)
)

// RedisSource reads prices written by an external feeder into Redis hashes
// with fields price, ts (epoch ms) and seq. It also implements Sink so the
// service can write through prices it receives from the bus.
type RedisSource struct {
	client    redis.Cmdable
	keyPrefix string
	maxAge    time.Duration
	now       func() time.Time
}

func NewRedisSource(client redis.Cmdable, maxAge time.Duration) *RedisSource {
	return &RedisSource{
		client:    client,
		keyPrefix: DefaultKeyPrefix,
		maxAge:    maxAge,
		now:       time.Now,
	}
}

// WithClock returns a copy using now as its clock.
func (r *RedisSource) WithClock(now func() time.Time) *RedisSource {
	cp := *r
	cp.now = now
	return &cp
}

func (r *RedisSource) key(symbol string) string {
	return r.keyPrefix + symbol
}

func (r *RedisSource) GetCurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	vals, err := r.client.HMGet(ctx, r.key(symbol), "price", "ts").Result()
	if err != nil {
		return decimal.Decimal{}, unavailable("read price for %s: %v", symbol, err)
	}
	raw, ok := vals[0].(string)
	if !ok {
		return decimal.Decimal{}, unavailable("no price for %s", symbol)
	}
	p, err := decimal.NewFromString(raw)
	if err != nil || !p.IsPositive() {
		return decimal.Decimal{}, unavailable("malformed price %q for %s", raw, symbol)
	}

	if r.maxAge > 0 {
		tsRaw, _ := vals[1].(string)
		ms, err := strconv.ParseInt(tsRaw, 10, 64)
		if err != nil {
			return decimal.Decimal{}, unavailable("price for %s has no timestamp", symbol)
		}
		if age := r.now().Sub(time.UnixMilli(ms)); age > r.maxAge {
			return decimal.Decimal{}, unavailable("price for %s is %s old", symbol, age.Truncate(time.Millisecond))
		}
	}
	return p, nil
}

func (r *RedisSource) Update(ctx context.Context, u event.PriceUpdate) (bool, error) {
	if !u.Price.IsPositive() {
		return false, invalidPrice(u)
	}
	at := u.Timestamp
	if at.IsZero() {
		at = r.now()
	}
	res, err := luaSetPrice.Run(ctx, r.client, []string{r.key(u.Symbol)},
		u.Price.String(), at.UnixMilli(), u.PriceSequence).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, fmt.Errorf("write price for %s: %w", u.Symbol, err)
	}
	return res == 1, nil
}
