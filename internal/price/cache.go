package price

import (
	"context"
	"sync"
	"time"

	"SpotLedger/internal/event"
	"SpotLedger/internal/observability"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

type entry struct {
	price decimal.Decimal
	seq   int64
	at    time.Time
}

// Cache keeps the latest price per symbol as delivered by the feed.
// Updates with a sequence at or below the last applied one are ignored;
// gaps are tolerated. Prices older than maxAge are reported unavailable.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry

	maxAge  time.Duration
	now     func() time.Time
	metrics *observability.Metrics
	log     zerolog.Logger
}

type CacheOption func(*Cache)

func WithCacheClock(now func() time.Time) CacheOption {
	return func(c *Cache) { c.now = now }
}

func WithCacheMetrics(m *observability.Metrics) CacheOption {
	return func(c *Cache) { c.metrics = m }
}

func WithCacheLogger(l zerolog.Logger) CacheOption {
	return func(c *Cache) { c.log = l }
}

// NewCache creates a cache. A zero maxAge disables the staleness check.
func NewCache(maxAge time.Duration, opts ...CacheOption) *Cache {
	c := &Cache{
		entries: make(map[string]entry),
		maxAge:  maxAge,
		now:     time.Now,
		log:     zerolog.Nop(),
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observability.NewNopMetrics()
	}
	return c
}

func (c *Cache) Update(_ context.Context, u event.PriceUpdate) (bool, error) {
	if !u.Price.IsPositive() {
		c.metrics.PriceUpdates.WithLabelValues(u.Symbol, "invalid").Inc()
		return false, invalidPrice(u)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	last, ok := c.entries[u.Symbol]
	if ok && u.PriceSequence <= last.seq {
		// Stale - silently ignore (idempotent)
		c.metrics.PriceUpdates.WithLabelValues(u.Symbol, "stale").Inc()
		return false, nil
	}
	if ok && u.PriceSequence > last.seq+1 {
		c.log.Debug().
			Str("symbol", u.Symbol).
			Int64("expected", last.seq+1).
			Int64("got", u.PriceSequence).
			Msg("price sequence gap")
	}

	at := u.Timestamp
	if at.IsZero() {
		at = c.now()
	}
	c.entries[u.Symbol] = entry{price: u.Price, seq: u.PriceSequence, at: at}
	c.metrics.PriceUpdates.WithLabelValues(u.Symbol, "applied").Inc()
	return true, nil
}

func (c *Cache) GetCurrentPrice(_ context.Context, symbol string) (decimal.Decimal, error) {
	c.mu.RLock()
	e, ok := c.entries[symbol]
	c.mu.RUnlock()

	if !ok {
		return decimal.Decimal{}, unavailable("no price for %s", symbol)
	}
	if c.maxAge > 0 {
		if age := c.now().Sub(e.at); age > c.maxAge {
			return decimal.Decimal{}, unavailable("price for %s is %s old", symbol, age.Truncate(time.Millisecond))
		}
	}
	return e.price, nil
}

// LastSequence returns the last applied sequence for symbol, 0 if none.
func (c *Cache) LastSequence(symbol string) int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entries[symbol].seq
}
