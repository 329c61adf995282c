package ingestion

import (
	"container/list"
	"context"
	"sync"

	"SpotLedger/internal/ledger"
	"SpotLedger/internal/observability"

	"github.com/rs/zerolog"
)

// JournalChecker is the durable dedup tier. ledger.Reader satisfies it.
type JournalChecker interface {
	JournalRefExists(ctx context.Context, kind ledger.EntryKind, ref ledger.Ref) (bool, error)
}

// Deduplicator implements two-tier deduplication of inbound events:
// an in-memory LRU on the hot path and the journal on the cold path.
// A miss in both tiers is not proof of novelty; the engine's journal
// reference check remains the final guard.
type Deduplicator struct {
	lru     *DedupLRU
	journal JournalChecker
	metrics *observability.Metrics
	log     zerolog.Logger
}

func NewDeduplicator(capacity int, journal JournalChecker, metrics *observability.Metrics, log zerolog.Logger) *Deduplicator {
	if metrics == nil {
		metrics = observability.NewNopMetrics()
	}
	return &Deduplicator{
		lru:     NewDedupLRU(capacity),
		journal: journal,
		metrics: metrics,
		log:     log,
	}
}

type dedupKey struct {
	kind ledger.EntryKind
	ref  ledger.Ref
}

// IsDuplicate checks whether (kind, ref) was already applied.
func (d *Deduplicator) IsDuplicate(ctx context.Context, eventType string, kind ledger.EntryKind, ref ledger.Ref) bool {
	key := dedupKey{kind: kind, ref: ref}

	if d.lru.Contains(key) {
		d.metrics.IdempotencyDuplicates.WithLabelValues(eventType, "lru").Inc()
		return true
	}

	if d.journal == nil {
		return false
	}
	dup, err := d.journal.JournalRefExists(ctx, kind, ref)
	if err != nil {
		// Fall through to the engine, which dedups inside the unit.
		d.log.Warn().Err(err).Str("ref", ref.String()).Msg("journal dedup lookup failed")
		return false
	}
	if dup {
		d.metrics.IdempotencyDuplicates.WithLabelValues(eventType, "store").Inc()
		d.add(key)
		return true
	}
	return false
}

// MarkProcessed records (kind, ref) after the engine applied it.
func (d *Deduplicator) MarkProcessed(kind ledger.EntryKind, ref ledger.Ref) {
	d.add(dedupKey{kind: kind, ref: ref})
}

func (d *Deduplicator) add(key dedupKey) {
	if d.lru.Add(key) {
		d.metrics.DedupLRUEvictions.Inc()
	}
	d.metrics.DedupLRUSize.Set(float64(d.lru.Size()))
}

// --- LRU ---

// DedupLRU is a fixed-capacity LRU set. Safe for concurrent use; the
// subscriber callbacks of several consumers share one instance.
type DedupLRU struct {
	mu       sync.Mutex
	capacity int
	cache    map[dedupKey]*list.Element
	order    *list.List
}

func NewDedupLRU(capacity int) *DedupLRU {
	if capacity < 1 {
		capacity = 1
	}
	return &DedupLRU{
		capacity: capacity,
		cache:    make(map[dedupKey]*list.Element, capacity),
		order:    list.New(),
	}
}

// Contains checks if key exists (promotes to front).
func (l *DedupLRU) Contains(key dedupKey) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	elem, ok := l.cache[key]
	if ok {
		l.order.MoveToFront(elem)
	}
	return ok
}

// Add inserts key or promotes it. It reports whether an entry was evicted.
func (l *DedupLRU) Add(key dedupKey) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if elem, ok := l.cache[key]; ok {
		l.order.MoveToFront(elem)
		return false
	}
	l.cache[key] = l.order.PushFront(key)
	if l.order.Len() <= l.capacity {
		return false
	}
	oldest := l.order.Back()
	l.order.Remove(oldest)
	delete(l.cache, oldest.Value.(dedupKey))
	return true
}

func (l *DedupLRU) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.order.Len()
}
