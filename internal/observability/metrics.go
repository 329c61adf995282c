package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for SpotLedger.
type Metrics struct {
	// --- Reservation engine ---
	EngineOps        *prometheus.CounterVec
	EngineOpDuration *prometheus.HistogramVec
	EngineRetries    *prometheus.CounterVec

	// --- Orders ---
	OrdersTotal    *prometheus.CounterVec
	TradesSettled  *prometheus.CounterVec
	RecoveredHolds prometheus.Counter

	// --- Notification fan-out ---
	NotifyPublished *prometheus.CounterVec
	NotifyDropped   *prometheus.CounterVec

	// --- Channel & Backpressure ---
	ChannelSize        *prometheus.GaugeVec
	ChannelCapacity    *prometheus.GaugeVec
	ChannelUtilization *prometheus.GaugeVec

	// --- Ingestion & dedup ---
	IngestMessages        *prometheus.CounterVec
	IdempotencyDuplicates *prometheus.CounterVec
	DedupLRUSize          prometheus.Gauge
	DedupLRUEvictions     prometheus.Counter

	// --- Prices ---
	PriceUpdates *prometheus.CounterVec

	// --- Query API ---
	QueryRequests       *prometheus.CounterVec
	QueryDuration       *prometheus.HistogramVec
	IntegrityViolations prometheus.Gauge
}

// NewMetrics creates all metrics and registers them with reg. Pass
// prometheus.DefaultRegisterer in production and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	opBuckets := []float64{
		0.0001, 0.00025, 0.0005, 0.001, 0.0025,
		0.005, 0.01, 0.025, 0.05, 0.1, 0.25,
	}

	return &Metrics{
		// Reservation engine
		EngineOps: f.NewCounterVec(prometheus.CounterOpts{
			Name: "spot_engine_ops_total",
			Help: "Engine units by operation and result code",
		}, []string{"op", "result"}),

		EngineOpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "spot_engine_op_duration_seconds",
			Help:    "Engine unit latency including retries",
			Buckets: opBuckets,
		}, []string{"op"}),

		EngineRetries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "spot_engine_retries_total",
			Help: "Units retried after a concurrent modification",
		}, []string{"op"}),

		// Orders
		OrdersTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "spot_orders_total",
			Help: "Order placements by side, type and result",
		}, []string{"side", "type", "result"}),

		TradesSettled: f.NewCounterVec(prometheus.CounterOpts{
			Name: "spot_trades_settled_total",
			Help: "Trades written",
		}, []string{"symbol", "side"}),

		RecoveredHolds: f.NewCounter(prometheus.CounterOpts{
			Name: "spot_recovered_holds_total",
			Help: "Orphaned order holds released by recovery",
		}),

		// Notification fan-out
		NotifyPublished: f.NewCounterVec(prometheus.CounterOpts{
			Name: "spot_notify_published_total",
			Help: "Balance notifications delivered to a sink",
		}, []string{"sink"}),

		NotifyDropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "spot_notify_dropped_total",
			Help: "Balance notifications dropped (full buffer or publish error)",
		}, []string{"sink", "reason"}),

		// Channel & Backpressure
		ChannelSize: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "spot_channel_size",
			Help: "Current items in channel",
		}, []string{"name"}),

		ChannelCapacity: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "spot_channel_capacity",
			Help: "Channel capacity (constant)",
		}, []string{"name"}),

		ChannelUtilization: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "spot_channel_utilization",
			Help: "Channel size / capacity (0.0-1.0)",
		}, []string{"name"}),

		// Ingestion & dedup
		IngestMessages: f.NewCounterVec(prometheus.CounterOpts{
			Name: "spot_ingest_messages_total",
			Help: "Inbound bus messages by type and result",
		}, []string{"event_type", "result"}),

		IdempotencyDuplicates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "spot_idempotency_duplicates_total",
			Help: "Duplicates caught (lru/store)",
		}, []string{"event_type", "tier"}),

		DedupLRUSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "spot_dedup_lru_size",
			Help: "Current LRU occupancy",
		}),

		DedupLRUEvictions: f.NewCounter(prometheus.CounterOpts{
			Name: "spot_dedup_lru_evictions_total",
			Help: "LRU evictions",
		}),

		// Prices
		PriceUpdates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "spot_price_updates_total",
			Help: "Price updates by symbol and result (applied/stale/invalid)",
		}, []string{"symbol", "result"}),

		// Query API
		QueryRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "spot_query_requests_total",
			Help: "API requests",
		}, []string{"method", "code"}),

		QueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "spot_query_duration_seconds",
			Help:    "API latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"method"}),

		IntegrityViolations: f.NewGauge(prometheus.GaugeOpts{
			Name: "spot_integrity_violations",
			Help: "Violations found by the last integrity verification",
		}),
	}
}

// NewNopMetrics returns metrics bound to a private registry.
func NewNopMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}

// SetChannelMetrics updates channel utilization metrics.
func (m *Metrics) SetChannelMetrics(name string, size, capacity int) {
	m.ChannelSize.WithLabelValues(name).Set(float64(size))
	m.ChannelCapacity.WithLabelValues(name).Set(float64(capacity))
	if capacity > 0 {
		m.ChannelUtilization.WithLabelValues(name).Set(float64(size) / float64(capacity))
	}
}
