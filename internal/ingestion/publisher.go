package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"SpotLedger/internal/event"
	"SpotLedger/internal/observability"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// ErrBufferFull is returned by Notify when the outbound buffer is full.
// The notification is dropped; balances are always readable from the API.
var ErrBufferFull = errors.New("outbound buffer full")

// DefaultOutboundBuffer is the per-publisher queue length.
const DefaultOutboundBuffer = 4096

// outbox is the bounded queue between committed units and a bus publisher.
// Notify never blocks the engine.
type outbox struct {
	sink    string
	ch      chan event.BalanceChanged
	metrics *observability.Metrics
	log     zerolog.Logger
}

func newOutbox(sink string, size int, metrics *observability.Metrics, log zerolog.Logger) outbox {
	if size < 1 {
		size = DefaultOutboundBuffer
	}
	if metrics == nil {
		metrics = observability.NewNopMetrics()
	}
	return outbox{
		sink:    sink,
		ch:      make(chan event.BalanceChanged, size),
		metrics: metrics,
		log:     log,
	}
}

func (o *outbox) Notify(_ context.Context, evt event.BalanceChanged) error {
	select {
	case o.ch <- evt:
		return nil
	default:
		o.metrics.NotifyDropped.WithLabelValues(o.sink, "buffer_full").Inc()
		return ErrBufferFull
	}
}

// run publishes queued events until ctx is canceled. Publish errors are
// logged and counted; the event is not retried.
func (o *outbox) run(ctx context.Context, send func(context.Context, event.BalanceChanged) error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt := <-o.ch:
			o.metrics.SetChannelMetrics(o.sink, len(o.ch), cap(o.ch))
			if err := send(ctx, evt); err != nil {
				o.metrics.NotifyDropped.WithLabelValues(o.sink, "publish_error").Inc()
				o.log.Warn().
					Err(err).
					Str("user_id", evt.UserID.String()).
					Str("asset", evt.Asset).
					Int64("version", evt.Version).
					Msg("outbound publish failed")
				continue
			}
			o.metrics.NotifyPublished.WithLabelValues(o.sink).Inc()
		}
	}
}

// Pending returns the number of queued events.
func (o *outbox) Pending() int { return len(o.ch) }

// JetStreamPublisher is the subset of jetstream.JetStream used for
// outbound publishing.
type JetStreamPublisher interface {
	Publish(ctx context.Context, subject string, payload []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// NATSPublisher publishes committed balance changes to
// spot.ledger.balances.{asset}.
type NATSPublisher struct {
	outbox
	js JetStreamPublisher
}

func NewNATSPublisher(js JetStreamPublisher, buffer int, metrics *observability.Metrics, log zerolog.Logger) *NATSPublisher {
	return &NATSPublisher{
		outbox: newOutbox("nats", buffer, metrics, log),
		js:     js,
	}
}

// Run starts the outbound publisher loop.
func (p *NATSPublisher) Run(ctx context.Context) error {
	return p.run(ctx, p.publish)
}

func (p *NATSPublisher) publish(ctx context.Context, evt event.BalanceChanged) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	// The message id lets JetStream drop a republished version.
	_, err = p.js.Publish(ctx, BalanceSubject(evt.Asset), data, jetstream.WithMsgID(balanceMsgID(evt)))
	return err
}

// BalanceSubject returns the outbound subject for asset.
func BalanceSubject(asset string) string {
	return "spot.ledger.balances." + strings.ToUpper(asset)
}

func balanceMsgID(evt event.BalanceChanged) string {
	return fmt.Sprintf("%s:%s:%d", evt.UserID, evt.Asset, evt.Version)
}

// EnsureOutboundStream creates the outbound events stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream, log zerolog.Logger) error {
	cfg := streamConfig("SPOT_LEDGER_BALANCES", "spot.ledger.balances.>")
	cfg.Duplicates = 2 * time.Minute
	if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	log.Info().Str("stream", cfg.Name).Msg("ensured outbound stream")
	return nil
}
