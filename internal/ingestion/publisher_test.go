package ingestion_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"SpotLedger/internal/core"
	"SpotLedger/internal/event"
	"SpotLedger/internal/ingestion"
	"SpotLedger/internal/observability"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	subject string
	data    []byte
}

type fakeJetStream struct {
	mu   sync.Mutex
	msgs []published
	fail bool
}

func (f *fakeJetStream) Publish(_ context.Context, subject string, payload []byte, _ ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return nil, errors.New("no responders")
	}
	f.msgs = append(f.msgs, published{subject: subject, data: payload})
	return &jetstream.PubAck{Stream: "SPOT_LEDGER_BALANCES", Sequence: uint64(len(f.msgs))}, nil
}

func (f *fakeJetStream) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.msgs)
}

func balanceChanged(asset string, version int64) event.BalanceChanged {
	return event.BalanceChanged{
		UserID:    uuid.New(),
		Asset:     asset,
		Available: decimal.RequireFromString("10.5"),
		Locked:    decimal.Zero,
		Version:   version,
		Cause:     "DEPOSIT",
		Timestamp: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}
}

// runUntil runs fn in the background and cancels it once done reports true.
func runUntil(t *testing.T, run func(context.Context) error, done func() bool) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- run(ctx) }()
	require.Eventually(t, done, 5*time.Second, 5*time.Millisecond)
	cancel()
	require.ErrorIs(t, <-errCh, context.Canceled)
}

func TestNATSPublisher_PublishesPerAsset(t *testing.T) {
	js := &fakeJetStream{}
	m := observability.NewNopMetrics()
	pub := ingestion.NewNATSPublisher(js, 8, m, zerolog.Nop())

	var n core.Notifier = pub
	evt := balanceChanged("btc", 2)
	require.NoError(t, n.Notify(context.Background(), evt))

	runUntil(t, pub.Run, func() bool { return js.count() == 1 })

	assert.Equal(t, "spot.ledger.balances.BTC", js.msgs[0].subject)
	var got event.BalanceChanged
	require.NoError(t, json.Unmarshal(js.msgs[0].data, &got))
	assert.Equal(t, evt.UserID, got.UserID)
	assert.True(t, got.Available.Equal(evt.Available))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NotifyPublished.WithLabelValues("nats")))
}

func TestNATSPublisher_DropsWhenFull(t *testing.T) {
	m := observability.NewNopMetrics()
	pub := ingestion.NewNATSPublisher(&fakeJetStream{}, 1, m, zerolog.Nop())
	ctx := context.Background()

	require.NoError(t, pub.Notify(ctx, balanceChanged("USDT", 1)))
	err := pub.Notify(ctx, balanceChanged("USDT", 2))
	require.ErrorIs(t, err, ingestion.ErrBufferFull)
	assert.Equal(t, 1, pub.Pending())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NotifyDropped.WithLabelValues("nats", "buffer_full")))
}

func TestNATSPublisher_PublishErrorIsCounted(t *testing.T) {
	m := observability.NewNopMetrics()
	pub := ingestion.NewNATSPublisher(&fakeJetStream{fail: true}, 4, m, zerolog.Nop())
	require.NoError(t, pub.Notify(context.Background(), balanceChanged("ETH", 1)))

	dropped := m.NotifyDropped.WithLabelValues("nats", "publish_error")
	runUntil(t, pub.Run, func() bool { return testutil.ToFloat64(dropped) == 1 })
}

func TestKafkaPublisher_SendsKeyedMessages(t *testing.T) {
	cfg := mocks.NewTestConfig()
	cfg.Producer.Return.Successes = true
	producer := mocks.NewSyncProducer(t, cfg)

	evt := balanceChanged("USDT", 4)
	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != ingestion.DefaultKafkaTopic {
			return errors.New("wrong topic " + msg.Topic)
		}
		key, err := msg.Key.Encode()
		if err != nil {
			return err
		}
		if string(key) != evt.UserID.String() {
			return errors.New("wrong key " + string(key))
		}
		return nil
	})
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	m := observability.NewNopMetrics()
	pub := ingestion.NewKafkaPublisher(producer, "", 8, m, zerolog.Nop())
	require.NoError(t, pub.Notify(context.Background(), evt))
	require.NoError(t, pub.Notify(context.Background(), balanceChanged("USDT", 5)))

	failed := m.NotifyDropped.WithLabelValues("kafka", "publish_error")
	runUntil(t, pub.Run, func() bool { return testutil.ToFloat64(failed) == 1 })
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NotifyPublished.WithLabelValues("kafka")))
	require.NoError(t, pub.Close())
}

func TestBalanceSubject(t *testing.T) {
	assert.Equal(t, "spot.ledger.balances.USDC", ingestion.BalanceSubject("usdc"))
}
