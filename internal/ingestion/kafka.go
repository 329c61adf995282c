package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"SpotLedger/internal/event"
	"SpotLedger/internal/observability"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"
)

// DefaultKafkaTopic receives every balance change keyed by user id, so
// one user's changes stay ordered within a partition.
const DefaultKafkaTopic = "ledger.balance-changed"

// KafkaPublisher publishes committed balance changes to a Kafka topic.
type KafkaPublisher struct {
	outbox
	producer sarama.SyncProducer
	topic    string
}

func NewKafkaPublisher(producer sarama.SyncProducer, topic string, buffer int, metrics *observability.Metrics, log zerolog.Logger) *KafkaPublisher {
	if topic == "" {
		topic = DefaultKafkaTopic
	}
	return &KafkaPublisher{
		outbox:   newOutbox("kafka", buffer, metrics, log),
		producer: producer,
		topic:    topic,
	}
}

// NewKafkaProducer dials brokers with an idempotent, all-acks producer.
func NewKafkaProducer(brokers []string) (sarama.SyncProducer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers required")
	}

	cfg := sarama.NewConfig()
	cfg.ClientID = "spotledger"
	cfg.Version = sarama.V3_6_0_0
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.Idempotent = true
	cfg.Net.MaxOpenRequests = 1
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Retry.Backoff = 250 * time.Millisecond
	cfg.Producer.Partitioner = sarama.NewHashPartitioner

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return producer, nil
}

// Run starts the outbound publisher loop.
func (p *KafkaPublisher) Run(ctx context.Context) error {
	return p.run(ctx, p.publish)
}

func (p *KafkaPublisher) publish(_ context.Context, evt event.BalanceChanged) error {
	msg, err := kafkaMessage(p.topic, evt)
	if err != nil {
		return err
	}
	if _, _, err := p.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("kafka publish: %w", err)
	}
	return nil
}

func kafkaMessage(topic string, evt event.BalanceChanged) (*sarama.ProducerMessage, error) {
	payload, err := json.Marshal(evt)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	return &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(evt.PartitionKey()),
		Value: sarama.ByteEncoder(payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_type"), Value: []byte(evt.EventType().String())},
		},
	}, nil
}

// Close closes the underlying producer.
func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}
