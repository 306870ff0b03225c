package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"
)

// KafkaNotifier publishes every event to a single Kafka topic keyed by the
// bill id so that all events of one bill stay ordered within a partition.
type KafkaNotifier struct {
	Producer sarama.SyncProducer
	Topic    string
}

// NewKafkaProducer builds a synchronous producer that waits for all in-sync
// replicas.
func NewKafkaProducer(brokers []string, clientID string) (sarama.SyncProducer, error) {
	if len(brokers) == 0 {
		return nil, errors.New("events: kafka brokers not configured")
	}
	cfg := sarama.NewConfig()
	if clientID != "" {
		cfg.ClientID = clientID
	}
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Idempotent = true
	cfg.Net.MaxOpenRequests = 1
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Compression = sarama.CompressionSnappy
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("events: create kafka producer: %w", err)
	}
	return producer, nil
}

// Notify implements Notifier.
func (k KafkaNotifier) Notify(_ context.Context, ev Event) error {
	if k.Producer == nil {
		return errors.New("events: kafka producer not configured")
	}
	topic := strings.TrimSpace(k.Topic)
	if topic == "" {
		topic = "billing.events"
	}
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("events: encode kafka message: %w", err)
	}
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(ev.AggregateID),
		Value: sarama.ByteEncoder(value),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_topic"), Value: []byte(ev.Topic)},
			{Key: []byte("event_id"), Value: []byte(ev.ID.String())},
		},
	}
	if _, _, err := k.Producer.SendMessage(msg); err != nil {
		return fmt.Errorf("events: publish %s: %w", ev.Topic, err)
	}
	return nil
}

// LogNotifier writes one structured line per event.
type LogNotifier struct {
	Logger zerolog.Logger
}

// Notify implements Notifier.
func (l LogNotifier) Notify(ctx context.Context, ev Event) error {
	logger := l.Logger
	if ctxLogger := zerolog.Ctx(ctx); ctxLogger.GetLevel() != zerolog.Disabled {
		logger = *ctxLogger
	}
	logger.Info().
		Str("event_id", ev.ID.String()).
		Str("topic", ev.Topic).
		Str("bill_id", ev.AggregateID).
		RawJSON("payload", ev.Payload).
		Msg("billing event")
	return nil
}
