package events

import (
	"context"
	"fmt"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/tastemind/tastemind/pkg/config"
	"github.com/tastemind/tastemind/pkg/logging"
)

// Event is one committed outbox row on its way out. ID is stable across
// redeliveries.
type Event struct {
	ID      string
	Key     string
	Type    string
	Payload []byte
}

// Publisher delivers one reward event to downstream consumers
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// KafkaPublisher writes events to a Kafka topic, keyed by account so
// per-account ordering is kept within a partition
type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
}

// NewKafkaPublisher connects a synchronous producer to the configured brokers
func NewKafkaPublisher(cfg *config.KafkaConfig) (*KafkaPublisher, error) {
	kafkaConfig := sarama.NewConfig()
	kafkaConfig.Producer.RequiredAcks = sarama.WaitForAll
	kafkaConfig.Producer.Retry.Max = 3
	kafkaConfig.Producer.Return.Successes = true

	producer, err := sarama.NewSyncProducer(cfg.Brokers, kafkaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}

	logging.GetLogger().Info("Kafka producer created", zap.Strings("brokers", cfg.Brokers))
	return NewKafkaPublisherWithProducer(producer, cfg.Topic), nil
}

// NewKafkaPublisherWithProducer wraps an existing producer
func NewKafkaPublisherWithProducer(producer sarama.SyncProducer, topic string) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topic: topic}
}

// Publish sends the event and waits for broker acknowledgement
func (p *KafkaPublisher) Publish(ctx context.Context, event Event) error {
	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(event.Key),
		Value: sarama.ByteEncoder(event.Payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_id"), Value: []byte(event.ID)},
			{Key: []byte("event_type"), Value: []byte(event.Type)},
		},
	}
	_, _, err := p.producer.SendMessage(msg)
	return err
}

// Close closes the producer
func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}

// LogPublisher logs events instead of shipping them. Used when Kafka is
// disabled so the outbox still drains.
type LogPublisher struct {
	logger *zap.Logger
}

// NewLogPublisher creates a logging publisher
func NewLogPublisher() *LogPublisher {
	return &LogPublisher{logger: logging.WithComponent("event-log")}
}

// Publish logs the event
func (p *LogPublisher) Publish(ctx context.Context, event Event) error {
	p.logger.Info("Reward event",
		zap.String("event_id", event.ID),
		zap.String("key", event.Key),
		zap.String("event_type", event.Type),
		zap.ByteString("payload", event.Payload))
	return nil
}

// Close is a no-op
func (p *LogPublisher) Close() error {
	return nil
}

// NewPublisher picks the Kafka publisher when enabled, the log publisher otherwise
func NewPublisher(cfg *config.KafkaConfig) (Publisher, error) {
	if !cfg.Enabled {
		return NewLogPublisher(), nil
	}
	return NewKafkaPublisher(cfg)
}
