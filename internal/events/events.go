package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"
)

type Type string

const (
	VisitorIdentified Type = "visitor.identified"
	SessionCreated    Type = "session.created"
	SessionReopened   Type = "session.reopened"
	SessionAssigned   Type = "session.assigned"
	SessionClosed     Type = "session.closed"
	SessionRated      Type = "session.rated"
	MessageCreated    Type = "message.created"
)

// Event is the analytics record emitted for chat activity.
type Event struct {
	Type       Type              `json:"type"`
	SessionID  string            `json:"sessionId,omitempty"`
	VisitorID  string            `json:"visitorId,omitempty"`
	OperatorID string            `json:"operatorId,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	OccurredAt time.Time         `json:"occurredAt"`
}

func (e Event) key() string {
	if e.SessionID != "" {
		return e.SessionID
	}
	return e.VisitorID
}

// Publisher delivers events on a best-effort basis. Implementations never
// fail the caller; delivery errors are logged.
type Publisher interface {
	Publish(ctx context.Context, event Event)
	Close() error
}

type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, Event) {}

func (NoopPublisher) Close() error { return nil }

type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
	logger   *slog.Logger
}

func NewSaramaConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.Version = sarama.V2_8_0_0
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 3
	config.Producer.Return.Successes = true
	config.Producer.Partitioner = sarama.NewHashPartitioner
	return config
}

func NewKafkaPublisher(brokers []string, topic string, logger *slog.Logger) (*KafkaPublisher, error) {
	producer, err := sarama.NewSyncProducer(brokers, NewSaramaConfig())
	if err != nil {
		return nil, fmt.Errorf("events: kafka producer: %w", err)
	}
	return NewKafkaPublisherWithProducer(producer, topic, logger), nil
}

func NewKafkaPublisherWithProducer(producer sarama.SyncProducer, topic string, logger *slog.Logger) *KafkaPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaPublisher{
		producer: producer,
		topic:    topic,
		logger:   logger,
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, event Event) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("events: marshal", "type", event.Type, "error", err)
		return
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(event.key()),
		Value: sarama.ByteEncoder(payload),
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		p.logger.Warn("events: publish failed", "type", event.Type, "sessionId", event.SessionID, "error", err)
		return
	}
	p.logger.Debug("events: published", "type", event.Type, "partition", partition, "offset", offset)
}

func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}
