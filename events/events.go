// Package events emits payment lifecycle events for external consumers
// (audit trails, billing, alerting). Emission is fire-and-forget: a broken
// event sink must never fail or slow a payment operation.
package events

import (
	"encoding/json"
	"time"

	"github.com/IBM/sarama"

	"github.com/t402-io/t402-go/logger"
)

// EventType classifies a payment lifecycle event.
type EventType string

const (
	EventAttempt EventType = "attempt"
	EventSuccess EventType = "success"
	EventFailure EventType = "failure"
)

// PaymentEvent is one verify/settle lifecycle event.
type PaymentEvent struct {
	Type      EventType `json:"type"`
	Operation string    `json:"operation"` // "verify" or "settle"
	Timestamp time.Time `json:"timestamp"`

	Network string `json:"network"`
	Scheme  string `json:"scheme"`
	Asset   string `json:"asset,omitempty"`
	Amount  string `json:"amount,omitempty"`

	Payer       string `json:"payer,omitempty"`
	Transaction string `json:"transaction,omitempty"`
	Reason      string `json:"reason,omitempty"`

	DurationMS int64                  `json:"durationMs,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// Publisher delivers payment events to an external sink.
type Publisher interface {
	Emit(event PaymentEvent)
	Close() error
}

// NoopPublisher discards all events. It is the default.
type NoopPublisher struct{}

func (NoopPublisher) Emit(PaymentEvent) {}
func (NoopPublisher) Close() error      { return nil }

// KafkaPublisher delivers events to a Kafka topic, keyed by network so
// per-network ordering is preserved.
type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
	log      logger.Logger
}

// NewKafkaPublisher connects a synchronous producer to the given brokers.
func NewKafkaPublisher(brokers []string, topic string, log logger.Logger) (*KafkaPublisher, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForLocal

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.NoopLogger{}
	}
	return &KafkaPublisher{producer: producer, topic: topic, log: log}, nil
}

// Emit publishes one event. Delivery failures are logged and dropped.
func (k *KafkaPublisher) Emit(event PaymentEvent) {
	b, err := json.Marshal(event)
	if err != nil {
		k.log.Warn("payment event not serializable", map[string]any{"error": err.Error()})
		return
	}

	msg := &sarama.ProducerMessage{
		Topic: k.topic,
		Key:   sarama.StringEncoder(event.Network),
		Value: sarama.ByteEncoder(b),
	}
	if _, _, err := k.producer.SendMessage(msg); err != nil {
		k.log.Warn("payment event publish failed", map[string]any{
			"topic": k.topic,
			"error": err.Error(),
		})
	}
}

// Close shuts the underlying producer down.
func (k *KafkaPublisher) Close() error {
	return k.producer.Close()
}
