package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// messageWriter is the subset of *kafka.Writer used by KafkaPublisher.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events as JSON to a Kafka topic, keyed by request id
// so every event for one request lands on the same partition.
type KafkaPublisher struct {
	writer messageWriter
	logger *zap.Logger
}

// NewKafkaPublisher creates an asynchronous publisher for topic.
func NewKafkaPublisher(brokers []string, topic string, logger *zap.Logger) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
		Async:        true,
	}
	w.Completion = func(msgs []kafka.Message, err error) {
		if err != nil {
			logger.Warn("kafka: publish failed", zap.Int("messages", len(msgs)), zap.Error(err))
		}
	}
	return &KafkaPublisher{writer: w, logger: logger}
}

// Publish implements Publisher.
func (k *KafkaPublisher) Publish(ctx context.Context, eventType string, payload map[string]string) {
	body, err := json.Marshal(New(eventType, payload))
	if err != nil {
		k.logger.Error("kafka: marshal event", zap.Error(err))
		return
	}
	msg := kafka.Message{
		Key:   []byte(payload["request_id"]),
		Value: body,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(eventType)},
		},
	}
	if err := k.writer.WriteMessages(context.WithoutCancel(ctx), msg); err != nil {
		k.logger.Warn("kafka: enqueue event", zap.String("type", eventType), zap.Error(err))
	}
}

// Close flushes pending messages.
func (k *KafkaPublisher) Close() error {
	return k.writer.Close()
}
