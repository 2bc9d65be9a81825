package jobs

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/segmentio/kafka-go"

	"github.com/suprole/replenishment/internal/services"
)

type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaOrderEventPublisher writes order events to a Kafka topic, keyed by the first order id so
// events of one order stay on one partition.
type KafkaOrderEventPublisher struct {
	writer kafkaWriter
}

// NewKafkaWriter builds a synchronous writer for topic.
func NewKafkaWriter(brokers []string, topic string) (*kafka.Writer, error) {
	if len(brokers) == 0 || strings.TrimSpace(topic) == "" {
		return nil, errors.New("kafka order event publisher: brokers and topic are required")
	}
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}, nil
}

// NewKafkaOrderEventPublisher wraps writer.
func NewKafkaOrderEventPublisher(writer kafkaWriter) (*KafkaOrderEventPublisher, error) {
	if writer == nil {
		return nil, errors.New("kafka order event publisher: writer is required")
	}
	return &KafkaOrderEventPublisher{writer: writer}, nil
}

// PublishOrderEvent implements services.OrderEventPublisher.
func (p *KafkaOrderEventPublisher) PublishOrderEvent(ctx context.Context, event services.OrderEvent) error {
	body, meta, err := encodeEvent(event)
	if err != nil {
		return err
	}
	msg := kafka.Message{
		Key:     []byte(partitionKey(event)),
		Value:   body,
		Headers: make([]kafka.Header, 0, len(meta)),
	}
	for _, key := range slices.Sorted(maps.Keys(meta)) {
		msg.Headers = append(msg.Headers, kafka.Header{Key: key, Value: []byte(meta[key])})
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish order event: %w", err)
	}
	return nil
}

// Close flushes and closes the writer.
func (p *KafkaOrderEventPublisher) Close() error {
	return p.writer.Close()
}
