package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	domain "github.com/hanko-field/orders/internal/domain"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink writes notification events to a Kafka topic keyed by user id, so events for
// one customer land on a single partition in order.
type KafkaSink struct {
	writer  messageWriter
	marshal func(any) ([]byte, error)
}

// NewKafkaWriter builds a synchronous writer for the notification topic.
func NewKafkaWriter(brokers []string, topic string) (*kafka.Writer, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka sink: at least one broker is required")
	}
	if topic == "" {
		return nil, errors.New("kafka sink: topic is required")
	}
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 10 * time.Millisecond,
	}, nil
}

// NewKafkaSink wraps a configured writer.
func NewKafkaSink(writer *kafka.Writer) (*KafkaSink, error) {
	if writer == nil {
		return nil, errors.New("kafka sink: writer is required")
	}
	return newKafkaSink(writer), nil
}

func newKafkaSink(writer messageWriter) *KafkaSink {
	return &KafkaSink{writer: writer, marshal: json.Marshal}
}

// Deliver writes one message carrying the event attributes as headers.
func (s *KafkaSink) Deliver(ctx context.Context, event domain.NotificationEvent) error {
	if s == nil || s.writer == nil {
		return errors.New("kafka sink: not initialised")
	}

	msg, data, err := encode(s.marshal, event)
	if err != nil {
		return err
	}

	attrs := msg.Attributes()
	headers := make([]kafka.Header, 0, len(attrs))
	for _, key := range []string{"eventId", "userId", "type"} {
		if value, ok := attrs[key]; ok {
			headers = append(headers, kafka.Header{Key: key, Value: []byte(value)})
		}
	}

	key := msg.UserID
	if key == "" {
		key = msg.ID
	}
	if err := s.writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(key),
		Value:   data,
		Headers: headers,
		Time:    msg.OccurredAt,
	}); err != nil {
		return fmt.Errorf("write notification event: %w", err)
	}
	return nil
}

// Close closes the underlying writer.
func (s *KafkaSink) Close() error {
	if s == nil || s.writer == nil {
		return nil
	}
	return s.writer.Close()
}
