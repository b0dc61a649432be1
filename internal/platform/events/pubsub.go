package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"cloud.google.com/go/pubsub"

	domain "github.com/hanko-field/orders/internal/domain"
)

// PubSubSink publishes notification events to a Pub/Sub topic.
type PubSubSink struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubSink constructs a Pub/Sub backed notification sink.
func NewPubSubSink(topic *pubsub.Topic) (*PubSubSink, error) {
	if topic == nil {
		return nil, errors.New("pubsub sink: topic is required")
	}
	return &PubSubSink{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// Deliver publishes the event and waits for the server acknowledgement.
func (s *PubSubSink) Deliver(ctx context.Context, event domain.NotificationEvent) error {
	if s == nil || s.topic == nil {
		return errors.New("pubsub sink: not initialised")
	}

	msg, data, err := encode(s.marshal, event)
	if err != nil {
		return err
	}

	result := s.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: msg.Attributes(),
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish notification event: %w", err)
	}
	return nil
}

// Close flushes outstanding messages and stops the topic's background publishers.
func (s *PubSubSink) Close() error {
	if s != nil && s.topic != nil {
		s.topic.Stop()
	}
	return nil
}
