package events

import (
	"fmt"
	"strings"
	"time"

	domain "github.com/hanko-field/orders/internal/domain"
)

// Message is the wire representation of a notification event shared by every sink.
type Message struct {
	ID         string         `json:"id"`
	UserID     string         `json:"userId"`
	Type       string         `json:"type"`
	Title      string         `json:"title,omitempty"`
	Message    string         `json:"message,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
	OccurredAt time.Time      `json:"occurredAt"`
}

// NewMessage converts a domain event into its wire form.
func NewMessage(event domain.NotificationEvent) Message {
	return Message{
		ID:         strings.TrimSpace(event.ID),
		UserID:     strings.TrimSpace(event.UserID),
		Type:       string(event.Type),
		Title:      event.Title,
		Message:    event.Message,
		Payload:    event.Payload,
		OccurredAt: event.OccurredAt.UTC(),
	}
}

// Attributes returns the routing attributes attached to transport envelopes.
func (m Message) Attributes() map[string]string {
	attrs := make(map[string]string, 3)
	setAttr(attrs, "eventId", m.ID)
	setAttr(attrs, "userId", m.UserID)
	setAttr(attrs, "type", m.Type)
	return attrs
}

func encode(marshal func(any) ([]byte, error), event domain.NotificationEvent) (Message, []byte, error) {
	msg := NewMessage(event)
	if msg.Type == "" {
		return Message{}, nil, fmt.Errorf("notification event %q: type is required", msg.ID)
	}
	data, err := marshal(msg)
	if err != nil {
		return Message{}, nil, fmt.Errorf("marshal notification event: %w", err)
	}
	return msg, data, nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
