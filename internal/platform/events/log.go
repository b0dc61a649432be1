package events

import (
	"context"

	"go.uber.org/zap"

	domain "github.com/hanko-field/orders/internal/domain"
)

// LogSink writes notification events to the structured log. Used for local development
// and deployments without a message bus.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink returns a sink writing to logger; a nil logger discards events.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Deliver(_ context.Context, event domain.NotificationEvent) error {
	msg := NewMessage(event)
	s.logger.Info("notification",
		zap.String("event_id", msg.ID),
		zap.String("user_id", msg.UserID),
		zap.String("type", msg.Type),
		zap.String("title", msg.Title),
		zap.Any("payload", msg.Payload),
		zap.Time("occurred_at", msg.OccurredAt),
	)
	return nil
}
