package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	domain "github.com/hanko-field/orders/internal/domain"
)

const (
	orderIDPrefix        = "ord_"
	cancellationIDPrefix = "creq_"
)

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

type noopDispatcher struct{}

func (noopDispatcher) Emit(context.Context, NotificationEvent) {}

func (noopDispatcher) Close(context.Context) error { return nil }

func noopLogger(context.Context, string, map[string]any) {}

func defaultIDGenerator() string {
	return ulid.Make().String()
}

func defaultEventID() string {
	return uuid.NewString()
}

func utcClock(clock func() time.Time) func() time.Time {
	if clock == nil {
		clock = time.Now
	}
	return func() time.Time {
		return clock().UTC()
	}
}

func newNotification(id string, kind domain.NotificationType, userID, title, message string, payload map[string]any, at time.Time) NotificationEvent {
	return NotificationEvent{
		ID:         id,
		UserID:     userID,
		Type:       kind,
		Title:      title,
		Message:    message,
		Payload:    payload,
		OccurredAt: at,
	}
}

func valuePtr[T any](v T) *T {
	return &v
}
