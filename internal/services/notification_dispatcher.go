package services

import (
	"context"
	"errors"
	"sync"
	"time"
)

const (
	defaultNotificationQueueSize = 256
	defaultNotificationWorkers   = 4
	defaultDeliveryTimeout       = 5 * time.Second
)

// NotificationMetrics records dispatcher outcomes.
type NotificationMetrics interface {
	NotificationDropped()
	NotificationDelivered(ok bool)
}

// NotificationDispatcherDeps configures the asynchronous dispatcher.
type NotificationDispatcherDeps struct {
	Sink            NotificationSink
	QueueSize       int
	Workers         int
	DeliveryTimeout time.Duration
	Metrics         NotificationMetrics
	Logger          func(ctx context.Context, event string, fields map[string]any)
}

type queuedNotification struct {
	ctx   context.Context
	event NotificationEvent
}

type notificationDispatcher struct {
	sink    NotificationSink
	timeout time.Duration
	metrics NotificationMetrics
	logger  func(context.Context, string, map[string]any)

	mu     sync.RWMutex
	closed bool
	queue  chan queuedNotification
	wg     sync.WaitGroup
}

var _ NotificationDispatcher = (*notificationDispatcher)(nil)

// NewNotificationDispatcher starts the worker pool serving the sink.
func NewNotificationDispatcher(deps NotificationDispatcherDeps) (NotificationDispatcher, error) {
	if deps.Sink == nil {
		return nil, errors.New("notification dispatcher: sink is required")
	}
	size := deps.QueueSize
	if size <= 0 {
		size = defaultNotificationQueueSize
	}
	workers := deps.Workers
	if workers <= 0 {
		workers = defaultNotificationWorkers
	}
	timeout := deps.DeliveryTimeout
	if timeout <= 0 {
		timeout = defaultDeliveryTimeout
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}

	d := &notificationDispatcher{
		sink:    deps.Sink,
		timeout: timeout,
		metrics: deps.Metrics,
		logger:  logger,
		queue:   make(chan queuedNotification, size),
	}
	d.wg.Add(workers)
	for range workers {
		go d.work()
	}
	return d, nil
}

// Emit enqueues the event or drops it when the queue is full or the dispatcher is closed.
func (d *notificationDispatcher) Emit(ctx context.Context, event NotificationEvent) {
	if ctx == nil {
		ctx = context.Background()
	}
	item := queuedNotification{ctx: context.WithoutCancel(ctx), event: event}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.drop(ctx, event, "closed")
		return
	}
	select {
	case d.queue <- item:
	default:
		d.drop(ctx, event, "queue_full")
	}
}

func (d *notificationDispatcher) drop(ctx context.Context, event NotificationEvent, reason string) {
	if d.metrics != nil {
		d.metrics.NotificationDropped()
	}
	d.logger(ctx, "notifications.dropped", map[string]any{
		"eventId": event.ID,
		"type":    string(event.Type),
		"reason":  reason,
	})
}

func (d *notificationDispatcher) work() {
	defer d.wg.Done()
	for item := range d.queue {
		d.deliver(item)
	}
}

func (d *notificationDispatcher) deliver(item queuedNotification) {
	ctx, cancel := context.WithTimeout(item.ctx, d.timeout)
	defer cancel()

	err := d.sink.Deliver(ctx, item.event)
	if d.metrics != nil {
		d.metrics.NotificationDelivered(err == nil)
	}
	if err != nil {
		d.logger(item.ctx, "notifications.delivery.failed", map[string]any{
			"eventId": item.event.ID,
			"type":    string(item.event.Type),
			"userId":  item.event.UserID,
			"error":   err,
		})
	}
}

// Close stops intake and waits for queued events to drain or ctx to expire.
func (d *notificationDispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
