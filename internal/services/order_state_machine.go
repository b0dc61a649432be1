package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/repositories"
)

const (
	eventTransitionApplied  = "orders.transition.applied"
	eventTransitionRejected = "orders.transition.rejected"
	eventUnknownStatus      = "orders.status.unknown"

	// maxWriteAttempts bounds re-planning after a conditional write loses to a concurrent
	// update that left both statuses unchanged.
	maxWriteAttempts = 3
)

// TransitionMetrics records applied transitions.
type TransitionMetrics interface {
	ObserveTransition(from, to string)
}

// OrderStateMachineDeps bundles collaborators required to construct the state machine.
type OrderStateMachineDeps struct {
	Orders     repositories.OrderRepository
	Dispatcher NotificationDispatcher
	Metrics    TransitionMetrics
	Clock      func() time.Time
	EventID    func() string
	Logger     func(ctx context.Context, event string, fields map[string]any)
}

type orderStateMachine struct {
	orders     repositories.OrderRepository
	dispatcher NotificationDispatcher
	metrics    TransitionMetrics
	clock      func() time.Time
	eventID    func() string
	logger     func(context.Context, string, map[string]any)
}

var _ OrderStateMachine = (*orderStateMachine)(nil)

// NewOrderStateMachine wires dependencies into the order state machine.
func NewOrderStateMachine(deps OrderStateMachineDeps) (OrderStateMachine, error) {
	if deps.Orders == nil {
		return nil, errors.New("order state machine: order repository is required")
	}
	dispatcher := deps.Dispatcher
	if dispatcher == nil {
		dispatcher = noopDispatcher{}
	}
	eventID := deps.EventID
	if eventID == nil {
		eventID = defaultEventID
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	return &orderStateMachine{
		orders:     deps.Orders,
		dispatcher: dispatcher,
		metrics:    deps.Metrics,
		clock:      utcClock(deps.Clock),
		eventID:    eventID,
		logger:     logger,
	}, nil
}

// CanTransition reports whether from→to is an edge of the order graph.
func (m *orderStateMachine) CanTransition(from, to OrderStatus) bool {
	return canTransition(from, to)
}

func canTransition(from, to OrderStatus) bool {
	switch from {
	case domain.OrderStatusPending:
		return to == domain.OrderStatusProcessing || to == domain.OrderStatusCancelled
	case domain.OrderStatusProcessing:
		return to == domain.OrderStatusShipped || to == domain.OrderStatusCancelled
	case domain.OrderStatusShipped:
		return to == domain.OrderStatusDelivered
	case domain.OrderStatusDelivered, domain.OrderStatusCancelled:
		return false
	default:
		return false
	}
}

func (m *orderStateMachine) Get(ctx context.Context, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := m.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, mapRepositoryError(err, ErrOrderNotFound, ErrRepositoryUnavailable)
	}
	m.warnUnknownStatus(ctx, order)
	return order, nil
}

func (m *orderStateMachine) Transition(ctx context.Context, cmd TransitionCommand) (Order, error) {
	result, err := m.Apply(ctx, cmd)
	if err != nil {
		return Order{}, err
	}
	m.Notify(ctx, result)
	return result.Order, nil
}

func (m *orderStateMachine) Apply(ctx context.Context, cmd TransitionCommand) (TransitionResult, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return TransitionResult{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	target, ok := domain.ParseOrderStatus(string(cmd.Target))
	if !ok {
		return TransitionResult{}, fmt.Errorf("%w: unknown target status %q", ErrOrderInvalidInput, cmd.Target)
	}

	var (
		current Order
		saved   Order
		now     time.Time
		actor   = strings.TrimSpace(cmd.ActorID)
	)
	for attempt := 1; ; attempt++ {
		var err error
		current, err = m.orders.FindByID(ctx, orderID)
		if err != nil {
			return TransitionResult{}, mapRepositoryError(err, ErrOrderNotFound, ErrRepositoryUnavailable)
		}
		m.warnUnknownStatus(ctx, current)

		if cmd.ExpectedStatus != nil && current.Status != *cmd.ExpectedStatus {
			return TransitionResult{}, fmt.Errorf("%w: expected status %q but was %q", ErrOrderConflict, *cmd.ExpectedStatus, current.Status)
		}

		now = m.clock()
		next, err := m.plan(current, target, cmd.Tracking, now)
		if err != nil {
			m.logger(ctx, eventTransitionRejected, map[string]any{
				"orderId": current.ID,
				"from":    string(current.Status),
				"to":      string(target),
				"error":   err,
			})
			return TransitionResult{}, err
		}

		saved, err = m.orders.CompareAndSwap(ctx, next, repositories.PreconditionOf(current))
		if err == nil {
			break
		}
		if !isConflict(err) || attempt >= maxWriteAttempts || !m.unchangedState(ctx, current) {
			return TransitionResult{}, mapRepositoryError(err, ErrOrderNotFound, ErrRepositoryUnavailable)
		}
	}

	if m.metrics != nil {
		m.metrics.ObserveTransition(string(current.Status), string(saved.Status))
	}
	m.logger(ctx, eventTransitionApplied, map[string]any{
		"orderId": saved.ID,
		"from":    string(current.Status),
		"to":      string(saved.Status),
		"actorId": actor,
		"version": saved.Version,
	})

	return TransitionResult{Order: saved, Previous: current.Status, ActorID: actor, At: now}, nil
}

// unchangedState reports whether the stored order still carries the statuses read, so a lost
// write raced only with an update to other fields and can be planned again.
func (m *orderStateMachine) unchangedState(ctx context.Context, read Order) bool {
	latest, err := m.orders.FindByID(ctx, read.ID)
	return err == nil && sameState(latest, read)
}

func sameState(a, b Order) bool {
	return a.Status == b.Status && a.Payment.Status == b.Payment.Status
}

// plan validates the transition against the graph and guard rules and returns the order
// as it should be written.
func (m *orderStateMachine) plan(order Order, target OrderStatus, tracking *Tracking, now time.Time) (Order, error) {
	from := order.Status
	if _, known := domain.ParseOrderStatus(string(from)); !known {
		return Order{}, fmt.Errorf("%w: order %s has unknown status %q", ErrInvalidTransition, order.ID, from)
	}
	if !canTransition(from, target) {
		return Order{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, target)
	}
	if tracking != nil && target != domain.OrderStatusShipped {
		return Order{}, fmt.Errorf("%w: tracking is only accepted when shipping", ErrOrderInvalidInput)
	}

	next := order
	next.UpdatedAt = now
	next.Status = target

	switch target {
	case domain.OrderStatusProcessing:
		if order.Payment.Method == domain.PaymentMethodGateway && order.Payment.Status != domain.PaymentStatusPaid {
			return Order{}, fmt.Errorf("%w: gateway order enters processing only through payment confirmation", ErrInvalidTransition)
		}
	case domain.OrderStatusShipped:
		normalized, err := normalizeTracking(tracking)
		if err != nil {
			return Order{}, err
		}
		if order.Payment.Method == domain.PaymentMethodGateway && order.Payment.Status != domain.PaymentStatusPaid {
			return Order{}, fmt.Errorf("%w: gateway order cannot ship before payment", ErrInvalidTransition)
		}
		if order.Payment.Method == domain.PaymentMethodPayOnDelivery && order.Payment.Status != domain.PaymentStatusPaid {
			if order.Payment.Status != domain.PaymentStatusPending {
				return Order{}, fmt.Errorf("%w: payment status %q cannot settle on shipment", ErrInvalidTransition, order.Payment.Status)
			}
			// Pay-on-delivery settles in the same write that ships the order.
			next.Payment.Status = domain.PaymentStatusPaid
			next.Payment.ConfirmedVia = domain.ConfirmedViaAdmin
			next.Payment.PaidAt = valuePtr(now)
		}
		next.Tracking = normalized
		next.ShippedAt = valuePtr(now)
	case domain.OrderStatusDelivered:
		next.DeliveredAt = valuePtr(now)
	case domain.OrderStatusCancelled:
		next.CancelledAt = valuePtr(now)
		if order.Payment.Status == domain.PaymentStatusPending {
			next.Payment.Status = domain.PaymentStatusCancelled
		}
	}
	return next, nil
}

func (m *orderStateMachine) Notify(ctx context.Context, result TransitionResult) {
	order := result.Order
	payload := map[string]any{
		"orderId":        order.ID,
		"previousStatus": string(result.Previous),
		"status":         string(order.Status),
		"paymentStatus":  string(order.Payment.Status),
	}
	if result.ActorID != "" {
		payload["actorId"] = result.ActorID
	}
	if order.Status == domain.OrderStatusShipped && order.Tracking != nil {
		payload["carrier"] = order.Tracking.Carrier
		payload["trackingId"] = order.Tracking.TrackingID
		if order.Tracking.URL != "" {
			payload["trackingUrl"] = order.Tracking.URL
		}
	}
	title, message := statusCopy(order.Status)
	at := result.At
	if at.IsZero() {
		at = m.clock()
	}
	m.dispatcher.Emit(ctx, newNotification(m.eventID(), domain.NotificationOrderStatusChanged, order.UserID, title, message, payload, at))
}

func (m *orderStateMachine) warnUnknownStatus(ctx context.Context, order Order) {
	if _, ok := domain.ParseOrderStatus(string(order.Status)); ok {
		return
	}
	m.logger(ctx, eventUnknownStatus, map[string]any{
		"orderId": order.ID,
		"status":  string(order.Status),
	})
}

func normalizeTracking(tracking *Tracking) (*Tracking, error) {
	if tracking == nil {
		return nil, fmt.Errorf("%w: tracking details are required to ship", ErrOrderInvalidInput)
	}
	normalized := Tracking{
		Carrier:    strings.TrimSpace(tracking.Carrier),
		TrackingID: strings.TrimSpace(tracking.TrackingID),
		URL:        strings.TrimSpace(tracking.URL),
	}
	if normalized.Carrier == "" || normalized.TrackingID == "" {
		return nil, fmt.Errorf("%w: carrier and tracking id are required", ErrOrderInvalidInput)
	}
	return &normalized, nil
}

func statusCopy(status OrderStatus) (string, string) {
	switch status {
	case domain.OrderStatusProcessing:
		return "Order confirmed", "Your order is being prepared."
	case domain.OrderStatusShipped:
		return "Order shipped", "Your order is on its way."
	case domain.OrderStatusDelivered:
		return "Order delivered", "Your order has been delivered."
	case domain.OrderStatusCancelled:
		return "Order cancelled", "Your order has been cancelled."
	default:
		return "Order updated", fmt.Sprintf("Your order is now %s.", status)
	}
}
