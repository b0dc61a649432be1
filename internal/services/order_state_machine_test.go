package services

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	domain "github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/repositories"
)

var allStatuses = []domain.OrderStatus{
	domain.OrderStatusPending,
	domain.OrderStatusProcessing,
	domain.OrderStatusShipped,
	domain.OrderStatusDelivered,
	domain.OrderStatusCancelled,
}

func TestCanTransitionGraph(t *testing.T) {
	allowed := map[[2]domain.OrderStatus]bool{
		{domain.OrderStatusPending, domain.OrderStatusProcessing}:    true,
		{domain.OrderStatusPending, domain.OrderStatusCancelled}:     true,
		{domain.OrderStatusProcessing, domain.OrderStatusShipped}:    true,
		{domain.OrderStatusProcessing, domain.OrderStatusCancelled}:  true,
		{domain.OrderStatusShipped, domain.OrderStatusDelivered}:     true,
	}
	machine := newTestStateMachine(t, seedStore(t).Orders(), nil)
	for _, from := range allStatuses {
		for _, to := range allStatuses {
			if got := machine.CanTransition(from, to); got != allowed[[2]domain.OrderStatus{from, to}] {
				t.Fatalf("CanTransition(%s, %s) = %v", from, to, got)
			}
		}
	}
	if machine.CanTransition("archived", domain.OrderStatusCancelled) {
		t.Fatalf("unknown status must have no outgoing edges")
	}
}

func TestTransitionCODSettlesOnShipment(t *testing.T) {
	ctx := context.Background()
	store := seedStore(t, codOrder("ord_cod"))
	dispatcher := &recordingDispatcher{}
	machine := newTestStateMachine(t, store.Orders(), dispatcher)

	if _, err := machine.Transition(ctx, TransitionCommand{OrderID: "ord_cod", Target: domain.OrderStatusProcessing, ActorID: "staff-1"}); err != nil {
		t.Fatalf("processing: %v", err)
	}
	if got := mustOrder(t, store.Orders(), "ord_cod"); got.Payment.Status != domain.PaymentStatusPending {
		t.Fatalf("COD payment must stay pending while processing, got %s", got.Payment.Status)
	}

	shipped, err := machine.Transition(ctx, TransitionCommand{
		OrderID:  "ord_cod",
		Target:   domain.OrderStatusShipped,
		Tracking: &Tracking{Carrier: " yamato ", TrackingID: "1234"},
	})
	if err != nil {
		t.Fatalf("shipped: %v", err)
	}
	if shipped.Tracking == nil || shipped.Tracking.Carrier != "yamato" || shipped.ShippedAt == nil {
		t.Fatalf("expected normalised tracking and shippedAt, got %+v", shipped)
	}
	if shipped.Payment.Status != domain.PaymentStatusPaid || shipped.Payment.ConfirmedVia != domain.ConfirmedViaAdmin || shipped.Payment.PaidAt == nil {
		t.Fatalf("expected COD payment settled by admin on shipment, got %+v", shipped.Payment)
	}
	if stored := mustOrder(t, store.Orders(), "ord_cod"); stored.Version != 3 || stored.Payment.Status != domain.PaymentStatusPaid {
		t.Fatalf("expected ship and settlement in one write, got version %d payment %s", stored.Version, stored.Payment.Status)
	}

	delivered, err := machine.Transition(ctx, TransitionCommand{OrderID: "ord_cod", Target: domain.OrderStatusDelivered})
	if err != nil {
		t.Fatalf("delivered: %v", err)
	}
	if delivered.Payment.Status != domain.PaymentStatusPaid || !delivered.Payment.PaidAt.Equal(*shipped.Payment.PaidAt) {
		t.Fatalf("delivery must keep the shipment settlement, got %+v", delivered.Payment)
	}
	if delivered.DeliveredAt == nil {
		t.Fatalf("expected deliveredAt to be set")
	}
	if got := len(dispatcher.ofType(domain.NotificationOrderStatusChanged)); got != 3 {
		t.Fatalf("expected 3 status notifications, got %d", got)
	}
}

func TestTransitionCODShipRejectsCancelledPayment(t *testing.T) {
	failed := codOrder("ord_cod_failed")
	failed.Status = domain.OrderStatusProcessing
	failed.Payment.Status = domain.PaymentStatusCancelled
	store := seedStore(t, failed)
	machine := newTestStateMachine(t, store.Orders(), nil)

	_, err := machine.Transition(context.Background(), TransitionCommand{
		OrderID:  "ord_cod_failed",
		Target:   domain.OrderStatusShipped,
		Tracking: &Tracking{Carrier: "jp", TrackingID: "1"},
	})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if got := mustOrder(t, store.Orders(), "ord_cod_failed"); got.Status != domain.OrderStatusProcessing {
		t.Fatalf("order must stay processing, got %s", got.Status)
	}
}

func TestTransitionGatewayProcessingRequiresPayment(t *testing.T) {
	store := seedStore(t, gatewayOrder("ord_gw"))
	machine := newTestStateMachine(t, store.Orders(), nil)

	_, err := machine.Transition(context.Background(), TransitionCommand{OrderID: "ord_gw", Target: domain.OrderStatusProcessing})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if got := mustOrder(t, store.Orders(), "ord_gw"); got.Status != domain.OrderStatusPending {
		t.Fatalf("order must stay pending, got %s", got.Status)
	}
}

func TestTransitionShipGuards(t *testing.T) {
	unpaid := gatewayOrder("ord_unpaid")
	unpaid.Status = domain.OrderStatusProcessing
	paid := gatewayOrder("ord_paid")
	paid.Status = domain.OrderStatusProcessing
	paid.Payment.Status = domain.PaymentStatusPaid
	store := seedStore(t, unpaid, paid)
	machine := newTestStateMachine(t, store.Orders(), nil)
	ctx := context.Background()
	tracking := &Tracking{Carrier: "sagawa", TrackingID: "99"}

	cases := []struct {
		name string
		cmd  TransitionCommand
		want error
	}{
		{"missing tracking", TransitionCommand{OrderID: "ord_paid", Target: domain.OrderStatusShipped}, ErrOrderInvalidInput},
		{"blank carrier", TransitionCommand{OrderID: "ord_paid", Target: domain.OrderStatusShipped, Tracking: &Tracking{TrackingID: "1"}}, ErrOrderInvalidInput},
		{"unpaid gateway", TransitionCommand{OrderID: "ord_unpaid", Target: domain.OrderStatusShipped, Tracking: tracking}, ErrInvalidTransition},
		{"tracking on cancel", TransitionCommand{OrderID: "ord_paid", Target: domain.OrderStatusCancelled, Tracking: tracking}, ErrOrderInvalidInput},
		{"unknown target", TransitionCommand{OrderID: "ord_paid", Target: "returned"}, ErrOrderInvalidInput},
		{"missing order", TransitionCommand{OrderID: "ord_missing", Target: domain.OrderStatusCancelled}, ErrOrderNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := machine.Transition(ctx, tc.cmd); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}

	if _, err := machine.Transition(ctx, TransitionCommand{OrderID: "ord_paid", Target: domain.OrderStatusShipped, Tracking: tracking}); err != nil {
		t.Fatalf("paid gateway order should ship: %v", err)
	}
}

func TestTransitionCancelRejectedAfterShipment(t *testing.T) {
	for _, status := range []domain.OrderStatus{domain.OrderStatusShipped, domain.OrderStatusDelivered, domain.OrderStatusCancelled} {
		order := gatewayOrder("ord_" + string(status))
		order.Status = status
		order.Payment.Status = domain.PaymentStatusPaid
		store := seedStore(t, order)
		machine := newTestStateMachine(t, store.Orders(), nil)
		if _, err := machine.Transition(context.Background(), TransitionCommand{OrderID: order.ID, Target: domain.OrderStatusCancelled}); !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("cancel from %s: expected ErrInvalidTransition, got %v", status, err)
		}
	}
}

func TestTransitionCancelMarksPendingPaymentCancelled(t *testing.T) {
	store := seedStore(t, gatewayOrder("ord_c"))
	machine := newTestStateMachine(t, store.Orders(), nil)

	order, err := machine.Transition(context.Background(), TransitionCommand{OrderID: "ord_c", Target: domain.OrderStatusCancelled})
	if err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if order.Status != domain.OrderStatusCancelled || order.Payment.Status != domain.PaymentStatusCancelled {
		t.Fatalf("unexpected state %s/%s", order.Status, order.Payment.Status)
	}
	if order.CancelledAt == nil || !order.CancelledAt.Equal(fixedNow) {
		t.Fatalf("expected cancelledAt %s, got %v", fixedNow, order.CancelledAt)
	}
	if order.Version != 2 {
		t.Fatalf("expected version 2, got %d", order.Version)
	}
}

func TestTransitionExpectedStatusMismatch(t *testing.T) {
	store := seedStore(t, codOrder("ord_e"))
	machine := newTestStateMachine(t, store.Orders(), nil)
	expected := domain.OrderStatusProcessing

	_, err := machine.Transition(context.Background(), TransitionCommand{
		OrderID:        "ord_e",
		Target:         domain.OrderStatusCancelled,
		ExpectedStatus: &expected,
	})
	if !errors.Is(err, ErrOrderConflict) {
		t.Fatalf("expected ErrOrderConflict, got %v", err)
	}
}

func TestTransitionLostRaceReturnsConflict(t *testing.T) {
	store := seedStore(t, codOrder("ord_r"))
	orders := stubOrders{
		OrderRepository: store.Orders(),
		casFn: func(context.Context, domain.Order, repositories.OrderPrecondition) (domain.Order, error) {
			return domain.Order{}, repositories.NewStoreError("cas", repositories.ErrorKindConflict, nil)
		},
	}
	machine := newTestStateMachine(t, orders, nil)

	_, err := machine.Transition(context.Background(), TransitionCommand{OrderID: "ord_r", Target: domain.OrderStatusProcessing})
	if !errors.Is(err, ErrOrderConflict) {
		t.Fatalf("expected ErrOrderConflict, got %v", err)
	}
}

func TestTransitionUnknownStoredStatus(t *testing.T) {
	order := codOrder("ord_u")
	order.Status = "on_hold"
	store := seedStore(t, order)
	var warned atomic.Int32
	machine, err := NewOrderStateMachine(OrderStateMachineDeps{
		Orders: store.Orders(),
		Logger: func(_ context.Context, event string, _ map[string]any) {
			if event == eventUnknownStatus {
				warned.Add(1)
			}
		},
	})
	if err != nil {
		t.Fatalf("NewOrderStateMachine: %v", err)
	}

	got, err := machine.Get(context.Background(), "ord_u")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != "on_hold" {
		t.Fatalf("unknown status must be returned verbatim, got %s", got.Status)
	}
	if _, err := machine.Transition(context.Background(), TransitionCommand{OrderID: "ord_u", Target: domain.OrderStatusCancelled}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if warned.Load() == 0 {
		t.Fatalf("expected unknown status to be logged")
	}
}

func TestTransitionSucceedsWhenNotificationDeliveryFails(t *testing.T) {
	sink := &stubSink{fn: func(context.Context, NotificationEvent) error { return errors.New("topic gone") }}
	dispatcher, err := NewNotificationDispatcher(NotificationDispatcherDeps{Sink: sink, Workers: 1})
	if err != nil {
		t.Fatalf("NewNotificationDispatcher: %v", err)
	}
	store := seedStore(t, codOrder("ord_n"))
	machine := newTestStateMachine(t, store.Orders(), dispatcher)

	order, err := machine.Transition(context.Background(), TransitionCommand{OrderID: "ord_n", Target: domain.OrderStatusProcessing})
	if err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if order.Status != domain.OrderStatusProcessing {
		t.Fatalf("expected processing, got %s", order.Status)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := dispatcher.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if sink.calls.Load() != 1 {
		t.Fatalf("expected one delivery attempt, got %d", sink.calls.Load())
	}
}

// Every sequence of admin requests on an unpaid gateway order leaves it unshipped.
func TestOrderNeverShipsUnpaid(t *testing.T) {
	ctx := context.Background()
	store := seedStore(t, gatewayOrder("ord_walk"), codOrder("ord_walk_cod"))
	machine := newTestStateMachine(t, store.Orders(), nil)
	tracking := &Tracking{Carrier: "jp", TrackingID: "1"}

	for _, id := range []string{"ord_walk", "ord_walk_cod"} {
		for round := 0; round < 3; round++ {
			for _, target := range allStatuses {
				cmd := TransitionCommand{OrderID: id, Target: target}
				if target == domain.OrderStatusShipped {
					cmd.Tracking = tracking
				}
				_, _ = machine.Transition(ctx, cmd)
				order := mustOrder(t, store.Orders(), id)
				if (order.Status == domain.OrderStatusShipped || order.Status == domain.OrderStatusDelivered) && order.Payment.Status != domain.PaymentStatusPaid {
					t.Fatalf("observed %s order %s with payment %s", order.Status, id, order.Payment.Status)
				}
			}
		}
	}
}

func TestTransitionReplansAfterConcurrentFieldWrite(t *testing.T) {
	ctx := context.Background()
	order := gatewayOrder("ord_ref")
	order.Status = domain.OrderStatusProcessing
	order.Payment.Status = domain.PaymentStatusPaid
	store := seedStore(t, order)
	var writes int
	orders := stubOrders{
		OrderRepository: store.Orders(),
		casFn: func(ctx context.Context, next domain.Order, expect repositories.OrderPrecondition) (domain.Order, error) {
			writes++
			if writes == 1 {
				other := mustOrder(t, store.Orders(), "ord_ref")
				other.Email = "changed@example.com"
				if _, err := store.Orders().CompareAndSwap(ctx, other, repositories.PreconditionOf(other)); err != nil {
					t.Fatalf("competing write: %v", err)
				}
			}
			return store.Orders().CompareAndSwap(ctx, next, expect)
		},
	}
	machine := newTestStateMachine(t, orders, nil)

	shipped, err := machine.Transition(ctx, TransitionCommand{
		OrderID:  "ord_ref",
		Target:   domain.OrderStatusShipped,
		Tracking: &Tracking{Carrier: "jp", TrackingID: "7"},
	})
	if err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if writes != 2 {
		t.Fatalf("expected one stale write and one retry, got %d", writes)
	}
	if shipped.Status != domain.OrderStatusShipped || shipped.Email != "changed@example.com" {
		t.Fatalf("expected the concurrent field write to survive, got %s %q", shipped.Status, shipped.Email)
	}
	if stored := mustOrder(t, store.Orders(), "ord_ref"); stored.Email != "changed@example.com" || stored.Version != 3 {
		t.Fatalf("unexpected stored order: email %q version %d", stored.Email, stored.Version)
	}
}
