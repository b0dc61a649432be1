package services

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	domain "github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/payments"
	"github.com/hanko-field/orders/internal/platform/storage"
	"github.com/hanko-field/orders/internal/repositories"
	"github.com/hanko-field/orders/internal/repositories/memory"
)

var fixedNow = time.Date(2025, time.April, 2, 9, 30, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

type recordingDispatcher struct {
	mu     sync.Mutex
	events []NotificationEvent
}

func (d *recordingDispatcher) Emit(_ context.Context, event NotificationEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, event)
}

func (d *recordingDispatcher) Close(context.Context) error { return nil }

func (d *recordingDispatcher) ofType(kind domain.NotificationType) []NotificationEvent {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []NotificationEvent
	for _, event := range d.events {
		if event.Type == kind {
			out = append(out, event)
		}
	}
	return out
}

type stubLookup struct {
	fn func(ctx context.Context, ref string) (payments.PaymentDetails, error)
}

func (s stubLookup) LookupPayment(ctx context.Context, ref string) (payments.PaymentDetails, error) {
	return s.fn(ctx, ref)
}

type stubArchive struct {
	mu      sync.Mutex
	entries []storage.RejectedWebhook
}

func (a *stubArchive) Archive(_ context.Context, entry storage.RejectedWebhook) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, entry)
	return "webhooks/payment/" + string(entry.Reason) + "/x.json", nil
}

type countingMetrics struct {
	mu              sync.Mutex
	reconciliations map[string]int
	signatureFails  int
	transitions     int
}

func (m *countingMetrics) ObserveReconciliation(channel, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.reconciliations == nil {
		m.reconciliations = make(map[string]int)
	}
	m.reconciliations[channel+"/"+outcome]++
}

func (m *countingMetrics) SignatureFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.signatureFails++
}

func (m *countingMetrics) ObserveTransition(string, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transitions++
}

// stubOrders wraps an order repository and lets tests override individual calls.
type stubOrders struct {
	repositories.OrderRepository
	findFn func(ctx context.Context, id string) (domain.Order, error)
	casFn  func(ctx context.Context, order domain.Order, expect repositories.OrderPrecondition) (domain.Order, error)
}

func (s stubOrders) FindByID(ctx context.Context, id string) (domain.Order, error) {
	if s.findFn != nil {
		return s.findFn(ctx, id)
	}
	return s.OrderRepository.FindByID(ctx, id)
}

func (s stubOrders) CompareAndSwap(ctx context.Context, order domain.Order, expect repositories.OrderPrecondition) (domain.Order, error) {
	if s.casFn != nil {
		return s.casFn(ctx, order, expect)
	}
	return s.OrderRepository.CompareAndSwap(ctx, order, expect)
}

func gatewayOrder(id string) domain.Order {
	created := fixedNow.Add(-time.Hour)
	return domain.Order{
		ID:       id,
		UserID:   "user-1",
		Status:   domain.OrderStatusPending,
		Currency: "JPY",
		Total:    1000,
		Items:    []domain.OrderLineItem{{ProductID: "seal-01", Name: "Seal", Quantity: 1, UnitPrice: 1000, Total: 1000}},
		Email:    "buyer@example.com",
		ShippingAddress: domain.Address{
			Recipient: "Taro", Line1: "1-1", City: "Tokyo", PostalCode: "100-0001", Country: "JP",
		},
		Payment: domain.Payment{
			Method:          domain.PaymentMethodGateway,
			Status:          domain.PaymentStatusPending,
			GatewayOrderRef: "pi_" + id,
		},
		CreatedAt: created,
		UpdatedAt: created,
	}
}

func codOrder(id string) domain.Order {
	order := gatewayOrder(id)
	order.Payment = domain.Payment{Method: domain.PaymentMethodPayOnDelivery, Status: domain.PaymentStatusPending}
	return order
}

func seedStore(t *testing.T, orders ...domain.Order) *memory.Store {
	t.Helper()
	store := memory.NewStore()
	for _, order := range orders {
		if err := store.Orders().Insert(context.Background(), order); err != nil {
			t.Fatalf("seed order %s: %v", order.ID, err)
		}
	}
	return store
}

func mustOrder(t *testing.T, repo repositories.OrderRepository, id string) domain.Order {
	t.Helper()
	order, err := repo.FindByID(context.Background(), id)
	if err != nil {
		t.Fatalf("find order %s: %v", id, err)
	}
	return order
}

func newTestStateMachine(t *testing.T, orders repositories.OrderRepository, dispatcher NotificationDispatcher) OrderStateMachine {
	t.Helper()
	machine, err := NewOrderStateMachine(OrderStateMachineDeps{
		Orders:     orders,
		Dispatcher: dispatcher,
		Clock:      fixedClock,
	})
	if err != nil {
		t.Fatalf("NewOrderStateMachine: %v", err)
	}
	return machine
}

func webhookBody(t *testing.T, event, paymentRef, orderID string, amount int64) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"event": event,
		"payload": map[string]any{
			"payment": map[string]any{
				"entity": map[string]any{
					"id":       paymentRef,
					"amount":   amount,
					"currency": "jpy",
					"order_id": "pi_" + orderID,
					"notes":    map[string]string{"order_id": orderID},
				},
			},
		},
	})
	if err != nil {
		t.Fatalf("marshal webhook: %v", err)
	}
	return body
}
