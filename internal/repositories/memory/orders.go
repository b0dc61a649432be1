package memory

import (
	"context"
	"sort"
	"strings"

	domain "github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/repositories"
)

type orderRepository struct {
	store *Store
}

func (r orderRepository) Insert(ctx context.Context, order domain.Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	unlock := r.store.lock(ctx)
	defer unlock()

	if _, exists := r.store.orders[order.ID]; exists {
		return conflict("memory.orders.insert", "order already exists")
	}
	if order.Version == 0 {
		order.Version = 1
	}
	r.store.orders[order.ID] = cloneOrder(order)
	return nil
}

func (r orderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return domain.Order{}, err
	}
	unlock := r.store.lock(ctx)
	defer unlock()

	order, ok := r.store.orders[strings.TrimSpace(orderID)]
	if !ok {
		return domain.Order{}, notFound("memory.orders.get")
	}
	return cloneOrder(order), nil
}

func (r orderRepository) CompareAndSwap(ctx context.Context, order domain.Order, expect repositories.OrderPrecondition) (domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return domain.Order{}, err
	}
	unlock := r.store.lock(ctx)
	defer unlock()

	current, ok := r.store.orders[order.ID]
	if !ok {
		return domain.Order{}, notFound("memory.orders.cas")
	}
	if !expect.Holds(current.Status, current.Payment.Status, current.Version) {
		return domain.Order{}, conflict("memory.orders.cas", "order state changed")
	}
	order.Version = current.Version + 1
	order.CreatedAt = current.CreatedAt
	r.store.orders[order.ID] = cloneOrder(order)
	return cloneOrder(order), nil
}

func (r orderRepository) ListAwaitingPayment(ctx context.Context, filter repositories.AwaitingPaymentFilter) ([]domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	unlock := r.store.lock(ctx)
	defer unlock()

	var result []domain.Order
	for _, order := range r.store.orders {
		if order.Status != domain.OrderStatusPending ||
			order.Payment.Method != domain.PaymentMethodGateway ||
			order.Payment.Status != domain.PaymentStatusPending {
			continue
		}
		if !filter.CreatedBefore.IsZero() && !order.CreatedAt.Before(filter.CreatedBefore) {
			continue
		}
		result = append(result, cloneOrder(order))
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func cloneOrder(order domain.Order) domain.Order {
	clone := order
	if order.Items != nil {
		clone.Items = append([]domain.OrderLineItem(nil), order.Items...)
	}
	if order.Tracking != nil {
		tracking := *order.Tracking
		clone.Tracking = &tracking
	}
	clone.ShippedAt = cloneTime(order.ShippedAt)
	clone.DeliveredAt = cloneTime(order.DeliveredAt)
	clone.CancelledAt = cloneTime(order.CancelledAt)
	clone.Payment.PaidAt = cloneTime(order.Payment.PaidAt)
	return clone
}
