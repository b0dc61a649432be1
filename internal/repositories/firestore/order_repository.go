package firestore

import (
	"context"
	"errors"
	"strings"

	"cloud.google.com/go/firestore"

	domain "github.com/hanko-field/orders/internal/domain"
	pfirestore "github.com/hanko-field/orders/internal/platform/firestore"
	"github.com/hanko-field/orders/internal/repositories"
)

// OrderRepository persists orders in Firestore.
type OrderRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[orderDocument]
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		provider: provider,
		base:     pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection, nil, nil),
	}, nil
}

func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if order.Version == 0 {
		order.Version = 1
	}
	return r.base.Create(ctx, order.ID, encodeOrder(order))
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	doc, err := r.base.Get(ctx, strings.TrimSpace(orderID))
	if err != nil {
		return domain.Order{}, err
	}
	return decodeOrder(doc), nil
}

// CompareAndSwap reads the order inside a transaction, checks the precondition and writes the
// replacement on the same transaction.
func (r *OrderRepository) CompareAndSwap(ctx context.Context, order domain.Order, expect repositories.OrderPrecondition) (domain.Order, error) {
	var saved domain.Order
	err := r.provider.RunInTx(ctx, func(ctx context.Context) error {
		current, err := r.base.Get(ctx, order.ID)
		if err != nil {
			return err
		}
		if !expect.Holds(domain.OrderStatus(current.Status), domain.PaymentStatus(current.Payment.Status), current.Version) {
			return pfirestore.Conflict("orders.cas", "order state changed")
		}
		next := order
		next.Version = current.Version + 1
		next.CreatedAt = current.CreatedAt
		if err := r.base.Set(ctx, order.ID, encodeOrder(next)); err != nil {
			return err
		}
		saved = next
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}
	return saved, nil
}

func (r *OrderRepository) ListAwaitingPayment(ctx context.Context, filter repositories.AwaitingPaymentFilter) ([]domain.Order, error) {
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where("payment.method", "==", string(domain.PaymentMethodGateway)).
			Where("status", "==", string(domain.OrderStatusPending)).
			Where("payment.status", "==", string(domain.PaymentStatusPending))
		if !filter.CreatedBefore.IsZero() {
			q = q.Where("createdAt", "<", filter.CreatedBefore.UTC())
		}
		q = q.OrderBy("createdAt", firestore.Asc)
		if filter.Limit > 0 {
			q = q.Limit(filter.Limit)
		}
		return q
	})
	if err != nil {
		return nil, err
	}
	orders := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		orders = append(orders, decodeOrder(doc))
	}
	return orders, nil
}
