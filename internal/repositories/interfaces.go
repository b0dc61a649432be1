package repositories

import (
	"context"
	"time"

	domain "github.com/hanko-field/orders/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Orders() OrderRepository
	CancellationRequests() CancellationRequestRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
// Repository calls made with the context passed to fn join the transaction.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderPrecondition is the state a stored order must still be in for a conditional write to apply.
// A zero Version skips the version check.
type OrderPrecondition struct {
	Status        domain.OrderStatus
	PaymentStatus domain.PaymentStatus
	Version       int64
}

// PreconditionOf captures the precondition matching the order as it was read.
func PreconditionOf(order domain.Order) OrderPrecondition {
	return OrderPrecondition{Status: order.Status, PaymentStatus: order.Payment.Status, Version: order.Version}
}

// Holds reports whether a stored order with the given state satisfies the precondition.
func (p OrderPrecondition) Holds(status domain.OrderStatus, paymentStatus domain.PaymentStatus, version int64) bool {
	if status != p.Status || paymentStatus != p.PaymentStatus {
		return false
	}
	return p.Version == 0 || version == p.Version
}

// AwaitingPaymentFilter selects gateway orders whose payment has not been confirmed.
type AwaitingPaymentFilter struct {
	CreatedBefore time.Time
	Limit         int
}

// OrderRepository persists orders. All mutations after Insert go through CompareAndSwap.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	// CompareAndSwap replaces the stored order only when its status and payment status still
	// equal expect. A mismatch yields a RepositoryError with IsConflict() == true. The
	// returned order carries the stored version.
	CompareAndSwap(ctx context.Context, order domain.Order, expect OrderPrecondition) (domain.Order, error)
	ListAwaitingPayment(ctx context.Context, filter AwaitingPaymentFilter) ([]domain.Order, error)
}

// CancellationRequestRepository persists cancellation and exchange requests.
type CancellationRequestRepository interface {
	// Insert stores a new pending request. It fails with a conflict when the order already has a
	// pending request, regardless of any check the caller made beforehand.
	Insert(ctx context.Context, request domain.CancellationRequest) error
	FindByID(ctx context.Context, requestID string) (domain.CancellationRequest, error)
	FindPendingByOrder(ctx context.Context, orderID string) (domain.CancellationRequest, error)
	ListByOrder(ctx context.Context, orderID string) ([]domain.CancellationRequest, error)
	// UpdateIfPending writes the decided request only if the stored copy is still pending.
	UpdateIfPending(ctx context.Context, request domain.CancellationRequest) (domain.CancellationRequest, error)
}

// HealthRepository reports dependency health for readiness probes.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
