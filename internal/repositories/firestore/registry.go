// Package firestore implements the repository contracts on Cloud Firestore.
package firestore

import (
	"context"
	"errors"

	pfirestore "github.com/hanko-field/orders/internal/platform/firestore"
	"github.com/hanko-field/orders/internal/repositories"
)

const (
	ordersCollection        = "orders"
	cancellationsCollection = "cancellation_requests"
	pendingLocksCollection  = "cancellation_pending_locks"
)

// Registry wires Firestore-backed repositories around a shared provider.
type Registry struct {
	provider *pfirestore.Provider
	orders   *OrderRepository
	requests *CancellationRequestRepository
	health   repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry constructs the Firestore registry.
func NewRegistry(provider *pfirestore.Provider) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("firestore registry requires provider")
	}
	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	requests, err := NewCancellationRequestRepository(provider)
	if err != nil {
		return nil, err
	}
	health, err := repositories.NewProbeHealthRepository([]repositories.Probe{{
		Name:  "firestore",
		Check: provider.Ping,
	}})
	if err != nil {
		return nil, err
	}
	return &Registry{provider: provider, orders: orders, requests: requests, health: health}, nil
}

func (r *Registry) Orders() repositories.OrderRepository { return r.orders }

func (r *Registry) CancellationRequests() repositories.CancellationRequestRepository {
	return r.requests
}

func (r *Registry) Health() repositories.HealthRepository { return r.health }

func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.provider.RunInTx(ctx, fn)
}

func (r *Registry) Close(ctx context.Context) error {
	return r.provider.Close(ctx)
}
