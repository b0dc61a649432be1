// Package memory provides a process-local repository backend used by tests and local development.
package memory

import (
	"context"
	"errors"
	"sync"

	domain "github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/repositories"
)

type txKey struct{}

// Store keeps orders and cancellation requests in maps guarded by a single mutex.
type Store struct {
	mu       sync.Mutex
	orders   map[string]domain.Order
	requests map[string]domain.CancellationRequest
	health   repositories.HealthRepository
}

var _ repositories.Registry = (*Store)(nil)

// NewStore constructs an empty in-memory registry.
func NewStore() *Store {
	store := &Store{
		orders:   make(map[string]domain.Order),
		requests: make(map[string]domain.CancellationRequest),
	}
	health, _ := repositories.NewProbeHealthRepository([]repositories.Probe{{
		Name:  "orders_store",
		Check: func(context.Context) error { return nil },
	}})
	store.health = health
	return store
}

func (s *Store) Orders() repositories.OrderRepository { return orderRepository{store: s} }

func (s *Store) CancellationRequests() repositories.CancellationRequestRepository {
	return cancellationRepository{store: s}
}

func (s *Store) Health() repositories.HealthRepository { return s.health }

func (s *Store) Close(context.Context) error { return nil }

// RunInTx serialises fn against every other store operation. Writes made by fn are rolled back
// when it returns an error.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return errors.New("memory: transaction function is required")
	}
	if s.inTx(ctx) {
		return fn(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	orders := make(map[string]domain.Order, len(s.orders))
	for id, order := range s.orders {
		orders[id] = order
	}
	requests := make(map[string]domain.CancellationRequest, len(s.requests))
	for id, req := range s.requests {
		requests[id] = req
	}

	if err := fn(context.WithValue(ctx, txKey{}, s)); err != nil {
		s.orders = orders
		s.requests = requests
		return err
	}
	return nil
}

func (s *Store) inTx(ctx context.Context) bool {
	owner, _ := ctx.Value(txKey{}).(*Store)
	return owner == s
}

// lock acquires the store mutex unless ctx already belongs to a running transaction on s.
func (s *Store) lock(ctx context.Context) func() {
	if s.inTx(ctx) {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func notFound(op string) error {
	return repositories.NewStoreError(op, repositories.ErrorKindNotFound, nil)
}

func conflict(op, msg string) error {
	return repositories.NewStoreError(op, repositories.ErrorKindConflict, errors.New(msg))
}
