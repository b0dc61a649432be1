package memory

import (
	"context"
	"sort"
	"strings"
	"time"

	domain "github.com/hanko-field/orders/internal/domain"
)

type cancellationRepository struct {
	store *Store
}

func (r cancellationRepository) Insert(ctx context.Context, request domain.CancellationRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	unlock := r.store.lock(ctx)
	defer unlock()

	if _, exists := r.store.requests[request.ID]; exists {
		return conflict("memory.cancellations.insert", "request already exists")
	}
	if request.Status == domain.CancellationStatusPending {
		for _, existing := range r.store.requests {
			if existing.OrderID == request.OrderID && existing.Status == domain.CancellationStatusPending {
				return conflict("memory.cancellations.insert", "pending request exists for order")
			}
		}
	}
	r.store.requests[request.ID] = cloneRequest(request)
	return nil
}

func (r cancellationRepository) FindByID(ctx context.Context, requestID string) (domain.CancellationRequest, error) {
	if err := ctx.Err(); err != nil {
		return domain.CancellationRequest{}, err
	}
	unlock := r.store.lock(ctx)
	defer unlock()

	request, ok := r.store.requests[strings.TrimSpace(requestID)]
	if !ok {
		return domain.CancellationRequest{}, notFound("memory.cancellations.get")
	}
	return cloneRequest(request), nil
}

func (r cancellationRepository) FindPendingByOrder(ctx context.Context, orderID string) (domain.CancellationRequest, error) {
	if err := ctx.Err(); err != nil {
		return domain.CancellationRequest{}, err
	}
	unlock := r.store.lock(ctx)
	defer unlock()

	for _, request := range r.store.requests {
		if request.OrderID == orderID && request.Status == domain.CancellationStatusPending {
			return cloneRequest(request), nil
		}
	}
	return domain.CancellationRequest{}, notFound("memory.cancellations.pending")
}

func (r cancellationRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.CancellationRequest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	unlock := r.store.lock(ctx)
	defer unlock()

	var result []domain.CancellationRequest
	for _, request := range r.store.requests {
		if request.OrderID == orderID {
			result = append(result, cloneRequest(request))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (r cancellationRepository) UpdateIfPending(ctx context.Context, request domain.CancellationRequest) (domain.CancellationRequest, error) {
	if err := ctx.Err(); err != nil {
		return domain.CancellationRequest{}, err
	}
	unlock := r.store.lock(ctx)
	defer unlock()

	current, ok := r.store.requests[request.ID]
	if !ok {
		return domain.CancellationRequest{}, notFound("memory.cancellations.update")
	}
	if current.Status != domain.CancellationStatusPending {
		return domain.CancellationRequest{}, conflict("memory.cancellations.update", "request already decided")
	}
	request.OrderID = current.OrderID
	request.UserID = current.UserID
	request.CreatedAt = current.CreatedAt
	r.store.requests[request.ID] = cloneRequest(request)
	return cloneRequest(request), nil
}

func cloneRequest(request domain.CancellationRequest) domain.CancellationRequest {
	clone := request
	clone.DecidedAt = cloneTime(request.DecidedAt)
	return clone
}

func cloneTime(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	copied := *value
	return &copied
}
