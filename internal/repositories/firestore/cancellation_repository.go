package firestore

import (
	"context"
	"errors"
	"sort"
	"strings"

	"cloud.google.com/go/firestore"

	domain "github.com/hanko-field/orders/internal/domain"
	pfirestore "github.com/hanko-field/orders/internal/platform/firestore"
	"github.com/hanko-field/orders/internal/repositories"
)

// CancellationRequestRepository persists cancellation requests. The one-pending-per-order rule is
// held by a lock document keyed by order ID, created and removed in the same transaction as the
// request it guards.
type CancellationRequestRepository struct {
	provider *pfirestore.Provider
	requests *pfirestore.BaseRepository[cancellationDocument]
	locks    *pfirestore.BaseRepository[pendingLockDocument]
}

// NewCancellationRequestRepository constructs a Firestore-backed cancellation repository.
func NewCancellationRequestRepository(provider *pfirestore.Provider) (*CancellationRequestRepository, error) {
	if provider == nil {
		return nil, errors.New("cancellation repository requires firestore provider")
	}
	return &CancellationRequestRepository{
		provider: provider,
		requests: pfirestore.NewBaseRepository[cancellationDocument](provider, cancellationsCollection, nil, nil),
		locks:    pfirestore.NewBaseRepository[pendingLockDocument](provider, pendingLocksCollection, nil, nil),
	}, nil
}

func (r *CancellationRequestRepository) Insert(ctx context.Context, request domain.CancellationRequest) error {
	return r.provider.RunInTx(ctx, func(ctx context.Context) error {
		if request.Status == domain.CancellationStatusPending {
			_, err := r.locks.Get(ctx, request.OrderID)
			switch {
			case err == nil:
				return pfirestore.Conflict("cancellation_requests.insert", "pending request exists for order")
			case !repositories.IsNotFound(err):
				return err
			}
			lock := pendingLockDocument{RequestID: request.ID, CreatedAt: request.CreatedAt.UTC()}
			if err := r.locks.Create(ctx, request.OrderID, lock); err != nil {
				return err
			}
		}
		return r.requests.Create(ctx, request.ID, encodeCancellation(request))
	})
}

func (r *CancellationRequestRepository) FindByID(ctx context.Context, requestID string) (domain.CancellationRequest, error) {
	doc, err := r.requests.Get(ctx, strings.TrimSpace(requestID))
	if err != nil {
		return domain.CancellationRequest{}, err
	}
	return decodeCancellation(doc), nil
}

func (r *CancellationRequestRepository) FindPendingByOrder(ctx context.Context, orderID string) (domain.CancellationRequest, error) {
	lock, err := r.locks.Get(ctx, strings.TrimSpace(orderID))
	if err != nil {
		return domain.CancellationRequest{}, err
	}
	request, err := r.FindByID(ctx, lock.RequestID)
	if err != nil {
		return domain.CancellationRequest{}, err
	}
	if request.Status != domain.CancellationStatusPending {
		return domain.CancellationRequest{}, pfirestore.NotFound("cancellation_requests.pending", "no pending request")
	}
	return request, nil
}

func (r *CancellationRequestRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.CancellationRequest, error) {
	docs, err := r.requests.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("orderId", "==", strings.TrimSpace(orderID))
	})
	if err != nil {
		return nil, err
	}
	result := make([]domain.CancellationRequest, 0, len(docs))
	for _, doc := range docs {
		result = append(result, decodeCancellation(doc))
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (r *CancellationRequestRepository) UpdateIfPending(ctx context.Context, request domain.CancellationRequest) (domain.CancellationRequest, error) {
	var saved domain.CancellationRequest
	err := r.provider.RunInTx(ctx, func(ctx context.Context) error {
		current, err := r.requests.Get(ctx, request.ID)
		if err != nil {
			return err
		}
		if current.Status != string(domain.CancellationStatusPending) {
			return pfirestore.Conflict("cancellation_requests.update", "request already decided")
		}
		next := request
		next.OrderID = current.OrderID
		next.UserID = current.UserID
		next.CreatedAt = current.CreatedAt
		if err := r.requests.Set(ctx, request.ID, encodeCancellation(next)); err != nil {
			return err
		}
		if next.Status != domain.CancellationStatusPending {
			if err := r.locks.Delete(ctx, current.OrderID); err != nil {
				return err
			}
		}
		saved = next
		return nil
	})
	if err != nil {
		return domain.CancellationRequest{}, err
	}
	return saved, nil
}
