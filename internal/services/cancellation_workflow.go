package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	domain "github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/platform/textutil"
	"github.com/hanko-field/orders/internal/repositories"
)

const (
	maxCancellationReasonRunes = 1000
	maxAdminResponseRunes      = 1000
)

// CancellationMetrics records administrator decisions.
type CancellationMetrics interface {
	ObserveCancellationDecision(kind, decision string)
}

// CancellationWorkflowDeps bundles collaborators for the cancellation workflow.
type CancellationWorkflowDeps struct {
	Orders       repositories.OrderRepository
	Requests     repositories.CancellationRequestRepository
	UnitOfWork   repositories.UnitOfWork
	StateMachine OrderStateMachine
	Dispatcher   NotificationDispatcher
	Metrics      CancellationMetrics
	Clock        func() time.Time
	IDGenerator  func() string
	EventID      func() string
	Logger       func(ctx context.Context, event string, fields map[string]any)
}

type cancellationWorkflow struct {
	orders     repositories.OrderRepository
	requests   repositories.CancellationRequestRepository
	unitOfWork repositories.UnitOfWork
	machine    OrderStateMachine
	dispatcher NotificationDispatcher
	metrics    CancellationMetrics
	clock      func() time.Time
	newID      func() string
	eventID    func() string
	logger     func(context.Context, string, map[string]any)
}

var _ CancellationWorkflow = (*cancellationWorkflow)(nil)

// NewCancellationWorkflow constructs the cancellation workflow.
func NewCancellationWorkflow(deps CancellationWorkflowDeps) (CancellationWorkflow, error) {
	if deps.Orders == nil {
		return nil, errors.New("cancellation workflow: order repository is required")
	}
	if deps.Requests == nil {
		return nil, errors.New("cancellation workflow: cancellation request repository is required")
	}
	if deps.StateMachine == nil {
		return nil, errors.New("cancellation workflow: order state machine is required")
	}
	unitOfWork := deps.UnitOfWork
	if unitOfWork == nil {
		unitOfWork = noopUnitOfWork{}
	}
	dispatcher := deps.Dispatcher
	if dispatcher == nil {
		dispatcher = noopDispatcher{}
	}
	newID := deps.IDGenerator
	if newID == nil {
		newID = defaultIDGenerator
	}
	eventID := deps.EventID
	if eventID == nil {
		eventID = defaultEventID
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	return &cancellationWorkflow{
		orders:     deps.Orders,
		requests:   deps.Requests,
		unitOfWork: unitOfWork,
		machine:    deps.StateMachine,
		dispatcher: dispatcher,
		metrics:    deps.Metrics,
		clock:      utcClock(deps.Clock),
		newID:      newID,
		eventID:    eventID,
		logger:     logger,
	}, nil
}

func (w *cancellationWorkflow) Submit(ctx context.Context, cmd SubmitCancellationCommand) (CancellationRequest, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	userID := strings.TrimSpace(cmd.UserID)
	if orderID == "" || userID == "" {
		return CancellationRequest{}, fmt.Errorf("%w: order id and user id are required", ErrCancellationInvalidInput)
	}
	kind, ok := domain.ParseCancellationType(string(cmd.Type))
	if !ok {
		return CancellationRequest{}, fmt.Errorf("%w: unknown request type %q", ErrCancellationInvalidInput, cmd.Type)
	}
	reason, err := textutil.CleanBoundedText(cmd.Reason, maxCancellationReasonRunes)
	if err != nil {
		return CancellationRequest{}, fmt.Errorf("%w: reason: %v", ErrCancellationInvalidInput, err)
	}

	order, err := w.orders.FindByID(ctx, orderID)
	if err != nil {
		return CancellationRequest{}, mapRepositoryError(err, ErrOrderNotFound, ErrRepositoryUnavailable)
	}
	if order.UserID != userID {
		return CancellationRequest{}, fmt.Errorf("%w: order %s", ErrOrderNotFound, orderID)
	}
	if !w.eligible(order, kind) {
		return CancellationRequest{}, fmt.Errorf("%w: %s request on %s order", ErrOrderNotEligible, kind, order.Status)
	}

	if _, err := w.requests.FindPendingByOrder(ctx, orderID); err == nil {
		return CancellationRequest{}, fmt.Errorf("%w: order %s", ErrDuplicatePendingRequest, orderID)
	} else if !isNotFound(err) {
		return CancellationRequest{}, mapRepositoryError(err, ErrCancellationNotFound, ErrRepositoryUnavailable)
	}

	now := w.clock()
	request := CancellationRequest{
		ID:        cancellationIDPrefix + w.newID(),
		OrderID:   orderID,
		UserID:    userID,
		Type:      kind,
		Reason:    reason,
		Status:    domain.CancellationStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := w.requests.Insert(ctx, request); err != nil {
		if isConflict(err) {
			return CancellationRequest{}, fmt.Errorf("%w: order %s", ErrDuplicatePendingRequest, orderID)
		}
		return CancellationRequest{}, mapRepositoryError(err, ErrCancellationNotFound, ErrRepositoryUnavailable)
	}

	w.logger(ctx, "cancellation.submitted", map[string]any{
		"requestId": request.ID,
		"orderId":   orderID,
		"type":      string(kind),
	})
	w.dispatcher.Emit(ctx, newNotification(w.eventID(), domain.NotificationCancellationSubmitted, userID,
		"Request received", fmt.Sprintf("We received your %s request.", kind),
		map[string]any{
			"requestId": request.ID,
			"orderId":   orderID,
			"type":      string(kind),
		}, now))
	return request, nil
}

func (w *cancellationWorkflow) eligible(order Order, kind domain.CancellationType) bool {
	switch kind {
	case domain.CancellationTypeCancel:
		return w.machine.CanTransition(order.Status, domain.OrderStatusCancelled)
	case domain.CancellationTypeExchange:
		return order.Status == domain.OrderStatusDelivered
	default:
		return false
	}
}

func (w *cancellationWorkflow) Respond(ctx context.Context, cmd RespondCancellationCommand) (CancellationRequest, error) {
	requestID := strings.TrimSpace(cmd.RequestID)
	if requestID == "" {
		return CancellationRequest{}, fmt.Errorf("%w: request id is required", ErrCancellationInvalidInput)
	}
	var decided domain.CancellationStatus
	switch CancellationDecision(strings.ToLower(strings.TrimSpace(string(cmd.Decision)))) {
	case DecisionApproved:
		decided = domain.CancellationStatusApproved
	case DecisionRejected:
		decided = domain.CancellationStatusRejected
	default:
		return CancellationRequest{}, fmt.Errorf("%w: unknown decision %q", ErrCancellationInvalidInput, cmd.Decision)
	}
	response := textutil.CleanText(cmd.AdminResponse)
	if len([]rune(response)) > maxAdminResponseRunes {
		return CancellationRequest{}, fmt.Errorf("%w: admin response too long", ErrCancellationInvalidInput)
	}
	actor := strings.TrimSpace(cmd.ActorID)

	var (
		saved      CancellationRequest
		transition *TransitionResult
	)
	err := w.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		request, err := w.requests.FindByID(txCtx, requestID)
		if err != nil {
			return mapRepositoryError(err, ErrCancellationNotFound, ErrRepositoryUnavailable)
		}
		if request.Status != domain.CancellationStatusPending {
			return fmt.Errorf("%w: request %s is %s", ErrAlreadyDecided, request.ID, request.Status)
		}

		if decided == domain.CancellationStatusApproved && request.Type == domain.CancellationTypeCancel {
			result, err := w.machine.Apply(txCtx, TransitionCommand{
				OrderID: request.OrderID,
				Target:  domain.OrderStatusCancelled,
				ActorID: actor,
			})
			switch {
			case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrOrderConflict):
				return fmt.Errorf("%w: %w: %v", ErrCancellationConflict, ErrOrderConflict, err)
			case err != nil:
				return err
			}
			transition = &result
		}

		now := w.clock()
		request.Status = decided
		request.AdminResponse = response
		request.DecidedBy = actor
		request.DecidedAt = valuePtr(now)
		request.UpdatedAt = now
		updated, err := w.requests.UpdateIfPending(txCtx, request)
		if err != nil {
			if isConflict(err) {
				return fmt.Errorf("%w: request %s", ErrAlreadyDecided, request.ID)
			}
			return mapRepositoryError(err, ErrCancellationNotFound, ErrRepositoryUnavailable)
		}
		saved = updated
		return nil
	})
	if err != nil {
		w.logger(ctx, "cancellation.respond.failed", map[string]any{
			"requestId": requestID,
			"decision":  string(decided),
			"error":     err,
		})
		return CancellationRequest{}, err
	}

	if transition != nil {
		w.machine.Notify(ctx, *transition)
	}
	if w.metrics != nil {
		w.metrics.ObserveCancellationDecision(string(saved.Type), string(saved.Status))
	}
	w.logger(ctx, "cancellation.decided", map[string]any{
		"requestId": saved.ID,
		"orderId":   saved.OrderID,
		"decision":  string(saved.Status),
		"actorId":   actor,
	})
	payload := map[string]any{
		"requestId": saved.ID,
		"orderId":   saved.OrderID,
		"type":      string(saved.Type),
		"decision":  string(saved.Status),
	}
	if saved.AdminResponse != "" {
		payload["adminResponse"] = saved.AdminResponse
	}
	w.dispatcher.Emit(ctx, newNotification(w.eventID(), domain.NotificationCancellationDecided, saved.UserID,
		"Request "+string(saved.Status), fmt.Sprintf("Your %s request was %s.", saved.Type, saved.Status),
		payload, w.clock()))
	return saved, nil
}

func (w *cancellationWorkflow) ListForOrder(ctx context.Context, orderID, userID string) ([]CancellationRequest, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, fmt.Errorf("%w: order id is required", ErrCancellationInvalidInput)
	}
	order, err := w.orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, mapRepositoryError(err, ErrOrderNotFound, ErrRepositoryUnavailable)
	}
	if userID = strings.TrimSpace(userID); userID != "" && order.UserID != userID {
		return nil, fmt.Errorf("%w: order %s", ErrOrderNotFound, orderID)
	}
	requests, err := w.requests.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, mapRepositoryError(err, ErrCancellationNotFound, ErrRepositoryUnavailable)
	}
	sort.SliceStable(requests, func(i, j int) bool {
		return requests[i].CreatedAt.After(requests[j].CreatedAt)
	})
	return requests, nil
}

func (w *cancellationWorkflow) Get(ctx context.Context, requestID string) (CancellationRequest, error) {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return CancellationRequest{}, fmt.Errorf("%w: request id is required", ErrCancellationInvalidInput)
	}
	request, err := w.requests.FindByID(ctx, requestID)
	if err != nil {
		return CancellationRequest{}, mapRepositoryError(err, ErrCancellationNotFound, ErrRepositoryUnavailable)
	}
	return request, nil
}

func isNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

func isConflict(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}
