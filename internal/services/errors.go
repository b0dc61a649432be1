package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/hanko-field/orders/internal/repositories"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located or is not visible to the caller.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrInvalidTransition indicates the requested status change is not an edge of the graph.
	ErrInvalidTransition = errors.New("order: invalid transition")
	// ErrOrderConflict indicates a concurrent writer changed the order first.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrRepositoryUnavailable marks transient storage failures that are safe to retry.
	ErrRepositoryUnavailable = errors.New("order: repository unavailable")
	// ErrGatewayUnavailable marks transient payment gateway failures.
	ErrGatewayUnavailable = errors.New("order: payment gateway unavailable")

	// ErrInvalidSignature indicates the webhook signature did not verify.
	ErrInvalidSignature = errors.New("payment: invalid signature")
	// ErrWebhookMalformed indicates the webhook body could not be interpreted.
	ErrWebhookMalformed = errors.New("payment: malformed webhook")
	// ErrOrderNotPayable indicates the order is not awaiting a gateway payment.
	ErrOrderNotPayable = errors.New("payment: order not payable")
	// ErrPaymentAmountMismatch indicates the reported payment does not match the order it names.
	ErrPaymentAmountMismatch = errors.New("payment: amount mismatch")
	// ErrPaymentNotCaptured indicates the gateway does not report the payment as captured.
	ErrPaymentNotCaptured = errors.New("payment: not captured")
	// ErrReconcileUnavailable marks transient failures while reconciling; callers retry.
	ErrReconcileUnavailable = errors.New("payment: reconciliation unavailable")

	// ErrCancellationInvalidInput signals an invalid cancellation command.
	ErrCancellationInvalidInput = errors.New("cancellation: invalid input")
	// ErrCancellationNotFound indicates the request does not exist.
	ErrCancellationNotFound = errors.New("cancellation: not found")
	// ErrDuplicatePendingRequest indicates the order already has a pending request.
	ErrDuplicatePendingRequest = errors.New("cancellation: duplicate pending request")
	// ErrOrderNotEligible indicates the order status does not allow the request type.
	ErrOrderNotEligible = errors.New("cancellation: order not eligible")
	// ErrAlreadyDecided indicates the request is no longer pending.
	ErrAlreadyDecided = errors.New("cancellation: already decided")
	// ErrCancellationConflict indicates the order changed so the approval cannot be applied.
	ErrCancellationConflict = errors.New("cancellation: conflict")
)

// mapRepositoryError translates repository failures into service errors. notFound and
// unavailable select the sentinels for the calling operation.
func mapRepositoryError(err error, notFound, unavailable error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", notFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", unavailable, err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", unavailable, err)
	}
	return err
}
