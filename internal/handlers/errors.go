package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/hanko-field/orders/internal/platform/httpx"
	"github.com/hanko-field/orders/internal/services"
)

// writeServiceError maps service sentinels onto the public error envelope.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	httpx.WriteError(ctx, w, serviceError(err))
}

func serviceError(err error) httpx.Error {
	switch {
	case errors.Is(err, services.ErrInvalidSignature):
		return httpx.NewError("invalid_signature", "webhook signature verification failed", http.StatusBadRequest)
	case errors.Is(err, services.ErrOrderInvalidInput), errors.Is(err, services.ErrCancellationInvalidInput):
		return httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest)
	case errors.Is(err, services.ErrOrderNotFound):
		return httpx.NewError("order_not_found", "order not found", http.StatusNotFound)
	case errors.Is(err, services.ErrCancellationNotFound):
		return httpx.NewError("cancellation_request_not_found", "cancellation request not found", http.StatusNotFound)
	case errors.Is(err, services.ErrInvalidTransition):
		return httpx.NewError("invalid_transition", err.Error(), http.StatusConflict)
	case errors.Is(err, services.ErrDuplicatePendingRequest):
		return httpx.NewError("duplicate_pending_request", "a pending request already exists for this order", http.StatusConflict)
	case errors.Is(err, services.ErrOrderNotEligible):
		return httpx.NewError("order_not_eligible", err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, services.ErrAlreadyDecided):
		return httpx.NewError("already_decided", "cancellation request already decided", http.StatusConflict)
	case errors.Is(err, services.ErrOrderNotPayable):
		return httpx.NewError("order_not_payable", err.Error(), http.StatusConflict)
	case errors.Is(err, services.ErrOrderConflict), errors.Is(err, services.ErrCancellationConflict):
		return httpx.NewError("conflict", err.Error(), http.StatusConflict)
	case errors.Is(err, services.ErrPaymentNotCaptured):
		return httpx.NewError("payment_not_captured", err.Error(), http.StatusConflict)
	case errors.Is(err, services.ErrPaymentAmountMismatch):
		return httpx.NewError("amount_mismatch", "payment does not match the order", http.StatusUnprocessableEntity)
	case errors.Is(err, services.ErrWebhookMalformed):
		return httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest)
	case errors.Is(err, services.ErrRepositoryUnavailable),
		errors.Is(err, services.ErrReconcileUnavailable),
		errors.Is(err, services.ErrGatewayUnavailable),
		errors.Is(err, context.DeadlineExceeded):
		return httpx.NewError("unavailable", "service temporarily unavailable", http.StatusServiceUnavailable)
	default:
		return httpx.NewError("internal_error", "failed to process request", http.StatusInternalServerError)
	}
}

func writeUnavailable(ctx context.Context, w http.ResponseWriter, name string) {
	httpx.WriteError(ctx, w, httpx.NewError(name+"_unavailable", name+" service unavailable", http.StatusServiceUnavailable))
}

func writeUnauthenticated(ctx context.Context, w http.ResponseWriter) {
	httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
}
