package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hanko-field/orders/internal/platform/httpx"
	"github.com/hanko-field/orders/internal/platform/requestctx"
	"github.com/hanko-field/orders/internal/services"
)

const (
	defaultSignatureHeader = "X-Payment-Signature"
	maxWebhookBodySize     = 256 * 1024
)

// WebhookHandlers receives gateway deliveries.
type WebhookHandlers struct {
	reconciler      services.PaymentReconciler
	signatureHeader string
}

// WebhookOption customises WebhookHandlers.
type WebhookOption func(*WebhookHandlers)

// WithSignatureHeader sets the header carrying the body signature.
func WithSignatureHeader(name string) WebhookOption {
	return func(h *WebhookHandlers) {
		if name = strings.TrimSpace(name); name != "" {
			h.signatureHeader = name
		}
	}
}

func NewWebhookHandlers(reconciler services.PaymentReconciler, opts ...WebhookOption) *WebhookHandlers {
	h := &WebhookHandlers{reconciler: reconciler, signatureHeader: defaultSignatureHeader}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /webhooks endpoints.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/payment", h.payment)
}

// payment answers 2xx for anything the gateway should not redeliver. Only unreadable bodies,
// signature failures and transient errors produce a non-2xx status.
func (h *WebhookHandlers) payment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.reconciler == nil {
		writeUnavailable(ctx, w, "payment")
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBodySize))
	if err != nil {
		requestctx.Logger(ctx).Warn("webhook body rejected",
			zap.Bool("security_event", true),
			zap.String("remote_addr", r.RemoteAddr),
			zap.Int("body_limit", maxWebhookBodySize),
			zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "webhook body unreadable or too large", http.StatusBadRequest))
		return
	}

	result, err := h.reconciler.WebhookConfirm(ctx, services.WebhookConfirmCommand{
		Payload:    body,
		Signature:  r.Header.Get(h.signatureHeader),
		RemoteAddr: r.RemoteAddr,
	})
	if err != nil {
		mapped := serviceError(err)
		if errors.Is(err, services.ErrInvalidSignature) || mapped.Status >= http.StatusInternalServerError {
			httpx.WriteError(ctx, w, mapped)
			return
		}
		requestctx.Logger(ctx).Info("webhook delivery acknowledged without effect",
			zap.String("reason", mapped.Code),
			zap.Error(err))
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": string(services.ReconcileIgnored), "reason": mapped.Code})
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": string(result.Outcome)})
}
