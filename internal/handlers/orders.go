package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	domain "github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/platform/auth"
	"github.com/hanko-field/orders/internal/platform/httpx"
	"github.com/hanko-field/orders/internal/platform/requestctx"
	"github.com/hanko-field/orders/internal/platform/retry"
	"github.com/hanko-field/orders/internal/services"
)

const maxOrderBodySize = 32 * 1024

type createOrderRequest struct {
	Email           string                   `json:"email"`
	Currency        string                   `json:"currency"`
	PaymentMethod   string                   `json:"payment_method"`
	ShippingAddress addressPayload           `json:"shipping_address"`
	Items           []createOrderItemRequest `json:"items"`
}

type createOrderItemRequest struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
}

type gatewaySessionRequest struct {
	Amount *int64 `json:"amount"`
}

type confirmPaymentRequest struct {
	GatewayPaymentRef string `json:"gateway_payment_ref"`
}

type updateStatusRequest struct {
	Status         string           `json:"status"`
	Tracking       *trackingPayload `json:"tracking"`
	ExpectedStatus string           `json:"expected_status"`
}

// OrderHandlers exposes order placement, payment confirmation and status endpoints.
type OrderHandlers struct {
	orders       services.OrderService
	machine      services.OrderStateMachine
	reconciler   services.PaymentReconciler
	confirmRetry retry.Config
	limiter      *fixedWindowLimiter
	idempotency  func(http.Handler) http.Handler
}

// OrderHandlersOption customises OrderHandlers.
type OrderHandlersOption func(*OrderHandlers)

// WithConfirmRetry sets the backoff applied when client confirmation hits a transient failure.
func WithConfirmRetry(cfg retry.Config) OrderHandlersOption {
	return func(h *OrderHandlers) {
		h.confirmRetry = cfg
	}
}

// WithConfirmRateLimit caps confirmation calls per user.
func WithConfirmRateLimit(limit int, window time.Duration) OrderHandlersOption {
	return func(h *OrderHandlers) {
		h.limiter = newFixedWindowLimiter(limit, window, nil)
	}
}

// WithIdempotency wraps order creation and gateway session setup.
func WithIdempotency(mw func(http.Handler) http.Handler) OrderHandlersOption {
	return func(h *OrderHandlers) {
		h.idempotency = mw
	}
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(orders services.OrderService, machine services.OrderStateMachine, reconciler services.PaymentReconciler, opts ...OrderHandlersOption) *OrderHandlers {
	h := &OrderHandlers{
		orders:       orders,
		machine:      machine,
		reconciler:   reconciler,
		confirmRetry: retry.DefaultConfig(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	h.confirmRetry.Retryable = func(err error) bool {
		return errors.Is(err, services.ErrReconcileUnavailable)
	}
	return h
}

// Routes registers the /orders endpoints. Callers authenticate the group.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	idem := h.idempotency
	if idem == nil {
		idem = func(next http.Handler) http.Handler { return next }
	}
	r.With(idem).Post("/", h.createOrder)
	r.Get("/{orderID}", h.getOrder)
	r.With(idem).Post("/{orderID}/gateway-session", h.openGatewaySession)
	r.With(h.limiter.perUser).Post("/{orderID}/confirm", h.confirmPayment)
	r.With(requireStaff).Patch("/{orderID}/status", h.updateStatus)
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeUnavailable(ctx, w, "order")
		return
	}
	identity, ok := currentIdentity(r)
	if !ok {
		writeUnauthenticated(ctx, w)
		return
	}

	var req createOrderRequest
	if errResp := httpx.DecodeJSON(w, r, maxOrderBodySize, &req); errResp != nil {
		httpx.WriteError(ctx, w, *errResp)
		return
	}
	items := make([]services.CreateOrderItem, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, services.CreateOrderItem{
			ProductID: item.ProductID,
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}
	email := req.Email
	if strings.TrimSpace(email) == "" {
		email = identity.Email
	}

	order, err := h.orders.Create(ctx, services.CreateOrderCommand{
		UserID:        identity.UID,
		Email:         email,
		Currency:      req.Currency,
		PaymentMethod: domain.PaymentMethod(req.PaymentMethod),
		ShippingAddress: services.Address{
			Recipient:  req.ShippingAddress.Recipient,
			Line1:      req.ShippingAddress.Line1,
			Line2:      req.ShippingAddress.Line2,
			City:       req.ShippingAddress.City,
			State:      req.ShippingAddress.State,
			PostalCode: req.ShippingAddress.PostalCode,
			Country:    req.ShippingAddress.Country,
			Phone:      req.ShippingAddress.Phone,
		},
		Items: items,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, map[string]any{
		"order_id": order.ID,
		"order":    buildOrderPayload(order),
	})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeUnavailable(ctx, w, "order")
		return
	}
	identity, ok := currentIdentity(r)
	if !ok {
		writeUnauthenticated(ctx, w)
		return
	}
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}

	order, err := h.orders.Get(ctx, orderID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	if !identity.CanAccess(order.UserID) {
		writeServiceError(ctx, w, services.ErrOrderNotFound)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) openGatewaySession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeUnavailable(ctx, w, "order")
		return
	}
	identity, ok := currentIdentity(r)
	if !ok {
		writeUnauthenticated(ctx, w)
		return
	}
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}

	var req gatewaySessionRequest
	if errResp := httpx.DecodeJSON(w, r, maxOrderBodySize, &req); errResp != nil {
		httpx.WriteError(ctx, w, *errResp)
		return
	}
	if req.Amount == nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "amount is required", http.StatusBadRequest))
		return
	}

	session, err := h.orders.OpenGatewaySession(ctx, services.OpenGatewaySessionCommand{
		OrderID: orderID,
		UserID:  identity.UID,
		Amount:  *req.Amount,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{
		"gateway_order_ref": session.GatewayOrderRef,
		"client_key":        session.ClientKey,
	})
}

func (h *OrderHandlers) confirmPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.reconciler == nil {
		writeUnavailable(ctx, w, "payment")
		return
	}
	identity, ok := currentIdentity(r)
	if !ok {
		writeUnauthenticated(ctx, w)
		return
	}
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}

	var req confirmPaymentRequest
	if errResp := httpx.DecodeJSON(w, r, maxOrderBodySize, &req); errResp != nil {
		httpx.WriteError(ctx, w, *errResp)
		return
	}

	cmd := services.ClientConfirmCommand{
		OrderID:           orderID,
		UserID:            identity.UID,
		GatewayPaymentRef: req.GatewayPaymentRef,
	}
	var (
		result   services.ReconcileResult
		attempts int
	)
	err := retry.Do(ctx, h.confirmRetry, func(ctx context.Context) error {
		attempts++
		var callErr error
		result, callErr = h.reconciler.ClientConfirm(ctx, cmd)
		return callErr
	})
	if err != nil {
		if attempts > 1 {
			requestctx.Logger(ctx).Warn("client confirmation failed after retries",
				zap.String("order_id", orderID),
				zap.Int("attempts", attempts),
				zap.Error(err))
		}
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{
		"order_id":       result.Order.ID,
		"status":         string(result.Order.Status),
		"payment_status": string(result.Order.Payment.Status),
		"outcome":        string(result.Outcome),
	})
}

func (h *OrderHandlers) updateStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.machine == nil {
		writeUnavailable(ctx, w, "order")
		return
	}
	identity, ok := currentIdentity(r)
	if !ok {
		writeUnauthenticated(ctx, w)
		return
	}
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}

	var req updateStatusRequest
	if errResp := httpx.DecodeJSON(w, r, maxOrderBodySize, &req); errResp != nil {
		httpx.WriteError(ctx, w, *errResp)
		return
	}
	target, known := domain.ParseOrderStatus(req.Status)
	if !known {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status must be a valid order status", http.StatusBadRequest))
		return
	}
	cmd := services.TransitionCommand{
		OrderID: orderID,
		Target:  target,
		ActorID: identity.UID,
	}
	if raw := strings.TrimSpace(req.ExpectedStatus); raw != "" {
		expected, known := domain.ParseOrderStatus(raw)
		if !known {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "expected_status must be a valid order status", http.StatusBadRequest))
			return
		}
		cmd.ExpectedStatus = &expected
	}
	if req.Tracking != nil {
		cmd.Tracking = &services.Tracking{
			Carrier:    req.Tracking.Carrier,
			TrackingID: req.Tracking.TrackingID,
			URL:        req.Tracking.URL,
		}
	}

	order, err := h.machine.Transition(ctx, cmd)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func currentIdentity(r *http.Request) (*auth.Identity, bool) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok || strings.TrimSpace(identity.UID) == "" {
		return nil, false
	}
	return identity, true
}

func orderIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return "", false
	}
	return orderID, true
}

// requireStaff rejects identities without the staff or admin role.
func requireStaff(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := currentIdentity(r)
		if !ok {
			writeUnauthenticated(r.Context(), w)
			return
		}
		if !identity.IsStaff() {
			httpx.WriteError(r.Context(), w, httpx.NewError("forbidden", "staff role required", http.StatusForbidden))
			return
		}
		next.ServeHTTP(w, r)
	})
}
