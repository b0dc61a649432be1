package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	domain "github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/payments"
	"github.com/hanko-field/orders/internal/platform/auth"
	"github.com/hanko-field/orders/internal/services"
)

var testNow = time.Date(2025, 4, 2, 9, 30, 0, 0, time.UTC)

type stubOrderService struct {
	createFn  func(context.Context, services.CreateOrderCommand) (services.Order, error)
	getFn     func(context.Context, string) (services.Order, error)
	sessionFn func(context.Context, services.OpenGatewaySessionCommand) (payments.Session, error)
}

func (s *stubOrderService) Create(ctx context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
	return s.createFn(ctx, cmd)
}

func (s *stubOrderService) Get(ctx context.Context, orderID string) (services.Order, error) {
	return s.getFn(ctx, orderID)
}

func (s *stubOrderService) OpenGatewaySession(ctx context.Context, cmd services.OpenGatewaySessionCommand) (payments.Session, error) {
	return s.sessionFn(ctx, cmd)
}

type stubStateMachine struct {
	transitionFn func(context.Context, services.TransitionCommand) (services.Order, error)
}

func (s *stubStateMachine) CanTransition(from, to services.OrderStatus) bool { return true }

func (s *stubStateMachine) Get(context.Context, string) (services.Order, error) {
	return services.Order{}, services.ErrOrderNotFound
}

func (s *stubStateMachine) Transition(ctx context.Context, cmd services.TransitionCommand) (services.Order, error) {
	return s.transitionFn(ctx, cmd)
}

func (s *stubStateMachine) Apply(context.Context, services.TransitionCommand) (services.TransitionResult, error) {
	return services.TransitionResult{}, nil
}

func (s *stubStateMachine) Notify(context.Context, services.TransitionResult) {}

type stubReconciler struct {
	clientFn  func(context.Context, services.ClientConfirmCommand) (services.ReconcileResult, error)
	webhookFn func(context.Context, services.WebhookConfirmCommand) (services.ReconcileResult, error)
}

func (s *stubReconciler) ClientConfirm(ctx context.Context, cmd services.ClientConfirmCommand) (services.ReconcileResult, error) {
	return s.clientFn(ctx, cmd)
}

func (s *stubReconciler) WebhookConfirm(ctx context.Context, cmd services.WebhookConfirmCommand) (services.ReconcileResult, error) {
	return s.webhookFn(ctx, cmd)
}

func (s *stubReconciler) SweepConfirm(context.Context, string, payments.PaymentDetails) (services.ReconcileResult, error) {
	return services.ReconcileResult{}, nil
}

type stubWorkflow struct {
	submitFn  func(context.Context, services.SubmitCancellationCommand) (services.CancellationRequest, error)
	respondFn func(context.Context, services.RespondCancellationCommand) (services.CancellationRequest, error)
	listFn    func(context.Context, string, string) ([]services.CancellationRequest, error)
	getFn     func(context.Context, string) (services.CancellationRequest, error)
}

func (s *stubWorkflow) Submit(ctx context.Context, cmd services.SubmitCancellationCommand) (services.CancellationRequest, error) {
	return s.submitFn(ctx, cmd)
}

func (s *stubWorkflow) Respond(ctx context.Context, cmd services.RespondCancellationCommand) (services.CancellationRequest, error) {
	return s.respondFn(ctx, cmd)
}

func (s *stubWorkflow) ListForOrder(ctx context.Context, orderID, userID string) ([]services.CancellationRequest, error) {
	return s.listFn(ctx, orderID, userID)
}

func (s *stubWorkflow) Get(ctx context.Context, requestID string) (services.CancellationRequest, error) {
	return s.getFn(ctx, requestID)
}

type stubSystemService struct {
	report services.SystemHealthReport
	err    error
}

func (s *stubSystemService) HealthReport(context.Context) (services.SystemHealthReport, error) {
	return s.report, s.err
}

func customer(uid string) *auth.Identity {
	return &auth.Identity{UID: uid, Roles: []string{auth.RoleCustomer}}
}

func staff(uid string) *auth.Identity {
	return &auth.Identity{UID: uid, Roles: []string{auth.RoleStaff}}
}

// asIdentity stands in for the Firebase authenticator.
func asIdentity(identity *auth.Identity) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if identity != nil {
				r = r.WithContext(auth.WithIdentity(r.Context(), identity))
			}
			next.ServeHTTP(w, r)
		})
	}
}

func paidOrder(id string) services.Order {
	return services.Order{
		ID:       id,
		UserID:   "user-1",
		Status:   domain.OrderStatusProcessing,
		Currency: "JPY",
		Total:    1000,
		Payment: domain.Payment{
			Method: domain.PaymentMethodGateway,
			Status: domain.PaymentStatusPaid,
		},
		Version:   2,
		CreatedAt: testNow.Add(-time.Hour),
		UpdatedAt: testNow,
	}
}

func doRequest(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response %q: %v", rr.Body.String(), err)
	}
	return body
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	code, _ := decodeBody(t, rr)["error"].(string)
	return code
}

func newJSONRequest(method, path, body string) *http.Request {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}
