package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/hanko-field/orders/internal/services"
)

func webhookRouter(reconciler services.PaymentReconciler) http.Handler {
	return NewRouter(WithWebhookRoutes(NewWebhookHandlers(reconciler, WithSignatureHeader("X-Test-Signature")).Routes))
}

func TestWebhookForwardsBodyAndSignature(t *testing.T) {
	var captured services.WebhookConfirmCommand
	reconciler := &stubReconciler{
		webhookFn: func(_ context.Context, cmd services.WebhookConfirmCommand) (services.ReconcileResult, error) {
			captured = cmd
			return services.ReconcileResult{Outcome: services.ReconcileApplied}, nil
		},
	}

	req := newJSONRequest(http.MethodPost, "/webhooks/payment", `{"event":"payment.captured"}`)
	req.Header.Set("X-Test-Signature", "sha256=abc")
	rr := serve(webhookRouter(reconciler), req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if string(captured.Payload) != `{"event":"payment.captured"}` || captured.Signature != "sha256=abc" {
		t.Fatalf("unexpected command %+v", captured)
	}
	if got := decodeBody(t, rr)["status"]; got != "applied" {
		t.Fatalf("expected applied, got %v", got)
	}
}

func TestWebhookStatusMapping(t *testing.T) {
	cases := map[string]struct {
		err    error
		status int
		body   string
	}{
		"bad signature":   {services.ErrInvalidSignature, http.StatusBadRequest, "invalid_signature"},
		"store down":      {services.ErrRepositoryUnavailable, http.StatusServiceUnavailable, "unavailable"},
		"amount mismatch": {services.ErrPaymentAmountMismatch, http.StatusOK, "amount_mismatch"},
		"not payable":     {fmt.Errorf("%w: order cancelled", services.ErrOrderNotPayable), http.StatusOK, "order_not_payable"},
		"unknown order":   {services.ErrOrderNotFound, http.StatusOK, "order_not_found"},
		"malformed":       {services.ErrWebhookMalformed, http.StatusOK, "invalid_request"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			reconciler := &stubReconciler{
				webhookFn: func(context.Context, services.WebhookConfirmCommand) (services.ReconcileResult, error) {
					return services.ReconcileResult{}, tc.err
				},
			}
			rr := doRequest(t, webhookRouter(reconciler), http.MethodPost, "/webhooks/payment", `{}`)
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rr.Code)
			}
			body := decodeBody(t, rr)
			if tc.status == http.StatusOK {
				if body["status"] != "ignored" || body["reason"] != tc.body {
					t.Fatalf("expected ignored/%s, got %v", tc.body, body)
				}
				return
			}
			if body["error"] != tc.body {
				t.Fatalf("expected error %s, got %v", tc.body, body)
			}
		})
	}
}

func TestWebhookReplayAcknowledged(t *testing.T) {
	reconciler := &stubReconciler{
		webhookFn: func(context.Context, services.WebhookConfirmCommand) (services.ReconcileResult, error) {
			return services.ReconcileResult{Outcome: services.ReconcileReplayed}, nil
		},
	}
	rr := doRequest(t, webhookRouter(reconciler), http.MethodPost, "/webhooks/payment", `{}`)
	if rr.Code != http.StatusOK || decodeBody(t, rr)["status"] != "replayed" {
		t.Fatalf("expected 200 replayed, got %d %s", rr.Code, rr.Body.String())
	}
}

func TestWebhookOversizedBodyRejected(t *testing.T) {
	called := false
	reconciler := &stubReconciler{
		webhookFn: func(context.Context, services.WebhookConfirmCommand) (services.ReconcileResult, error) {
			called = true
			return services.ReconcileResult{Outcome: services.ReconcileApplied}, nil
		},
	}
	body := `{"event":"payment.captured","pad":"` + strings.Repeat("x", maxWebhookBodySize) + `"}`
	req := newJSONRequest(http.MethodPost, "/webhooks/payment", body)
	req.Header.Set("X-Test-Signature", "sha256=abc")
	rr := serve(webhookRouter(reconciler), req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if got := decodeBody(t, rr)["error"]; got != "invalid_request" {
		t.Fatalf("expected invalid_request, got %v", got)
	}
	if called {
		t.Fatalf("oversized body must not reach the reconciler")
	}
}
