package handlers

import (
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/services"
)

func TestNewRouter_DefaultMounts(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	healthHandlers := NewHealthHandlers(
		WithHealthSystemService(&stubSystemService{
			report: services.SystemHealthReport{
				Status:      domain.HealthStatusOK,
				Uptime:      5 * time.Second,
				GeneratedAt: now,
				Checks: map[string]domain.SystemHealthCheck{
					"firestore": {Status: domain.HealthStatusOK},
				},
			},
		}),
		WithHealthClock(func() time.Time { return now }),
	)

	router := NewRouter(WithHealthHandlers(healthHandlers))

	t.Run("healthz", func(t *testing.T) {
		rr := doRequest(t, router, http.MethodGet, "/healthz", "")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
			t.Fatalf("expected content-type application/json, got %s", ct)
		}
	})

	t.Run("readyz", func(t *testing.T) {
		rr := doRequest(t, router, http.MethodGet, "/readyz", "")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
	})

	t.Run("default not implemented group", func(t *testing.T) {
		rr := doRequest(t, router, http.MethodGet, "/orders/ord_1", "")
		if rr.Code != http.StatusNotImplemented {
			t.Fatalf("expected status 501, got %d", rr.Code)
		}
		if code := errorCode(t, rr); code != "not_implemented" {
			t.Fatalf("expected not_implemented, got %s", code)
		}
	})

	t.Run("unknown route", func(t *testing.T) {
		rr := doRequest(t, router, http.MethodGet, "/nope", "")
		if rr.Code != http.StatusNotFound {
			t.Fatalf("expected status 404, got %d", rr.Code)
		}
		if code := errorCode(t, rr); code != errorNotFoundCode {
			t.Fatalf("expected %s, got %s", errorNotFoundCode, code)
		}
	})

	t.Run("metrics absent by default", func(t *testing.T) {
		rr := doRequest(t, router, http.MethodGet, "/metrics", "")
		if rr.Code != http.StatusNotFound {
			t.Fatalf("expected status 404, got %d", rr.Code)
		}
	})
}

func TestNewRouter_BasePathAndSharedOrderGroup(t *testing.T) {
	var seen []string
	record := func(name string) RouteRegistrar {
		return func(r chi.Router) {
			r.Get("/"+name, func(w http.ResponseWriter, req *http.Request) {
				seen = append(seen, name)
				w.WriteHeader(http.StatusNoContent)
			})
		}
	}
	router := NewRouter(
		WithBasePath("/api/v1"),
		WithOrderRoutes(record("a")),
		WithOrderRoutes(record("b")),
	)

	for _, path := range []string{"/api/v1/orders/a", "/api/v1/orders/b"} {
		if rr := doRequest(t, router, http.MethodGet, path, ""); rr.Code != http.StatusNoContent {
			t.Fatalf("%s: expected 204, got %d", path, rr.Code)
		}
	}
	if strings.Join(seen, ",") != "a,b" {
		t.Fatalf("expected both registrars to serve, got %v", seen)
	}
}

func TestNewRouter_MetricsHandler(t *testing.T) {
	metricsHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "orders_up 1\n")
	})
	router := NewRouter(WithMetricsHandler(metricsHandler))

	rr := doRequest(t, router, http.MethodGet, "/metrics", "")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "orders_up") {
		t.Fatalf("expected metrics output, got %d %q", rr.Code, rr.Body.String())
	}
}

func TestNewRouter_GroupMiddlewareRunsBeforeHandlers(t *testing.T) {
	var order []string
	mw := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			order = append(order, "middleware")
			next.ServeHTTP(w, r)
		})
	}
	router := NewRouter(
		WithWebhookMiddlewares(mw),
		WithWebhookRoutes(func(r chi.Router) {
			r.Post("/payment", func(w http.ResponseWriter, req *http.Request) {
				order = append(order, "handler")
				w.WriteHeader(http.StatusOK)
			})
		}),
	)

	_ = doRequest(t, router, http.MethodPost, "/webhooks/payment", "")
	if strings.Join(order, ",") != "middleware,handler" {
		t.Fatalf("unexpected order %v", order)
	}
}
