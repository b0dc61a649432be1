package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hanko-field/orders/internal/platform/httpx"
	"github.com/hanko-field/orders/internal/services"
)

// InternalHandlers exposes maintenance endpoints for scheduled callers.
type InternalHandlers struct {
	sweeper services.PaymentSweeper
}

func NewInternalHandlers(sweeper services.PaymentSweeper) *InternalHandlers {
	return &InternalHandlers{sweeper: sweeper}
}

// Routes registers the /internal endpoints. Callers authenticate the group.
func (h *InternalHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/payments:sweep", h.sweepPayments)
}

func (h *InternalHandlers) sweepPayments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.sweeper == nil {
		writeUnavailable(ctx, w, "sweeper")
		return
	}
	report, err := h.sweeper.Sweep(ctx)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]int{
		"scanned":   report.Scanned,
		"confirmed": report.Confirmed,
		"skipped":   report.Skipped,
		"failed":    report.Failed,
	})
}
