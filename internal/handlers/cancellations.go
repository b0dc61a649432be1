package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/platform/httpx"
	"github.com/hanko-field/orders/internal/services"
)

const maxCancellationBodySize = 8 * 1024

type submitCancellationRequest struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

type respondCancellationRequest struct {
	Decision      string `json:"decision"`
	AdminResponse string `json:"admin_response"`
}

// CancellationHandlers exposes cancellation and exchange request endpoints.
type CancellationHandlers struct {
	workflow services.CancellationWorkflow
}

// NewCancellationHandlers constructs a new CancellationHandlers instance.
func NewCancellationHandlers(workflow services.CancellationWorkflow) *CancellationHandlers {
	return &CancellationHandlers{workflow: workflow}
}

// OrderRoutes registers the request endpoints nested under /orders.
func (h *CancellationHandlers) OrderRoutes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/{orderID}/cancellation-requests", h.submit)
	r.Get("/{orderID}/cancellation-requests", h.listForOrder)
}

// Routes registers the staff /cancellation-requests endpoints.
func (h *CancellationHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Use(requireStaff)
	r.Get("/{requestID}", h.get)
	r.Patch("/{requestID}", h.respond)
}

func (h *CancellationHandlers) submit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.workflow == nil {
		writeUnavailable(ctx, w, "cancellation")
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

	var req submitCancellationRequest
	if errResp := httpx.DecodeJSON(w, r, maxCancellationBodySize, &req); errResp != nil {
		httpx.WriteError(ctx, w, *errResp)
		return
	}
	request, err := h.workflow.Submit(ctx, services.SubmitCancellationCommand{
		OrderID: orderID,
		UserID:  identity.UID,
		Type:    domain.CancellationType(req.Type),
		Reason:  req.Reason,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, map[string]any{"request": buildCancellationPayload(request)})
}

func (h *CancellationHandlers) listForOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.workflow == nil {
		writeUnavailable(ctx, w, "cancellation")
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

	owner := identity.UID
	if identity.IsStaff() {
		owner = ""
	}
	requests, err := h.workflow.ListForOrder(ctx, orderID, owner)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	items := make([]cancellationPayload, 0, len(requests))
	for _, request := range requests {
		items = append(items, buildCancellationPayload(request))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *CancellationHandlers) get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.workflow == nil {
		writeUnavailable(ctx, w, "cancellation")
		return
	}
	requestID, ok := requestIDParam(w, r)
	if !ok {
		return
	}
	request, err := h.workflow.Get(ctx, requestID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"request": buildCancellationPayload(request)})
}

func (h *CancellationHandlers) respond(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.workflow == nil {
		writeUnavailable(ctx, w, "cancellation")
		return
	}
	identity, ok := currentIdentity(r)
	if !ok {
		writeUnauthenticated(ctx, w)
		return
	}
	requestID, ok := requestIDParam(w, r)
	if !ok {
		return
	}

	var req respondCancellationRequest
	if errResp := httpx.DecodeJSON(w, r, maxCancellationBodySize, &req); errResp != nil {
		httpx.WriteError(ctx, w, *errResp)
		return
	}
	request, err := h.workflow.Respond(ctx, services.RespondCancellationCommand{
		RequestID:     requestID,
		Decision:      services.CancellationDecision(req.Decision),
		AdminResponse: req.AdminResponse,
		ActorID:       identity.UID,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"request": buildCancellationPayload(request)})
}

func requestIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	requestID := strings.TrimSpace(chi.URLParam(r, "requestID"))
	if requestID == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "request id is required", http.StatusBadRequest))
		return "", false
	}
	return requestID, true
}
