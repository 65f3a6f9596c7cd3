// Package handler contains the HTTP handlers of the reconciliation service.
package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/wasgeurtje/checkout-reconciler/internal/middleware"
	"github.com/wasgeurtje/checkout-reconciler/internal/model"
	"github.com/wasgeurtje/checkout-reconciler/internal/reconcile"
	"github.com/wasgeurtje/checkout-reconciler/internal/validation"
)

// Service defines the business contract used by the HTTP handlers.
type Service interface {
	SaveDraft(ctx context.Context, sessionID string, d model.OrderDraft, paymentIntentID string) error
	Run(ctx context.Context, sessionID string, params reconcile.RedirectParams) model.ReconciliationResult
}

// Handler implements the HTTP handlers of the reconciliation service.
type Handler struct {
	service           Service
	logger            *zap.Logger
	sessionMiddleware *middleware.SessionMiddleware
}

// NewHandler creates a new HTTP handler instance.
func NewHandler(s Service, logger *zap.Logger, session *middleware.SessionMiddleware) *Handler {
	return &Handler{
		service:           s,
		logger:            logger,
		sessionMiddleware: session,
	}
}

type saveDraftRequest struct {
	Draft           model.OrderDraft `json:"draft"`
	PaymentIntentID string           `json:"paymentIntentId"`
}

// SaveDraft stores the order draft for the caller's session at checkout
// submission time.
func (h *Handler) SaveDraft(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := middleware.GetSessionIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	var req saveDraftRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.SaveDraft(r.Context(), sessionID, req.Draft, req.PaymentIntentID); err != nil {
		if validation.IsValidationError(err) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.logger.Error("save draft error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

type reconcileResponse struct {
	Status      string   `json:"status"`
	OrderID     int64    `json:"orderId,omitempty"`
	OrderNumber string   `json:"orderNumber,omitempty"`
	Error       string   `json:"error,omitempty"`
	PaidAmount  *float64 `json:"paidAmount,omitempty"`
}

// Reconcile runs the reconciliation flow for the redirect parameters and
// returns the terminal result. A failed flow is still HTTP 200: failure is
// a flow outcome, not a transport error.
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := middleware.GetSessionIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	params := reconcile.RedirectParams{
		PaymentIntent:             r.URL.Query().Get("payment_intent"),
		PaymentIntentClientSecret: r.URL.Query().Get("payment_intent_client_secret"),
	}

	result := h.service.Run(r.Context(), sessionID, params)

	resp := reconcileResponse{
		Status:      string(result.Status),
		OrderID:     result.OrderID,
		OrderNumber: result.OrderNumber,
		Error:       result.ErrorMessage,
	}
	if result.PaidAmountCents > 0 {
		amount := float64(result.PaidAmountCents) / 100
		resp.PaidAmount = &amount
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
}
