package handler

import (
	"net/http"

	"github.com/pitchforge/backend/internal/contextkeys"
	"github.com/pitchforge/backend/internal/domain"
	"github.com/pitchforge/backend/internal/service"
)

type BillingHandler struct {
	billing *service.BillingService
	status  *service.StatusService
}

func NewBillingHandler(billing *service.BillingService, status *service.StatusService) *BillingHandler {
	return &BillingHandler{billing: billing, status: status}
}

// Status handles GET /api/billing/status.
func (h *BillingHandler) Status(w http.ResponseWriter, r *http.Request) {
	userID, ok := userFromContext(r)
	if !ok {
		JSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	view, err := h.status.Status(r.Context(), userID)
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, view)
}

// CreateCheckout handles POST /api/billing/checkout.
func (h *BillingHandler) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	userID, ok := userFromContext(r)
	if !ok {
		JSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	var req domain.CheckoutRequest
	if err := DecodeJSON(r, &req); err != nil {
		Error(w, err)
		return
	}

	email, _ := r.Context().Value(contextkeys.UserEmail).(string)
	resp, err := h.billing.CreateCheckout(r.Context(), userID, email, &req)
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, resp)
}

// CreatePortal handles POST /api/billing/portal.
func (h *BillingHandler) CreatePortal(w http.ResponseWriter, r *http.Request) {
	userID, ok := userFromContext(r)
	if !ok {
		JSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	resp, err := h.billing.CreatePortal(r.Context(), userID)
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, resp)
}

// ListInvoices handles GET /api/billing/invoices.
func (h *BillingHandler) ListInvoices(w http.ResponseWriter, r *http.Request) {
	userID, ok := userFromContext(r)
	if !ok {
		JSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	invoices, err := h.billing.ListInvoices(r.Context(), userID)
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, invoices)
}
