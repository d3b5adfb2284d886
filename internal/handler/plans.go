package handler

import (
	"net/http"

	"github.com/pitchforge/backend/internal/domain"
)

// PlansHandler handles plan-related endpoints.
type PlansHandler struct {
	limits domain.DailyLimits
}

// NewPlansHandler creates a new PlansHandler.
func NewPlansHandler(limits domain.DailyLimits) *PlansHandler {
	return &PlansHandler{limits: limits}
}

// List handles GET /api/plans.
func (h *PlansHandler) List(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, domain.AvailablePlans(h.limits))
}
