package handler

import (
	"net/http"

	"github.com/pitchforge/backend/internal/service"
)

// UsageHandler exposes the daily generation quota.
type UsageHandler struct {
	svc *service.UsageService
}

func NewUsageHandler(svc *service.UsageService) *UsageHandler {
	return &UsageHandler{svc: svc}
}

// Get handles GET /api/usage.
func (h *UsageHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := userFromContext(r)
	if !ok {
		JSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	usage, err := h.svc.GetUsage(r.Context(), userID)
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, usage)
}

// Consume handles POST /api/usage. A generation is only started by the
// caller after this returns 200.
func (h *UsageHandler) Consume(w http.ResponseWriter, r *http.Request) {
	userID, ok := userFromContext(r)
	if !ok {
		JSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	usage, err := h.svc.Consume(r.Context(), userID)
	if err != nil {
		Error(w, err)
		return
	}
	JSON(w, http.StatusOK, usage)
}
