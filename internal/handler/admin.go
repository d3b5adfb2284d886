package handler

import (
	"net/http"

	"github.com/pitchforge/backend/internal/service"
	"github.com/rs/zerolog/log"
)

type AdminHandler struct {
	sweeper *service.Sweeper
}

func NewAdminHandler(sweeper *service.Sweeper) *AdminHandler {
	return &AdminHandler{sweeper: sweeper}
}

// Sweep handles POST /api/admin/sweep and runs one reconciliation pass.
// Per-record failures are logged; the partial result is still returned.
func (h *AdminHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	res, err := h.sweeper.RunOnce(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Manual sweep finished with errors")
		if res == nil || res.Scanned == 0 {
			JSON(w, http.StatusServiceUnavailable, map[string]string{"error": "sweep failed"})
			return
		}
	}
	JSON(w, http.StatusOK, res)
}
