package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/pitchforge/backend/internal/contextkeys"
	"github.com/pitchforge/backend/internal/domain"
	"github.com/rs/zerolog/log"
)

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			log.Error().Err(err).Msg("Failed to encode JSON response")
		}
	}
}

// Error writes an error JSON response, using AppError status codes when available.
func Error(w http.ResponseWriter, err error) {
	var quota *domain.QuotaExceededError
	if errors.As(err, &quota) {
		QuotaExceeded(w, quota.Usage)
		return
	}
	if appErr, ok := domain.AsAppError(err); ok {
		if appErr.Code >= http.StatusInternalServerError {
			log.Error().Err(err).Int("status", appErr.Code).Msg("Request failed")
		}
		JSON(w, appErr.Code, map[string]string{"error": appErr.Message})
		return
	}
	log.Error().Err(err).Msg("Unhandled error")
	JSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
}

// QuotaExceeded writes the 429 limit-reached response.
func QuotaExceeded(w http.ResponseWriter, usage *domain.UsageSnapshot) {
	JSON(w, http.StatusTooManyRequests, map[string]interface{}{
		"error": "daily generation limit reached",
		"code":  "limit_reached",
		"usage": usage,
	})
}

// DecodeJSON decodes a JSON request body into the given struct.
func DecodeJSON(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return domain.ErrBadRequest("invalid JSON body")
	}
	return nil
}

func userFromContext(r *http.Request) (string, bool) {
	userID, ok := r.Context().Value(contextkeys.UserID).(string)
	return userID, ok && userID != ""
}
