package handler

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/pitchforge/backend/internal/domain"
	"github.com/pitchforge/backend/internal/metrics"
	"github.com/pitchforge/backend/internal/service"
	"github.com/pitchforge/backend/pkg/payment"
	"github.com/rs/zerolog/log"
)

const maxWebhookBody = 1 << 20

// WebhookHandler receives signed payment-provider events.
type WebhookHandler struct {
	gateway  payment.Gateway
	ingestor *service.EventIngestor
}

func NewWebhookHandler(gateway payment.Gateway, ingestor *service.EventIngestor) *WebhookHandler {
	return &WebhookHandler{gateway: gateway, ingestor: ingestor}
}

// Handle handles POST /api/payment/webhook. The signature is verified over
// the raw body before anything is decoded. Non-2xx responses other than 400
// make the provider redeliver the event.
func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	eventType := "unknown"
	status := "error"
	defer func() {
		metrics.WebhookRequestsTotal.WithLabelValues(eventType, status).Inc()
		metrics.WebhookDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
	}()

	if r.Method != http.MethodPost {
		JSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		status = "bad_request"
		JSON(w, http.StatusBadRequest, map[string]string{"error": "failed to read body"})
		return
	}

	signature := r.Header.Get(h.gateway.SignatureHeader())
	if signature == "" {
		status = "invalid_signature"
		log.Warn().Str("remote_addr", r.RemoteAddr).Msg("Webhook without signature rejected")
		JSON(w, http.StatusBadRequest, map[string]string{"error": "missing signature"})
		return
	}

	ev, err := h.gateway.ConstructEvent(payload, signature)
	if err != nil {
		status = "invalid_signature"
		if !errors.Is(err, payment.ErrInvalidSignature) {
			status = "bad_request"
		}
		log.Warn().Err(err).Str("remote_addr", r.RemoteAddr).Msg("Webhook rejected")
		JSON(w, http.StatusBadRequest, map[string]string{"error": "invalid signature"})
		return
	}
	if h.ingestor.Handles(ev.Type) {
		eventType = string(ev.Type)
	}

	outcome, err := h.ingestor.Handle(r.Context(), ev)
	if err != nil {
		if domain.IsRetryable(err) {
			log.Error().Err(err).Str("event_id", ev.ID).Str("event_type", string(ev.Type)).Msg("Webhook processing failed")
			JSON(w, http.StatusInternalServerError, map[string]string{"error": "processing failed"})
			return
		}
		status = "bad_request"
		log.Warn().Err(err).Str("event_id", ev.ID).Str("event_type", string(ev.Type)).Msg("Webhook payload rejected")
		JSON(w, http.StatusBadRequest, map[string]string{"error": "malformed event"})
		return
	}

	status = string(outcome)
	JSON(w, http.StatusOK, map[string]bool{"received": true})
}
