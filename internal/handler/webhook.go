package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/tradersutopia/billingd/internal/ingest"
	"github.com/tradersutopia/billingd/internal/reconcile"

	stripe "github.com/stripe/stripe-go/v82"
)

// maxWebhookBody bounds the webhook request body. Stripe events are far
// smaller than this.
const maxWebhookBody = 262144

// WebhookVerifier checks the provider signature and parses the event.
type WebhookVerifier interface {
	ConstructWebhookEvent(payload []byte, sigHeader string) (stripe.Event, error)
}

// WebhookHandler receives provider webhooks, verifies them, and hands
// them to the ingestor. Response codes drive the provider's retry
// behavior: 2xx stops redelivery, anything else schedules a retry.
type WebhookHandler struct {
	verifier WebhookVerifier
	ingestor *ingest.Ingestor
	logger   *slog.Logger
}

func NewWebhookHandler(verifier WebhookVerifier, ingestor *ingest.Ingestor, logger *slog.Logger) *WebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookHandler{verifier: verifier, ingestor: ingestor, logger: logger}
}

// HandleStripeWebhook handles POST /webhooks/stripe.
func (h *WebhookHandler) HandleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body")
		return
	}

	event, err := h.verifier.ConstructWebhookEvent(body, r.Header.Get("Stripe-Signature"))
	if err != nil {
		h.logger.Warn("webhook signature rejected", "error", err)
		writeError(w, http.StatusBadRequest, "invalid signature")
		return
	}

	ev := ingest.Event{
		ID:         event.ID,
		Type:       string(event.Type),
		OccurredAt: time.Unix(event.Created, 0).UTC(),
		Data:       event.Data.Raw,
	}

	err = h.ingestor.Ingest(r.Context(), ev)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	case errors.Is(err, ingest.ErrEventInFlight):
		// First delivery still in progress; tell the provider to retry.
		writeError(w, http.StatusConflict, "event in flight")
	case reconcile.IsValidation(err):
		// Dropped permanently; 400 so the provider stops retrying a
		// payload we will never accept.
		writeError(w, http.StatusBadRequest, "malformed event payload")
	default:
		h.logger.Error("ingest failed", "event_id", ev.ID, "event_type", ev.Type, "error", err)
		writeError(w, http.StatusInternalServerError, "ingest failed")
	}
}
