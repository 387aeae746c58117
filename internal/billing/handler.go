package billing

import (
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/greenleaf/storefront/internal/api"
)

const providerName = "stripe"

// maxPayloadBytes caps webhook bodies; provider events are small.
const maxPayloadBytes = 1 << 20

type Handler struct {
	secret    string
	repo      *Repository
	processor *Processor
	logger    *slog.Logger
	events    metric.Int64Counter
}

func NewHandler(secret string, repo *Repository, processor *Processor, logger *slog.Logger) *Handler {
	meter := otel.Meter("billing/webhook")
	events, err := meter.Int64Counter("webhook.events",
		metric.WithDescription("Payment provider webhook deliveries by type and outcome"))
	if err != nil {
		logger.Warn("failed to create webhook counter", slog.Any("error", err))
	}

	return &Handler{
		secret:    secret,
		repo:      repo,
		processor: processor,
		logger:    logger,
		events:    events,
	}
}

func (h *Handler) count(r *http.Request, eventType, outcome string) {
	if h.events == nil {
		return
	}
	h.events.Add(r.Context(), 1, metric.WithAttributes(
		attribute.String("event.type", eventType),
		attribute.String("outcome", outcome),
	))
}

// HandleWebhook verifies, deduplicates, and processes one provider
// delivery. Replays of an already-handled event return 200 without side
// effects. Processing failures release the dedup claim and return 500 so
// the provider redelivers.
func (h *Handler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes))
	if err != nil {
		api.Error(w, http.StatusBadRequest, api.CodeValidation, "failed to read request body")
		return
	}

	sig := r.Header.Get("Stripe-Signature")
	if err := VerifySignature(payload, sig, h.secret, time.Now()); err != nil {
		h.logger.Warn("webhook signature verification failed", slog.Any("error", err))
		h.count(r, "unknown", "signature_invalid")
		api.Error(w, http.StatusBadRequest, api.CodeWebhookSignature, "webhook signature verification failed")
		return
	}

	event, err := ParseEvent(payload)
	if err != nil {
		h.logger.Warn("malformed webhook payload", slog.Any("error", err))
		h.count(r, "unknown", "malformed")
		api.Error(w, http.StatusBadRequest, api.CodeValidation, "malformed webhook payload")
		return
	}

	claimed, err := h.repo.MarkProcessed(r.Context(), providerName, event.ID)
	if err != nil {
		h.logger.Error("failed to record webhook event", slog.Any("error", err),
			slog.String("event_id", event.ID))
		h.count(r, event.Type, "error")
		api.Internal(w)
		return
	}
	if !claimed {
		h.logger.Info("webhook event already processed",
			slog.String("event_id", event.ID), slog.String("event_type", event.Type))
		h.count(r, event.Type, "duplicate")
		api.JSON(w, http.StatusOK, map[string]string{"status": "already_processed"})
		return
	}

	if err := h.processor.Process(r.Context(), event); err != nil {
		h.logger.Error("failed to process webhook event", slog.Any("error", err),
			slog.String("event_id", event.ID), slog.String("event_type", event.Type))

		// Release the claim so the provider's retry is not ignored.
		if unmarkErr := h.repo.Unmark(r.Context(), providerName, event.ID); unmarkErr != nil {
			h.logger.Error("failed to release webhook event claim", slog.Any("error", unmarkErr),
				slog.String("event_id", event.ID))
		}

		h.count(r, event.Type, "error")
		api.Internal(w)
		return
	}

	h.count(r, event.Type, "processed")
	api.JSON(w, http.StatusOK, map[string]string{"status": "processed"})
}
