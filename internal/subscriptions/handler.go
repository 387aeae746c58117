package subscriptions

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/greenleaf/storefront/internal/api"
	"github.com/greenleaf/storefront/internal/auth"
	"github.com/greenleaf/storefront/internal/catalog"
	"github.com/greenleaf/storefront/internal/domain"
)

type Handler struct {
	repo    *Repository
	catalog *catalog.Repository
	logger  *slog.Logger
}

func NewHandler(repo *Repository, catalog *catalog.Repository, logger *slog.Logger) *Handler {
	return &Handler{repo: repo, catalog: catalog, logger: logger}
}

type createRequest struct {
	Frequency domain.SubscriptionFrequency `json:"frequency"`
	Items     []domain.SubscriptionItem    `json:"items"`
}

func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFrom(r.Context())

	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, api.CodeValidation, "invalid request body")
		return
	}
	if !ValidFrequency(req.Frequency) {
		api.Error(w, http.StatusBadRequest, api.CodeValidation, "invalid frequency")
		return
	}
	if len(req.Items) == 0 {
		api.Error(w, http.StatusBadRequest, api.CodeValidation, "subscription must contain at least one item")
		return
	}
	for _, item := range req.Items {
		if item.Quantity <= 0 {
			api.Error(w, http.StatusBadRequest, api.CodeValidation, "item quantity must be positive")
			return
		}
		product, err := h.catalog.GetProduct(r.Context(), item.ProductID)
		if err != nil {
			h.logger.Error("failed to load product", "error", err, "product_id", item.ProductID)
			api.Internal(w)
			return
		}
		if product == nil || !product.Active {
			api.ErrorDetails(w, http.StatusBadRequest, api.CodeValidation, "unknown product",
				map[string]any{"productId": item.ProductID})
			return
		}
	}

	now := time.Now().UTC()
	sub := &domain.Subscription{
		UserID:           user.ID,
		Frequency:        req.Frequency,
		Status:           domain.SubscriptionStatusActive,
		DiscountPercent:  DiscountForFrequency(req.Frequency),
		NextDeliveryDate: NextDeliveryDate(req.Frequency, now),
		Items:            req.Items,
		CreatedAt:        now,
	}

	if err := h.repo.Create(r.Context(), sub); err != nil {
		h.logger.Error("failed to create subscription", "error", err, "user_id", user.ID)
		api.Internal(w)
		return
	}

	h.logger.Info("subscription created",
		"subscription_id", sub.ID, "user_id", user.ID, "frequency", sub.Frequency)
	api.JSON(w, http.StatusCreated, sub)
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFrom(r.Context())

	subs, err := h.repo.ListByUser(r.Context(), user.ID)
	if err != nil {
		h.logger.Error("failed to list subscriptions", "error", err, "user_id", user.ID)
		api.Internal(w)
		return
	}

	api.JSON(w, http.StatusOK, subs)
}

// load fetches the subscription and enforces ownership; it writes the error
// response and returns nil when the caller should stop.
func (h *Handler) load(w http.ResponseWriter, r *http.Request) *domain.Subscription {
	user, _ := auth.UserFrom(r.Context())
	id := chi.URLParam(r, "id")

	sub, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to get subscription", "error", err, "subscription_id", id)
		api.Internal(w)
		return nil
	}
	if sub == nil || sub.UserID != user.ID {
		api.Error(w, http.StatusNotFound, api.CodeNotFound, "subscription not found")
		return nil
	}
	return sub
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	if sub := h.load(w, r); sub != nil {
		api.JSON(w, http.StatusOK, sub)
	}
}

type patchRequest struct {
	Frequency domain.SubscriptionFrequency `json:"frequency,omitempty"`
	Status    domain.SubscriptionStatus    `json:"status,omitempty"`
}

// HandlePatch supports frequency changes and pause/resume. Everything is
// blocked once the subscription is cancelled.
func (h *Handler) HandlePatch(w http.ResponseWriter, r *http.Request) {
	sub := h.load(w, r)
	if sub == nil {
		return
	}
	if !CanModify(sub.Status) {
		api.Error(w, http.StatusConflict, api.CodeConflict, "subscription is cancelled")
		return
	}

	var req patchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, api.CodeValidation, "invalid request body")
		return
	}

	if req.Frequency != "" {
		if !ValidFrequency(req.Frequency) {
			api.Error(w, http.StatusBadRequest, api.CodeValidation, "invalid frequency")
			return
		}
		// A frequency change reschedules from today and reprices the
		// per-item discount.
		next := NextDeliveryDate(req.Frequency, time.Now().UTC())
		if _, err := h.repo.SetSchedule(r.Context(), sub.ID, req.Frequency, DiscountForFrequency(req.Frequency), next); err != nil {
			h.logger.Error("failed to update schedule", "error", err, "subscription_id", sub.ID)
			api.Internal(w)
			return
		}
	}

	if req.Status != "" {
		switch req.Status {
		case domain.SubscriptionStatusPaused:
			if _, err := h.repo.SetStatus(r.Context(), sub.ID, req.Status); err != nil {
				h.logger.Error("failed to pause subscription", "error", err, "subscription_id", sub.ID)
				api.Internal(w)
				return
			}
		case domain.SubscriptionStatusActive:
			// Resuming reschedules from today; the paused date is stale.
			freq := sub.Frequency
			if req.Frequency != "" {
				freq = req.Frequency
			}
			if _, err := h.repo.SetStatus(r.Context(), sub.ID, req.Status); err != nil {
				h.logger.Error("failed to resume subscription", "error", err, "subscription_id", sub.ID)
				api.Internal(w)
				return
			}
			if _, err := h.repo.SetNextDelivery(r.Context(), sub.ID, NextDeliveryDate(freq, time.Now().UTC())); err != nil {
				h.logger.Error("failed to reschedule subscription", "error", err, "subscription_id", sub.ID)
				api.Internal(w)
				return
			}
		default:
			api.Error(w, http.StatusBadRequest, api.CodeValidation, "status must be active or paused")
			return
		}
	}

	updated, err := h.repo.GetByID(r.Context(), sub.ID)
	if err != nil {
		h.logger.Error("failed to reload subscription", "error", err, "subscription_id", sub.ID)
		api.Internal(w)
		return
	}

	h.logger.Info("subscription updated", "subscription_id", sub.ID)
	api.JSON(w, http.StatusOK, updated)
}

func (h *Handler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	sub := h.load(w, r)
	if sub == nil {
		return
	}
	if !CanModify(sub.Status) {
		api.Error(w, http.StatusConflict, api.CodeConflict, "subscription is cancelled")
		return
	}

	if _, err := h.repo.Cancel(r.Context(), sub.ID); err != nil {
		h.logger.Error("failed to cancel subscription", "error", err, "subscription_id", sub.ID)
		api.Internal(w)
		return
	}

	h.logger.Info("subscription cancelled", "subscription_id", sub.ID)
	api.JSON(w, http.StatusOK, map[string]string{"status": string(domain.SubscriptionStatusCancelled)})
}

// HandleSkip pushes the next delivery forward by one period.
func (h *Handler) HandleSkip(w http.ResponseWriter, r *http.Request) {
	sub := h.load(w, r)
	if sub == nil {
		return
	}
	if !CanModify(sub.Status) {
		api.Error(w, http.StatusConflict, api.CodeConflict, "subscription is cancelled")
		return
	}

	next := NextDeliveryDate(sub.Frequency, sub.NextDeliveryDate)
	if _, err := h.repo.SetNextDelivery(r.Context(), sub.ID, next); err != nil {
		h.logger.Error("failed to skip delivery", "error", err, "subscription_id", sub.ID)
		api.Internal(w)
		return
	}

	h.logger.Info("delivery skipped", "subscription_id", sub.ID, "next_delivery", next)
	api.JSON(w, http.StatusOK, map[string]any{"next_delivery_date": next})
}
