package referrals

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/greenleaf/storefront/internal/api"
	"github.com/greenleaf/storefront/internal/auth"
	"github.com/greenleaf/storefront/internal/domain"
)

type Handler struct {
	repo    *Repository
	service *Service
	logger  *slog.Logger
}

func NewHandler(repo *Repository, service *Service, logger *slog.Logger) *Handler {
	return &Handler{repo: repo, service: service, logger: logger}
}

// HandleGetCode returns the caller's share code, minting it on first use.
func (h *Handler) HandleGetCode(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFrom(r.Context())

	code, err := h.repo.GetOrCreateCode(r.Context(), user.ID)
	if err != nil {
		h.logger.Error("failed to get referral code", "error", err, "user_id", user.ID)
		api.Internal(w)
		return
	}

	api.JSON(w, http.StatusOK, map[string]any{
		"code":             code,
		"discount_percent": ReferralDiscountPercent,
	})
}

type validateRequest struct {
	Code string `json:"code"`
}

// HandleValidate checks a code for the storefront. Works for anonymous
// callers; authenticated callers additionally get the self-referral check.
func (h *Handler) HandleValidate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Code == "" {
		api.Error(w, http.StatusBadRequest, api.CodeValidation, "code is required")
		return
	}

	var userID string
	if user, ok := auth.UserFrom(r.Context()); ok {
		userID = user.ID
	}

	valid, discount, err := h.service.ValidateCode(r.Context(), req.Code, userID)
	if err != nil {
		h.logger.Error("failed to validate referral code", "error", err)
		api.Internal(w)
		return
	}

	if !valid {
		api.JSON(w, http.StatusOK, map[string]any{"valid": false, "error": "invalid referral code"})
		return
	}
	api.JSON(w, http.StatusOK, map[string]any{"valid": true, "discount_percent": discount})
}

type applyRequest struct {
	Code        string `json:"code"`
	RefereeName string `json:"referee_name,omitempty"`
}

func (h *Handler) HandleApply(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFrom(r.Context())

	var req applyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Code == "" {
		api.Error(w, http.StatusBadRequest, api.CodeValidation, "code is required")
		return
	}
	name := req.RefereeName
	if name == "" {
		name = user.Name
	}

	ref, err := h.repo.Apply(r.Context(), req.Code, user.ID, name)
	if err != nil {
		switch {
		case errors.Is(err, ErrCodeNotFound):
			api.Error(w, http.StatusNotFound, api.CodeNotFound, "referral code not found")
		case errors.Is(err, ErrSelfReferral):
			api.Error(w, http.StatusBadRequest, api.CodeValidation, "cannot use your own referral code")
		case errors.Is(err, ErrAlreadyReferred):
			api.Error(w, http.StatusConflict, api.CodeConflict, "a referral has already been applied to this account")
		default:
			h.logger.Error("failed to apply referral code", "error", err, "user_id", user.ID)
			api.Internal(w)
		}
		return
	}

	h.logger.Info("referral applied",
		"referral_id", ref.ID, "referrer_id", ref.ReferrerID, "referee_id", user.ID)
	api.JSON(w, http.StatusCreated, ref)
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFrom(r.Context())

	refs, err := h.repo.ListByReferrer(r.Context(), user.ID)
	if err != nil {
		h.logger.Error("failed to list referrals", "error", err, "user_id", user.ID)
		api.Internal(w)
		return
	}
	if refs == nil {
		refs = []domain.Referral{}
	}

	api.JSON(w, http.StatusOK, refs)
}
