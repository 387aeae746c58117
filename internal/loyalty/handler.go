package loyalty

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/greenleaf/storefront/internal/api"
	"github.com/greenleaf/storefront/internal/auth"
	"github.com/greenleaf/storefront/internal/domain"
	"github.com/greenleaf/storefront/internal/referrals"
)

// ReferralRewarder issues the referrer's points for a completed referral
// and moves it to its terminal rewarded state. Implemented by the referrals
// service.
type ReferralRewarder interface {
	RewardFor(ctx context.Context, userID, referralID string) (int, error)
}

type Handler struct {
	engine   *Engine
	rewarder ReferralRewarder
	logger   *slog.Logger
}

func NewHandler(engine *Engine, rewarder ReferralRewarder, logger *slog.Logger) *Handler {
	return &Handler{engine: engine, rewarder: rewarder, logger: logger}
}

func (h *Handler) HandleSummary(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFrom(r.Context())

	balance, err := h.engine.Balance(r.Context(), user.ID)
	if err != nil {
		h.logger.Error("failed to derive balance", "error", err, "user_id", user.ID)
		api.Internal(w)
		return
	}

	api.JSON(w, http.StatusOK, map[string]any{
		"available_points":   balance,
		"max_discount_cents": DiscountCents(balance),
	})
}

func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFrom(r.Context())

	page := queryInt(r, "page", 1)
	perPage := queryInt(r, "per_page", 20)
	if perPage > 100 {
		perPage = 100
	}

	txns, total, err := h.engine.History(r.Context(), user.ID, page, perPage)
	if err != nil {
		h.logger.Error("failed to load point history", "error", err, "user_id", user.ID)
		api.Internal(w)
		return
	}
	if txns == nil {
		txns = []domain.PointTransaction{}
	}

	api.Paginated(w, http.StatusOK, txns, api.Meta{Page: page, PerPage: perPage, Total: total})
}

type earnRequest struct {
	Source     domain.PointSource `json:"source"`
	UserID     string             `json:"user_id,omitempty"`
	OrderID    string             `json:"order_id,omitempty"`
	ReviewID   string             `json:"review_id,omitempty"`
	ReferralID string             `json:"referral_id,omitempty"`
}

// HandleEarn is the manual award path. Purchase awards are admin-only;
// every other source is self-service but validated against a real, owned
// source record.
func (h *Handler) HandleEarn(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFrom(r.Context())

	var req earnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, api.CodeValidation, "invalid request body")
		return
	}

	var awarded int
	var err error

	switch req.Source {
	case domain.PointSourcePurchase:
		if user.Role != domain.RoleAdmin {
			api.Error(w, http.StatusForbidden, api.CodeAuthorization, "purchase awards require admin role")
			return
		}
		if req.UserID == "" || req.OrderID == "" {
			api.Error(w, http.StatusBadRequest, api.CodeValidation, "user_id and order_id are required")
			return
		}
		total, owned, verr := h.engine.VerifyOrderOwnership(r.Context(), req.OrderID, req.UserID)
		if verr != nil {
			h.logger.Error("failed to verify order", "error", verr, "order_id", req.OrderID)
			api.Internal(w)
			return
		}
		if !owned {
			api.Error(w, http.StatusNotFound, api.CodeNotFound, "order not found for user")
			return
		}
		awarded, err = h.engine.AwardPurchasePoints(r.Context(), req.UserID, req.OrderID, total)

	case domain.PointSourceReview:
		if req.ReviewID == "" {
			api.Error(w, http.StatusBadRequest, api.CodeValidation, "review_id is required")
			return
		}
		owned, verr := h.engine.VerifyReviewOwnership(r.Context(), req.ReviewID, user.ID)
		if verr != nil {
			h.logger.Error("failed to verify review", "error", verr, "review_id", req.ReviewID)
			api.Internal(w)
			return
		}
		if !owned {
			api.Error(w, http.StatusNotFound, api.CodeNotFound, "review not found for user")
			return
		}
		err = h.engine.AwardReviewPoints(r.Context(), user.ID, req.ReviewID)
		awarded = ReviewPoints

	case domain.PointSourceReferral:
		if req.ReferralID == "" {
			api.Error(w, http.StatusBadRequest, api.CodeValidation, "referral_id is required")
			return
		}
		awarded, err = h.rewarder.RewardFor(r.Context(), user.ID, req.ReferralID)

	case domain.PointSourceSignup:
		err = h.engine.AwardSignupBonus(r.Context(), user.ID)
		awarded = SignupBonusPoints

	default:
		api.Error(w, http.StatusBadRequest, api.CodeValidation, "unknown point source")
		return
	}

	if err != nil {
		switch {
		case errors.Is(err, ErrAlreadyAwarded):
			api.Error(w, http.StatusConflict, api.CodeConflict, "points already awarded for this source")
		case errors.Is(err, referrals.ErrNotRewardable):
			api.Error(w, http.StatusConflict, api.CodeConflict, "referral is not in a rewardable state")
		case errors.Is(err, referrals.ErrCodeNotFound):
			api.Error(w, http.StatusNotFound, api.CodeNotFound, "referral not found for user")
		default:
			h.logger.Error("failed to award points", "error", err, "source", req.Source, "user_id", user.ID)
			api.Internal(w)
		}
		return
	}

	api.JSON(w, http.StatusOK, map[string]any{"points_awarded": awarded})
}

func (h *Handler) HandleRedeemPreview(w http.ResponseWriter, r *http.Request) {
	h.HandleSummary(w, r)
}

type redeemRequest struct {
	Points  int    `json:"points"`
	OrderID string `json:"order_id,omitempty"`
}

func (h *Handler) HandleRedeem(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFrom(r.Context())

	var req redeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, api.CodeValidation, "invalid request body")
		return
	}
	if req.Points <= 0 {
		api.Error(w, http.StatusBadRequest, api.CodeValidation, "points must be positive")
		return
	}

	discount, err := h.engine.Redeem(r.Context(), user.ID, req.Points, req.OrderID)
	if err != nil {
		var insufficient *InsufficientPointsError
		if errors.As(err, &insufficient) {
			api.ErrorDetails(w, http.StatusBadRequest, api.CodeInsufficient, "insufficient points",
				map[string]any{"availablePoints": insufficient.Available})
			return
		}
		h.logger.Error("failed to redeem points", "error", err, "user_id", user.ID)
		api.Internal(w)
		return
	}

	balance, err := h.engine.Balance(r.Context(), user.ID)
	if err != nil {
		h.logger.Error("failed to derive balance", "error", err, "user_id", user.ID)
		api.Internal(w)
		return
	}

	api.JSON(w, http.StatusOK, map[string]any{
		"discount_cents":   discount,
		"remaining_points": balance,
	})
}

func queryInt(r *http.Request, name string, fallback int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil || v < 1 {
		return fallback
	}
	return v
}
