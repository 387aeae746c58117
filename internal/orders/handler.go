package orders

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/greenleaf/storefront/internal/api"
	"github.com/greenleaf/storefront/internal/auth"
	"github.com/greenleaf/storefront/internal/catalog"
	"github.com/greenleaf/storefront/internal/domain"
	"github.com/greenleaf/storefront/internal/loyalty"
)

// PointsRedeemer burns loyalty points against an order and returns the
// discount in cents.
type PointsRedeemer interface {
	Redeem(ctx context.Context, userID string, points int, orderID string) (int64, error)
}

// ReferralValidator checks a referral code for a prospective referee and
// returns the discount percentage it grants.
type ReferralValidator interface {
	ValidateCode(ctx context.Context, code, userID string) (bool, int, error)
}

type Handler struct {
	repo      *Repository
	catalog   *catalog.Repository
	redeemer  PointsRedeemer
	referrals ReferralValidator
	logger    *slog.Logger
}

func NewHandler(repo *Repository, catalog *catalog.Repository, redeemer PointsRedeemer, referrals ReferralValidator, logger *slog.Logger) *Handler {
	return &Handler{repo: repo, catalog: catalog, redeemer: redeemer, referrals: referrals, logger: logger}
}

type checkoutItem struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type checkoutRequest struct {
	Items        []checkoutItem `json:"items"`
	RedeemPoints int            `json:"redeem_points"`
	ReferralCode string         `json:"referral_code"`
}

// HandleCheckout creates a pending order: products are priced from the
// catalog, never from the client, and stock is reserved up front. The order
// turns paid when the billing webhook arrives.
func (h *Handler) HandleCheckout(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFrom(r.Context())

	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, api.CodeValidation, "invalid request body")
		return
	}
	if len(req.Items) == 0 {
		api.Error(w, http.StatusBadRequest, api.CodeValidation, "order must contain at least one item")
		return
	}

	var items []domain.OrderItem
	var total int64
	for _, it := range req.Items {
		if it.Quantity <= 0 {
			api.Error(w, http.StatusBadRequest, api.CodeValidation, "item quantity must be positive")
			return
		}
		product, err := h.catalog.GetProduct(r.Context(), it.ProductID)
		if err != nil {
			h.logger.Error("failed to load product", "error", err, "product_id", it.ProductID)
			api.Internal(w)
			return
		}
		if product == nil || !product.Active {
			api.ErrorDetails(w, http.StatusBadRequest, api.CodeValidation, "unknown product",
				map[string]any{"productId": it.ProductID})
			return
		}
		items = append(items, domain.OrderItem{ProductID: product.ID, Quantity: it.Quantity, Price: product.Price})
		total += int64(it.Quantity) * product.Price
	}

	var discount int64

	if req.ReferralCode != "" {
		valid, percent, err := h.referrals.ValidateCode(r.Context(), req.ReferralCode, user.ID)
		if err != nil {
			h.logger.Error("failed to validate referral code", "error", err, "code", req.ReferralCode)
			api.Internal(w)
			return
		}
		if !valid {
			api.Error(w, http.StatusBadRequest, api.CodeValidation, "referral code is not valid for this account")
			return
		}
		discount += total * int64(percent) / 100
	}

	if req.RedeemPoints < 0 {
		api.Error(w, http.StatusBadRequest, api.CodeValidation, "redeem_points must not be negative")
		return
	}
	if req.RedeemPoints > 0 {
		if loyalty.DiscountCents(req.RedeemPoints)+discount > total {
			api.Error(w, http.StatusBadRequest, api.CodeValidation, "redeemed points exceed the order total")
			return
		}
		discount += loyalty.DiscountCents(req.RedeemPoints)
	}

	// Reserve stock item by item; on failure, release what was taken.
	var reserved []domain.OrderItem
	for _, item := range items {
		if err := h.catalog.Reserve(r.Context(), item.ProductID, item.Quantity); err != nil {
			h.releaseReserved(r, reserved)
			if errors.Is(err, catalog.ErrInsufficientStock) {
				api.ErrorDetails(w, http.StatusConflict, api.CodeConflict, "insufficient stock",
					map[string]any{"productId": item.ProductID})
				return
			}
			h.logger.Error("failed to reserve stock", "error", err, "product_id", item.ProductID)
			api.Internal(w)
			return
		}
		reserved = append(reserved, item)
	}

	order := &domain.Order{
		UserID:         user.ID,
		Items:          items,
		Total:          total - discount,
		Discount:       discount,
		Status:         domain.OrderStatusPending,
		ShippingStatus: domain.ShippingStatusUnshipped,
		CreatedAt:      time.Now().UTC(),
	}

	if err := h.repo.Create(r.Context(), order); err != nil {
		h.releaseReserved(r, reserved)
		h.logger.Error("failed to create order", "error", err)
		api.Internal(w)
		return
	}

	// Points burn atomically against the derived balance; on failure the
	// whole checkout is rolled back.
	if req.RedeemPoints > 0 {
		if _, err := h.redeemer.Redeem(r.Context(), user.ID, req.RedeemPoints, order.ID); err != nil {
			h.releaseReserved(r, reserved)
			if _, cancelErr := h.repo.Transition(r.Context(), order.ID, domain.OrderStatusPending, domain.OrderStatusCancelled); cancelErr != nil {
				h.logger.Error("failed to cancel order after redemption failure", "error", cancelErr, "order_id", order.ID)
			}

			var insufficient *loyalty.InsufficientPointsError
			if errors.As(err, &insufficient) {
				api.ErrorDetails(w, http.StatusBadRequest, api.CodeInsufficient, "not enough points for this redemption",
					map[string]any{
						"availablePoints": insufficient.Available,
						"requestedPoints": insufficient.Requested,
					})
				return
			}
			h.logger.Error("failed to redeem points", "error", err, "order_id", order.ID)
			api.Internal(w)
			return
		}
	}

	h.logger.Info("order created",
		"order_id", order.ID, "user_id", user.ID, "total", order.Total, "discount", discount)
	api.JSON(w, http.StatusCreated, order)
}

func (h *Handler) releaseReserved(r *http.Request, reserved []domain.OrderItem) {
	for _, item := range reserved {
		if err := h.catalog.Release(r.Context(), item.ProductID, item.Quantity); err != nil {
			h.logger.Error("failed to release stock", "error", err, "product_id", item.ProductID)
		}
	}
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFrom(r.Context())

	var list []domain.Order
	var err error
	if user.Role == domain.RoleAdmin {
		list, err = h.repo.ListAll(r.Context())
	} else {
		list, err = h.repo.ListByUser(r.Context(), user.ID)
	}
	if err != nil {
		h.logger.Error("failed to list orders", "error", err, "user_id", user.ID)
		api.Internal(w)
		return
	}

	api.JSON(w, http.StatusOK, list)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFrom(r.Context())
	id := chi.URLParam(r, "id")

	order, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to get order", "error", err, "order_id", id)
		api.Internal(w)
		return
	}
	if order == nil || (order.UserID != user.ID && user.Role != domain.RoleAdmin) {
		api.Error(w, http.StatusNotFound, api.CodeNotFound, "order not found")
		return
	}

	api.JSON(w, http.StatusOK, order)
}

type shippingRequest struct {
	ShippingStatus domain.ShippingStatus `json:"shipping_status"`
}

var validShipping = map[domain.ShippingStatus]bool{
	domain.ShippingStatusUnshipped: true,
	domain.ShippingStatusPreparing: true,
	domain.ShippingStatusShipped:   true,
	domain.ShippingStatusDelivered: true,
}

// HandleUpdateShipping is the admin path for fulfilment updates.
func (h *Handler) HandleUpdateShipping(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req shippingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, api.CodeValidation, "invalid request body")
		return
	}
	if !validShipping[req.ShippingStatus] {
		api.Error(w, http.StatusBadRequest, api.CodeValidation, "invalid shipping status")
		return
	}

	order, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to get order", "error", err, "order_id", id)
		api.Internal(w)
		return
	}
	if order == nil {
		api.Error(w, http.StatusNotFound, api.CodeNotFound, "order not found")
		return
	}
	if order.Status == domain.OrderStatusCancelled {
		api.Error(w, http.StatusConflict, api.CodeConflict, "cancelled orders are immutable")
		return
	}

	updated, err := h.repo.UpdateShipping(r.Context(), id, req.ShippingStatus)
	if err != nil {
		h.logger.Error("failed to update shipping", "error", err, "order_id", id)
		api.Internal(w)
		return
	}
	if !updated {
		api.Error(w, http.StatusConflict, api.CodeConflict, "cancelled orders are immutable")
		return
	}

	order, err = h.repo.GetByID(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to reload order", "error", err, "order_id", id)
		api.Internal(w)
		return
	}

	h.logger.Info("shipping status updated", "order_id", id, "shipping_status", req.ShippingStatus)
	api.JSON(w, http.StatusOK, order)
}
