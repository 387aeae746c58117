package catalog

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/greenleaf/storefront/internal/api"
	"github.com/greenleaf/storefront/internal/domain"
)

type Handler struct {
	repo   *Repository
	logger *slog.Logger
}

func NewHandler(repo *Repository, logger *slog.Logger) *Handler {
	return &Handler{repo: repo, logger: logger}
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	products, err := h.repo.ListProducts(r.Context())
	if err != nil {
		h.logger.Error("failed to list products", "error", err)
		api.Internal(w)
		return
	}
	if products == nil {
		products = []domain.Product{}
	}

	api.JSON(w, http.StatusOK, products)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	product, err := h.repo.GetProduct(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to get product", "error", err, "product_id", id)
		api.Internal(w)
		return
	}
	if product == nil {
		api.Error(w, http.StatusNotFound, api.CodeNotFound, "product not found")
		return
	}

	stock, err := h.repo.GetStock(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to get stock", "error", err, "product_id", id)
		api.Internal(w)
		return
	}

	api.JSON(w, http.StatusOK, map[string]any{
		"product": product,
		"stock":   stock,
	})
}
