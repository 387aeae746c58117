package wishlists

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/greenleaf/storefront/internal/api"
	"github.com/greenleaf/storefront/internal/auth"
	"github.com/greenleaf/storefront/internal/domain"
)

type Handler struct {
	repo   *Repository
	logger *slog.Logger
}

func NewHandler(repo *Repository, logger *slog.Logger) *Handler {
	return &Handler{repo: repo, logger: logger}
}

// HandleList returns every wishlist for the current owner, creating the
// default list on first access.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	ownerID := auth.OwnerID(w, r)

	if _, err := h.repo.EnsureDefault(r.Context(), ownerID); err != nil {
		h.logger.Error("failed to ensure default wishlist", slog.Any("error", err))
		api.Internal(w)
		return
	}

	lists, err := h.repo.ListByOwner(r.Context(), ownerID)
	if err != nil {
		h.logger.Error("failed to list wishlists", slog.Any("error", err))
		api.Internal(w)
		return
	}

	api.JSON(w, http.StatusOK, lists)
}

func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, api.CodeValidation, "invalid request body")
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || len(req.Name) > 100 {
		api.Error(w, http.StatusBadRequest, api.CodeValidation, "name must be between 1 and 100 characters")
		return
	}

	wl, err := h.repo.Create(r.Context(), auth.OwnerID(w, r), req.Name)
	if err != nil {
		h.logger.Error("failed to create wishlist", slog.Any("error", err))
		api.Internal(w)
		return
	}

	api.JSON(w, http.StatusCreated, wl)
}

// load fetches a wishlist and checks it belongs to the current owner.
// Foreign lists are reported as not found.
func (h *Handler) load(w http.ResponseWriter, r *http.Request, id string) *domain.Wishlist {
	wl, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to load wishlist", slog.Any("error", err))
		api.Internal(w)
		return nil
	}
	if wl == nil || wl.OwnerID != auth.OwnerID(w, r) {
		api.Error(w, http.StatusNotFound, api.CodeNotFound, "wishlist not found")
		return nil
	}
	return wl
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	wl := h.load(w, r, chi.URLParam(r, "id"))
	if wl == nil {
		return
	}
	api.JSON(w, http.StatusOK, wl)
}

func (h *Handler) HandleRename(w http.ResponseWriter, r *http.Request) {
	wl := h.load(w, r, chi.URLParam(r, "id"))
	if wl == nil {
		return
	}
	if wl.IsDefault {
		api.Error(w, http.StatusBadRequest, api.CodeValidation, "the default wishlist cannot be renamed")
		return
	}

	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, api.CodeValidation, "invalid request body")
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || len(req.Name) > 100 {
		api.Error(w, http.StatusBadRequest, api.CodeValidation, "name must be between 1 and 100 characters")
		return
	}

	if err := h.repo.Rename(r.Context(), wl.ID, req.Name); err != nil {
		h.logger.Error("failed to rename wishlist", slog.Any("error", err))
		api.Internal(w)
		return
	}

	wl.Name = req.Name
	api.JSON(w, http.StatusOK, wl)
}

func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	wl := h.load(w, r, chi.URLParam(r, "id"))
	if wl == nil {
		return
	}
	if wl.IsDefault {
		api.Error(w, http.StatusBadRequest, api.CodeValidation, "the default wishlist cannot be deleted")
		return
	}

	if err := h.repo.Delete(r.Context(), wl.ID); err != nil {
		h.logger.Error("failed to delete wishlist", slog.Any("error", err))
		api.Internal(w)
		return
	}

	api.JSON(w, http.StatusOK, map[string]string{"id": wl.ID, "status": "deleted"})
}

func (h *Handler) HandleAddItem(w http.ResponseWriter, r *http.Request) {
	wl := h.load(w, r, chi.URLParam(r, "id"))
	if wl == nil {
		return
	}

	var req struct {
		ProductID string `json:"productId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ProductID == "" {
		api.Error(w, http.StatusBadRequest, api.CodeValidation, "productId is required")
		return
	}

	if err := h.repo.AddItem(r.Context(), wl.ID, req.ProductID); err != nil {
		h.logger.Error("failed to add wishlist item", slog.Any("error", err))
		api.Internal(w)
		return
	}

	updated, err := h.repo.GetByID(r.Context(), wl.ID)
	if err != nil {
		h.logger.Error("failed to reload wishlist", slog.Any("error", err))
		api.Internal(w)
		return
	}

	api.JSON(w, http.StatusOK, updated)
}

func (h *Handler) HandleRemoveItem(w http.ResponseWriter, r *http.Request) {
	wl := h.load(w, r, chi.URLParam(r, "id"))
	if wl == nil {
		return
	}

	err := h.repo.RemoveItem(r.Context(), wl.ID, chi.URLParam(r, "productId"))
	if err != nil {
		if errors.Is(err, ErrItemNotFound) {
			api.Error(w, http.StatusNotFound, api.CodeNotFound, "product is not in this wishlist")
			return
		}
		h.logger.Error("failed to remove wishlist item", slog.Any("error", err))
		api.Internal(w)
		return
	}

	api.JSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

// HandleMove transfers an item from this wishlist to another list owned by
// the same owner.
func (h *Handler) HandleMove(w http.ResponseWriter, r *http.Request) {
	from := h.load(w, r, chi.URLParam(r, "id"))
	if from == nil {
		return
	}

	var req struct {
		ProductID    string `json:"productId"`
		TargetListID string `json:"targetListId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ProductID == "" || req.TargetListID == "" {
		api.Error(w, http.StatusBadRequest, api.CodeValidation, "productId and targetListId are required")
		return
	}

	to := h.load(w, r, req.TargetListID)
	if to == nil {
		return
	}

	if err := h.repo.MoveItem(r.Context(), from.ID, to.ID, req.ProductID); err != nil {
		if errors.Is(err, ErrItemNotFound) {
			api.Error(w, http.StatusNotFound, api.CodeNotFound, "product is not in this wishlist")
			return
		}
		h.logger.Error("failed to move wishlist item", slog.Any("error", err))
		api.Internal(w)
		return
	}

	updated, err := h.repo.GetByID(r.Context(), to.ID)
	if err != nil {
		h.logger.Error("failed to reload wishlist", slog.Any("error", err))
		api.Internal(w)
		return
	}

	api.JSON(w, http.StatusOK, updated)
}
