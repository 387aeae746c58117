package auth

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/mail"

	"golang.org/x/crypto/bcrypt"

	"github.com/greenleaf/storefront/internal/api"
)

// BonusAwarder issues the one-time signup points award. Implemented by the
// loyalty engine; nil disables the bonus.
type BonusAwarder interface {
	AwardSignupBonus(ctx context.Context, userID string) error
}

type Handler struct {
	repo   *Repository
	bonus  BonusAwarder
	logger *slog.Logger
}

func NewHandler(repo *Repository, bonus BonusAwarder, logger *slog.Logger) *Handler {
	return &Handler{repo: repo, bonus: bonus, logger: logger}
}

type signupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type sessionResponse struct {
	Token string `json:"token"`
	User  any    `json:"user"`
}

func (h *Handler) HandleSignup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, api.CodeValidation, "invalid request body")
		return
	}

	if _, err := mail.ParseAddress(req.Email); err != nil {
		api.Error(w, http.StatusBadRequest, api.CodeValidation, "invalid email address")
		return
	}
	if len(req.Password) < 8 {
		api.Error(w, http.StatusBadRequest, api.CodeValidation, "password must be at least 8 characters")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		h.logger.Error("failed to hash password", "error", err)
		api.Internal(w)
		return
	}

	user, err := h.repo.CreateUser(r.Context(), req.Email, req.Name, string(hash))
	if err != nil {
		if errors.Is(err, ErrEmailTaken) {
			api.Error(w, http.StatusConflict, api.CodeConflict, "email already registered")
			return
		}
		h.logger.Error("failed to create user", "error", err)
		api.Internal(w)
		return
	}

	if h.bonus != nil {
		if err := h.bonus.AwardSignupBonus(r.Context(), user.ID); err != nil {
			// The account exists either way; the award is keyed to the user
			// id and cannot be claimed twice later.
			h.logger.Error("failed to award signup bonus", "error", err, "user_id", user.ID)
		}
	}

	session, err := h.repo.CreateSession(r.Context(), user.ID)
	if err != nil {
		h.logger.Error("failed to create session", "error", err, "user_id", user.ID)
		api.Internal(w)
		return
	}

	h.logger.Info("user signed up", "user_id", user.ID)
	api.JSON(w, http.StatusCreated, sessionResponse{Token: session.Token, User: user})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, api.CodeValidation, "invalid request body")
		return
	}

	user, hash, err := h.repo.GetUserByEmail(r.Context(), req.Email)
	if err != nil {
		h.logger.Error("failed to look up user", "error", err)
		api.Internal(w)
		return
	}
	if user == nil || bcrypt.CompareHashAndPassword([]byte(hash), []byte(req.Password)) != nil {
		api.Error(w, http.StatusUnauthorized, api.CodeAuthentication, "invalid email or password")
		return
	}

	session, err := h.repo.CreateSession(r.Context(), user.ID)
	if err != nil {
		h.logger.Error("failed to create session", "error", err, "user_id", user.ID)
		api.Internal(w)
		return
	}

	h.logger.Info("user logged in", "user_id", user.ID)
	api.JSON(w, http.StatusOK, sessionResponse{Token: session.Token, User: user})
}

func (h *Handler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	token := TokenFromRequest(r)
	if token == "" {
		api.Error(w, http.StatusUnauthorized, api.CodeAuthentication, "authentication required")
		return
	}

	if err := h.repo.DeleteSession(r.Context(), token); err != nil {
		h.logger.Error("failed to delete session", "error", err)
		api.Internal(w)
		return
	}

	api.JSON(w, http.StatusOK, map[string]string{"status": "logged out"})
}
