package auth

import (
	"log/slog"
	"net/http"
	"slices"

	"github.com/greenleaf/storefront/internal/api"
	"github.com/greenleaf/storefront/internal/domain"
)

type Middleware struct {
	repo   *Repository
	logger *slog.Logger
}

func NewMiddleware(repo *Repository, logger *slog.Logger) *Middleware {
	return &Middleware{repo: repo, logger: logger}
}

// Optional attaches the session user to the request context when a valid
// token is present, and passes the request through otherwise.
func (m *Middleware) Optional(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := TokenFromRequest(r)
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}

		user, err := m.repo.GetSessionUser(r.Context(), token)
		if err != nil {
			m.logger.Error("failed to resolve session", "error", err)
			api.Internal(w)
			return
		}
		if user == nil {
			next.ServeHTTP(w, r)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
	})
}

// Required rejects unauthenticated requests with 401. It must be mounted
// after Optional.
func (m *Middleware) Required(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := UserFrom(r.Context()); !ok {
			api.Error(w, http.StatusUnauthorized, api.CodeAuthentication, "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireRole gates a route to users holding one of the given roles.
func RequireRole(roles ...domain.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := UserFrom(r.Context())
			if !ok {
				api.Error(w, http.StatusUnauthorized, api.CodeAuthentication, "authentication required")
				return
			}
			if !slices.Contains(roles, user.Role) {
				api.Error(w, http.StatusForbidden, api.CodeAuthorization, "insufficient role")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
