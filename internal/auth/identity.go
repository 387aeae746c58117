// Package auth provides session authentication, role gating, guest
// identity, and CSRF protection for the storefront API.
package auth

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/greenleaf/storefront/internal/domain"
)

type ctxKey int

const userKey ctxKey = iota

const (
	sessionCookie = "session_token"
	guestCookie   = "guest_id"
)

func WithUser(ctx context.Context, u *domain.User) context.Context {
	return context.WithValue(ctx, userKey, u)
}

// UserFrom returns the authenticated user attached by the auth middleware.
func UserFrom(ctx context.Context) (*domain.User, bool) {
	u, ok := ctx.Value(userKey).(*domain.User)
	return u, ok
}

// TokenFromRequest extracts a session token from the Authorization header
// or the session cookie.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token := strings.TrimPrefix(h, "Bearer "); token != h {
			return token
		}
	}
	if c, err := r.Cookie(sessionCookie); err == nil {
		return c.Value
	}
	return ""
}

// OwnerID resolves the wishlist owner key for a request: "user:<id>" for
// authenticated users, otherwise "guest:<token>" backed by a cookie that is
// created on first use.
func OwnerID(w http.ResponseWriter, r *http.Request) string {
	if u, ok := UserFrom(r.Context()); ok {
		return "user:" + u.ID
	}
	if c, err := r.Cookie(guestCookie); err == nil && c.Value != "" {
		return "guest:" + c.Value
	}
	token := uuid.New().String()
	http.SetCookie(w, &http.Cookie{
		Name:     guestCookie,
		Value:    token,
		Path:     "/",
		Expires:  time.Now().Add(365 * 24 * time.Hour),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return "guest:" + token
}

// RateLimitKey identifies the caller for rate limiting: the user id when
// authenticated, the remote address otherwise.
func RateLimitKey(r *http.Request) string {
	if u, ok := UserFrom(r.Context()); ok {
		return "user:" + u.ID
	}
	host := r.RemoteAddr
	if i := strings.LastIndex(host, ":"); i > 0 {
		host = host[:i]
	}
	return "ip:" + host
}
