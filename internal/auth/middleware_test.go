package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/greenleaf/storefront/internal/domain"
)

func TestRequireRole(t *testing.T) {
	var reached bool
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		reached = true
		w.WriteHeader(http.StatusNoContent)
	})
	guard := RequireRole(domain.RoleAdmin)(next)

	t.Run("no user", func(t *testing.T) {
		reached = false
		req := httptest.NewRequest(http.MethodPatch, "/api/orders/o-1/shipping", nil)
		rec := httptest.NewRecorder()

		guard.ServeHTTP(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("expected status 401, got %d", rec.Code)
		}
		if reached {
			t.Fatal("expected handler not to run")
		}
	})

	t.Run("customer role", func(t *testing.T) {
		reached = false
		req := httptest.NewRequest(http.MethodPatch, "/api/orders/o-1/shipping", nil)
		user := &domain.User{ID: "user-1", Role: domain.RoleCustomer}
		req = req.WithContext(WithUser(req.Context(), user))
		rec := httptest.NewRecorder()

		guard.ServeHTTP(rec, req)

		if rec.Code != http.StatusForbidden {
			t.Fatalf("expected status 403, got %d", rec.Code)
		}
		if reached {
			t.Fatal("expected handler not to run")
		}
	})

	t.Run("admin role", func(t *testing.T) {
		reached = false
		req := httptest.NewRequest(http.MethodPatch, "/api/orders/o-1/shipping", nil)
		user := &domain.User{ID: "admin-1", Role: domain.RoleAdmin}
		req = req.WithContext(WithUser(req.Context(), user))
		rec := httptest.NewRecorder()

		guard.ServeHTTP(rec, req)

		if !reached {
			t.Fatal("expected handler to run")
		}
		if rec.Code != http.StatusNoContent {
			t.Fatalf("expected status 204, got %d", rec.Code)
		}
	})
}
