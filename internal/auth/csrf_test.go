package auth

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestCSRFToken(t *testing.T) {
	c := NewCSRF("test-secret", time.Hour)

	t.Run("valid token verifies", func(t *testing.T) {
		if !c.Verify(c.Token()) {
			t.Error("expected freshly minted token to verify")
		}
	})

	t.Run("tampered token fails", func(t *testing.T) {
		token := c.Token()
		parts := strings.Split(token, ".")
		tampered := "deadbeef" + "." + parts[1] + "." + parts[2]
		if c.Verify(tampered) {
			t.Error("expected tampered token to fail verification")
		}
	})

	t.Run("wrong secret fails", func(t *testing.T) {
		other := NewCSRF("other-secret", time.Hour)
		if other.Verify(c.Token()) {
			t.Error("expected token signed with another secret to fail")
		}
	})

	t.Run("expired token fails", func(t *testing.T) {
		expired := NewCSRF("test-secret", -time.Minute)
		if c.Verify(expired.Token()) {
			t.Error("expected expired token to fail verification")
		}
	})

	t.Run("malformed token fails", func(t *testing.T) {
		for _, token := range []string{"", "abc", "a.b", "a.b.c.d", "a.notanumber.c"} {
			if c.Verify(token) {
				t.Errorf("expected %q to fail verification", token)
			}
		}
	})
}

func TestCSRFMiddleware(t *testing.T) {
	c := NewCSRF("test-secret", time.Hour)
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	guarded := c.Middleware(next)

	t.Run("GET passes without token", func(t *testing.T) {
		rec := httptest.NewRecorder()
		guarded.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/loyalty", nil))
		if rec.Code != http.StatusNoContent {
			t.Errorf("expected 204, got %d", rec.Code)
		}
	})

	t.Run("POST without token rejected", func(t *testing.T) {
		rec := httptest.NewRecorder()
		guarded.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/loyalty/redeem", nil))
		if rec.Code != http.StatusForbidden {
			t.Errorf("expected 403, got %d", rec.Code)
		}
	})

	t.Run("POST with matching header and cookie passes", func(t *testing.T) {
		issueRec := httptest.NewRecorder()
		token := c.Issue(issueRec)

		req := httptest.NewRequest(http.MethodPost, "/api/loyalty/redeem", nil)
		req.Header.Set("X-CSRF-Token", token)
		req.AddCookie(&http.Cookie{Name: "csrf_token", Value: token})
		rec := httptest.NewRecorder()
		guarded.ServeHTTP(rec, req)
		if rec.Code != http.StatusNoContent {
			t.Errorf("expected 204, got %d", rec.Code)
		}
	})

	t.Run("POST with header but mismatched cookie rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/loyalty/redeem", nil)
		req.Header.Set("X-CSRF-Token", c.Token())
		req.AddCookie(&http.Cookie{Name: "csrf_token", Value: c.Token()})
		rec := httptest.NewRecorder()
		guarded.ServeHTTP(rec, req)
		if rec.Code != http.StatusForbidden {
			t.Errorf("expected 403, got %d", rec.Code)
		}
	})
}
