package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/greenleaf/storefront/internal/api"
)

const (
	csrfCookie = "csrf_token"
	csrfHeader = "X-CSRF-Token"
)

// CSRF issues and verifies HMAC-signed, time-boxed tokens using the
// double-submit pattern: the token travels in an HTTP-only cookie and must
// be echoed back in the X-CSRF-Token header on every mutating request.
type CSRF struct {
	secret []byte
	ttl    time.Duration
}

func NewCSRF(secret string, ttl time.Duration) *CSRF {
	return &CSRF{secret: []byte(secret), ttl: ttl}
}

// Token mints a token of the form "<nonce>.<expiry>.<signature>".
func (c *CSRF) Token() string {
	nonce := make([]byte, 16)
	_, _ = rand.Read(nonce)
	expiry := time.Now().Add(c.ttl).Unix()
	return c.assemble(hex.EncodeToString(nonce), expiry)
}

func (c *CSRF) assemble(nonce string, expiry int64) string {
	exp := strconv.FormatInt(expiry, 10)
	return nonce + "." + exp + "." + c.sign(nonce, exp)
}

func (c *CSRF) sign(nonce, expiry string) string {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(nonce))
	mac.Write([]byte("."))
	mac.Write([]byte(expiry))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks the token signature and expiry.
func (c *CSRF) Verify(token string) bool {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return false
	}
	expiry, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || time.Now().Unix() > expiry {
		return false
	}
	expected := c.sign(parts[0], parts[1])
	return hmac.Equal([]byte(expected), []byte(parts[2]))
}

// Issue sets the token cookie and returns the token for the client to echo
// in the header.
func (c *CSRF) Issue(w http.ResponseWriter) string {
	token := c.Token()
	http.SetCookie(w, &http.Cookie{
		Name:     csrfCookie,
		Value:    token,
		Path:     "/",
		Expires:  time.Now().Add(c.ttl),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return token
}

// HandleIssue serves GET /api/csrf.
func (c *CSRF) HandleIssue(w http.ResponseWriter, r *http.Request) {
	token := c.Issue(w)
	api.JSON(w, http.StatusOK, map[string]string{"csrf_token": token})
}

// Middleware enforces the double-submit check on mutating methods.
func (c *CSRF) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			next.ServeHTTP(w, r)
			return
		}

		header := r.Header.Get(csrfHeader)
		cookie, err := r.Cookie(csrfCookie)
		if header == "" || err != nil || cookie.Value != header || !c.Verify(header) {
			api.Error(w, http.StatusForbidden, api.CodeAuthorization, "missing or invalid CSRF token")
			return
		}

		next.ServeHTTP(w, r)
	})
}
