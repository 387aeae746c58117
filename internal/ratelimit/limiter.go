// Package ratelimit implements sliding-window rate limiting backed by
// Postgres, the storefront's single shared store. An unconfigured limiter
// is permissive so the API keeps working without the table.
package ratelimit

import (
	"context"
	"database/sql"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/greenleaf/storefront/internal/api"
)

type Tier struct {
	Limit  int
	Window time.Duration
}

var (
	// Standard applies to most API routes.
	Standard = Tier{Limit: 10, Window: 10 * time.Second}
	// Strict applies to sensitive endpoints: point awards, redemptions,
	// referral application, auth.
	Strict = Tier{Limit: 5, Window: time.Minute}
)

type Limiter struct {
	db       *sql.DB
	logger   *slog.Logger
	warnOnce sync.Once
}

// NewLimiter creates a limiter over db. A nil db disables limiting.
func NewLimiter(db *sql.DB, logger *slog.Logger) *Limiter {
	return &Limiter{db: db, logger: logger}
}

// Allow records a hit for key and reports whether it fits in the tier's
// window. When denied, retryAfter is the wait until the oldest counted hit
// leaves the window.
func (l *Limiter) Allow(ctx context.Context, key string, tier Tier) (bool, time.Duration, error) {
	if l.db == nil {
		l.warnOnce.Do(func() {
			l.logger.Warn("rate limiting disabled: no backing store configured")
		})
		return true, 0, nil
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return false, 0, err
	}
	defer func() { _ = tx.Rollback() }()

	windowStart := time.Now().UTC().Add(-tier.Window)

	_, err = tx.ExecContext(ctx, `
		DELETE FROM rate_limit_events WHERE key = $1 AND at <= $2
	`, key, windowStart)
	if err != nil {
		return false, 0, err
	}

	var count int
	var oldest sql.NullTime
	err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*), MIN(at)
		FROM rate_limit_events
		WHERE key = $1 AND at > $2
	`, key, windowStart).Scan(&count, &oldest)
	if err != nil {
		return false, 0, err
	}

	if count >= tier.Limit {
		retryAfter := tier.Window
		if oldest.Valid {
			retryAfter = time.Until(oldest.Time.Add(tier.Window))
		}
		if retryAfter < time.Second {
			retryAfter = time.Second
		}
		// Denied hits are not recorded, so a throttled client is not
		// pushed further into the window.
		return false, retryAfter, tx.Commit()
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO rate_limit_events (key, at) VALUES ($1, NOW())
	`, key)
	if err != nil {
		return false, 0, err
	}

	return true, 0, tx.Commit()
}

// Middleware enforces tier for every request, keyed by keyFn. Store errors
// fail open.
func (l *Limiter) Middleware(tier Tier, keyFn func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFn(r)
			allowed, retryAfter, err := l.Allow(r.Context(), key, tier)
			if err != nil {
				l.logger.Error("rate limit check failed", "error", err, "key", key)
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				seconds := int(math.Ceil(retryAfter.Seconds()))
				w.Header().Set("Retry-After", strconv.Itoa(seconds))
				api.Error(w, http.StatusTooManyRequests, api.CodeRateLimited, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
