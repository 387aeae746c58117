package referrals

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/greenleaf/storefront/internal/domain"
)

var (
	ErrCodeNotFound    = errors.New("referral code not found")
	ErrSelfReferral    = errors.New("cannot use your own referral code")
	ErrAlreadyReferred = errors.New("a referral has already been applied to this account")
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// GetOrCreateCode returns the user's share code, minting one on first use.
func (r *Repository) GetOrCreateCode(ctx context.Context, userID string) (string, error) {
	var code string
	err := r.db.QueryRowContext(ctx, `
		SELECT code FROM referral_codes WHERE user_id = $1
	`, userID).Scan(&code)
	if err == nil {
		return code, nil
	}
	if err != sql.ErrNoRows {
		return "", err
	}

	// Retry on the rare code collision; a concurrent insert for the same
	// user also lands here and the re-read picks up the winner's code.
	for attempt := 0; attempt < 5; attempt++ {
		code = NewCode()
		_, err = r.db.ExecContext(ctx, `
			INSERT INTO referral_codes (code, user_id, created_at)
			VALUES ($1, $2, $3)
		`, code, userID, time.Now().UTC())
		if err == nil {
			return code, nil
		}
		if !isUniqueViolation(err) {
			return "", err
		}
		if rerr := r.db.QueryRowContext(ctx, `
			SELECT code FROM referral_codes WHERE user_id = $1
		`, userID).Scan(&code); rerr == nil {
			return code, nil
		}
	}
	return "", errors.New("could not allocate a referral code")
}

// CodeOwner resolves a code to its owning user.
func (r *Repository) CodeOwner(ctx context.Context, code string) (string, error) {
	var userID string
	err := r.db.QueryRowContext(ctx, `
		SELECT user_id FROM referral_codes WHERE code = $1
	`, code).Scan(&userID)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", ErrCodeNotFound
		}
		return "", err
	}
	return userID, nil
}

// Apply creates the pending referral linking referrer to referee. The
// unique constraint on referee_id enforces one referral per account at the
// database level.
func (r *Repository) Apply(ctx context.Context, code, refereeID, refereeName string) (*domain.Referral, error) {
	referrerID, err := r.CodeOwner(ctx, code)
	if err != nil {
		return nil, err
	}
	if referrerID == refereeID {
		return nil, ErrSelfReferral
	}

	ref := &domain.Referral{
		ID:              uuid.New().String(),
		Code:            code,
		ReferrerID:      referrerID,
		RefereeID:       refereeID,
		RefereeName:     refereeName,
		Status:          domain.ReferralStatusPending,
		RewardPoints:    defaultRewardPoints,
		DiscountPercent: ReferralDiscountPercent,
		CreatedAt:       time.Now().UTC(),
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO referrals (id, code, referrer_id, referee_id, referee_name, status, reward_points, discount_percent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, ref.ID, ref.Code, ref.ReferrerID, ref.RefereeID, ref.RefereeName, ref.Status,
		ref.RewardPoints, ref.DiscountPercent, ref.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrAlreadyReferred
		}
		return nil, err
	}

	return ref, nil
}

func (r *Repository) GetByID(ctx context.Context, id string) (*domain.Referral, error) {
	ref := &domain.Referral{}
	var completedAt sql.NullTime

	err := r.db.QueryRowContext(ctx, `
		SELECT id, code, referrer_id, referee_id, referee_name, status, reward_points, discount_percent, created_at, completed_at
		FROM referrals
		WHERE id = $1
	`, id).Scan(&ref.ID, &ref.Code, &ref.ReferrerID, &ref.RefereeID, &ref.RefereeName,
		&ref.Status, &ref.RewardPoints, &ref.DiscountPercent, &ref.CreatedAt, &completedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	if completedAt.Valid {
		ref.CompletedAt = &completedAt.Time
	}

	return ref, nil
}

func (r *Repository) ListByReferrer(ctx context.Context, referrerID string) ([]domain.Referral, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, code, referrer_id, referee_id, referee_name, status, reward_points, discount_percent, created_at, completed_at
		FROM referrals
		WHERE referrer_id = $1
		ORDER BY created_at DESC
	`, referrerID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var refs []domain.Referral
	for rows.Next() {
		var ref domain.Referral
		var completedAt sql.NullTime
		if err := rows.Scan(&ref.ID, &ref.Code, &ref.ReferrerID, &ref.RefereeID, &ref.RefereeName,
			&ref.Status, &ref.RewardPoints, &ref.DiscountPercent, &ref.CreatedAt, &completedAt); err != nil {
			return nil, err
		}
		if completedAt.Valid {
			ref.CompletedAt = &completedAt.Time
		}
		refs = append(refs, ref)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return refs, nil
}

// CompleteForReferee moves the referee's referral from pending to completed
// on their first paid order. Returns nil when there is no pending referral,
// so replayed webhooks fall through harmlessly.
func (r *Repository) CompleteForReferee(ctx context.Context, refereeID string) (*domain.Referral, error) {
	ref := &domain.Referral{}
	var completedAt sql.NullTime

	err := r.db.QueryRowContext(ctx, `
		UPDATE referrals
		SET status = $1, completed_at = NOW()
		WHERE referee_id = $2 AND status = $3
		RETURNING id, code, referrer_id, referee_id, referee_name, status, reward_points, discount_percent, created_at, completed_at
	`, domain.ReferralStatusCompleted, refereeID, domain.ReferralStatusPending,
	).Scan(&ref.ID, &ref.Code, &ref.ReferrerID, &ref.RefereeID, &ref.RefereeName,
		&ref.Status, &ref.RewardPoints, &ref.DiscountPercent, &ref.CreatedAt, &completedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	if completedAt.Valid {
		ref.CompletedAt = &completedAt.Time
	}

	return ref, nil
}

// MarkRewarded finishes the lifecycle once the referrer's points are in the
// ledger. Guarded on the completed status.
func (r *Repository) MarkRewarded(ctx context.Context, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE referrals SET status = $1
		WHERE id = $2 AND status = $3
	`, domain.ReferralStatusRewarded, id, domain.ReferralStatusCompleted)
	if err != nil {
		return false, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	return rowsAffected > 0, nil
}

// ExpireStale times out pending referrals older than maxAge.
func (r *Repository) ExpireStale(ctx context.Context, maxAge time.Duration) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE referrals SET status = $1
		WHERE status = $2 AND created_at < $3
	`, domain.ReferralStatusExpired, domain.ReferralStatusPending, time.Now().UTC().Add(-maxAge))
	if err != nil {
		return 0, err
	}

	return result.RowsAffected()
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
