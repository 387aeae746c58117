package loyalty

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/greenleaf/storefront/internal/domain"
)

type Engine struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewEngine(db *sql.DB, logger *slog.Logger) *Engine {
	return &Engine{db: db, logger: logger}
}

// Balance derives the available points for a user by summing the ledger.
func (e *Engine) Balance(ctx context.Context, userID string) (int, error) {
	var balance int
	err := e.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(points), 0)
		FROM point_transactions
		WHERE user_id = $1
	`, userID).Scan(&balance)
	return balance, err
}

// History returns a page of the ledger, newest first, with the total row
// count for pagination.
func (e *Engine) History(ctx context.Context, userID string, page, perPage int) ([]domain.PointTransaction, int, error) {
	var total int
	err := e.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM point_transactions WHERE user_id = $1
	`, userID).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	rows, err := e.db.QueryContext(ctx, `
		SELECT id, user_id, type, points, source, COALESCE(source_id, ''), COALESCE(order_id::text, ''), description, created_at
		FROM point_transactions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, userID, perPage, (page-1)*perPage)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = rows.Close() }()

	var txns []domain.PointTransaction
	for rows.Next() {
		var t domain.PointTransaction
		if err := rows.Scan(&t.ID, &t.UserID, &t.Type, &t.Points, &t.Source, &t.SourceID, &t.OrderID, &t.Description, &t.CreatedAt); err != nil {
			return nil, 0, err
		}
		txns = append(txns, t)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	return txns, total, nil
}

// award appends one earn row. The partial unique index on
// (user_id, source, source_id) turns a duplicate award into
// ErrAlreadyAwarded instead of a second ledger row.
func (e *Engine) award(ctx context.Context, userID string, points int, source domain.PointSource, sourceID, orderID, description string) error {
	var orderRef any
	if orderID != "" {
		orderRef = orderID
	}

	_, err := e.db.ExecContext(ctx, `
		INSERT INTO point_transactions (id, user_id, type, points, source, source_id, order_id, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, uuid.New().String(), userID, domain.PointTypeEarn, points, source, sourceID, orderRef, description, time.Now().UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyAwarded
		}
		return err
	}

	e.logger.Info("points awarded",
		"user_id", userID, "points", points, "source", source, "source_id", sourceID)
	return nil
}

// AwardPurchasePoints issues purchase points for a paid order, once per
// order id.
func (e *Engine) AwardPurchasePoints(ctx context.Context, userID, orderID string, totalCents int64) (int, error) {
	points := PointsForOrder(totalCents)
	if points == 0 {
		return 0, nil
	}
	err := e.award(ctx, userID, points, domain.PointSourcePurchase, orderID, orderID,
		fmt.Sprintf("Points for order %s", orderID))
	if err != nil {
		return 0, err
	}
	return points, nil
}

func (e *Engine) AwardReviewPoints(ctx context.Context, userID, reviewID string) error {
	return e.award(ctx, userID, ReviewPoints, domain.PointSourceReview, reviewID, "",
		"Points for product review")
}

func (e *Engine) AwardReferralPoints(ctx context.Context, userID, referralID string, points int) error {
	if points <= 0 {
		points = DefaultReferralPoints
	}
	return e.award(ctx, userID, points, domain.PointSourceReferral, referralID, "",
		"Referral reward")
}

func (e *Engine) AwardSignupBonus(ctx context.Context, userID string) error {
	return e.award(ctx, userID, SignupBonusPoints, domain.PointSourceSignup, userID, "",
		"Welcome bonus")
}

// Redeem converts points into a discount. The balance check and the ledger
// insert run in one transaction behind a row lock on the user, so two
// concurrent redemptions cannot both spend the same balance.
func (e *Engine) Redeem(ctx context.Context, userID string, points int, orderID string) (int64, error) {
	if points <= 0 {
		return 0, errors.New("points to redeem must be positive")
	}

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	// Serialize redemptions per user. The balance is derived, so nothing
	// short of a lock makes check-then-insert safe.
	var lockedID string
	if err := tx.QueryRowContext(ctx, `
		SELECT id FROM users WHERE id = $1 FOR UPDATE
	`, userID).Scan(&lockedID); err != nil {
		return 0, err
	}

	var available int
	if err := tx.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(points), 0)
		FROM point_transactions
		WHERE user_id = $1
	`, userID).Scan(&available); err != nil {
		return 0, err
	}

	if available < points {
		return 0, &InsufficientPointsError{Available: available, Requested: points}
	}

	var orderRef any
	if orderID != "" {
		orderRef = orderID
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO point_transactions (id, user_id, type, points, source, source_id, order_id, description, created_at)
		VALUES ($1, $2, $3, $4, $5, NULL, $6, $7, $8)
	`, uuid.New().String(), userID, domain.PointTypeRedeem, -points, domain.PointSourceRedemption,
		orderRef, fmt.Sprintf("Redeemed %d points", points), time.Now().UTC())
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}

	discount := DiscountCents(points)
	e.logger.Info("points redeemed",
		"user_id", userID, "points", points, "discount_cents", discount, "order_id", orderID)
	return discount, nil
}

// VerifyOrderOwnership confirms an order exists and belongs to the user,
// returning its total. Used to source-validate manual purchase awards.
func (e *Engine) VerifyOrderOwnership(ctx context.Context, orderID, userID string) (int64, bool, error) {
	var total int64
	err := e.db.QueryRowContext(ctx, `
		SELECT total FROM orders WHERE id = $1 AND user_id = $2
	`, orderID, userID).Scan(&total)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, false, nil
		}
		return 0, false, err
	}
	return total, true, nil
}

// VerifyReviewOwnership confirms a review exists and belongs to the user.
func (e *Engine) VerifyReviewOwnership(ctx context.Context, reviewID, userID string) (bool, error) {
	var one int
	err := e.db.QueryRowContext(ctx, `
		SELECT 1 FROM reviews WHERE id = $1 AND user_id = $2
	`, reviewID, userID).Scan(&one)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
