package subscriptions

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/greenleaf/storefront/internal/domain"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Create(ctx context.Context, sub *domain.Subscription) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	sub.ID = uuid.New().String()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO subscriptions (id, user_id, frequency, status, discount_percent, next_delivery_date, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
	`, sub.ID, sub.UserID, sub.Frequency, sub.Status, sub.DiscountPercent, sub.NextDeliveryDate, sub.CreatedAt)
	if err != nil {
		return err
	}

	for _, item := range sub.Items {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO subscription_items (id, subscription_id, product_id, quantity)
			VALUES ($1, $2, $3, $4)
		`, uuid.New().String(), sub.ID, item.ProductID, item.Quantity)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (r *Repository) GetByID(ctx context.Context, id string) (*domain.Subscription, error) {
	sub := &domain.Subscription{}

	err := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, frequency, status, discount_percent, next_delivery_date, created_at
		FROM subscriptions
		WHERE id = $1
	`, id).Scan(&sub.ID, &sub.UserID, &sub.Frequency, &sub.Status, &sub.DiscountPercent,
		&sub.NextDeliveryDate, &sub.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT product_id, quantity
		FROM subscription_items
		WHERE subscription_id = $1
	`, id)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var item domain.SubscriptionItem
		if err := rows.Scan(&item.ProductID, &item.Quantity); err != nil {
			return nil, err
		}
		sub.Items = append(sub.Items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return sub, nil
}

func (r *Repository) ListByUser(ctx context.Context, userID string) ([]domain.Subscription, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, frequency, status, discount_percent, next_delivery_date, created_at
		FROM subscriptions
		WHERE user_id = $1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	subMap := make(map[string]*domain.Subscription)
	var ids []string

	for rows.Next() {
		var sub domain.Subscription
		if err := rows.Scan(&sub.ID, &sub.UserID, &sub.Frequency, &sub.Status, &sub.DiscountPercent,
			&sub.NextDeliveryDate, &sub.CreatedAt); err != nil {
			return nil, err
		}
		sub.Items = []domain.SubscriptionItem{}
		subMap[sub.ID] = &sub
		ids = append(ids, sub.ID)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(ids) == 0 {
		return []domain.Subscription{}, nil
	}

	itemRows, err := r.db.QueryContext(ctx, `
		SELECT subscription_id, product_id, quantity
		FROM subscription_items
		WHERE subscription_id = ANY($1)
	`, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer func() { _ = itemRows.Close() }()

	for itemRows.Next() {
		var subID string
		var item domain.SubscriptionItem
		if err := itemRows.Scan(&subID, &item.ProductID, &item.Quantity); err != nil {
			return nil, err
		}
		subMap[subID].Items = append(subMap[subID].Items, item)
	}

	if err := itemRows.Err(); err != nil {
		return nil, err
	}

	subs := make([]domain.Subscription, 0, len(ids))
	for _, id := range ids {
		subs = append(subs, *subMap[id])
	}

	return subs, nil
}

// SetSchedule updates frequency, discount, and next delivery together.
// Cancelled subscriptions never match.
func (r *Repository) SetSchedule(ctx context.Context, id string, freq domain.SubscriptionFrequency, discountPercent int, next time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE subscriptions
		SET frequency = $1, discount_percent = $2, next_delivery_date = $3, updated_at = NOW()
		WHERE id = $4 AND status <> $5
	`, freq, discountPercent, next, id, domain.SubscriptionStatusCancelled)
	if err != nil {
		return false, err
	}
	return affected(result)
}

func (r *Repository) SetStatus(ctx context.Context, id string, status domain.SubscriptionStatus) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE subscriptions SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status <> $3
	`, status, id, domain.SubscriptionStatusCancelled)
	if err != nil {
		return false, err
	}
	return affected(result)
}

func (r *Repository) SetNextDelivery(ctx context.Context, id string, next time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE subscriptions SET next_delivery_date = $1, updated_at = NOW()
		WHERE id = $2 AND status <> $3
	`, next, id, domain.SubscriptionStatusCancelled)
	if err != nil {
		return false, err
	}
	return affected(result)
}

// Cancel is the one-way terminal transition: a soft delete through the
// status field.
func (r *Repository) Cancel(ctx context.Context, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE subscriptions SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status <> $1
	`, domain.SubscriptionStatusCancelled, id)
	if err != nil {
		return false, err
	}
	return affected(result)
}

func affected(result sql.Result) (bool, error) {
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
