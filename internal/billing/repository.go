package billing

import (
	"context"
	"database/sql"
	"time"
)

// Repository records which provider events have already been handled.
// The (provider, event_id) primary key is what makes redelivery safe.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// MarkProcessed claims an event for processing. It returns false when the
// event was already claimed, in which case the caller must not run any
// side effects.
func (r *Repository) MarkProcessed(ctx context.Context, provider, eventID string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		INSERT INTO processed_webhook_events (provider, event_id, processed_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (provider, event_id) DO NOTHING
	`, provider, eventID, time.Now().UTC())
	if err != nil {
		return false, err
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Unmark releases a claim after a processing failure so the provider's
// retry can run the side effects again.
func (r *Repository) Unmark(ctx context.Context, provider, eventID string) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM processed_webhook_events WHERE provider = $1 AND event_id = $2
	`, provider, eventID)
	return err
}
