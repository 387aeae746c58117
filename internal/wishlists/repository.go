// Package wishlists implements saved-item collections for users and guest
// sessions, including the lazily created default "Favorites" list.
package wishlists

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/greenleaf/storefront/internal/domain"
)

var ErrItemNotFound = errors.New("item not in wishlist")

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// EnsureDefault returns the owner's default wishlist, creating it on first
// touch. The partial unique index on (owner_id) WHERE is_default resolves
// the create race: the loser re-reads the winner's row.
func (r *Repository) EnsureDefault(ctx context.Context, ownerID string) (*domain.Wishlist, error) {
	wl, err := r.getDefault(ctx, ownerID)
	if err != nil || wl != nil {
		return wl, err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO wishlists (id, owner_id, name, is_default, created_at)
		VALUES ($1, $2, $3, TRUE, $4)
	`, uuid.New().String(), ownerID, domain.DefaultWishlistName, time.Now().UTC())
	if err != nil && !isUniqueViolation(err) {
		return nil, err
	}

	return r.getDefault(ctx, ownerID)
}

func (r *Repository) getDefault(ctx context.Context, ownerID string) (*domain.Wishlist, error) {
	wl := &domain.Wishlist{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, owner_id, name, is_default, created_at
		FROM wishlists
		WHERE owner_id = $1 AND is_default
	`, ownerID).Scan(&wl.ID, &wl.OwnerID, &wl.Name, &wl.IsDefault, &wl.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return r.withItems(ctx, wl)
}

func (r *Repository) Create(ctx context.Context, ownerID, name string) (*domain.Wishlist, error) {
	wl := &domain.Wishlist{
		ID:        uuid.New().String(),
		OwnerID:   ownerID,
		Name:      name,
		IsDefault: false,
		Items:     []domain.WishlistItem{},
		CreatedAt: time.Now().UTC(),
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO wishlists (id, owner_id, name, is_default, created_at)
		VALUES ($1, $2, $3, FALSE, $4)
	`, wl.ID, wl.OwnerID, wl.Name, wl.CreatedAt)
	if err != nil {
		return nil, err
	}

	return wl, nil
}

func (r *Repository) GetByID(ctx context.Context, id string) (*domain.Wishlist, error) {
	wl := &domain.Wishlist{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, owner_id, name, is_default, created_at
		FROM wishlists
		WHERE id = $1
	`, id).Scan(&wl.ID, &wl.OwnerID, &wl.Name, &wl.IsDefault, &wl.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return r.withItems(ctx, wl)
}

func (r *Repository) withItems(ctx context.Context, wl *domain.Wishlist) (*domain.Wishlist, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT product_id, added_at
		FROM wishlist_items
		WHERE wishlist_id = $1
		ORDER BY added_at DESC
	`, wl.ID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	wl.Items = []domain.WishlistItem{}
	for rows.Next() {
		var item domain.WishlistItem
		if err := rows.Scan(&item.ProductID, &item.AddedAt); err != nil {
			return nil, err
		}
		wl.Items = append(wl.Items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return wl, nil
}

func (r *Repository) ListByOwner(ctx context.Context, ownerID string) ([]domain.Wishlist, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, owner_id, name, is_default, created_at
		FROM wishlists
		WHERE owner_id = $1
		ORDER BY is_default DESC, created_at
	`, ownerID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	listMap := make(map[string]*domain.Wishlist)
	var ids []string

	for rows.Next() {
		var wl domain.Wishlist
		if err := rows.Scan(&wl.ID, &wl.OwnerID, &wl.Name, &wl.IsDefault, &wl.CreatedAt); err != nil {
			return nil, err
		}
		wl.Items = []domain.WishlistItem{}
		listMap[wl.ID] = &wl
		ids = append(ids, wl.ID)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(ids) == 0 {
		return []domain.Wishlist{}, nil
	}

	itemRows, err := r.db.QueryContext(ctx, `
		SELECT wishlist_id, product_id, added_at
		FROM wishlist_items
		WHERE wishlist_id = ANY($1)
		ORDER BY added_at DESC
	`, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer func() { _ = itemRows.Close() }()

	for itemRows.Next() {
		var wlID string
		var item domain.WishlistItem
		if err := itemRows.Scan(&wlID, &item.ProductID, &item.AddedAt); err != nil {
			return nil, err
		}
		listMap[wlID].Items = append(listMap[wlID].Items, item)
	}

	if err := itemRows.Err(); err != nil {
		return nil, err
	}

	lists := make([]domain.Wishlist, 0, len(ids))
	for _, id := range ids {
		lists = append(lists, *listMap[id])
	}

	return lists, nil
}

func (r *Repository) Rename(ctx context.Context, id, name string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE wishlists SET name = $1 WHERE id = $2
	`, name, id)
	return err
}

func (r *Repository) Delete(ctx context.Context, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM wishlist_items WHERE wishlist_id = $1`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM wishlists WHERE id = $1`, id); err != nil {
		return err
	}

	return tx.Commit()
}

// AddItem is idempotent: saving an already-saved product is a no-op.
func (r *Repository) AddItem(ctx context.Context, wishlistID, productID string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO wishlist_items (id, wishlist_id, product_id, added_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (wishlist_id, product_id) DO NOTHING
	`, uuid.New().String(), wishlistID, productID, time.Now().UTC())
	return err
}

func (r *Repository) RemoveItem(ctx context.Context, wishlistID, productID string) error {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM wishlist_items WHERE wishlist_id = $1 AND product_id = $2
	`, wishlistID, productID)
	if err != nil {
		return err
	}

	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrItemNotFound
	}
	return nil
}

// MoveItem transfers a saved product between two lists in one transaction.
func (r *Repository) MoveItem(ctx context.Context, fromID, toID, productID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		DELETE FROM wishlist_items WHERE wishlist_id = $1 AND product_id = $2
	`, fromID, productID)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrItemNotFound
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO wishlist_items (id, wishlist_id, product_id, added_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (wishlist_id, product_id) DO NOTHING
	`, uuid.New().String(), toID, productID, time.Now().UTC())
	if err != nil {
		return err
	}

	return tx.Commit()
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
