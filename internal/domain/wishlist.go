package domain

import "time"

// DefaultWishlistName is the always-present wishlist created lazily per
// owner. It cannot be renamed or deleted.
const DefaultWishlistName = "Favorites"

type Wishlist struct {
	ID        string         `json:"id"`
	OwnerID   string         `json:"-"`
	Name      string         `json:"name"`
	IsDefault bool           `json:"is_default"`
	Items     []WishlistItem `json:"items"`
	CreatedAt time.Time      `json:"created_at"`
}

type WishlistItem struct {
	ProductID string    `json:"product_id"`
	AddedAt   time.Time `json:"added_at"`
}
