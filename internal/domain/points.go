package domain

import "time"

type PointTransactionType string

const (
	PointTypeEarn   PointTransactionType = "earn"
	PointTypeRedeem PointTransactionType = "redeem"
)

type PointSource string

const (
	PointSourcePurchase   PointSource = "purchase"
	PointSourceReview     PointSource = "review"
	PointSourceReferral   PointSource = "referral"
	PointSourceSignup     PointSource = "signup"
	PointSourceRedemption PointSource = "redemption"
)

// PointTransaction is a row in the append-only loyalty ledger. A user's
// available balance is always the sum of their rows, never a stored counter.
type PointTransaction struct {
	ID          string               `json:"id"`
	UserID      string               `json:"user_id"`
	Type        PointTransactionType `json:"type"`
	Points      int                  `json:"points"`
	Source      PointSource          `json:"source"`
	SourceID    string               `json:"source_id,omitempty"`
	OrderID     string               `json:"order_id,omitempty"`
	Description string               `json:"description"`
	CreatedAt   time.Time            `json:"created_at"`
}
