package domain

import "time"

type ReferralStatus string

// Referral lifecycle: pending -> completed -> rewarded, with expired
// reachable from pending. Rewarded and expired are terminal.
const (
	ReferralStatusPending   ReferralStatus = "pending"
	ReferralStatusCompleted ReferralStatus = "completed"
	ReferralStatusRewarded  ReferralStatus = "rewarded"
	ReferralStatusExpired   ReferralStatus = "expired"
)

type Referral struct {
	ID              string         `json:"id"`
	Code            string         `json:"code"`
	ReferrerID      string         `json:"referrer_id"`
	RefereeID       string         `json:"referee_id"`
	RefereeName     string         `json:"referee_name"`
	Status          ReferralStatus `json:"status"`
	RewardPoints    int            `json:"reward_points"`
	DiscountPercent int            `json:"discount_percent"`
	CreatedAt       time.Time      `json:"created_at"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty"`
}
