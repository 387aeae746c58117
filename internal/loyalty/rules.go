// Package loyalty implements the points ledger: guarded one-time awards and
// atomic redemptions over an append-only transaction log. Balances are
// always derived by summation.
package loyalty

import (
	"errors"
	"fmt"
)

const (
	// SignupBonusPoints is awarded once per account.
	SignupBonusPoints = 500
	// ReviewPoints is awarded once per review.
	ReviewPoints = 50
	// DefaultReferralPoints is the referrer's award when a referral
	// carries no explicit reward.
	DefaultReferralPoints = 200
)

var ErrAlreadyAwarded = errors.New("points already awarded for this source")

// InsufficientPointsError reports a redemption that exceeds the derived
// balance.
type InsufficientPointsError struct {
	Available int
	Requested int
}

func (e *InsufficientPointsError) Error() string {
	return fmt.Sprintf("insufficient points: requested %d, available %d", e.Requested, e.Available)
}

// PointsForOrder computes purchase points: one point per whole dollar of
// the order total.
func PointsForOrder(totalCents int64) int {
	if totalCents < 0 {
		return 0
	}
	return int(totalCents / 100)
}

// DiscountCents converts redeemed points to a discount: 100 points are
// worth one dollar, so a point is worth a cent.
func DiscountCents(points int) int64 {
	if points < 0 {
		return 0
	}
	return int64(points)
}
