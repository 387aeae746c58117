// Package subscriptions implements recurring-delivery subscriptions:
// schedule arithmetic, frequency discounts, and the one-way cancellation
// gate.
package subscriptions

import (
	"time"

	"github.com/greenleaf/storefront/internal/domain"
)

// NextDeliveryDate returns the delivery after from for the given frequency.
// Monthly frequencies follow the calendar, not a fixed day count.
func NextDeliveryDate(freq domain.SubscriptionFrequency, from time.Time) time.Time {
	switch freq {
	case domain.FrequencyWeekly:
		return from.AddDate(0, 0, 7)
	case domain.FrequencyBiweekly:
		return from.AddDate(0, 0, 14)
	case domain.FrequencyMonthly:
		return from.AddDate(0, 1, 0)
	case domain.FrequencyBimonthly:
		return from.AddDate(0, 2, 0)
	}
	return from
}

// DiscountForFrequency maps a delivery frequency to its per-item discount
// percent. More frequent deliveries earn a deeper discount.
func DiscountForFrequency(freq domain.SubscriptionFrequency) int {
	switch freq {
	case domain.FrequencyWeekly:
		return 15
	case domain.FrequencyBiweekly:
		return 12
	case domain.FrequencyMonthly:
		return 10
	case domain.FrequencyBimonthly:
		return 8
	}
	return 0
}

// CanModify reports whether a subscription accepts any mutation.
// Cancellation is terminal: there is no un-cancel path.
func CanModify(status domain.SubscriptionStatus) bool {
	return status != domain.SubscriptionStatusCancelled
}

func ValidFrequency(freq domain.SubscriptionFrequency) bool {
	switch freq {
	case domain.FrequencyWeekly, domain.FrequencyBiweekly, domain.FrequencyMonthly, domain.FrequencyBimonthly:
		return true
	}
	return false
}
