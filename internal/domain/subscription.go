package domain

import "time"

type SubscriptionFrequency string

const (
	FrequencyWeekly    SubscriptionFrequency = "weekly"
	FrequencyBiweekly  SubscriptionFrequency = "biweekly"
	FrequencyMonthly   SubscriptionFrequency = "monthly"
	FrequencyBimonthly SubscriptionFrequency = "bimonthly"
)

type SubscriptionStatus string

const (
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusPaused    SubscriptionStatus = "paused"
	SubscriptionStatusPastDue   SubscriptionStatus = "past_due"
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"
)

type SubscriptionItem struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type Subscription struct {
	ID               string                `json:"id"`
	UserID           string                `json:"user_id"`
	Frequency        SubscriptionFrequency `json:"frequency"`
	Status           SubscriptionStatus    `json:"status"`
	DiscountPercent  int                   `json:"discount_percent"`
	NextDeliveryDate time.Time             `json:"next_delivery_date"`
	Items            []SubscriptionItem    `json:"items"`
	CreatedAt        time.Time             `json:"created_at"`
}
