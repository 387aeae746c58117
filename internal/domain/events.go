package domain

import "time"

// Event type names carried in the message header on the order events
// topic.
const (
	EventTypeOrderPaid   = "order.paid"
	EventTypeOrderFailed = "order.failed"
)

// OrderPaidEvent is published to Kafka once a billing webhook marks an
// order paid and all ledger side effects have committed.
type OrderPaidEvent struct {
	OrderID       string      `json:"order_id"`
	UserID        string      `json:"user_id"`
	Email         string      `json:"email"`
	Items         []OrderItem `json:"items"`
	Total         int64       `json:"total"`
	PointsAwarded int         `json:"points_awarded"`
	Timestamp     time.Time   `json:"timestamp"`
}

// OrderFailedEvent is published when a payment fails and the order is
// marked failed.
type OrderFailedEvent struct {
	OrderID   string    `json:"order_id"`
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	Timestamp time.Time `json:"timestamp"`
}
