package domain

import "time"

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusPaid      OrderStatus = "paid"
	OrderStatusFailed    OrderStatus = "failed"
	OrderStatusCancelled OrderStatus = "cancelled"
)

type ShippingStatus string

const (
	ShippingStatusUnshipped ShippingStatus = "unshipped"
	ShippingStatusPreparing ShippingStatus = "preparing"
	ShippingStatusShipped   ShippingStatus = "shipped"
	ShippingStatusDelivered ShippingStatus = "delivered"
)

type OrderItem struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	Price     int64  `json:"price"`
}

type Order struct {
	ID             string         `json:"id"`
	UserID         string         `json:"user_id"`
	Items          []OrderItem    `json:"items"`
	Total          int64          `json:"total"`
	Discount       int64          `json:"discount"`
	Status         OrderStatus    `json:"status"`
	ShippingStatus ShippingStatus `json:"shipping_status"`
	CreatedAt      time.Time      `json:"created_at"`
}
