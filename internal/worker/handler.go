// Package worker turns order events from Kafka into customer
// notifications via the email service.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/greenleaf/storefront/internal/domain"
)

type NotificationHandler struct {
	emailServiceURL string
	httpClient      *http.Client
	logger          *slog.Logger
}

func NewNotificationHandler(emailServiceURL string, client *http.Client, logger *slog.Logger) *NotificationHandler {
	return &NotificationHandler{
		emailServiceURL: emailServiceURL,
		httpClient:      client,
		logger:          logger,
	}
}

func (h *NotificationHandler) Handle(ctx context.Context, eventType string, payload []byte) error {
	switch eventType {
	case domain.EventTypeOrderPaid:
		return h.handleOrderPaid(ctx, payload)
	case domain.EventTypeOrderFailed:
		return h.handleOrderFailed(ctx, payload)
	default:
		h.logger.Warn("skipping message with unknown event type", "event_type", eventType)
		return nil
	}
}

func (h *NotificationHandler) handleOrderPaid(ctx context.Context, payload []byte) error {
	var event domain.OrderPaidEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return fmt.Errorf("unmarshal order paid event: %w", err)
	}

	h.logger.Info("processing order paid event", "order_id", event.OrderID, "user_id", event.UserID)

	if event.Email == "" {
		h.logger.Warn("order has no customer email, skipping confirmation", "order_id", event.OrderID)
		return nil
	}

	body := fmt.Sprintf("Thanks for your order! Order %s (%d items, $%.2f) is confirmed.",
		event.OrderID, len(event.Items), float64(event.Total)/100)
	if event.PointsAwarded > 0 {
		body += fmt.Sprintf(" You earned %d loyalty points.", event.PointsAwarded)
	}

	if err := h.sendEmail(ctx, map[string]string{
		"to":       event.Email,
		"subject":  "Order Confirmation: " + event.OrderID,
		"body":     body,
		"template": "order-confirmation",
	}); err != nil {
		h.logger.Error("failed to send confirmation email", "error", err, "order_id", event.OrderID)
		return fmt.Errorf("send confirmation email: %w", err)
	}

	h.logger.Info("confirmation email sent", "order_id", event.OrderID)
	return nil
}

func (h *NotificationHandler) handleOrderFailed(ctx context.Context, payload []byte) error {
	var event domain.OrderFailedEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return fmt.Errorf("unmarshal order failed event: %w", err)
	}

	h.logger.Info("processing order failed event", "order_id", event.OrderID, "user_id", event.UserID)

	if event.Email == "" {
		h.logger.Warn("order has no customer email, skipping notice", "order_id", event.OrderID)
		return nil
	}

	if err := h.sendEmail(ctx, map[string]string{
		"to":       event.Email,
		"subject":  "Payment Failed: " + event.OrderID,
		"body":     fmt.Sprintf("Payment for order %s did not go through. Please update your payment method and try again.", event.OrderID),
		"template": "payment-failed",
	}); err != nil {
		h.logger.Error("failed to send payment failure email", "error", err, "order_id", event.OrderID)
		return fmt.Errorf("send payment failure email: %w", err)
	}

	h.logger.Info("payment failure email sent", "order_id", event.OrderID)
	return nil
}

func (h *NotificationHandler) sendEmail(ctx context.Context, body map[string]string) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.emailServiceURL+"/send", bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("email service returned status %d", resp.StatusCode)
	}

	return nil
}
