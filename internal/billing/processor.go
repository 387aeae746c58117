package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/greenleaf/storefront/internal/domain"
	"github.com/greenleaf/storefront/internal/loyalty"
)

type OrderStore interface {
	GetByID(ctx context.Context, id string) (*domain.Order, error)
	Transition(ctx context.Context, id string, from, to domain.OrderStatus) (bool, error)
}

type StockStore interface {
	Commit(ctx context.Context, productID string, quantity int) error
	Release(ctx context.Context, productID string, quantity int) error
}

type PointsAwarder interface {
	AwardPurchasePoints(ctx context.Context, userID, orderID string, totalCents int64) (int, error)
}

type ReferralCompleter interface {
	OnFirstOrder(ctx context.Context, refereeID string) error
}

type SubscriptionStore interface {
	SetStatus(ctx context.Context, id string, status domain.SubscriptionStatus) (bool, error)
	Cancel(ctx context.Context, id string) (bool, error)
}

type UserStore interface {
	GetUserByID(ctx context.Context, id string) (*domain.User, error)
}

type Publisher interface {
	Publish(ctx context.Context, key, eventType string, event any) error
}

// SubscriptionFetcher recovers event metadata from the provider when the
// webhook payload carries none.
type SubscriptionFetcher interface {
	GetSubscriptionMetadata(ctx context.Context, providerSubID string) (map[string]string, error)
}

// Processor applies a verified, not-yet-seen provider event to local
// state. Errors bubble to the HTTP handler, which releases the
// idempotency claim so the provider retries.
type Processor struct {
	orders        OrderStore
	stock         StockStore
	points        PointsAwarder
	referrals     ReferralCompleter
	subscriptions SubscriptionStore
	users         UserStore
	publisher     Publisher
	provider      SubscriptionFetcher
	logger        *slog.Logger
}

func NewProcessor(
	orders OrderStore,
	stock StockStore,
	points PointsAwarder,
	referrals ReferralCompleter,
	subscriptions SubscriptionStore,
	users UserStore,
	publisher Publisher,
	provider SubscriptionFetcher,
	logger *slog.Logger,
) *Processor {
	return &Processor{
		orders:        orders,
		stock:         stock,
		points:        points,
		referrals:     referrals,
		subscriptions: subscriptions,
		users:         users,
		publisher:     publisher,
		provider:      provider,
		logger:        logger,
	}
}

func (p *Processor) Process(ctx context.Context, event *Event) error {
	switch event.Type {
	case EventCheckoutCompleted:
		return p.handleCheckoutCompleted(ctx, event)
	case EventInvoiceFailed:
		return p.handleInvoiceFailed(ctx, event)
	case EventSubscriptionCreated, EventSubscriptionUpdated:
		return p.handleSubscriptionSync(ctx, event)
	case EventSubscriptionDeleted:
		return p.handleSubscriptionDeleted(ctx, event)
	default:
		p.logger.Info("ignoring unhandled webhook event type",
			slog.String("event_id", event.ID), slog.String("event_type", event.Type))
		return nil
	}
}

func (p *Processor) handleCheckoutCompleted(ctx context.Context, event *Event) error {
	obj, err := event.object()
	if err != nil {
		return err
	}

	orderID := obj.Metadata["order_id"]
	if orderID == "" {
		p.logger.Warn("checkout event has no order_id metadata, skipping",
			slog.String("event_id", event.ID))
		return nil
	}

	ok, err := p.orders.Transition(ctx, orderID, domain.OrderStatusPending, domain.OrderStatusPaid)
	if err != nil {
		return fmt.Errorf("mark order %s paid: %w", orderID, err)
	}
	if !ok {
		p.logger.Info("order is not pending, skipping checkout event",
			slog.String("event_id", event.ID), slog.String("order_id", orderID))
		return nil
	}

	order, err := p.orders.GetByID(ctx, orderID)
	if err != nil {
		return fmt.Errorf("load order %s: %w", orderID, err)
	}
	if order == nil {
		return fmt.Errorf("order %s vanished after transition", orderID)
	}

	for _, item := range order.Items {
		if err := p.stock.Commit(ctx, item.ProductID, item.Quantity); err != nil {
			return fmt.Errorf("commit stock for product %s: %w", item.ProductID, err)
		}
	}

	awarded, err := p.points.AwardPurchasePoints(ctx, order.UserID, order.ID, order.Total)
	if err != nil && !errors.Is(err, loyalty.ErrAlreadyAwarded) {
		return fmt.Errorf("award purchase points for order %s: %w", order.ID, err)
	}

	if err := p.referrals.OnFirstOrder(ctx, order.UserID); err != nil {
		return fmt.Errorf("complete referral for user %s: %w", order.UserID, err)
	}

	email := ""
	if user, err := p.users.GetUserByID(ctx, order.UserID); err == nil && user != nil {
		email = user.Email
	}

	paid := domain.OrderPaidEvent{
		OrderID:       order.ID,
		UserID:        order.UserID,
		Email:         email,
		Items:         order.Items,
		Total:         order.Total,
		PointsAwarded: awarded,
		Timestamp:     time.Now().UTC(),
	}
	if err := p.publisher.Publish(ctx, order.ID, domain.EventTypeOrderPaid, paid); err != nil {
		return fmt.Errorf("publish order paid event for %s: %w", order.ID, err)
	}

	p.logger.Info("order paid",
		slog.String("event_id", event.ID),
		slog.String("order_id", order.ID),
		slog.String("user_id", order.UserID),
		slog.Int("points_awarded", awarded))
	return nil
}

func (p *Processor) handleInvoiceFailed(ctx context.Context, event *Event) error {
	obj, err := event.object()
	if err != nil {
		return err
	}

	metadata := obj.Metadata
	if metadata["subscription_id"] == "" && metadata["order_id"] == "" && obj.Subscription != "" && p.provider != nil {
		fetched, err := p.provider.GetSubscriptionMetadata(ctx, obj.Subscription)
		if err != nil {
			return fmt.Errorf("recover metadata for event %s: %w", event.ID, err)
		}
		metadata = fetched
	}

	if orderID := metadata["order_id"]; orderID != "" {
		ok, err := p.orders.Transition(ctx, orderID, domain.OrderStatusPending, domain.OrderStatusFailed)
		if err != nil {
			return fmt.Errorf("mark order %s failed: %w", orderID, err)
		}
		if ok {
			order, err := p.orders.GetByID(ctx, orderID)
			if err != nil {
				return fmt.Errorf("load order %s: %w", orderID, err)
			}
			for _, item := range order.Items {
				if err := p.stock.Release(ctx, item.ProductID, item.Quantity); err != nil {
					return fmt.Errorf("release stock for product %s: %w", item.ProductID, err)
				}
			}

			email := ""
			if user, err := p.users.GetUserByID(ctx, order.UserID); err == nil && user != nil {
				email = user.Email
			}
			failed := domain.OrderFailedEvent{
				OrderID:   order.ID,
				UserID:    order.UserID,
				Email:     email,
				Timestamp: time.Now().UTC(),
			}
			if err := p.publisher.Publish(ctx, order.ID, domain.EventTypeOrderFailed, failed); err != nil {
				return fmt.Errorf("publish order failed event for %s: %w", order.ID, err)
			}

			p.logger.Info("order payment failed",
				slog.String("event_id", event.ID), slog.String("order_id", orderID))
		}
	}

	if subID := metadata["subscription_id"]; subID != "" {
		if _, err := p.subscriptions.SetStatus(ctx, subID, domain.SubscriptionStatusPastDue); err != nil {
			return fmt.Errorf("mark subscription %s past_due: %w", subID, err)
		}
		p.logger.Info("subscription past due",
			slog.String("event_id", event.ID), slog.String("subscription_id", subID))
	}

	return nil
}

func (p *Processor) handleSubscriptionSync(ctx context.Context, event *Event) error {
	obj, err := event.object()
	if err != nil {
		return err
	}

	subID := obj.Metadata["subscription_id"]
	if subID == "" {
		p.logger.Warn("subscription event has no subscription_id metadata, skipping",
			slog.String("event_id", event.ID), slog.String("event_type", event.Type))
		return nil
	}

	if _, err := p.subscriptions.SetStatus(ctx, subID, domain.SubscriptionStatusActive); err != nil {
		return fmt.Errorf("activate subscription %s: %w", subID, err)
	}

	p.logger.Info("subscription synced",
		slog.String("event_id", event.ID),
		slog.String("event_type", event.Type),
		slog.String("subscription_id", subID))
	return nil
}

func (p *Processor) handleSubscriptionDeleted(ctx context.Context, event *Event) error {
	obj, err := event.object()
	if err != nil {
		return err
	}

	subID := obj.Metadata["subscription_id"]
	if subID == "" {
		p.logger.Warn("subscription event has no subscription_id metadata, skipping",
			slog.String("event_id", event.ID), slog.String("event_type", event.Type))
		return nil
	}

	if _, err := p.subscriptions.Cancel(ctx, subID); err != nil {
		return fmt.Errorf("cancel subscription %s: %w", subID, err)
	}

	p.logger.Info("subscription cancelled by provider",
		slog.String("event_id", event.ID), slog.String("subscription_id", subID))
	return nil
}
