package billing

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/greenleaf/storefront/internal/domain"
)

type fakeOrders struct {
	order       *domain.Order
	transitions []string
	allowFrom   domain.OrderStatus
}

func (f *fakeOrders) GetByID(_ context.Context, id string) (*domain.Order, error) {
	if f.order != nil && f.order.ID == id {
		return f.order, nil
	}
	return nil, nil
}

func (f *fakeOrders) Transition(_ context.Context, id string, from, to domain.OrderStatus) (bool, error) {
	if from != f.allowFrom {
		return false, nil
	}
	f.transitions = append(f.transitions, id+":"+string(from)+"->"+string(to))
	return true, nil
}

type fakeStock struct {
	committed map[string]int
	released  map[string]int
}

func (f *fakeStock) Commit(_ context.Context, productID string, quantity int) error {
	if f.committed == nil {
		f.committed = map[string]int{}
	}
	f.committed[productID] += quantity
	return nil
}

func (f *fakeStock) Release(_ context.Context, productID string, quantity int) error {
	if f.released == nil {
		f.released = map[string]int{}
	}
	f.released[productID] += quantity
	return nil
}

type fakePoints struct {
	awarded map[string]int64
}

func (f *fakePoints) AwardPurchasePoints(_ context.Context, userID, _ string, totalCents int64) (int, error) {
	if f.awarded == nil {
		f.awarded = map[string]int64{}
	}
	f.awarded[userID] = totalCents
	return int(totalCents / 100), nil
}

type fakeReferrals struct {
	firstOrders []string
}

func (f *fakeReferrals) OnFirstOrder(_ context.Context, refereeID string) error {
	f.firstOrders = append(f.firstOrders, refereeID)
	return nil
}

type fakeSubs struct {
	statuses  map[string]domain.SubscriptionStatus
	cancelled []string
}

func (f *fakeSubs) SetStatus(_ context.Context, id string, status domain.SubscriptionStatus) (bool, error) {
	if f.statuses == nil {
		f.statuses = map[string]domain.SubscriptionStatus{}
	}
	f.statuses[id] = status
	return true, nil
}

func (f *fakeSubs) Cancel(_ context.Context, id string) (bool, error) {
	f.cancelled = append(f.cancelled, id)
	return true, nil
}

type fakeUsers struct{}

func (fakeUsers) GetUserByID(_ context.Context, id string) (*domain.User, error) {
	return &domain.User{ID: id, Email: id + "@example.com"}, nil
}

type fakePublisher struct {
	published []any
	types     []string
}

func (f *fakePublisher) Publish(_ context.Context, _ string, eventType string, event any) error {
	f.published = append(f.published, event)
	f.types = append(f.types, eventType)
	return nil
}

func newTestProcessor(orders *fakeOrders, stock *fakeStock, points *fakePoints, refs *fakeReferrals, subs *fakeSubs, pub *fakePublisher, provider SubscriptionFetcher) *Processor {
	return NewProcessor(orders, stock, points, refs, subs, fakeUsers{}, pub, provider,
		slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestProcessor_CheckoutCompleted(t *testing.T) {
	orders := &fakeOrders{
		allowFrom: domain.OrderStatusPending,
		order: &domain.Order{
			ID:     "order-1",
			UserID: "user-1",
			Total:  5500,
			Items: []domain.OrderItem{
				{ProductID: "prod-a", Quantity: 2, Price: 2000},
				{ProductID: "prod-b", Quantity: 1, Price: 1500},
			},
		},
	}
	stock := &fakeStock{}
	points := &fakePoints{}
	refs := &fakeReferrals{}
	pub := &fakePublisher{}

	p := newTestProcessor(orders, stock, points, refs, &fakeSubs{}, pub, nil)

	event, err := ParseEvent([]byte(`{
		"id": "evt_1", "type": "checkout.session.completed",
		"data": {"object": {"id": "cs_1", "metadata": {"order_id": "order-1"}}}
	}`))
	if err != nil {
		t.Fatalf("parse event: %v", err)
	}

	if err := p.Process(context.Background(), event); err != nil {
		t.Fatalf("process: %v", err)
	}

	if len(orders.transitions) != 1 || orders.transitions[0] != "order-1:pending->paid" {
		t.Errorf("unexpected transitions: %v", orders.transitions)
	}
	if stock.committed["prod-a"] != 2 || stock.committed["prod-b"] != 1 {
		t.Errorf("unexpected stock commits: %v", stock.committed)
	}
	if points.awarded["user-1"] != 5500 {
		t.Errorf("expected purchase points from 5500 cents, got %v", points.awarded)
	}
	if len(refs.firstOrders) != 1 || refs.firstOrders[0] != "user-1" {
		t.Errorf("expected referral completion for user-1, got %v", refs.firstOrders)
	}
	if len(pub.published) != 1 {
		t.Fatalf("expected one published event, got %d", len(pub.published))
	}
	if pub.types[0] != domain.EventTypeOrderPaid {
		t.Errorf("expected order.paid event type, got %s", pub.types[0])
	}

	paid, ok := pub.published[0].(domain.OrderPaidEvent)
	if !ok {
		t.Fatalf("expected OrderPaidEvent, got %T", pub.published[0])
	}
	if paid.PointsAwarded != 55 || paid.Email != "user-1@example.com" {
		t.Errorf("unexpected paid event: %+v", paid)
	}
}

func TestProcessor_CheckoutCompletedNotPending(t *testing.T) {
	// An already-paid order must not double-commit stock or double-award.
	orders := &fakeOrders{
		allowFrom: domain.OrderStatusPaid,
		order:     &domain.Order{ID: "order-1", UserID: "user-1", Status: domain.OrderStatusPaid},
	}
	stock := &fakeStock{}
	points := &fakePoints{}
	pub := &fakePublisher{}

	p := newTestProcessor(orders, stock, points, &fakeReferrals{}, &fakeSubs{}, pub, nil)

	event, _ := ParseEvent([]byte(`{
		"id": "evt_2", "type": "checkout.session.completed",
		"data": {"object": {"metadata": {"order_id": "order-1"}}}
	}`))

	if err := p.Process(context.Background(), event); err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(stock.committed) != 0 || len(points.awarded) != 0 || len(pub.published) != 0 {
		t.Errorf("expected no side effects for non-pending order")
	}
}

func TestProcessor_InvoiceFailed(t *testing.T) {
	t.Run("metadata carries both ids", func(t *testing.T) {
		orders := &fakeOrders{
			allowFrom: domain.OrderStatusPending,
			order: &domain.Order{
				ID:     "order-9",
				UserID: "user-9",
				Items:  []domain.OrderItem{{ProductID: "prod-a", Quantity: 3}},
			},
		}
		stock := &fakeStock{}
		subs := &fakeSubs{}
		pub := &fakePublisher{}

		p := newTestProcessor(orders, stock, &fakePoints{}, &fakeReferrals{}, subs, pub, nil)

		event, _ := ParseEvent([]byte(`{
			"id": "evt_3", "type": "invoice.payment_failed",
			"data": {"object": {"metadata": {"order_id": "order-9", "subscription_id": "sub-5"}}}
		}`))

		if err := p.Process(context.Background(), event); err != nil {
			t.Fatalf("process: %v", err)
		}
		if orders.transitions[0] != "order-9:pending->failed" {
			t.Errorf("unexpected transitions: %v", orders.transitions)
		}
		if stock.released["prod-a"] != 3 {
			t.Errorf("expected released stock, got %v", stock.released)
		}
		if subs.statuses["sub-5"] != domain.SubscriptionStatusPastDue {
			t.Errorf("expected sub-5 past_due, got %v", subs.statuses)
		}
		if len(pub.published) != 1 {
			t.Errorf("expected one failed event published, got %d", len(pub.published))
		}
	})

	t.Run("metadata recovered from provider", func(t *testing.T) {
		provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/v1/subscriptions/stripe-sub-1" {
				t.Errorf("unexpected provider path %s", r.URL.Path)
			}
			if r.Header.Get("Authorization") != "Bearer sk_test" {
				t.Errorf("missing api key header")
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"id":"stripe-sub-1","metadata":{"subscription_id":"sub-7"}}`))
		}))
		defer provider.Close()

		subs := &fakeSubs{}
		client := NewProviderClient(provider.URL, "sk_test", provider.Client())
		p := newTestProcessor(&fakeOrders{}, &fakeStock{}, &fakePoints{}, &fakeReferrals{}, subs, &fakePublisher{}, client)

		event, _ := ParseEvent([]byte(`{
			"id": "evt_4", "type": "invoice.payment_failed",
			"data": {"object": {"subscription": "stripe-sub-1", "metadata": {}}}
		}`))

		if err := p.Process(context.Background(), event); err != nil {
			t.Fatalf("process: %v", err)
		}
		if subs.statuses["sub-7"] != domain.SubscriptionStatusPastDue {
			t.Errorf("expected sub-7 past_due, got %v", subs.statuses)
		}
	})
}

func TestProcessor_SubscriptionEvents(t *testing.T) {
	t.Run("deleted cancels", func(t *testing.T) {
		subs := &fakeSubs{}
		p := newTestProcessor(&fakeOrders{}, &fakeStock{}, &fakePoints{}, &fakeReferrals{}, subs, &fakePublisher{}, nil)

		event, _ := ParseEvent([]byte(`{
			"id": "evt_5", "type": "customer.subscription.deleted",
			"data": {"object": {"metadata": {"subscription_id": "sub-2"}}}
		}`))

		if err := p.Process(context.Background(), event); err != nil {
			t.Fatalf("process: %v", err)
		}
		if len(subs.cancelled) != 1 || subs.cancelled[0] != "sub-2" {
			t.Errorf("expected sub-2 cancelled, got %v", subs.cancelled)
		}
	})

	t.Run("missing metadata is skipped", func(t *testing.T) {
		subs := &fakeSubs{}
		p := newTestProcessor(&fakeOrders{}, &fakeStock{}, &fakePoints{}, &fakeReferrals{}, subs, &fakePublisher{}, nil)

		event, _ := ParseEvent([]byte(`{
			"id": "evt_6", "type": "customer.subscription.updated",
			"data": {"object": {"id": "stripe-sub-2"}}
		}`))

		if err := p.Process(context.Background(), event); err != nil {
			t.Fatalf("expected skip, got %v", err)
		}
		if len(subs.statuses) != 0 {
			t.Errorf("expected no status changes, got %v", subs.statuses)
		}
	})

	t.Run("unknown type is ignored", func(t *testing.T) {
		p := newTestProcessor(&fakeOrders{}, &fakeStock{}, &fakePoints{}, &fakeReferrals{}, &fakeSubs{}, &fakePublisher{}, nil)

		event, _ := ParseEvent([]byte(`{"id": "evt_7", "type": "charge.refunded", "data": {"object": {}}}`))
		if err := p.Process(context.Background(), event); err != nil {
			t.Fatalf("expected unknown type to be ignored, got %v", err)
		}
	})
}
