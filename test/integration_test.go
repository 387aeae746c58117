//go:build integration

package test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/greenleaf/storefront/internal/auth"
	"github.com/greenleaf/storefront/internal/billing"
	"github.com/greenleaf/storefront/internal/catalog"
	"github.com/greenleaf/storefront/internal/domain"
	"github.com/greenleaf/storefront/internal/loyalty"
	"github.com/greenleaf/storefront/internal/orders"
	"github.com/greenleaf/storefront/internal/referrals"
	"github.com/greenleaf/storefront/internal/subscriptions"
)

// Seeded by the catalog migration.
const (
	espressoID    = "a2a5b7d0-0001-4c01-9f10-000000000001"
	espressoPrice = 1650
	espressoStock = 120

	testWebhookSecret = "whsec_integration"
)

type publishedEvent struct {
	Key       string
	EventType string
	Event     any
}

// publisherCapture stands in for the Kafka producer so webhook processing
// can be asserted without a broker.
type publisherCapture struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (p *publisherCapture) Publish(_ context.Context, key, eventType string, event any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{Key: key, EventType: eventType, Event: event})
	return nil
}

func (p *publisherCapture) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

// harness wires the API the way cmd/api does, minus telemetry, CSRF and
// rate limiting, and drives it through the chi router in-process.
type harness struct {
	router    chi.Router
	publisher *publisherCapture
	authRepo  *auth.Repository
	catalog   *catalog.Repository
	orders    *orders.Repository
	loyalty   *loyalty.Engine
	referrals *referrals.Service
}

func newHarness(t *testing.T, connStr string) *harness {
	t.Helper()

	db, err := OpenDB(connStr)
	if err != nil {
		t.Fatalf("failed to open DB: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	publisher := &publisherCapture{}

	authRepo := auth.NewRepository(db)
	catalogRepo := catalog.NewRepository(db)
	orderRepo := orders.NewRepository(db)
	loyaltyEngine := loyalty.NewEngine(db, logger)
	referralRepo := referrals.NewRepository(db)
	referralService := referrals.NewService(referralRepo, loyaltyEngine, logger)
	subscriptionRepo := subscriptions.NewRepository(db)
	billingRepo := billing.NewRepository(db)

	processor := billing.NewProcessor(
		orderRepo, catalogRepo, loyaltyEngine, referralService,
		subscriptionRepo, authRepo, publisher, nil, logger)

	authHandler := auth.NewHandler(authRepo, loyaltyEngine, logger)
	orderHandler := orders.NewHandler(orderRepo, catalogRepo, loyaltyEngine, referralService, logger)
	loyaltyHandler := loyalty.NewHandler(loyaltyEngine, referralService, logger)
	referralHandler := referrals.NewHandler(referralRepo, referralService, logger)
	subscriptionHandler := subscriptions.NewHandler(subscriptionRepo, catalogRepo, logger)
	webhookHandler := billing.NewHandler(testWebhookSecret, billingRepo, processor, logger)

	authMW := auth.NewMiddleware(authRepo, logger)

	r := chi.NewRouter()
	r.Post("/api/webhooks/stripe", webhookHandler.HandleWebhook)
	r.Group(func(r chi.Router) {
		r.Use(authMW.Optional)
		r.Post("/api/auth/signup", authHandler.HandleSignup)
		r.Post("/api/auth/login", authHandler.HandleLogin)
		r.Post("/api/referrals/validate", referralHandler.HandleValidate)

		r.Group(func(r chi.Router) {
			r.Use(authMW.Required)
			r.Post("/api/checkout", orderHandler.HandleCheckout)
			r.Get("/api/orders", orderHandler.HandleList)
			r.Get("/api/loyalty/summary", loyaltyHandler.HandleSummary)
			r.Get("/api/referrals/code", referralHandler.HandleGetCode)
			r.Post("/api/referrals/apply", referralHandler.HandleApply)
			r.Route("/api/subscriptions", func(r chi.Router) {
				r.Post("/", subscriptionHandler.HandleCreate)
				r.Get("/{id}", subscriptionHandler.HandleGet)
				r.Patch("/{id}", subscriptionHandler.HandlePatch)
				r.Delete("/{id}", subscriptionHandler.HandleCancel)
				r.Post("/{id}/skip", subscriptionHandler.HandleSkip)
			})
		})
	})

	return &harness{
		router:    r,
		publisher: publisher,
		authRepo:  authRepo,
		catalog:   catalogRepo,
		orders:    orderRepo,
		loyalty:   loyaltyEngine,
		referrals: referralService,
	}
}

func (h *harness) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal request body: %v", err)
		}
		reader = bytes.NewReader(buf)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()

	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("failed to decode response envelope: %v (%s)", err, rec.Body.String())
	}
	if !env.Success {
		t.Fatalf("expected success response, got %s", rec.Body.String())
	}
	if out != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			t.Fatalf("failed to decode response data: %v (%s)", err, env.Data)
		}
	}
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()

	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("failed to decode response envelope: %v (%s)", err, rec.Body.String())
	}
	if env.Error == nil {
		t.Fatalf("expected error response, got %s", rec.Body.String())
	}
	return env.Error.Code
}

func (h *harness) signup(t *testing.T, email string) (token, userID string) {
	t.Helper()

	rec := h.do(t, http.MethodPost, "/api/auth/signup", "", map[string]string{
		"email":    email,
		"password": "correct-horse-battery",
		"name":     "Integration Shopper",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected signup status %d, got %d: %s", http.StatusCreated, rec.Code, rec.Body.String())
	}

	var session struct {
		Token string      `json:"token"`
		User  domain.User `json:"user"`
	}
	decodeData(t, rec, &session)
	if session.Token == "" || session.User.ID == "" {
		t.Fatalf("expected session token and user id, got %+v", session)
	}
	return session.Token, session.User.ID
}

func (h *harness) balance(ctx context.Context, t *testing.T, userID string) int {
	t.Helper()

	balance, err := h.loyalty.Balance(ctx, userID)
	if err != nil {
		t.Fatalf("failed to derive balance: %v", err)
	}
	return balance
}

func (h *harness) stock(ctx context.Context, t *testing.T, productID string) *domain.StockLevel {
	t.Helper()

	stock, err := h.catalog.GetStock(ctx, productID)
	if err != nil {
		t.Fatalf("failed to load stock: %v", err)
	}
	return stock
}

func (h *harness) postWebhook(t *testing.T, payload []byte) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Stripe-Signature", billing.SignatureHeader(time.Now().Unix(), payload, testWebhookSecret))

	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

func TestSignupGrantsWelcomeBonus(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pg := SetupPostgres(ctx, t)
	defer pg.Cleanup()

	h := newHarness(t, pg.ConnStr)
	token, userID := h.signup(t, "bonus@example.com")

	rec := h.do(t, http.MethodGet, "/api/loyalty/summary", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, rec.Code, rec.Body.String())
	}

	var summary struct {
		AvailablePoints  int   `json:"available_points"`
		MaxDiscountCents int64 `json:"max_discount_cents"`
	}
	decodeData(t, rec, &summary)
	if summary.AvailablePoints != loyalty.SignupBonusPoints {
		t.Fatalf("expected welcome bonus of %d points, got %d", loyalty.SignupBonusPoints, summary.AvailablePoints)
	}

	// The award is keyed to the user id, so a retry must not double it.
	if err := h.loyalty.AwardSignupBonus(ctx, userID); !errors.Is(err, loyalty.ErrAlreadyAwarded) {
		t.Fatalf("expected ErrAlreadyAwarded on second signup bonus, got %v", err)
	}
	if got := h.balance(ctx, t, userID); got != loyalty.SignupBonusPoints {
		t.Fatalf("expected balance %d after retry, got %d", loyalty.SignupBonusPoints, got)
	}
}

func TestCheckoutToPaidFlow(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	pg := SetupPostgres(ctx, t)
	defer pg.Cleanup()

	h := newHarness(t, pg.ConnStr)

	referrerToken, referrerID := h.signup(t, "referrer@example.com")
	buyerToken, buyerID := h.signup(t, "buyer@example.com")

	rec := h.do(t, http.MethodGet, "/api/referrals/code", referrerToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected referral code status %d, got %d: %s", http.StatusOK, rec.Code, rec.Body.String())
	}
	var codeResp struct {
		Code string `json:"code"`
	}
	decodeData(t, rec, &codeResp)

	// A code is never valid for its own owner, only for other shoppers.
	var validation struct {
		Valid           bool `json:"valid"`
		DiscountPercent int  `json:"discount_percent"`
	}
	rec = h.do(t, http.MethodPost, "/api/referrals/validate", referrerToken, map[string]string{
		"code": codeResp.Code,
	})
	decodeData(t, rec, &validation)
	if validation.Valid {
		t.Fatal("expected own code to be invalid for the referrer")
	}
	rec = h.do(t, http.MethodPost, "/api/referrals/validate", buyerToken, map[string]string{
		"code": codeResp.Code,
	})
	decodeData(t, rec, &validation)
	if !validation.Valid || validation.DiscountPercent != referrals.ReferralDiscountPercent {
		t.Fatalf("expected valid code with %d%% discount, got %+v", referrals.ReferralDiscountPercent, validation)
	}

	rec = h.do(t, http.MethodPost, "/api/referrals/apply", buyerToken, map[string]string{
		"code": codeResp.Code,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected referral apply status %d, got %d: %s", http.StatusCreated, rec.Code, rec.Body.String())
	}
	var referral domain.Referral
	decodeData(t, rec, &referral)
	if referral.Status != domain.ReferralStatusPending {
		t.Fatalf("expected pending referral, got %s", referral.Status)
	}

	rec = h.do(t, http.MethodPost, "/api/checkout", buyerToken, map[string]any{
		"items":         []map[string]any{{"product_id": espressoID, "quantity": 2}},
		"referral_code": codeResp.Code,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected checkout status %d, got %d: %s", http.StatusCreated, rec.Code, rec.Body.String())
	}

	var order domain.Order
	decodeData(t, rec, &order)
	if order.Status != domain.OrderStatusPending {
		t.Fatalf("expected pending order, got %s", order.Status)
	}
	subtotal := int64(2 * espressoPrice)
	wantDiscount := subtotal * int64(referrals.ReferralDiscountPercent) / 100
	if order.Discount != wantDiscount {
		t.Fatalf("expected referral discount %d, got %d", wantDiscount, order.Discount)
	}
	if order.Total != subtotal-wantDiscount {
		t.Fatalf("expected total %d, got %d", subtotal-wantDiscount, order.Total)
	}

	stock := h.stock(ctx, t, espressoID)
	if stock.Available != espressoStock-2 || stock.Reserved != 2 {
		t.Fatalf("expected stock %d/2 after checkout, got %d/%d", espressoStock-2, stock.Available, stock.Reserved)
	}

	payload, err := json.Marshal(map[string]any{
		"id":   "evt_checkout_1",
		"type": "checkout.session.completed",
		"data": map[string]any{
			"object": map[string]any{
				"id":       "cs_test_1",
				"metadata": map[string]string{"order_id": order.ID},
			},
		},
	})
	if err != nil {
		t.Fatalf("failed to marshal webhook payload: %v", err)
	}

	rec = h.postWebhook(t, payload)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected webhook status %d, got %d: %s", http.StatusOK, rec.Code, rec.Body.String())
	}
	var webhookResp struct {
		Status string `json:"status"`
	}
	decodeData(t, rec, &webhookResp)
	if webhookResp.Status != "processed" {
		t.Fatalf("expected processed webhook, got %q", webhookResp.Status)
	}

	paid, err := h.orders.GetByID(ctx, order.ID)
	if err != nil {
		t.Fatalf("failed to load order: %v", err)
	}
	if paid.Status != domain.OrderStatusPaid {
		t.Fatalf("expected paid order, got %s", paid.Status)
	}

	stock = h.stock(ctx, t, espressoID)
	if stock.Available != espressoStock-2 || stock.Reserved != 0 {
		t.Fatalf("expected committed stock %d/0, got %d/%d", espressoStock-2, stock.Available, stock.Reserved)
	}

	wantBuyer := loyalty.SignupBonusPoints + loyalty.PointsForOrder(order.Total)
	if got := h.balance(ctx, t, buyerID); got != wantBuyer {
		t.Fatalf("expected buyer balance %d, got %d", wantBuyer, got)
	}
	wantReferrer := loyalty.SignupBonusPoints + referral.RewardPoints
	if got := h.balance(ctx, t, referrerID); got != wantReferrer {
		t.Fatalf("expected referrer balance %d, got %d", wantReferrer, got)
	}

	if h.publisher.count() != 1 {
		t.Fatalf("expected 1 published event, got %d", h.publisher.count())
	}
	if got := h.publisher.events[0].EventType; got != domain.EventTypeOrderPaid {
		t.Fatalf("expected %s event, got %s", domain.EventTypeOrderPaid, got)
	}

	// Exact replay of the same event must be a no-op.
	rec = h.postWebhook(t, payload)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected replay status %d, got %d: %s", http.StatusOK, rec.Code, rec.Body.String())
	}
	decodeData(t, rec, &webhookResp)
	if webhookResp.Status != "already_processed" {
		t.Fatalf("expected already_processed on replay, got %q", webhookResp.Status)
	}
	if got := h.balance(ctx, t, buyerID); got != wantBuyer {
		t.Fatalf("expected buyer balance %d after replay, got %d", wantBuyer, got)
	}
	if h.publisher.count() != 1 {
		t.Fatalf("expected no extra events after replay, got %d", h.publisher.count())
	}
}

func TestCheckoutPointsRedemption(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pg := SetupPostgres(ctx, t)
	defer pg.Cleanup()

	h := newHarness(t, pg.ConnStr)
	token, userID := h.signup(t, "redeemer@example.com")

	rec := h.do(t, http.MethodPost, "/api/checkout", token, map[string]any{
		"items":         []map[string]any{{"product_id": espressoID, "quantity": 1}},
		"redeem_points": 2000,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d for oversized redemption, got %d: %s", http.StatusBadRequest, rec.Code, rec.Body.String())
	}
	decodeError(t, rec)

	rec = h.do(t, http.MethodPost, "/api/checkout", token, map[string]any{
		"items":         []map[string]any{{"product_id": espressoID, "quantity": 1}},
		"redeem_points": 600,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d for insufficient points, got %d: %s", http.StatusBadRequest, rec.Code, rec.Body.String())
	}
	if code := decodeError(t, rec); code != "INSUFFICIENT_POINTS" {
		t.Fatalf("expected INSUFFICIENT_POINTS, got %s", code)
	}

	// Both failures must leave the reservation released.
	stock := h.stock(ctx, t, espressoID)
	if stock.Available != espressoStock || stock.Reserved != 0 {
		t.Fatalf("expected untouched stock %d/0, got %d/%d", espressoStock, stock.Available, stock.Reserved)
	}
	if got := h.balance(ctx, t, userID); got != loyalty.SignupBonusPoints {
		t.Fatalf("expected balance %d after failed redemptions, got %d", loyalty.SignupBonusPoints, got)
	}

	rec = h.do(t, http.MethodPost, "/api/checkout", token, map[string]any{
		"items":         []map[string]any{{"product_id": espressoID, "quantity": 1}},
		"redeem_points": 300,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected checkout status %d, got %d: %s", http.StatusCreated, rec.Code, rec.Body.String())
	}

	var order domain.Order
	decodeData(t, rec, &order)
	if order.Discount != 300 {
		t.Fatalf("expected discount 300, got %d", order.Discount)
	}
	if order.Total != espressoPrice-300 {
		t.Fatalf("expected total %d, got %d", espressoPrice-300, order.Total)
	}
	if got := h.balance(ctx, t, userID); got != loyalty.SignupBonusPoints-300 {
		t.Fatalf("expected balance %d after redemption, got %d", loyalty.SignupBonusPoints-300, got)
	}
}

func TestSubscriptionLifecycle(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pg := SetupPostgres(ctx, t)
	defer pg.Cleanup()

	h := newHarness(t, pg.ConnStr)
	token, _ := h.signup(t, "subscriber@example.com")

	rec := h.do(t, http.MethodPost, "/api/subscriptions", token, map[string]any{
		"frequency": "weekly",
		"items":     []map[string]any{{"product_id": espressoID, "quantity": 1}},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected create status %d, got %d: %s", http.StatusCreated, rec.Code, rec.Body.String())
	}

	var sub domain.Subscription
	decodeData(t, rec, &sub)
	if sub.Status != domain.SubscriptionStatusActive || sub.Frequency != domain.FrequencyWeekly {
		t.Fatalf("expected active weekly subscription, got %s/%s", sub.Status, sub.Frequency)
	}

	rec = h.do(t, http.MethodPatch, "/api/subscriptions/"+sub.ID, token, map[string]string{"status": "paused"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected pause status %d, got %d: %s", http.StatusOK, rec.Code, rec.Body.String())
	}
	decodeData(t, rec, &sub)
	if sub.Status != domain.SubscriptionStatusPaused {
		t.Fatalf("expected paused subscription, got %s", sub.Status)
	}

	rec = h.do(t, http.MethodPatch, "/api/subscriptions/"+sub.ID, token, map[string]string{
		"status":    "active",
		"frequency": "monthly",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected resume status %d, got %d: %s", http.StatusOK, rec.Code, rec.Body.String())
	}
	decodeData(t, rec, &sub)
	if sub.Status != domain.SubscriptionStatusActive || sub.Frequency != domain.FrequencyMonthly {
		t.Fatalf("expected active monthly subscription, got %s/%s", sub.Status, sub.Frequency)
	}

	before := sub.NextDeliveryDate
	rec = h.do(t, http.MethodPost, fmt.Sprintf("/api/subscriptions/%s/skip", sub.ID), token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected skip status %d, got %d: %s", http.StatusOK, rec.Code, rec.Body.String())
	}
	var skip struct {
		NextDeliveryDate time.Time `json:"next_delivery_date"`
	}
	decodeData(t, rec, &skip)
	if !skip.NextDeliveryDate.After(before) {
		t.Fatalf("expected skipped delivery after %s, got %s", before, skip.NextDeliveryDate)
	}

	rec = h.do(t, http.MethodDelete, "/api/subscriptions/"+sub.ID, token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected cancel status %d, got %d: %s", http.StatusOK, rec.Code, rec.Body.String())
	}

	rec = h.do(t, http.MethodPatch, "/api/subscriptions/"+sub.ID, token, map[string]string{"status": "active"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected status %d for cancelled subscription, got %d: %s", http.StatusConflict, rec.Code, rec.Body.String())
	}
	if code := decodeError(t, rec); code != "CONFLICT" {
		t.Fatalf("expected CONFLICT, got %s", code)
	}
}
