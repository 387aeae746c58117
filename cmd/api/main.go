package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	_ "github.com/lib/pq"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/contrib/instrumentation/runtime"

	"github.com/greenleaf/storefront/internal/auth"
	"github.com/greenleaf/storefront/internal/billing"
	"github.com/greenleaf/storefront/internal/catalog"
	"github.com/greenleaf/storefront/internal/domain"
	"github.com/greenleaf/storefront/internal/loyalty"
	"github.com/greenleaf/storefront/internal/messaging"
	"github.com/greenleaf/storefront/internal/orders"
	"github.com/greenleaf/storefront/internal/ratelimit"
	"github.com/greenleaf/storefront/internal/referrals"
	"github.com/greenleaf/storefront/internal/subscriptions"
	"github.com/greenleaf/storefront/internal/telemetry"
	"github.com/greenleaf/storefront/internal/wishlists"
)

const (
	serviceName    = "storefront-api"
	serviceVersion = "0.1.0"

	orderEventsTopic = "order.events"

	// Pending referrals older than this are swept to expired.
	referralMaxAge = 30 * 24 * time.Hour
)

func main() {
	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, serviceName, serviceVersion)
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(ctx) }()

	metricsHandler, shutdownMeter, err := telemetry.InitMeterProvider(serviceName, serviceVersion)
	if err != nil {
		logger.Error("failed to initialize meter", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownMeter(ctx) }()

	if err := runtime.Start(); err != nil {
		logger.Error("failed to start runtime instrumentation", "error", err)
		os.Exit(1)
	}

	postgresURL := os.Getenv("POSTGRES_URL")
	if postgresURL == "" {
		logger.Error("POSTGRES_URL environment variable is required")
		os.Exit(1)
	}

	db, err := telemetry.OpenDB("postgres", postgresURL)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	if err := db.Ping(); err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	var producer *messaging.Producer
	if kafkaBrokers := os.Getenv("KAFKA_BROKERS"); kafkaBrokers != "" {
		producer = messaging.NewProducer(strings.Split(kafkaBrokers, ","), orderEventsTopic)
		defer func() { _ = producer.Close() }()
	} else {
		logger.Warn("KAFKA_BROKERS not set, order events will not be published")
	}

	webhookSecret := os.Getenv("STRIPE_WEBHOOK_SECRET")
	if webhookSecret == "" {
		webhookSecret = os.Getenv("STRIPE_BILLING_WEBHOOK_SECRET")
	}
	if webhookSecret == "" {
		logger.Error("STRIPE_WEBHOOK_SECRET environment variable is required")
		os.Exit(1)
	}

	csrfSecret := os.Getenv("CSRF_SECRET")
	if csrfSecret == "" {
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			logger.Error("failed to generate csrf secret", "error", err)
			os.Exit(1)
		}
		csrfSecret = hex.EncodeToString(buf)
		logger.Warn("CSRF_SECRET not set, using an ephemeral secret")
	}

	authRepo := auth.NewRepository(db)
	catalogRepo := catalog.NewRepository(db)
	orderRepo := orders.NewRepository(db)
	loyaltyEngine := loyalty.NewEngine(db, logger)
	referralRepo := referrals.NewRepository(db)
	referralService := referrals.NewService(referralRepo, loyaltyEngine, logger)
	subscriptionRepo := subscriptions.NewRepository(db)
	wishlistRepo := wishlists.NewRepository(db)
	billingRepo := billing.NewRepository(db)

	var providerClient billing.SubscriptionFetcher
	if apiKey := os.Getenv("STRIPE_API_KEY"); apiKey != "" {
		providerURL := os.Getenv("STRIPE_API_URL")
		if providerURL == "" {
			providerURL = "https://api.stripe.com"
		}
		providerClient = billing.NewProviderClient(providerURL, apiKey, &http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		})
	}

	var publisher billing.Publisher = noopPublisher{logger: logger}
	if producer != nil {
		publisher = producer
	}

	processor := billing.NewProcessor(
		orderRepo, catalogRepo, loyaltyEngine, referralService,
		subscriptionRepo, authRepo, publisher, providerClient, logger)

	authMW := auth.NewMiddleware(authRepo, logger)
	csrf := auth.NewCSRF(csrfSecret, time.Hour)
	limiter := ratelimit.NewLimiter(db, logger)
	standard := limiter.Middleware(ratelimit.Standard, auth.RateLimitKey)
	strict := limiter.Middleware(ratelimit.Strict, auth.RateLimitKey)

	authHandler := auth.NewHandler(authRepo, loyaltyEngine, logger)
	catalogHandler := catalog.NewHandler(catalogRepo, logger)
	orderHandler := orders.NewHandler(orderRepo, catalogRepo, loyaltyEngine, referralService, logger)
	loyaltyHandler := loyalty.NewHandler(loyaltyEngine, referralService, logger)
	referralHandler := referrals.NewHandler(referralRepo, referralService, logger)
	subscriptionHandler := subscriptions.NewHandler(subscriptionRepo, catalogRepo, logger)
	wishlistHandler := wishlists.NewHandler(wishlistRepo, logger)
	webhookHandler := billing.NewHandler(webhookSecret, billingRepo, processor, logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(telemetry.RouteAttribute)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", metricsHandler)

	r.Route("/api", func(r chi.Router) {
		// Provider webhooks authenticate by signature, not session, and
		// are exempt from CSRF.
		r.Post("/billing/webhook", webhookHandler.HandleWebhook)
		r.Post("/webhooks/stripe", webhookHandler.HandleWebhook)

		r.Group(func(r chi.Router) {
			r.Use(authMW.Optional)
			r.Use(csrf.Middleware)

			r.Get("/csrf", csrf.HandleIssue)

			r.Group(func(r chi.Router) {
				r.Use(strict)
				r.Post("/auth/signup", authHandler.HandleSignup)
				r.Post("/auth/login", authHandler.HandleLogin)
				r.Post("/auth/logout", authHandler.HandleLogout)
			})

			r.Group(func(r chi.Router) {
				r.Use(standard)

				r.Get("/products", catalogHandler.HandleList)
				r.Get("/products/{id}", catalogHandler.HandleGet)
				r.Post("/referrals/validate", referralHandler.HandleValidate)

				r.Route("/wishlists", func(r chi.Router) {
					r.Get("/", wishlistHandler.HandleList)
					r.Post("/", wishlistHandler.HandleCreate)
					r.Get("/{id}", wishlistHandler.HandleGet)
					r.Patch("/{id}", wishlistHandler.HandleRename)
					r.Delete("/{id}", wishlistHandler.HandleDelete)
					r.Post("/{id}/items", wishlistHandler.HandleAddItem)
					r.Delete("/{id}/items/{productId}", wishlistHandler.HandleRemoveItem)
					r.Post("/{id}/move", wishlistHandler.HandleMove)
				})

				r.Group(func(r chi.Router) {
					r.Use(authMW.Required)

					r.Post("/checkout", orderHandler.HandleCheckout)
					r.Get("/orders", orderHandler.HandleList)
					r.Get("/orders/{id}", orderHandler.HandleGet)

					r.Get("/loyalty", loyaltyHandler.HandleSummary)
					r.Get("/loyalty/history", loyaltyHandler.HandleHistory)
					r.Get("/loyalty/redeem", loyaltyHandler.HandleRedeemPreview)

					r.Get("/referrals", referralHandler.HandleList)
					r.Get("/referrals/code", referralHandler.HandleGetCode)

					r.Get("/subscriptions", subscriptionHandler.HandleList)
					r.Post("/subscriptions", subscriptionHandler.HandleCreate)
					r.Get("/subscriptions/{id}", subscriptionHandler.HandleGet)
					r.Patch("/subscriptions/{id}", subscriptionHandler.HandlePatch)
					r.Delete("/subscriptions/{id}", subscriptionHandler.HandleCancel)
					r.Post("/subscriptions/{id}/skip", subscriptionHandler.HandleSkip)
				})
			})

			r.Group(func(r chi.Router) {
				r.Use(authMW.Required)
				r.Use(strict)

				r.Post("/loyalty/earn", loyaltyHandler.HandleEarn)
				r.Post("/loyalty/redeem", loyaltyHandler.HandleRedeem)
				r.Post("/referrals/apply", referralHandler.HandleApply)
			})

			r.Group(func(r chi.Router) {
				r.Use(authMW.Required)
				r.Use(standard)
				r.Use(auth.RequireRole(domain.RoleAdmin))

				r.Patch("/orders/{id}/shipping", orderHandler.HandleUpdateShipping)
			})
		})
	})

	// Pending referrals that never convert are swept in the background.
	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-sweepCtx.Done():
				return
			case <-ticker.C:
				n, err := referralRepo.ExpireStale(sweepCtx, referralMaxAge)
				if err != nil {
					logger.Error("failed to expire stale referrals", "error", err)
					continue
				}
				if n > 0 {
					logger.Info("expired stale referrals", "count", n)
				}
			}
		}
	}()

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	server := &http.Server{
		Addr: ":" + port,
		Handler: otelhttp.NewHandler(r, serviceName,
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
		),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting storefront api", "port", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	stopSweep()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}

// noopPublisher stands in when Kafka is not configured.
type noopPublisher struct {
	logger *slog.Logger
}

func (p noopPublisher) Publish(_ context.Context, key, eventType string, _ any) error {
	p.logger.Info("dropping event, no broker configured", "key", key, "event_type", eventType)
	return nil
}
