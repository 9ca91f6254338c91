package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/campuskit-io/campuskit-backend/api/routes"
	"github.com/campuskit-io/campuskit-backend/internal/accounts"
	checkoutsvc "github.com/campuskit-io/campuskit-backend/internal/checkout"
	"github.com/campuskit-io/campuskit-backend/internal/notifications"
	"github.com/campuskit-io/campuskit-backend/internal/payments"
	"github.com/campuskit-io/campuskit-backend/internal/plans"
	"github.com/campuskit-io/campuskit-backend/internal/quota"
	"github.com/campuskit-io/campuskit-backend/internal/refunds"
	"github.com/campuskit-io/campuskit-backend/internal/users"
	stripewebhook "github.com/campuskit-io/campuskit-backend/internal/webhooks/stripe"
	"github.com/campuskit-io/campuskit-backend/pkg/cache"
	"github.com/campuskit-io/campuskit-backend/pkg/config"
	"github.com/campuskit-io/campuskit-backend/pkg/db"
	"github.com/campuskit-io/campuskit-backend/pkg/logger"
	"github.com/campuskit-io/campuskit-backend/pkg/mail"
	"github.com/campuskit-io/campuskit-backend/pkg/metrics"
	"github.com/campuskit-io/campuskit-backend/pkg/migrate"
	"github.com/campuskit-io/campuskit-backend/pkg/redis"
	"github.com/campuskit-io/campuskit-backend/pkg/stripe"
)

const shutdownGrace = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	registry := prometheus.NewRegistry()
	billingMetrics := metrics.NewBillingMetrics(registry)

	stripeClient, err := stripe.NewClient(context.Background(), cfg.Stripe, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap stripe", err)
		os.Exit(1)
	}

	gateway, err := stripe.NewGateway(stripe.GatewayParams{
		Client:      stripeClient,
		PriceCache:  cache.NewRedis(redisClient, "stripe-prices"),
		Metrics:     billingMetrics,
		CallTimeout: cfg.Stripe.CallTimeout,
		PriceTTL:    cfg.Billing.PriceCacheTTL,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to build stripe gateway", err)
		os.Exit(1)
	}

	accountsRepo := accounts.NewRepository(dbClient.DB())
	usersRepo := users.NewRepository(dbClient.DB())
	paymentsRepo := payments.NewRepository(dbClient.DB())
	plansRepo := plans.NewRepository(dbClient.DB())
	refundsRepo := refunds.NewRepository(dbClient.DB())
	notificationsRepo := notifications.NewRepository(dbClient.DB())

	catalogService, err := plans.NewService(plans.ServiceParams{Repo: plansRepo})
	exitOnErr(logg, "plan catalog", err)

	paymentService, err := payments.NewService(payments.ServiceParams{Repo: paymentsRepo})
	exitOnErr(logg, "payment service", err)

	notificationService, err := notifications.NewService(notifications.ServiceParams{
		Repo:   notificationsRepo,
		Mailer: mailerOrNil(cfg),
		Logger: logg,
	})
	exitOnErr(logg, "notification service", err)

	quotaService, err := quota.NewService(quota.ServiceParams{
		Accounts: accountsRepo,
		Catalog:  catalogService,
		Usage:    quota.NewUserSeatReader(usersRepo, nil),
	})
	exitOnErr(logg, "quota service", err)

	checkoutService, err := checkoutsvc.NewService(checkoutsvc.ServiceParams{
		Catalog:         catalogService,
		Accounts:        accountsRepo,
		Payments:        paymentsRepo,
		Processor:       gateway,
		DB:              dbClient,
		Logger:          logg,
		Metrics:         billingMetrics,
		Currency:        cfg.Billing.Currency,
		SuccessURL:      cfg.Stripe.CheckoutSuccess,
		CancelURL:       cfg.Stripe.CheckoutCancel,
		PortalReturnURL: cfg.Stripe.PortalReturnURL,
	})
	exitOnErr(logg, "checkout service", err)

	refundService, err := refunds.NewService(refunds.ServiceParams{
		Repo:              refundsRepo,
		Payments:          paymentsRepo,
		Accounts:          accountsRepo,
		Processor:         gateway,
		Notifications:     notificationService,
		TransactionRunner: dbClient,
		Logger:            logg,
		Metrics:           billingMetrics,
	})
	exitOnErr(logg, "refund service", err)

	webhookService, err := stripewebhook.NewService(stripewebhook.ServiceParams{
		Payments:          paymentsRepo,
		Accounts:          accountsRepo,
		Users:             usersRepo,
		Catalog:           catalogService,
		Quota:             quotaService,
		Notifications:     notificationService,
		Processor:         gateway,
		TransactionRunner: dbClient,
		Logger:            logg,
		Metrics:           billingMetrics,
	})
	exitOnErr(logg, "webhook service", err)

	webhookGuard, err := stripewebhook.NewIdempotencyGuard(redisClient, cfg.Billing.WebhookDedupe, "stripe-webhook")
	exitOnErr(logg, "webhook guard", err)

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.RouterParams{
			Config:          cfg,
			Logger:          logg,
			DB:              dbClient,
			Redis:           redisClient,
			Catalog:         catalogService,
			Checkout:        checkoutService,
			Payments:        paymentService,
			Quota:           quotaService,
			Refunds:         refundService,
			Notifications:   notificationService,
			StripeClient:    stripeClient,
			Webhooks:        webhookService,
			WebhookGuard:    webhookGuard,
			MetricsGatherer: registry,
		}),
	}

	errs := make(chan error, 1)
	go func() {
		errs <- server.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errs:
		if err != nil && err != http.ErrServerClosed {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case sig := <-stop:
		logg.Info(logg.WithField(ctx, "signal", sig.String()), "shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "graceful shutdown failed", err)
			os.Exit(1)
		}
	}
}

func mailerOrNil(cfg *config.Config) notifications.Mailer {
	sender := mail.New(cfg.Mail)
	if sender == nil {
		return nil
	}
	return sender
}

func exitOnErr(logg *logger.Logger, component string, err error) {
	if err == nil {
		return
	}
	logg.Error(context.Background(), "failed to build "+component, err)
	os.Exit(1)
}
