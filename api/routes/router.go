package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/campuskit-io/campuskit-backend/api/controllers"
	billingcontrollers "github.com/campuskit-io/campuskit-backend/api/controllers/billing"
	webhookcontrollers "github.com/campuskit-io/campuskit-backend/api/controllers/webhooks"
	"github.com/campuskit-io/campuskit-backend/api/middleware"
	"github.com/campuskit-io/campuskit-backend/internal/notifications"
	stripewebhook "github.com/campuskit-io/campuskit-backend/internal/webhooks/stripe"
	"github.com/campuskit-io/campuskit-backend/pkg/config"
	"github.com/campuskit-io/campuskit-backend/pkg/db"
	"github.com/campuskit-io/campuskit-backend/pkg/logger"
	"github.com/campuskit-io/campuskit-backend/pkg/redis"
	"github.com/campuskit-io/campuskit-backend/pkg/stripe"
)

// RouterParams carries everything the HTTP surface depends on.
type RouterParams struct {
	Config *config.Config
	Logger *logger.Logger

	DB    db.Pinger
	Redis redis.Pinger

	Catalog       billingcontrollers.PlanCatalog
	Checkout      billingcontrollers.CheckoutService
	Payments      billingcontrollers.PaymentHistory
	Quota         billingcontrollers.QuotaService
	Refunds       billingcontrollers.RefundService
	Notifications *notifications.Service

	StripeClient *stripe.Client
	Webhooks     *stripewebhook.Service
	WebhookGuard *stripewebhook.IdempotencyGuard

	MetricsGatherer prometheus.Gatherer
}

func NewRouter(p RouterParams) http.Handler {
	cfg := p.Config
	logg := p.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, p.DB, p.Redis))
	})

	if p.MetricsGatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(p.MetricsGatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/stripe", webhookcontrollers.StripeWebhook(p.Webhooks, p.StripeClient, p.WebhookGuard, logg))
	})

	r.Route("/api/v1/plans", func(r chi.Router) {
		r.Get("/", billingcontrollers.PlansList(p.Catalog, logg))
		r.Get("/{planSlug}", billingcontrollers.PlanDetail(p.Catalog, logg))
	})

	r.Route("/api/v1/billing", func(r chi.Router) {
		r.Use(middleware.AccountContext(logg))

		r.Post("/checkout-session", billingcontrollers.CheckoutCreate(p.Checkout, logg))
		r.Post("/checkout-session/intent", billingcontrollers.CheckoutIntent(p.Checkout, logg))
		r.Post("/upgrade/preview", billingcontrollers.UpgradePreview(p.Checkout, logg))
		r.Post("/upgrade", billingcontrollers.UpgradeCreate(p.Checkout, logg))
		r.Post("/portal-session", billingcontrollers.PortalSessionCreate(p.Checkout, logg))

		r.Get("/payment-methods", billingcontrollers.PaymentMethodsList(p.Checkout, logg))
		r.Post("/payment-methods", billingcontrollers.PaymentMethodAttach(p.Checkout, logg))

		r.Get("/payments", billingcontrollers.PaymentsList(p.Payments, logg))
		r.Get("/payments/{paymentId}", billingcontrollers.PaymentDetail(p.Payments, logg))

		r.Post("/refund-requests", billingcontrollers.RefundRequestCreate(p.Refunds, logg))
		r.Get("/refund-requests", billingcontrollers.RefundRequestsList(p.Refunds, logg))

		r.Get("/quota/{kind}", billingcontrollers.QuotaCheck(p.Quota, logg))
		r.Get("/notifications", controllers.NotificationsList(p.Notifications, logg))
	})

	r.Route("/api/admin/v1/billing", func(r chi.Router) {
		r.Use(middleware.RequireOperator(cfg.Billing.OperatorKey, logg))

		r.Get("/refund-requests/pending", billingcontrollers.AdminRefundsPending(p.Refunds, logg))
		r.Post("/refund-requests/{refundId}/approve", billingcontrollers.AdminRefundApprove(p.Refunds, logg))
		r.Post("/refund-requests/{refundId}/reject", billingcontrollers.AdminRefundReject(p.Refunds, logg))
	})

	return r
}
