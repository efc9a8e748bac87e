package routes

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/entitlement-engine/api/controllers"
	billingcontrollers "github.com/angelmondragon/entitlement-engine/api/controllers/billing"
	webhookcontrollers "github.com/angelmondragon/entitlement-engine/api/controllers/webhooks"
	"github.com/angelmondragon/entitlement-engine/api/middleware"
	"github.com/angelmondragon/entitlement-engine/internal/customers"
	"github.com/angelmondragon/entitlement-engine/internal/entitlements"
	"github.com/angelmondragon/entitlement-engine/internal/subscriptions"
	stripewebhook "github.com/angelmondragon/entitlement-engine/internal/webhooks/stripe"
	"github.com/angelmondragon/entitlement-engine/pkg/config"
	"github.com/angelmondragon/entitlement-engine/pkg/db/models"
	"github.com/angelmondragon/entitlement-engine/pkg/logger"
)

type webhookIngestor interface {
	Ingest(ctx context.Context, payload []byte, signatureHeader string) (*stripewebhook.Ack, error)
}

type entitlementGate interface {
	Check(ctx context.Context, customerID uuid.UUID) (entitlements.Result, error)
}

type customerEnsurer interface {
	Ensure(ctx context.Context, input customers.EnsureInput) (*models.Customer, error)
}

type statusReader interface {
	Status(ctx context.Context, customerID uuid.UUID) (subscriptions.StatusView, error)
}

// Deps carries everything the HTTP surface needs.
type Deps struct {
	Ingestor  webhookIngestor
	Gate      entitlementGate
	Customers customerEnsurer
	Status    statusReader
	Ready     map[string]controllers.Pinger
	Gatherer  prometheus.Gatherer
}

func NewRouter(cfg *config.Config, logg *logger.Logger, deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSAllowedOrigins),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, deps.Ready))
	})

	if deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		if cfg.App.RequestTimeout > 0 {
			r.Use(chimw.Timeout(cfg.App.RequestTimeout))
		}

		r.Post("/webhooks/stripe", webhookcontrollers.StripeWebhook(deps.Ingestor, cfg.Stripe.MaxBodyBytes, logg))

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(cfg.JWT, logg))

			r.Route("/billing", func(r chi.Router) {
				r.Post("/checkout", billingcontrollers.Checkout(deps.Customers, logg))
				r.Get("/subscription", billingcontrollers.SubscriptionStatus(deps.Status, logg))
			})
			r.Get("/entitlements/me", controllers.EntitlementsMe(deps.Gate, logg))

			r.With(middleware.RequireEntitlement(deps.Gate, logg)).
				Get("/premium/ping", controllers.PremiumPing())
		})
	})

	return r
}
