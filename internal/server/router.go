package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/pitchforge/backend/internal/domain"
	"github.com/pitchforge/backend/internal/handler"
	appMiddleware "github.com/pitchforge/backend/internal/middleware"
	"github.com/pitchforge/backend/internal/service"
	"github.com/pitchforge/backend/pkg/payment"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Deps are the collaborators the HTTP surface is built from.
type Deps struct {
	DB            handler.Pinger
	Gateway       payment.Gateway
	Tokens        appMiddleware.TokenVerifier
	Ingestor      *service.EventIngestor
	Usage         *service.UsageService
	Billing       *service.BillingService
	Status        *service.StatusService
	Sweeper       *service.Sweeper
	Limits        domain.DailyLimits
	CORSOrigins   []string
	RateLimiter   *appMiddleware.RateLimiter
	ExposeMetrics bool
}

// NewRouter wires handlers and middleware into a chi router.
func NewRouter(d Deps) http.Handler {
	healthHandler := handler.NewHealthHandler(d.DB)
	plansHandler := handler.NewPlansHandler(d.Limits)
	webhookHandler := handler.NewWebhookHandler(d.Gateway, d.Ingestor)
	usageHandler := handler.NewUsageHandler(d.Usage)
	billingHandler := handler.NewBillingHandler(d.Billing, d.Status)
	adminHandler := handler.NewAdminHandler(d.Sweeper)

	r := chi.NewRouter()

	// Global middleware
	r.Use(appMiddleware.Recovery)
	r.Use(appMiddleware.Logger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   d.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	if d.RateLimiter != nil {
		r.Use(d.RateLimiter.Middleware())
	}

	// Public routes
	r.Get("/health", healthHandler.Check)
	if d.ExposeMetrics {
		r.Handle("/metrics", promhttp.Handler())
	}
	r.Get("/api/plans", plansHandler.List)
	r.Post("/api/payment/webhook", webhookHandler.Handle)

	// Protected API routes
	r.Group(func(r chi.Router) {
		r.Use(appMiddleware.Auth(d.Tokens))

		r.Get("/api/usage", usageHandler.Get)
		r.Post("/api/usage", usageHandler.Consume)

		r.Get("/api/billing/status", billingHandler.Status)
		r.Post("/api/billing/checkout", billingHandler.CreateCheckout)
		r.Post("/api/billing/portal", billingHandler.CreatePortal)
		r.Get("/api/billing/invoices", billingHandler.ListInvoices)

		r.Group(func(r chi.Router) {
			r.Use(appMiddleware.AdminOnly)
			r.Post("/api/admin/sweep", adminHandler.Sweep)
		})
	})

	return r
}
