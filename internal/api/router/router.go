package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/clinic-concierge/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/clinic-concierge/internal/http/middleware"
	"github.com/wolfman30/clinic-concierge/pkg/logging"
)

// HealthReporter exposes the session store's failover state.
type HealthReporter interface {
	Degraded() bool
}

// Config holds router configuration
type Config struct {
	Logger          *logging.Logger
	Webhook         *handlers.WebhookHandler
	Admin           *handlers.AdminHandler
	AdminAuthSecret string
	MetricsHandler  http.Handler
	Health          HealthReporter
	// WebhookLimiter throttles /webhooks per client address when set.
	WebhookLimiter *httpmiddleware.IPRateLimiter
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(httpmiddleware.RequestLogger(cfg.Logger))

	// Public endpoints (webhooks, health checks)
	r.Group(func(public chi.Router) {
		public.Get("/health", healthHandler(cfg.Health))
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
		if cfg.Webhook != nil {
			public.Route("/webhooks/messages", func(r chi.Router) {
				if cfg.WebhookLimiter != nil {
					r.Use(httpmiddleware.RateLimit(cfg.WebhookLimiter))
				}
				r.Get("/", cfg.Webhook.Verify)
				r.Post("/", cfg.Webhook.HandleMessages)
			})
		}
	})

	// Admin routes (protected by JWT)
	if cfg.Admin != nil {
		r.Route("/admin", func(admin chi.Router) {
			admin.Use(httpmiddleware.AdminJWT(cfg.AdminAuthSecret))
			admin.Get("/sessions/stats", cfg.Admin.SessionStats)
			admin.Get("/budget", cfg.Admin.Budget)
			admin.Put("/tenants/{key}", cfg.Admin.PutTenant)
			admin.Route("/conversations/{identity}", func(conv chi.Router) {
				conv.Put("/automation", cfg.Admin.SetAutomation)
				conv.Post("/reset", cfg.Admin.ResetConversation)
				conv.Get("/messages", cfg.Admin.Messages)
			})
		})
	}

	return r
}

func healthHandler(health HealthReporter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := "ok"
		if health != nil && health.Degraded() {
			status = "degraded"
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"` + status + `"}`))
	}
}
