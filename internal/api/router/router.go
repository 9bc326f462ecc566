package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/pratik-mahalle/vitalsync/internal/api/handlers"
	"github.com/pratik-mahalle/vitalsync/internal/api/middleware"
	"github.com/pratik-mahalle/vitalsync/internal/config"
	"github.com/pratik-mahalle/vitalsync/internal/pkg/logger"
	"github.com/pratik-mahalle/vitalsync/internal/pkg/metrics"
)

// Sync requests reach vendor APIs, so each user gets a much smaller budget
// than the global per-address limit.
const (
	syncRequestsPerSecond = 0.2
	syncBurst             = 5
)

type Handlers struct {
	Health      *handlers.HealthHandler
	Integration *handlers.IntegrationHandler
	Sync        *handlers.SyncHandler
	Observation *handlers.ObservationHandler
}

func New(cfg *config.Config, log *logger.Logger, h *Handlers) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(log))
	r.Use(middleware.Recovery(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.CleanPath)
	r.Use(metrics.Middleware)
	r.Use(middleware.DefaultCORS(cfg.Server.FrontendURL))
	r.Use(middleware.RateLimit(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst))

	// Public routes
	r.Group(func(r chi.Router) {
		r.Get("/healthz", h.Health.Healthz)
		r.Get("/readyz", h.Health.Readyz)
		r.Method(http.MethodGet, "/metrics", metrics.Handler())

		// The vendor redirects the browser here; the signed state carries
		// the identity instead of a session token.
		r.Get("/api/v1/oauth/callback", h.Integration.Callback)
	})

	// Protected routes (require authentication)
	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthMiddleware(cfg.Auth.JWTSecret))

		r.Route("/api/v1/integrations", func(r chi.Router) {
			r.Get("/", h.Integration.List)
			r.Get("/{vendor}", h.Integration.Status)
			r.Post("/{vendor}/select", h.Integration.Select)
			r.Post("/{vendor}/authorize", h.Integration.Authorize)
			r.Post("/{vendor}/disconnect", h.Integration.Disconnect)
			r.With(middleware.UserRateLimit(syncRequestsPerSecond, syncBurst)).
				Post("/{vendor}/sync", h.Sync.Sync)
		})

		r.Route("/api/v1/sync-jobs", func(r chi.Router) {
			r.Get("/", h.Sync.ListJobs)
			r.Get("/{id}", h.Sync.GetJob)
		})

		r.Get("/api/v1/observations", h.Observation.List)
	})

	return r
}
