// Package api provides the worker's HTTP API.
package api

import (
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/slotwatch/slotwatch/internal/api/handler"
	"github.com/slotwatch/slotwatch/internal/api/middleware"
	"github.com/slotwatch/slotwatch/internal/auth"
)

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Version   string
	BuildTime string
	Logger    zerolog.Logger
	Metrics   *middleware.Metrics

	// Cycles runs and lists poll cycles.
	Cycles handler.CycleRunner

	// Providers reports upstream health (optional).
	Providers handler.ProviderHealthSource

	// Tokens validates trigger tokens. POST /v1/cycles is not mounted
	// when nil.
	Tokens middleware.TokenValidator
}

// NewRouter creates a new chi router with all API routes configured.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware - order matters
	r.Use(middleware.RequestID)
	r.Use(middleware.Tracing())
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware())
	}
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(chimiddleware.RealIP)

	opsHandler := handler.NewOpsHandler(cfg.Version, cfg.BuildTime, cfg.Providers, cfg.Cycles)
	cycleHandler := handler.NewCycleHandler(cfg.Cycles, cfg.Logger)

	readRateLimit := middleware.RateLimitByIP(middleware.ReadRateLimit) // 60 req/min

	r.Route("/v1", func(r chi.Router) {
		r.Route("/ops", func(r chi.Router) {
			r.Get("/health", opsHandler.HealthCheck)
			r.With(readRateLimit).Get("/status", opsHandler.SystemStatus)
		})

		r.Route("/cycles", func(r chi.Router) {
			r.With(readRateLimit).Get("/", cycleHandler.List)

			if cfg.Tokens != nil {
				r.With(
					middleware.RequireScope(cfg.Tokens, auth.ScopeTrigger),
					middleware.RateLimitBySubject(middleware.TriggerRateLimit), // 6 req/min per subject
				).Post("/", cycleHandler.Trigger)
			}
		})
	})

	return r
}
