// Package main provides the API router setup.
package main

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/querydeck/querydeck/cmd/querydeck-api/handlers"
	"github.com/querydeck/querydeck/cmd/querydeck-api/middleware"
	"github.com/querydeck/querydeck/internal/observability"
)

// RouterConfig holds router settings.
type RouterConfig struct {
	RequestTimeout time.Duration
	Tenant         middleware.TenantConfig
}

// NewRouter creates the main API router with all routes configured.
func NewRouter(logger *observability.Logger, cfg RouterConfig, query *handlers.QueryHandler, admin *handlers.AdminHandler) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Trace)
	r.Use(middleware.RequestLogger(logger))
	r.Use(chimiddleware.Recoverer)
	if cfg.RequestTimeout > 0 {
		r.Use(chimiddleware.Timeout(cfg.RequestTimeout))
	}

	r.Get("/health", admin.Health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Tenant(cfg.Tenant))

		r.Post("/ask", query.Ask)

		r.Get("/cache/stats", admin.CacheStats)
		r.Delete("/cache", admin.ClearCache)

		r.Route("/debug", func(r chi.Router) {
			r.Post("/intent", query.DebugIntent)
			r.Post("/similarity", query.DebugSimilarity)
		})
	})

	return r
}
