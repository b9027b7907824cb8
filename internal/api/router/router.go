// Package router provides HTTP routing configuration using Chi.
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/remiblancher/pdfstamp/internal/api/handler"
	"github.com/remiblancher/pdfstamp/internal/api/metrics"
	"github.com/remiblancher/pdfstamp/internal/api/middleware"
	"github.com/remiblancher/pdfstamp/internal/api/service"
	"github.com/remiblancher/pdfstamp/internal/config"
)

// Config holds router configuration.
type Config struct {
	Version string
	App     *config.Config
}

// New creates a new Chi router with all routes configured.
func New(cfg *Config) (http.Handler, error) {
	stampService, err := service.NewStampService(cfg.App)
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)

	// Health endpoints
	healthHandler := handler.NewHealthHandler(cfg.Version, cfg.App.TSA.URL)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Prometheus metrics
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	// API routes
	stampHandler := handler.NewStampHandler(stampService, cfg.App.Serve.MaxBodyBytes())
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/stamp", stampHandler.Stamp)
	})

	return r, nil
}
