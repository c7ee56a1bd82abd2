// Package router assembles the HTTP surface: the WhatsApp webhook,
// health, stats and Prometheus metrics.
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/equilibriocl/agendabot/internal/http/handlers"
)

// Config holds router configuration.
type Config struct {
	Webhook        *handlers.WebhookHandler
	Status         *handlers.StatusHandler
	MetricsHandler http.Handler
}

// New creates a new Chi router with all routes configured.
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Post("/whatsapp", cfg.Webhook.HandleWhatsApp)
	r.Get("/health", cfg.Status.Health)
	r.Get("/stats", cfg.Status.Stats)
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	return r
}
