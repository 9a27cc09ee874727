/**
 * @description
 * HTTP router setup for the renewal service using go-chi/chi.
 */
package api

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new Chi router and registers the health and internal routes.
func NewRouter(h *Handler, internalKey string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Internal-API-Key"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.With(middleware.Timeout(60*time.Second)).Get("/health", h.handleHealth)

	r.Route("/internal", func(r chi.Router) {
		r.Use(InternalAuthMiddleware(internalKey))
		// A manual pass is bounded by the pass timeout rather than the request timeout.
		r.Post("/checks/run", h.handleRunChecks)
		r.With(middleware.Timeout(60*time.Second)).Post("/subscriptions/{id}/price-change", h.handlePriceChange)
	})

	return r
}
