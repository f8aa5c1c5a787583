package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter wires the public HTTP surface: subscription CRUD,
// ingestion, and status queries.
func NewRouter(subHandler *SubscriptionHandler, ingestHandler *IngestHandler, statusHandler *StatusHandler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", HealthHandler())

		r.Route("/subscriptions", func(r chi.Router) {
			r.Post("/", subHandler.Create)
			r.Get("/", subHandler.List)
			r.Get("/{id}", subHandler.Get)
			r.Put("/{id}", subHandler.Update)
			r.Delete("/{id}", subHandler.Delete)
		})

		r.Post("/ingest/{id}", ingestHandler.Ingest)

		r.Route("/status", func(r chi.Router) {
			r.Get("/delivery_tasks/{id}", statusHandler.GetTask)
			r.Get("/subscriptions/{id}/attempts", statusHandler.ListSubscriptionAttempts)
		})
	})

	return r
}
