package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter creates a new router with all routes configured. Every route but
// health requires the agent token when one is configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware)
	r.Use(RecoveryMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", h.Health)

		r.Group(func(r chi.Router) {
			if h.token != "" {
				r.Use(AuthMiddleware(h.token))
			}
			r.Post("/submissions/{type}", h.Submit)

			r.Get("/queue", h.ListQueue)
			r.Delete("/queue", h.ClearQueue)
			r.Delete("/queue/{id}", h.RemoveQueueItem)
			r.Post("/sync", h.Sync)

			r.Get("/resources/{resource}", h.FetchResource)
			r.Delete("/cache", h.ClearCache)

			r.Get("/tiles", h.TileStats)
			r.Post("/tiles", h.EnsureTiles)

			r.Get("/status", h.Status)
		})
	})

	return r
}
