package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// maxConcurrentWrites bounds in-flight local mutations.
const maxConcurrentWrites = 16

// NewRouter creates a new router with all routes configured
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware (all routes)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware)
	r.Use(RecoveryMiddleware)
	r.Use(MaxBodyMiddleware(MaxBodyBytes))

	r.Route("/api/v1", func(r chi.Router) {
		// Public routes
		r.Get("/health", h.Health)

		// Protected routes (auth required)
		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(h.apiKey))
			r.Post("/sync", h.SyncNow)
			r.Get("/sync/status", h.SyncStatus)
			r.Post("/events/connectivity", h.Connectivity)
			r.Post("/events/visibility", h.Visibility)
			r.Get("/counts", h.Counts)

			r.Group(func(r chi.Router) {
				r.Use(middleware.Throttle(maxConcurrentWrites))
				r.Put("/profile", h.PutProfile)
				r.Put("/customers/{id}", h.PutCustomer)
				r.Put("/products/{id}", h.PutProduct)
				r.Put("/sales-orders/{id}", h.PutSalesOrder)
				r.Put("/purchase-orders/{id}", h.PutPurchaseOrder)
			})
		})
	})

	return r
}
