/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. Metrics:    Prometheus request duration histogram
  5. CORS:       Cross-origin requests for the dashboard frontend

ROUTE GROUPS:
  /api/units/*       Inventory intake, buffer flagging, disposal
  /api/buffer        Emergency reserve summary
  /api/requests/*    Request lifecycle (fulfillment, approve, handover, ...)
  /metrics           Prometheus scrape endpoint

SECURITY NOTE:
  No authentication middleware. Session/auth is owned by the surrounding
  dashboard layer; this service is deployed behind it.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/crossmatch/blood-engine/metrics"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(metrics.HTTPMiddleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Inventory routes
		r.Route("/units", func(r chi.Router) {
			r.Get("/", h.ListUnits)
			r.Post("/", h.IntakeUnit)
			r.Get("/{id}", h.GetUnit)
			r.Post("/{id}/buffer", h.SetBuffer)
			r.Post("/{id}/dispose", h.DisposeUnit)
		})

		r.Get("/buffer", h.GetBufferSummary)

		// Request lifecycle routes
		r.Route("/requests", func(r chi.Router) {
			r.Get("/", h.ListRequests)
			r.Post("/", h.CreateRequest)
			r.Get("/{id}", h.GetRequest)
			r.Get("/{id}/fulfillment", h.CheckFulfillment)
			r.Post("/{id}/approve", h.ApproveRequest)
			r.Post("/{id}/handover", h.HandoverRequest)
			r.Post("/{id}/decline", h.DeclineRequest)
			r.Post("/{id}/cancel-approval", h.CancelApproval)
			r.Post("/{id}/reschedule", h.RescheduleRequest)
		})
	})

	// Prometheus scrape endpoint
	r.Handle("/metrics", promhttp.Handler())

	return r
}
