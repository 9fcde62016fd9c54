/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the dashboard
  5. Auth:       Bearer token -> actor (everything under /api)

ROUTE GROUPS:
  /api/sessions/*   Session logging and attendance
  /api/payouts/*    Payout approval and payment
  /api/audit        Audit viewer
  /api/activity     Login/logout entries
  /healthz          Liveness + storage ping (public)
  /metrics          Prometheus scrape endpoint (public)

SEE ALSO:
  - handlers.go: Handler implementations
  - auth.go: Token verification
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, auth *Authenticator, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Use(auth.Middleware)

		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", h.ListSessions)
			r.Post("/", h.CreateSession)
			r.Post("/bulk", h.CreateSessionsBulk)
			r.Get("/summary", h.SessionSummary)
			r.Get("/{id}", h.GetSession)
			r.Put("/{id}", h.UpdateSession)
			r.Delete("/{id}", h.DeleteSession)
			r.Post("/{id}/attendance", h.MarkAttended)
			r.Post("/{id}/payout", h.CreatePayout)
			r.Get("/{id}/breakdown", h.GetBreakdown)
		})

		r.Route("/payouts", func(r chi.Router) {
			r.Get("/", h.ListPayouts)
			r.Get("/{id}", h.GetPayout)
			r.Post("/{id}/approve", h.ApprovePayout)
			r.Post("/{id}/pay", h.PayPayout)
			r.Put("/{id}/status", h.UpdatePayoutStatus)
		})

		r.Get("/audit", h.ListAudit)
		r.Post("/activity", h.RecordActivity)
	})

	return r
}
