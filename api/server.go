/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the ops console

ROUTE GROUPS:
  /api/loans/*          Loans, schedules, payments, write-offs
  /api/payments/*       Reversals
  /api/batch/*          Daily pass
  /api/reports/*        Portfolio and write-off reports
  /api/policy           Provisioning table
  /api/scenarios/*      Demo scenarios
  /healthz              Liveness

SECURITY NOTE:
  No authentication middleware. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Loan routes
		r.Route("/loans", func(r chi.Router) {
			r.Get("/", h.ListLoans)
			r.Post("/", h.CreateLoan)
			r.Get("/{id}", h.GetLoan)
			r.Get("/{id}/installments", h.GetInstallments)
			r.Get("/{id}/classifications", h.GetClassifications)
			r.Post("/{id}/classify", h.ClassifyLoan)
			r.Get("/{id}/payments", h.ListPayments)
			r.Post("/{id}/payments", h.CreatePayment)
			r.Post("/{id}/write-off", h.WriteOffLoan)
			r.Post("/{id}/recoveries", h.RecordRecovery)
		})

		// Payment routes
		r.Route("/payments", func(r chi.Router) {
			r.Post("/{txID}/reverse", h.ReversePayment)
		})

		// Batch routes
		r.Route("/batch", func(r chi.Router) {
			r.Post("/run", h.RunBatch)
			r.Get("/runs", h.ListBatchRuns)
		})

		// Report routes
		r.Route("/reports", func(r chi.Router) {
			r.Get("/portfolio", h.PortfolioReport)
			r.Get("/write-offs", h.WriteOffReport)
		})

		// Policy routes
		r.Get("/policy", h.GetPolicy)
		r.Put("/policy", h.UpdatePolicy)

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
		})
	})

	return r
}
