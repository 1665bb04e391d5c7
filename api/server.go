/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the staff and student frontends
  5. Identify:   X-User-ID / X-User-Role into the request context (api/auth.go)

ROUTE GROUPS:
  /api/obligations/*   Staff; reads also open to the owning student
  /api/me/*            Student self-service
  /api/alerts/*        Staff send/sweep; owner or staff mark read
  /api/scenarios/*     Demo data (no identity required)
  /health              Liveness

SEE ALSO:
  - handlers.go: Handler implementations
  - auth.go: Actor headers and role checks
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
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", HeaderUserID, HeaderUserRole},
		AllowCredentials: true,
	}))

	r.Get("/health", h.Health)

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(Identify)

			// Obligation routes
			r.Route("/obligations", func(r chi.Router) {
				// Staff or owning student
				r.Get("/{id}", h.GetObligation)
				r.Get("/{id}/receipt", h.RenderReceipt)
				r.Get("/{id}/invoice", h.RenderInvoice)

				r.Group(func(r chi.Router) {
					r.Use(RequireRole(RoleStaff))
					r.Get("/", h.ListObligations)
					r.Post("/", h.CreateObligation)
					r.Post("/preview", h.PreviewPlan)
					r.Get("/export", h.ExportObligations)
					r.Delete("/{id}", h.DeleteObligation)
					r.Post("/{id}/pay", h.MarkCompletePaid)
					r.Post("/{id}/installments/{index}/pay", h.MarkInstallmentPaid)
					r.Put("/{id}/installments/{index}/due-date", h.UpdateInstallmentDueDate)
				})
			})

			// Student self-service
			r.Route("/me", func(r chi.Router) {
				r.Use(RequireRole(RoleStudent))
				r.Get("/obligations", h.ListMyObligations)
				r.Get("/alerts", h.ListMyAlerts)
			})

			// Alert routes
			r.Route("/alerts", func(r chi.Router) {
				r.Post("/{id}/read", h.MarkAlertRead)

				r.Group(func(r chi.Router) {
					r.Use(RequireRole(RoleStaff))
					r.Get("/", h.ListAlerts)
					r.Post("/", h.SendAlert)
					r.Post("/sweep", h.TriggerSweep)
				})
			})
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<!DOCTYPE html>
<html>
<head><title>Tuition Engine</title></head>
<body style="font-family: system-ui; max-width: 800px; margin: 50px auto; padding: 20px;">
<h1>Tuition Engine API</h1>
<p>Send <code>X-User-ID</code> and <code>X-User-Role</code> (staff or student) with every /api request.</p>
<h2>API Endpoints</h2>
<ul>
<li>/api/obligations - List obligations (staff)</li>
<li>/api/me/obligations - My obligations (student)</li>
<li>/api/me/alerts - My alerts (student)</li>
<li><a href="/api/scenarios">/api/scenarios</a> - List demo scenarios</li>
</ul>
</body>
</html>`))
	})

	return r
}
