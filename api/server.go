/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the router (chi), middleware stack and route definitions
  for the inspection API. This is the wiring layer that connects URLs
  to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for internal dashboards

SECURITY NOTE:
  No authentication middleware. The inspection API is meant to run on
  an internal network only.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/migrate/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a router with all inspection routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
	}))

	r.Route("/api", func(r chi.Router) {
		r.Route("/proposals", func(r chi.Router) {
			r.Get("/", h.ListProposals)
			r.Get("/{id}", h.GetProposal)
		})
		r.Get("/hierarchies", h.ListHierarchies)
		r.Get("/assignments", h.ListAssignments)
		r.Get("/exceptions", h.ListExceptions)
		r.Get("/conformance", h.ListConformance)
		r.Get("/report", h.GetReport)
	})

	return r
}
