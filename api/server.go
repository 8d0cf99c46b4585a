/*
server.go - HTTP router and middleware configuration

ROUTER: chi
  Lightweight, context-based, middleware support, RESTful patterns.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for operator tooling

ROUTE GROUPS:
  /api/accounts/*    Balance query and mutations
  /api/principals/*  Per-principal tag registration and balances
  /api/status        Subsystem health

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
	}))

	r.Route("/api", func(r chi.Router) {
		r.Route("/accounts", func(r chi.Router) {
			r.Post("/query", h.QueryBalance)
			r.Post("/add", h.AddMoney)
			r.Post("/remove", h.RemoveMoney)
			r.Post("/set", h.SetMoney)
		})
		r.Route("/principals", func(r chi.Router) {
			r.Put("/{id}/tags", h.SetPrincipalTags)
			r.Get("/{id}/balances", h.GetPrincipalBalances)
			r.Delete("/{id}", h.ForgetPrincipal)
		})
		r.Get("/status", h.Status)
	})

	return r
}
