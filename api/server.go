/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request, included in error logs
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the counter frontend

ROUTE GROUPS:
  /api/mechanics/*      Mechanic registry
  /api/orders/*         Service orders, settlement, receipts
  /api/wallets/*        Balances, movements, statements
  /api/parts            Catalog search
  /metrics              Prometheus scrape endpoint
  /healthz              Database health check

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

// DefaultAllowedOrigins is used when no origins are configured.
var DefaultAllowedOrigins = []string{"http://localhost:5173", "http://localhost:8080"}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	if len(allowedOrigins) == 0 {
		allowedOrigins = DefaultAllowedOrigins
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Route("/mechanics", func(r chi.Router) {
			r.Get("/", h.ListMechanics)
			r.Post("/", h.CreateMechanic)
			r.Get("/{id}", h.GetMechanic)
			r.Put("/{id}", h.UpdateMechanic)
			r.Post("/{id}/activate", h.ActivateMechanic)
			r.Post("/{id}/deactivate", h.DeactivateMechanic)
		})

		r.Route("/orders", func(r chi.Router) {
			r.Get("/", h.ListOrders)
			r.Post("/", h.CreateOrder)
			r.Get("/{id}", h.GetOrder)
			r.Patch("/{id}", h.EditOrder)
			r.Delete("/{id}", h.DeleteOrder)
			r.Post("/{id}/complete", h.CompleteOrder)
			r.Post("/{id}/cancel", h.CancelOrder)
			r.Post("/{id}/parts", h.AddPart)
			r.Delete("/{id}/parts/{partID}", h.RemovePart)
			r.Get("/{id}/receipt", h.Receipt)
			r.Get("/{id}/whatsapp.png", h.WhatsAppQR)
		})

		r.Route("/wallets", func(r chi.Router) {
			r.Get("/", h.ListWallets)
			r.Get("/{owner}", h.GetWallet)
			r.Get("/{owner}/movements", h.ListMovements)
			r.Post("/{owner}/movements", h.PostMovement)
			r.Get("/{owner}/summary", h.GetSummary)
			r.Get("/{owner}/statement", h.Statement)
		})

		r.Get("/parts", h.SearchParts)
	})

	r.Handle("/metrics", h.Metrics.Handler())
	r.Get("/healthz", h.Health)

	return r
}
