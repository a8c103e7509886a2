/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. Zap logger: Structured request logging
  4. CORS:       Cross-origin requests for the collector app

ROUTE GROUPS:
  /api/clients/*        Client management
  /api/credits/*        Credit origination, ledger, deferrals
  /api/deferrals/bulk   Batch deferral jobs
  /api/route/*          Daily collection route

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(zapLogger(h.Log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		// Client routes
		r.Route("/clients", func(r chi.Router) {
			r.Get("/", h.ListClients)
			r.Post("/", h.CreateClient)
			r.Get("/{id}", h.GetClient)
		})

		// Credit routes
		r.Route("/credits", func(r chi.Router) {
			r.Get("/", h.ListCredits)
			r.Post("/", h.CreateCredit)
			r.Get("/{id}", h.GetCredit)
			r.Post("/{id}/renew", h.RenewCredit)

			r.Post("/{id}/payments", h.CreatePayment)
			r.Put("/{id}/payments/{pid}", h.UpdatePayment)
			r.Delete("/{id}/payments/{pid}", h.DeletePayment)

			r.Post("/{id}/fines", h.CreateFine)
			r.Put("/{id}/fines/{fid}", h.UpdateFine)
			r.Delete("/{id}/fines/{fid}", h.DeleteFine)
			r.Post("/{id}/fines/{fid}/payments", h.CreateFinePayment)

			r.Post("/{id}/discounts", h.CreateDiscount)
			r.Put("/{id}/installments/{n}/settle", h.SettleInstallment)

			r.Put("/{id}/deferrals/{n}", h.UpsertDeferral)
			r.Delete("/{id}/deferrals/{n}", h.DeleteDeferral)
		})

		// Bulk deferral routes
		r.Route("/deferrals/bulk", func(r chi.Router) {
			r.Post("/", h.StartBulkDeferral)
			r.Get("/{jobID}", h.GetBulkJob)
			r.Delete("/{jobID}", h.CancelBulkJob)
		})

		// Route routes
		r.Route("/route", func(r chi.Router) {
			r.Get("/", h.GetRoute)
			r.Put("/{date}/order", h.SetCollectionOrder)
			r.Put("/{date}/not-found/{clientID}", h.MarkNotFound)
			r.Delete("/{date}/not-found/{clientID}", h.ClearNotFound)
		})
	})

	return r
}

// zapLogger logs one line per request: Warn for 4xx, Error for 5xx,
// Info otherwise.
func zapLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)

			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			}
			switch {
			case ww.Status() >= 500:
				log.Error("http request", fields...)
			case ww.Status() >= 400:
				log.Warn("http request", fields...)
			default:
				log.Info("http request", fields...)
			}
		})
	}
}
