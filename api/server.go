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
  3. requestLog: Structured request logging via zerolog
  4. CORS:       Cross-origin requests for the ops console

ROUTE GROUPS:
  /api/policies/*      Policy versioning
  /api/reservations/*  Reservation lifecycle
  /api/capacity/*      Slot snapshots
  /api/hubs/*          Blackout rules per hub
  /api/blackouts/*     Blackout rule administration
  /api/integrity       Invariant auditor

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
	"github.com/rs/zerolog"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, log zerolog.Logger) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLog(log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Policy routes
		r.Route("/policies", func(r chi.Router) {
			r.Post("/", h.PublishPolicy)
			r.Post("/schedule", h.SchedulePolicy)
			r.Post("/activate", h.ActivatePending)
			r.Get("/active", h.GetActivePolicies)
			r.Get("/{kind}/{scope}/versions", h.GetVersionHistory)
		})

		// Reservation routes
		r.Route("/reservations", func(r chi.Router) {
			r.Post("/", h.CreateReservation)
			r.Post("/expire", h.ExpireHolds)
			r.Get("/{id}", h.GetReservation)
			r.Post("/{id}/release", h.ReleaseReservation)
			r.Post("/{id}/promote", h.PromoteReservation)
		})

		// Capacity snapshot
		r.Get("/capacity/{hub}/{lane}/{date}", h.GetCapacitySnapshot)

		// Blackout routes
		r.Route("/hubs/{hub}/blackouts", func(r chi.Router) {
			r.Get("/", h.ListBlackouts)
			r.Post("/", h.CreateBlackout)
		})
		r.Put("/blackouts/{id}/active", h.SetBlackoutActive)

		// Admin routes
		r.Get("/integrity", h.CheckIntegrity)
	})

	return r
}

// requestLog logs one line per request with latency and status.
func requestLog(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("latency", time.Since(start)).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("request")
		})
	}
}
