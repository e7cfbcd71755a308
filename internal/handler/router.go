package handler

import (
	"net/http"

	"github.com/Shivanand-hulikatti/teamsignups/internal/logger"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// RouterConfig holds the transport settings that are not part of the handlers.
type RouterConfig struct {
	AdminToken string
	WebRoot    string
}

// NewRouter builds the chi router with the global middleware stack, the JSON
// API under /api and static assets everywhere else.
func NewRouter(h *EventHandler, cfg RouterConfig, log *logger.Logger) http.Handler {
	r := chi.NewRouter()

	// Global middleware stack
	r.Use(chimiddleware.Recoverer) // recover from panics, return 500
	r.Use(chimiddleware.RequestID) // attach request IDs
	r.Use(chimiddleware.RealIP)    // trust X-Forwarded-For
	r.Use(Logger(log))             // structured access log
	r.Use(CORS)                    // permissive CORS for the bundled UI

	// Health
	r.Get("/health", HealthCheck)

	admin := AdminGate(cfg.AdminToken)

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.NotFound(NotFound)
		r.MethodNotAllowed(MethodNotAllowed)

		r.Get("/status", h.Status)
		r.Get("/events.csv", h.ExportCSV)
		r.Get("/events", h.ListEvents)
		r.With(admin).Put("/events", h.ReplaceEvents)
		r.With(admin).Post("/events", h.CreateEvent)
		r.With(admin).Delete("/events/{eventID}", h.DeleteEvent)
		r.Post("/events/{eventID}/slots/{slotID}/claims", h.ClaimSlot)
		r.With(admin).Delete("/events/{eventID}/slots/{slotID}/claims/{claimID}", h.RemoveClaim)
	})

	// Static presentation assets: index.html, app.js, styles.css.
	r.Handle("/*", NewStatic(cfg.WebRoot))

	return r
}
