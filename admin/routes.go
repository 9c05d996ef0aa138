package admin

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/opencatalyst/catalyst/telemetry"
)

// NewRouter builds the admin API router. metricsEnabled mounts the
// Prometheus handler at /metrics.
func NewRouter(handlers *Handlers, metricsEnabled bool) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handlers.handleHealth)

	r.Post("/api/events", handlers.handleIngest)

	r.Route("/api/subscriptions", func(r chi.Router) {
		r.Get("/", handlers.handleListSubscriptions)
		r.Post("/", handlers.handleUpsertSubscription)
		r.Put("/", handlers.handleUpsertSubscription)
		r.Delete("/{subID}", handlers.subByID(handlers.handleDeleteSubscription))
		r.Get("/{subID}/status", handlers.subByID(handlers.handleSubscriptionStatus))
		r.Post("/{subID}/destinations/{destID}/disable", handlers.destByID(handlers.handleDisableDestination))
	})

	r.Post("/api/destinations/{destID}/disable", handlers.destOnly(handlers.handleDisableDestinationGlobally))
	r.Get("/api/notifications/stream", handlers.handleNotificationsStream)

	r.Get("/api/index/stats", handlers.handleIndexStats)
	r.Get("/api/audit", handlers.handleAuditRange)

	if metricsEnabled {
		if mh := telemetry.GetMetricsHandler(); mh != nil {
			r.Handle("/metrics", mh)
		}
	}

	log.Info().Msg("Admin endpoints enabled at /api/*")
	return r
}

// Wrapper helpers that extract URL params and call the handlers

func (h *Handlers) subByID(fn func(http.ResponseWriter, *http.Request, string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		subID := chi.URLParam(r, "subID")
		if subID == "" {
			writeErrorResponse(w, http.StatusBadRequest, "subscription id is required")
			return
		}
		fn(w, r, subID)
	}
}

func (h *Handlers) destOnly(fn func(http.ResponseWriter, *http.Request, string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		destID := chi.URLParam(r, "destID")
		if destID == "" {
			writeErrorResponse(w, http.StatusBadRequest, "destination id is required")
			return
		}
		fn(w, r, destID)
	}
}

func (h *Handlers) destByID(fn func(http.ResponseWriter, *http.Request, string, string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		subID := chi.URLParam(r, "subID")
		destID := chi.URLParam(r, "destID")
		if subID == "" || destID == "" {
			writeErrorResponse(w, http.StatusBadRequest, "subscription and destination ids are required")
			return
		}
		fn(w, r, subID, destID)
	}
}
