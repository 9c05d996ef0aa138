// Package admin exposes the operational HTTP API: subscription management,
// delivery status, audit range reads, reindex stats and event ingest.
package admin

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/opencatalyst/catalyst/alert"
	"github.com/opencatalyst/catalyst/audit"
	"github.com/opencatalyst/catalyst/bus"
	"github.com/opencatalyst/catalyst/event"
	"github.com/opencatalyst/catalyst/notify"
	"github.com/opencatalyst/catalyst/registry"
	"github.com/opencatalyst/catalyst/search"
)

// Handlers bundles the components the admin API operates on. Audit, syncer
// and hub are nil when those consumers are disabled; their endpoints then
// answer 404.
type Handlers struct {
	bus      *bus.Bus
	registry *registry.Registry
	audit    *audit.Log
	syncer   *search.Syncer
	hub      *notify.Hub
}

// NewHandlers creates the handler set.
func NewHandlers(b *bus.Bus, reg *registry.Registry, auditLog *audit.Log, syncer *search.Syncer, hub *notify.Hub) *Handlers {
	return &Handlers{
		bus:      b,
		registry: reg,
		audit:    auditLog,
		syncer:   syncer,
		hub:      hub,
	}
}

func (h *Handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, map[string]any{"status": "healthy"})
}

// handleIngest accepts one change event and publishes it to the bus. This is
// the entry point for the entity repository.
func (h *Handlers) handleIngest(w http.ResponseWriter, r *http.Request) {
	var ev event.ChangeEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, fmt.Sprintf("invalid event: %v", err))
		return
	}
	if ev.ID == "" || ev.EntityID == "" {
		writeErrorResponse(w, http.StatusBadRequest, "event id and entity id are required")
		return
	}

	if err := h.bus.Publish(&ev); err != nil {
		writeErrorResponse(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	if err := json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"id": ev.ID}}); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// handleUpsertSubscription creates or replaces a subscription and its
// publishers.
func (h *Handlers) handleUpsertSubscription(w http.ResponseWriter, r *http.Request) {
	var sub alert.Subscription
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, fmt.Sprintf("invalid subscription: %v", err))
		return
	}

	if err := h.registry.Upsert(sub); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSONResponse(w, map[string]any{"id": sub.ID})
}

func (h *Handlers) handleDeleteSubscription(w http.ResponseWriter, r *http.Request, subID string) {
	if _, ok := h.registry.Status(subID); !ok {
		writeErrorResponse(w, http.StatusNotFound, fmt.Sprintf("unknown subscription %s", subID))
		return
	}
	h.registry.Delete(subID)
	writeJSONResponse(w, map[string]any{"id": subID})
}

func (h *Handlers) handleListSubscriptions(w http.ResponseWriter, r *http.Request) {
	ids := h.registry.Subscriptions()
	if ids == nil {
		ids = []string{}
	}
	writeJSONResponse(w, ids)
}

// handleSubscriptionStatus reports per-destination delivery status.
func (h *Handlers) handleSubscriptionStatus(w http.ResponseWriter, r *http.Request, subID string) {
	status, ok := h.registry.Status(subID)
	if !ok {
		writeErrorResponse(w, http.StatusNotFound, fmt.Sprintf("unknown subscription %s", subID))
		return
	}
	writeJSONResponse(w, status)
}

func (h *Handlers) handleDisableDestination(w http.ResponseWriter, r *http.Request, subID, destID string) {
	if err := h.registry.DisableDestination(subID, destID); err != nil {
		writeErrorResponse(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSONResponse(w, map[string]any{"subscription": subID, "destination": destID, "status": string(alert.StatusDisabled)})
}

// handleDisableDestinationGlobally stops every publisher referencing the
// destination id regardless of which subscriptions own it.
func (h *Handlers) handleDisableDestinationGlobally(w http.ResponseWriter, r *http.Request, destID string) {
	n, err := h.registry.DisableDestinationGlobally(destID)
	if err != nil {
		writeErrorResponse(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSONResponse(w, map[string]any{"destination": destID, "disabled": n, "status": string(alert.StatusDisabled)})
}

// handleNotificationsStream pushes matching change events to the client as
// server-sent events until the connection closes. entity_type query
// parameters narrow the feed; none means everything.
func (h *Handlers) handleNotificationsStream(w http.ResponseWriter, r *http.Request) {
	if h.hub == nil {
		writeErrorResponse(w, http.StatusNotFound, "notifications are disabled")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeErrorResponse(w, http.StatusInternalServerError, "streaming is not supported")
		return
	}

	filter := notify.Filter{EntityTypes: r.URL.Query()["entity_type"]}
	ch, cancel := h.hub.Subscribe(filter)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-ch:
			if !open {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				log.Error().Err(err).Str("event", ev.ID).Msg("Failed to encode notification")
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}

// handleIndexStats reports accumulated indexing outcomes for the reindex
// progress view.
func (h *Handlers) handleIndexStats(w http.ResponseWriter, r *http.Request) {
	if h.syncer == nil {
		writeErrorResponse(w, http.StatusNotFound, "search indexing is disabled")
		return
	}

	stats := h.syncer.Stats()
	writeJSONResponse(w, map[string]any{
		"submitted": stats.Submitted(),
		"succeeded": stats.Succeeded(),
		"failed":    stats.Failed(),
		"errors":    stats.Errors(),
	})
}

// handleAuditRange reads audit entries after the given cursor.
func (h *Handlers) handleAuditRange(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		writeErrorResponse(w, http.StatusNotFound, "audit log is disabled")
		return
	}

	cursor, err := parseUintParam(r, "from", 0)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	entries, err := h.audit.ReadFrom(cursor, limit)
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSONResponse(w, map[string]any{
		"entries":  entries,
		"last_seq": h.audit.LastSeq(),
	})
}

// writeJSONResponse writes a successful JSON response
func writeJSONResponse(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]any{"data": data}); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeErrorResponse writes an error JSON response
func writeErrorResponse(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]any{"error": message}); err != nil {
		log.Error().Err(err).Msg("Failed to encode error response")
	}
}

// parseLimit parses the limit query parameter with defaults
func parseLimit(r *http.Request) (int, error) {
	limitStr := r.URL.Query().Get("limit")
	if limitStr == "" {
		return 100, nil
	}

	limit, err := strconv.Atoi(limitStr)
	if err != nil {
		return 0, fmt.Errorf("invalid limit parameter: %w", err)
	}
	if limit < 1 {
		return 0, fmt.Errorf("limit must be positive")
	}
	if limit > 1024 {
		return 0, fmt.Errorf("limit cannot exceed 1024")
	}
	return limit, nil
}

func parseUintParam(r *http.Request, name string, def uint64) (uint64, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return def, nil
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s parameter: %w", name, err)
	}
	return v, nil
}
