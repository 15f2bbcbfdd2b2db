package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/PortNumber53/membermouse-kit-bridge/internal/models"
)

// EventLister reads the webhook audit trail.
type EventLister interface {
	ListEvents(ctx context.Context, limit int) ([]models.EventRecord, error)
}

// Events returns the most recent webhook events, newest first. The store
// applies its own page size when limit is omitted or too large.
func Events(lister EventLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 0
		if raw := r.URL.Query().Get("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed <= 0 {
				http.Error(w, "invalid limit parameter", http.StatusBadRequest)
				return
			}
			limit = parsed
		}

		events, err := lister.ListEvents(r.Context(), limit)
		if err != nil {
			log.Error().Err(err).Msg("Events: failed to list events")
			http.Error(w, "failed to list events", http.StatusInternalServerError)
			return
		}
		if events == nil {
			events = []models.EventRecord{}
		}

		writeJSON(w, http.StatusOK, map[string]any{"events": events})
	}
}
