package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// Pinger reports whether the backing database is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Health responds with status 200 when the service and its database are up.
// A nil pinger skips the database check.
func Health(pinger Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload := map[string]any{
			"status":    "ok",
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		}

		if pinger != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := pinger.Ping(ctx); err != nil {
				log.Error().Err(err).Msg("Health: database ping failed")
				payload["status"] = "degraded"
				payload["database"] = "unreachable"
				writeJSON(w, http.StatusServiceUnavailable, payload)
				return
			}
		}

		writeJSON(w, http.StatusOK, payload)
	}
}
