package handlers

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/PortNumber53/membermouse-kit-bridge/internal/models"
)

const (
	maxWebhookBody     = 65536
	webhookSecretParam = "secret"
	webhookSecretHdr   = "X-Webhook-Secret"
	eventTypeField     = "event_type"
)

// EventDispatcher routes one lifecycle event to its handler.
type EventDispatcher interface {
	Dispatch(ctx context.Context, eventType models.EventType, fields models.EventFields) models.ActionResult
}

// WebhookHandler receives MemberMouse push notifications.
type WebhookHandler struct {
	Dispatcher EventDispatcher
	Secret     string
}

// NewWebhookHandler creates a new WebhookHandler
func NewWebhookHandler(dispatcher EventDispatcher, secret string) *WebhookHandler {
	return &WebhookHandler{Dispatcher: dispatcher, Secret: secret}
}

// RegisterRoutes registers the webhook route
func (h *WebhookHandler) RegisterRoutes(router chi.Router) {
	router.Post("/api/webhooks/membermouse", h.HandleWebhook())
}

type webhookResponse struct {
	Status string              `json:"status"`
	Result models.ActionResult `json:"result"`
	Error  string              `json:"error,omitempty"`
}

// HandleWebhook authenticates and dispatches a push notification. Once the
// event is accepted the response is always 200; the body reports the outcome.
func (h *WebhookHandler) HandleWebhook() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !h.authorized(r) {
			log.Warn().Str("remote", r.RemoteAddr).Msg("[webhook] rejected request with invalid secret")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				log.Warn().Int64("limit", tooLarge.Limit).Msg("[webhook] rejected oversized body")
				http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
				return
			}
			http.Error(w, "failed to read body", http.StatusBadRequest)
			return
		}

		fields, err := parseEventFields(r, body)
		if err != nil {
			log.Warn().Err(err).Msg("[webhook] failed to parse event")
			http.Error(w, "invalid webhook payload", http.StatusBadRequest)
			return
		}

		eventType := models.EventType(fields.Get(eventTypeField))
		if eventType == "" {
			http.Error(w, "event_type is required", http.StatusBadRequest)
			return
		}
		delete(fields, eventTypeField)

		log.Info().Str("event", string(eventType)).Str("email", fields.Get("email")).Msg("[webhook] received event")

		result := h.Dispatcher.Dispatch(r.Context(), eventType, fields)

		resp := webhookResponse{Status: "ok", Result: result}
		if result.Err != nil {
			resp.Error = result.Err.Error()
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

func (h *WebhookHandler) authorized(r *http.Request) bool {
	if h.Secret == "" {
		return false
	}
	provided := r.Header.Get(webhookSecretHdr)
	if provided == "" {
		provided = r.URL.Query().Get(webhookSecretParam)
	}
	return subtle.ConstantTimeCompare([]byte(provided), []byte(h.Secret)) == 1
}

// parseEventFields flattens query parameters and a form or JSON body into
// EventFields. Body values win over query values.
func parseEventFields(r *http.Request, body []byte) (models.EventFields, error) {
	fields := models.EventFields{}
	for key, values := range r.URL.Query() {
		if key == webhookSecretParam || len(values) == 0 {
			continue
		}
		fields[key] = values[0]
	}

	if len(strings.TrimSpace(string(body))) == 0 {
		return fields, nil
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		var raw map[string]any
		dec := json.NewDecoder(strings.NewReader(string(body)))
		dec.UseNumber()
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("decode json body: %w", err)
		}
		for key, value := range raw {
			if s, ok := scalarString(value); ok {
				fields[key] = s
			}
		}
		return fields, nil
	}

	form, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, fmt.Errorf("decode form body: %w", err)
	}
	for key, values := range form {
		if len(values) > 0 {
			fields[key] = values[0]
		}
	}
	return fields, nil
}

// scalarString renders JSON scalars; nested objects and arrays are dropped.
func scalarString(value any) (string, bool) {
	switch v := value.(type) {
	case string:
		return v, true
	case json.Number:
		return v.String(), true
	case bool:
		if v {
			return "1", true
		}
		return "0", true
	case nil:
		return "", true
	}
	return "", false
}
