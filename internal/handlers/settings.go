package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/PortNumber53/membermouse-kit-bridge/internal/kit"
	"github.com/PortNumber53/membermouse-kit-bridge/internal/models"
	"github.com/PortNumber53/membermouse-kit-bridge/internal/settings"
)

// SettingsHandler serves the admin settings screen: credentials, the debug
// switch and the tag mapping table.
type SettingsHandler struct {
	Repo settings.Repository
	Kit  kit.Config
	Tags *kit.TagCache
}

// NewSettingsHandler creates a new SettingsHandler
func NewSettingsHandler(repo settings.Repository, kitCfg kit.Config, tags *kit.TagCache) *SettingsHandler {
	if tags == nil {
		tags = kit.NewTagCache(0)
	}
	return &SettingsHandler{Repo: repo, Kit: kitCfg, Tags: tags}
}

// RegisterRoutes registers the settings routes
func (h *SettingsHandler) RegisterRoutes(router chi.Router) {
	router.Get("/api/settings", h.GetSettings())
	router.Post("/api/settings", h.SaveSettings())
}

type settingsResponse struct {
	Settings     map[string]string       `json:"settings"`
	Scheme       models.CredentialScheme `json:"scheme"`
	OAuthEnabled bool                    `json:"oauth_enabled"`
	Tags         []models.Tag            `json:"tags"`
	TagsError    string                  `json:"tags_error,omitempty"`
}

// GetSettings returns the stored settings with secrets masked, plus a freshly
// loaded tag list when credentials are configured.
func (h *SettingsHandler) GetSettings() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := settings.Load(r.Context(), h.Repo)
		if err != nil {
			log.Error().Err(err).Msg("GetSettings: failed to load settings")
			http.Error(w, "failed to load settings", http.StatusInternalServerError)
			return
		}

		resp := settingsResponse{
			Settings:     settings.MaskSecrets(s.All()),
			Scheme:       s.Credentials().Scheme(),
			OAuthEnabled: h.Kit.OAuth != nil,
			Tags:         []models.Tag{},
		}

		if s.HasCredentials() {
			creds := s.Credentials()
			client := kit.NewClient(h.Kit, creds, s)
			tags, err := h.Tags.Refresh(r.Context(), kit.CacheKey(creds), client)
			if err != nil {
				log.Warn().Err(err).Msg("GetSettings: failed to load tags")
				resp.TagsError = err.Error()
			} else {
				resp.Tags = tags
			}
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

// SaveSettings merges a partial settings object. Only the API key, the debug
// switch and mapping keys may be written here; OAuth tokens come from the
// OAuth flow.
func (h *SettingsHandler) SaveSettings() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var partial map[string]string
		if err := json.NewDecoder(r.Body).Decode(&partial); err != nil {
			log.Warn().Err(err).Msg("SaveSettings: invalid JSON payload")
			http.Error(w, "invalid JSON payload", http.StatusBadRequest)
			return
		}

		for key, value := range partial {
			value = strings.TrimSpace(value)
			partial[key] = value
			if err := validateSettingValue(key, value); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
		}

		s, err := settings.Load(r.Context(), h.Repo)
		if err != nil {
			log.Error().Err(err).Msg("SaveSettings: failed to load settings")
			http.Error(w, "failed to load settings", http.StatusInternalServerError)
			return
		}

		previousKey := kit.CacheKey(s.Credentials())
		creds := s.Credentials()
		if key, ok := partial[models.SettingAPIKey]; ok {
			creds.APIKey = key
		}

		unknown, err := h.unknownTags(r.Context(), s, creds, partial)
		if err != nil {
			log.Warn().Err(err).Msg("SaveSettings: failed to load tags for validation")
			http.Error(w, "failed to load tags from Kit", http.StatusBadGateway)
			return
		}
		if len(unknown) > 0 {
			http.Error(w, fmt.Sprintf("unknown tag ids: %s", strings.Join(unknown, ", ")), http.StatusBadRequest)
			return
		}

		if err := s.Save(r.Context(), partial); err != nil {
			log.Error().Err(err).Msg("SaveSettings: failed to persist settings")
			http.Error(w, "failed to persist settings", http.StatusInternalServerError)
			return
		}

		if _, ok := partial[models.SettingAPIKey]; ok {
			h.Tags.Invalidate(previousKey)
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"ok":       true,
			"settings": settings.MaskSecrets(s.All()),
		})
	}
}

// unknownTags returns mapping values that are not tags on the account. It is
// a no-op without credentials.
func (h *SettingsHandler) unknownTags(ctx context.Context, s *settings.Settings, creds models.Credentials, partial map[string]string) ([]string, error) {
	var wanted []string
	for key, value := range partial {
		if models.IsMappingKey(key) && value != "" {
			wanted = append(wanted, value)
		}
	}
	if len(wanted) == 0 || creds.Scheme() == models.SchemeNone {
		return nil, nil
	}

	client := kit.NewClient(h.Kit, creds, s)
	tags, err := h.Tags.Get(ctx, kit.CacheKey(creds), client)
	if err != nil {
		return nil, err
	}

	known := make(map[string]bool, len(tags))
	for _, tag := range tags {
		known[strconv.FormatInt(tag.ID, 10)] = true
	}

	var unknown []string
	for _, id := range wanted {
		if !known[id] {
			unknown = append(unknown, id)
		}
	}
	return unknown, nil
}

func validateSettingValue(key, value string) error {
	switch {
	case key == models.SettingAPIKey:
		return nil
	case key == models.SettingDebug:
		if value != "" && value != models.DebugOn {
			return fmt.Errorf("debug must be %q or empty", models.DebugOn)
		}
		return nil
	case models.IsMappingKey(key):
		if value == "" {
			return nil
		}
		if id, err := strconv.ParseInt(value, 10, 64); err != nil || id <= 0 {
			return fmt.Errorf("%s: tag id must be a positive integer", key)
		}
		return nil
	}
	return fmt.Errorf("setting %q cannot be changed here", key)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}
