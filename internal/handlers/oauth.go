package handlers

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/PortNumber53/membermouse-kit-bridge/internal/kit"
	"github.com/PortNumber53/membermouse-kit-bridge/internal/settings"
)

const (
	oauthStateCookie = "kit_oauth_state"
	oauthStateTTL    = 10 * time.Minute
)

// OAuthHandler connects and disconnects the Kit account via OAuth.
type OAuthHandler struct {
	Repo settings.Repository
	Kit  kit.Config
	Tags *kit.TagCache
}

// NewOAuthHandler creates a new OAuthHandler
func NewOAuthHandler(repo settings.Repository, kitCfg kit.Config, tags *kit.TagCache) *OAuthHandler {
	if tags == nil {
		tags = kit.NewTagCache(0)
	}
	return &OAuthHandler{Repo: repo, Kit: kitCfg, Tags: tags}
}

// RegisterAdminRoutes registers the routes that must sit behind admin auth.
func (h *OAuthHandler) RegisterAdminRoutes(router chi.Router) {
	router.Get("/api/oauth/kit/authorize", h.Authorize())
	router.Post("/api/oauth/kit/disconnect", h.Disconnect())
}

// RegisterCallbackRoute registers the redirect target. It is protected by the
// state cookie set in Authorize rather than by admin auth.
func (h *OAuthHandler) RegisterCallbackRoute(router chi.Router) {
	router.Get("/api/oauth/kit/callback", h.Callback())
}

// Authorize redirects to the Kit consent screen.
func (h *OAuthHandler) Authorize() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.Kit.OAuth == nil {
			http.Error(w, "kit oauth is not configured", http.StatusServiceUnavailable)
			return
		}

		state := uuid.NewString()
		http.SetCookie(w, &http.Cookie{
			Name:     oauthStateCookie,
			Value:    state,
			Path:     "/api/oauth/kit",
			MaxAge:   int(oauthStateTTL.Seconds()),
			HttpOnly: true,
			Secure:   r.TLS != nil,
			SameSite: http.SameSiteLaxMode,
		})

		http.Redirect(w, r, h.Kit.AuthCodeURL(state), http.StatusFound)
	}
}

// Callback exchanges the authorization code and stores the token pair.
func (h *OAuthHandler) Callback() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.Kit.OAuth == nil {
			http.Error(w, "kit oauth is not configured", http.StatusServiceUnavailable)
			return
		}

		query := r.URL.Query()
		if errCode := query.Get("error"); errCode != "" {
			log.Warn().Str("error", errCode).Str("description", query.Get("error_description")).Msg("OAuthCallback: authorization denied")
			http.Error(w, "authorization was not granted", http.StatusBadRequest)
			return
		}

		cookie, err := r.Cookie(oauthStateCookie)
		state := query.Get("state")
		if err != nil || state == "" || subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(state)) != 1 {
			http.Error(w, "invalid oauth state", http.StatusBadRequest)
			return
		}
		http.SetCookie(w, &http.Cookie{Name: oauthStateCookie, Path: "/api/oauth/kit", MaxAge: -1})

		code := strings.TrimSpace(query.Get("code"))
		if code == "" {
			http.Error(w, "code query parameter is required", http.StatusBadRequest)
			return
		}

		tokens, err := kit.ExchangeCode(r.Context(), h.Kit, code)
		if err != nil {
			log.Error().Err(err).Msg("OAuthCallback: code exchange failed")
			http.Error(w, "failed to exchange authorization code", http.StatusBadGateway)
			return
		}

		s, err := settings.Load(r.Context(), h.Repo)
		if err != nil {
			log.Error().Err(err).Msg("OAuthCallback: failed to load settings")
			http.Error(w, "failed to load settings", http.StatusInternalServerError)
			return
		}
		previousKey := kit.CacheKey(s.Credentials())

		if err := s.SaveTokens(r.Context(), tokens); err != nil {
			log.Error().Err(err).Msg("OAuthCallback: failed to persist tokens")
			http.Error(w, "failed to persist tokens", http.StatusInternalServerError)
			return
		}
		h.Tags.Invalidate(previousKey)

		log.Info().Msg("OAuthCallback: kit account connected")
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "scheme": s.Credentials().Scheme()})
	}
}

// Disconnect clears every stored credential. Mappings are kept.
func (h *OAuthHandler) Disconnect() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := settings.Load(r.Context(), h.Repo)
		if err != nil {
			log.Error().Err(err).Msg("OAuthDisconnect: failed to load settings")
			http.Error(w, "failed to load settings", http.StatusInternalServerError)
			return
		}
		previousKey := kit.CacheKey(s.Credentials())

		if err := s.ClearCredentials(r.Context()); err != nil {
			log.Error().Err(err).Msg("OAuthDisconnect: failed to clear credentials")
			http.Error(w, "failed to clear credentials", http.StatusInternalServerError)
			return
		}
		h.Tags.Invalidate(previousKey)

		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	}
}
