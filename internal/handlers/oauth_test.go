package handlers

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PortNumber53/membermouse-kit-bridge/internal/kit"
	"github.com/PortNumber53/membermouse-kit-bridge/internal/models"
	"github.com/PortNumber53/membermouse-kit-bridge/internal/settings"
)

func newTokenServer(t *testing.T, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/oauth/token" {
			http.NotFound(w, r)
			return
		}
		_ = r.ParseForm()
		w.Header().Set("Content-Type", "application/json")
		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		assert.Equal(t, "authorization_code", r.PostForm.Get("grant_type"))
		assert.Equal(t, "the-code", r.PostForm.Get("code"))
		_, _ = w.Write([]byte(`{"access_token":"at-1","refresh_token":"rt-1","token_type":"bearer","expires_in":3600}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func oauthKitConfig(srv *httptest.Server) kit.Config {
	return kit.Config{
		BaseURL:       srv.URL + "/v4",
		LegacyBaseURL: srv.URL + "/v3",
		OAuth: kit.NewOAuthConfig(kit.OAuthSettings{
			ClientID:     "client",
			ClientSecret: "secret",
			RedirectURL:  "https://bridge.example/api/oauth/kit/callback",
			AuthorizeURL: "https://kit.example/oauth/authorize",
			TokenURL:     srv.URL + "/oauth/token",
		}),
		HTTPClient: srv.Client(),
	}
}

func newOAuthRouter(repo settings.Repository, cfg kit.Config) http.Handler {
	router := chi.NewRouter()
	h := NewOAuthHandler(repo, cfg, kit.NewTagCache(0))
	h.RegisterAdminRoutes(router)
	h.RegisterCallbackRoute(router)
	return router
}

func TestOAuthAuthorizeRedirectsWithState(t *testing.T) {
	srv := newTokenServer(t, http.StatusOK)
	rr := httptest.NewRecorder()
	newOAuthRouter(settings.NewMemoryRepository(nil), oauthKitConfig(srv)).
		ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/oauth/kit/authorize", nil))

	require.Equal(t, http.StatusFound, rr.Code)
	location, err := url.Parse(rr.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "kit.example", location.Host)
	assert.Equal(t, "client", location.Query().Get("client_id"))
	assert.Equal(t, "code", location.Query().Get("response_type"))

	cookies := rr.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, oauthStateCookie, cookies[0].Name)
	assert.Equal(t, cookies[0].Value, location.Query().Get("state"))
	assert.True(t, cookies[0].HttpOnly)
}

func TestOAuthRoutesWithoutClientConfig(t *testing.T) {
	router := newOAuthRouter(settings.NewMemoryRepository(nil), kit.Config{})
	for _, path := range []string{"/api/oauth/kit/authorize", "/api/oauth/kit/callback?code=x&state=y"} {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusServiceUnavailable, rr.Code, path)
	}
}

func callbackRequest(query, cookieState string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/oauth/kit/callback?"+query, nil)
	if cookieState != "" {
		req.AddCookie(&http.Cookie{Name: oauthStateCookie, Value: cookieState})
	}
	return req
}

func TestOAuthCallbackStoresTokens(t *testing.T) {
	srv := newTokenServer(t, http.StatusOK)
	repo := settings.NewMemoryRepository(map[string]string{models.SettingAPIKey: "legacy", "mapping-5": "42"})

	rr := httptest.NewRecorder()
	newOAuthRouter(repo, oauthKitConfig(srv)).ServeHTTP(rr, callbackRequest("code=the-code&state=abc", "abc"))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Contains(t, rr.Body.String(), `"scheme":"oauth"`)

	stored, err := repo.LoadSettings(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "at-1", stored[models.SettingAccessToken])
	assert.Equal(t, "rt-1", stored[models.SettingRefreshToken])
	assert.NotEmpty(t, stored[models.SettingTokenExpires])
	assert.Equal(t, "legacy", stored[models.SettingAPIKey])
	assert.Equal(t, "42", stored["mapping-5"])
}

func TestOAuthCallbackRejections(t *testing.T) {
	tests := []struct {
		name   string
		query  string
		cookie string
		status int
		want   int
	}{
		{name: "state mismatch", query: "code=the-code&state=abc", cookie: "xyz", status: http.StatusOK, want: http.StatusBadRequest},
		{name: "missing cookie", query: "code=the-code&state=abc", status: http.StatusOK, want: http.StatusBadRequest},
		{name: "missing state", query: "code=the-code", cookie: "abc", status: http.StatusOK, want: http.StatusBadRequest},
		{name: "access denied", query: "error=access_denied&state=abc", cookie: "abc", status: http.StatusOK, want: http.StatusBadRequest},
		{name: "missing code", query: "state=abc", cookie: "abc", status: http.StatusOK, want: http.StatusBadRequest},
		{name: "exchange rejected", query: "code=the-code&state=abc", cookie: "abc", status: http.StatusBadRequest, want: http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTokenServer(t, tt.status)
			repo := settings.NewMemoryRepository(nil)

			rr := httptest.NewRecorder()
			newOAuthRouter(repo, oauthKitConfig(srv)).ServeHTTP(rr, callbackRequest(tt.query, tt.cookie))

			assert.Equal(t, tt.want, rr.Code)
			assert.Zero(t, repo.Saves())
		})
	}
}

func TestOAuthDisconnectClearsCredentialsOnly(t *testing.T) {
	repo := settings.NewMemoryRepository(map[string]string{
		models.SettingAPIKey:       "legacy",
		models.SettingAccessToken:  "at",
		models.SettingRefreshToken: "rt",
		"mapping-5":                "42",
	})

	rr := httptest.NewRecorder()
	newOAuthRouter(repo, kit.Config{}).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/oauth/kit/disconnect", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	stored, err := repo.LoadSettings(t.Context())
	require.NoError(t, err)
	assert.Empty(t, stored[models.SettingAPIKey])
	assert.Empty(t, stored[models.SettingAccessToken])
	assert.Empty(t, stored[models.SettingRefreshToken])
	assert.Equal(t, "42", stored["mapping-5"])
}
