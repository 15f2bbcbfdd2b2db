package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config captures runtime configuration values used by the bridge service.
type Config struct {
	// ServerAddress is the host:port pair the HTTP server listens on. Defaults to ":18111".
	ServerAddress string

	// DatabaseURL is the Postgres DSN used by database/sql.
	DatabaseURL string

	// WebhookSecret authenticates MemberMouse push notifications.
	WebhookSecret string

	// AdminToken guards the settings and OAuth routes. Empty disables them.
	AdminToken string

	// KitAPIBaseURL is the v4 endpoint used with OAuth credentials.
	KitAPIBaseURL string

	// KitLegacyAPIBaseURL is the v3 endpoint used with an API key.
	KitLegacyAPIBaseURL string

	KitOAuthClientID     string
	KitOAuthClientSecret string
	KitOAuthRedirectURI  string
	KitOAuthAuthorizeURL string
	KitOAuthTokenURL     string

	// KitHTTPTimeout bounds every outbound Kit call.
	KitHTTPTimeout time.Duration

	// DebugLogPath is where debug lines go when the debug setting is on.
	DebugLogPath string

	// TagCacheTTL controls how long the settings screen reuses the tag list.
	TagCacheTTL time.Duration

	LogLevel  string
	LogFormat string
}

const (
	defaultServerAddress       = ":18111"
	defaultKitAPIBaseURL       = "https://api.kit.com/v4"
	defaultKitLegacyAPIBaseURL = "https://api.convertkit.com/v3"
	defaultKitOAuthAuthorize   = "https://app.kit.com/oauth/authorize"
	defaultKitOAuthToken       = "https://api.kit.com/v4/oauth/token"
	defaultKitHTTPTimeout      = 30 * time.Second
	defaultDebugLogPath        = "log-tag.txt"
	defaultTagCacheTTL         = 5 * time.Minute
	defaultLogLevel            = "info"
	defaultLogFormat           = "auto"

	envServerAddress       = "BACKEND_ADDR"
	envDatabaseURL         = "DATABASE_URL"
	envWebhookSecret       = "WEBHOOK_SECRET"
	envAdminToken          = "ADMIN_TOKEN"
	envKitAPIBaseURL       = "KIT_API_BASE_URL"
	envKitLegacyAPIBaseURL = "KIT_LEGACY_API_BASE_URL"
	envKitOAuthClientID    = "KIT_OAUTH_CLIENT_ID"
	envKitOAuthSecret      = "KIT_OAUTH_CLIENT_SECRET"
	envKitOAuthRedirectURI = "KIT_OAUTH_REDIRECT_URI"
	envKitOAuthAuthorize   = "KIT_OAUTH_AUTHORIZE_URL"
	envKitOAuthToken       = "KIT_OAUTH_TOKEN_URL"
	envKitHTTPTimeout      = "KIT_HTTP_TIMEOUT"
	envDebugLogPath        = "DEBUG_LOG_PATH"
	envTagCacheTTL         = "TAG_CACHE_TTL"
	envLogLevel            = "LOG_LEVEL"
	envLogFormat           = "LOG_FORMAT"
)

// Load reads configuration for the HTTP service from environment variables,
// applies defaults, and returns an error when a required value is missing.
func Load() (Config, error) {
	cfg, err := LoadDatabase()
	if err != nil {
		return Config{}, err
	}
	if cfg.WebhookSecret == "" {
		return Config{}, fmt.Errorf("%s is required", envWebhookSecret)
	}
	return cfg, nil
}

// LoadDatabase is Load without the service-only requirements, for tools that
// only talk to the database.
func LoadDatabase() (Config, error) {
	cfg := Config{
		ServerAddress:        firstNonEmpty(os.Getenv(envServerAddress), defaultServerAddress),
		DatabaseURL:          strings.TrimSpace(os.Getenv(envDatabaseURL)),
		WebhookSecret:        os.Getenv(envWebhookSecret),
		AdminToken:           os.Getenv(envAdminToken),
		KitAPIBaseURL:        firstNonEmpty(os.Getenv(envKitAPIBaseURL), defaultKitAPIBaseURL),
		KitLegacyAPIBaseURL:  firstNonEmpty(os.Getenv(envKitLegacyAPIBaseURL), defaultKitLegacyAPIBaseURL),
		KitOAuthClientID:     os.Getenv(envKitOAuthClientID),
		KitOAuthClientSecret: os.Getenv(envKitOAuthSecret),
		KitOAuthRedirectURI:  os.Getenv(envKitOAuthRedirectURI),
		KitOAuthAuthorizeURL: firstNonEmpty(os.Getenv(envKitOAuthAuthorize), defaultKitOAuthAuthorize),
		KitOAuthTokenURL:     firstNonEmpty(os.Getenv(envKitOAuthToken), defaultKitOAuthToken),
		DebugLogPath:         firstNonEmpty(os.Getenv(envDebugLogPath), defaultDebugLogPath),
		LogLevel:             firstNonEmpty(os.Getenv(envLogLevel), defaultLogLevel),
		LogFormat:            firstNonEmpty(os.Getenv(envLogFormat), defaultLogFormat),
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("%s is required", envDatabaseURL)
	}

	var err error
	if cfg.KitHTTPTimeout, err = durationEnv(envKitHTTPTimeout, defaultKitHTTPTimeout); err != nil {
		return Config{}, err
	}
	if cfg.TagCacheTTL, err = durationEnv(envTagCacheTTL, defaultTagCacheTTL); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// OAuthEnabled reports whether a Kit OAuth application is configured.
func (c Config) OAuthEnabled() bool {
	return c.KitOAuthClientID != ""
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", key)
	}
	return d, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
