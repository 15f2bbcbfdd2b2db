// Package settings holds the bridge's persisted configuration: Kit
// credentials, the debug flag and the sparse tag mapping table.
package settings

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/PortNumber53/membermouse-kit-bridge/internal/models"
)

// Repository persists the settings record as key/value pairs.
type Repository interface {
	LoadSettings(ctx context.Context) (map[string]string, error)
	// SaveSettings upserts the given keys, leaving all others untouched.
	SaveSettings(ctx context.Context, values map[string]string) error
}

// Settings is an in-memory copy of the persisted record. Load one per event.
type Settings struct {
	repo   Repository
	values map[string]string
}

// Defaults returns the values used when nothing has been stored yet.
func Defaults() map[string]string {
	return map[string]string{
		models.SettingAPIKey: "",
		models.SettingDebug:  "",
	}
}

// Load reads the record from repo, merging stored values over Defaults.
func Load(ctx context.Context, repo Repository) (*Settings, error) {
	if repo == nil {
		return nil, errors.New("settings: repository cannot be nil")
	}
	s := &Settings{repo: repo}
	if err := s.reload(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Settings) reload(ctx context.Context) error {
	stored, err := s.repo.LoadSettings(ctx)
	if err != nil {
		return fmt.Errorf("settings: load: %w", err)
	}
	values := Defaults()
	for k, v := range stored {
		values[k] = v
	}
	s.values = values
	return nil
}

// Get returns the raw value for key, or "" if absent.
func (s *Settings) Get(key string) string {
	return s.values[key]
}

// MappingRaw returns the stored tag id for a mapping key, or "" if absent.
func (s *Settings) MappingRaw(key models.MappingKey) string {
	return s.values[key.String()]
}

// All returns a copy of every setting.
func (s *Settings) All() map[string]string {
	out := make(map[string]string, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// APIKey returns the legacy static credential.
func (s *Settings) APIKey() string {
	return strings.TrimSpace(s.values[models.SettingAPIKey])
}

// OAuthTokens returns the stored OAuth credential set.
func (s *Settings) OAuthTokens() models.OAuthTokens {
	tokens := models.OAuthTokens{
		AccessToken:  strings.TrimSpace(s.values[models.SettingAccessToken]),
		RefreshToken: strings.TrimSpace(s.values[models.SettingRefreshToken]),
	}
	if raw := strings.TrimSpace(s.values[models.SettingTokenExpires]); raw != "" {
		if secs, err := strconv.ParseInt(raw, 10, 64); err == nil && secs > 0 {
			tokens.ExpiresAt = time.Unix(secs, 0).UTC()
		}
	}
	return tokens
}

// Credentials returns the configured Kit credentials.
func (s *Settings) Credentials() models.Credentials {
	return models.Credentials{
		APIKey: s.APIKey(),
		OAuth:  s.OAuthTokens(),
	}
}

// HasCredentials reports whether any usable credential scheme is configured.
func (s *Settings) HasCredentials() bool {
	return s.Credentials().Scheme() != models.SchemeNone
}

// DebugEnabled reports whether the debug log is switched on.
func (s *Settings) DebugEnabled() bool {
	return s.values[models.SettingDebug] == models.DebugOn
}

// Save merges partial into the persisted record and reloads, so later reads
// on this Settings see the new values.
func (s *Settings) Save(ctx context.Context, partial map[string]string) error {
	if len(partial) == 0 {
		return nil
	}
	if err := s.repo.SaveSettings(ctx, partial); err != nil {
		return fmt.Errorf("settings: save: %w", err)
	}
	return s.reload(ctx)
}

// SaveTokens rewrites only the OAuth credential keys.
func (s *Settings) SaveTokens(ctx context.Context, tokens models.OAuthTokens) error {
	expires := ""
	if !tokens.ExpiresAt.IsZero() {
		expires = strconv.FormatInt(tokens.ExpiresAt.Unix(), 10)
	}
	return s.Save(ctx, map[string]string{
		models.SettingAccessToken:  tokens.AccessToken,
		models.SettingRefreshToken: tokens.RefreshToken,
		models.SettingTokenExpires: expires,
	})
}

// ClearCredentials blanks every credential key. Mappings are kept.
func (s *Settings) ClearCredentials(ctx context.Context) error {
	return s.Save(ctx, map[string]string{
		models.SettingAPIKey:       "",
		models.SettingAccessToken:  "",
		models.SettingRefreshToken: "",
		models.SettingTokenExpires: "",
	})
}

var secretKeys = map[string]bool{
	models.SettingAPIKey:       true,
	models.SettingAccessToken:  true,
	models.SettingRefreshToken: true,
}

// IsSecret reports whether key holds a credential.
func IsSecret(key string) bool {
	return secretKeys[key]
}

// MaskSecrets replaces credential values in values with MaskSecret output.
// The map is modified in place and returned.
func MaskSecrets(values map[string]string) map[string]string {
	for key, value := range values {
		if IsSecret(key) {
			values[key] = MaskSecret(value)
		}
	}
	return values
}

// MaskSecret keeps only the last four characters of value.
func MaskSecret(value string) string {
	switch {
	case value == "":
		return ""
	case len(value) <= 4:
		return "****"
	default:
		return "****" + value[len(value)-4:]
	}
}
