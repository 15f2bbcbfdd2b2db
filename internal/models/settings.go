package models

import (
	"strings"
	"time"
)

// Persisted settings keys. These names are shared with existing installations
// and must not change.
const (
	SettingAPIKey       = "api-key"
	SettingAccessToken  = "access_token"
	SettingRefreshToken = "refresh_token"
	SettingTokenExpires = "token_expires"
	SettingDebug        = "debug"

	// DebugOn is the stored value that enables the debug log.
	DebugOn = "on"
)

// ResourceType identifies the MemberMouse resource a tag mapping belongs to.
type ResourceType string

const (
	ResourceMembershipLevel ResourceType = "membership_level"
	ResourceProduct         ResourceType = "product"
	ResourceBundle          ResourceType = "bundle"
)

// Valid reports whether r is one of the known resource types.
func (r ResourceType) Valid() bool {
	switch r {
	case ResourceMembershipLevel, ResourceProduct, ResourceBundle:
		return true
	}
	return false
}

// SupportsCancellation reports whether a cancellation mapping can exist for r.
// Products have no cancellation tagging.
func (r ResourceType) SupportsCancellation() bool {
	return r == ResourceMembershipLevel || r == ResourceBundle
}

// MappingKey is the settings key holding a tag mapping.
type MappingKey string

func (k MappingKey) String() string { return string(k) }

// IsMappingKey reports whether a raw settings key names a tag mapping.
func IsMappingKey(key string) bool {
	return strings.HasPrefix(key, "mapping-")
}

// TagID identifies a tag in Kit.
type TagID string

func (t TagID) String() string { return string(t) }

// CredentialScheme names the authentication scheme used against Kit.
type CredentialScheme string

const (
	SchemeNone   CredentialScheme = "none"
	SchemeAPIKey CredentialScheme = "api_key"
	SchemeOAuth  CredentialScheme = "oauth"
)

// OAuthTokens is the OAuth credential set stored in settings.
type OAuthTokens struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Valid reports whether both halves of the token pair are present.
func (t OAuthTokens) Valid() bool {
	return strings.TrimSpace(t.AccessToken) != "" && strings.TrimSpace(t.RefreshToken) != ""
}

// Credentials holds whichever Kit credentials are configured.
type Credentials struct {
	APIKey string
	OAuth  OAuthTokens
}

// Scheme returns the active scheme. A valid OAuth pair wins over an API key.
func (c Credentials) Scheme() CredentialScheme {
	if c.OAuth.Valid() {
		return SchemeOAuth
	}
	if strings.TrimSpace(c.APIKey) != "" {
		return SchemeAPIKey
	}
	return SchemeNone
}
