package kit

import (
	"strings"

	"golang.org/x/oauth2"
)

const (
	DefaultAuthorizeURL = "https://app.kit.com/oauth/authorize"
	DefaultTokenURL     = "https://api.kit.com/v4/oauth/token"
)

// OAuthSettings describes the registered Kit OAuth application.
type OAuthSettings struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	AuthorizeURL string
	TokenURL     string
}

// NewOAuthConfig builds the oauth2 config for Kit, or nil when no client id
// is configured.
func NewOAuthConfig(s OAuthSettings) *oauth2.Config {
	if strings.TrimSpace(s.ClientID) == "" {
		return nil
	}
	authURL := s.AuthorizeURL
	if authURL == "" {
		authURL = DefaultAuthorizeURL
	}
	tokenURL := s.TokenURL
	if tokenURL == "" {
		tokenURL = DefaultTokenURL
	}
	return &oauth2.Config{
		ClientID:     s.ClientID,
		ClientSecret: s.ClientSecret,
		RedirectURL:  s.RedirectURL,
		Endpoint: oauth2.Endpoint{
			AuthURL:   authURL,
			TokenURL:  tokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// AuthCodeURL returns the consent screen URL for state, or "" when OAuth is
// not configured.
func (cfg Config) AuthCodeURL(state string) string {
	if cfg.OAuth == nil {
		return ""
	}
	return cfg.OAuth.AuthCodeURL(state)
}
