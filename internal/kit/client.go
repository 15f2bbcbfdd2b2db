package kit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"

	"github.com/PortNumber53/membermouse-kit-bridge/internal/metrics"
	"github.com/PortNumber53/membermouse-kit-bridge/internal/models"
)

const (
	DefaultBaseURL       = "https://api.kit.com/v4"
	DefaultLegacyBaseURL = "https://api.convertkit.com/v3"
	DefaultTimeout       = 30 * time.Second

	tagsPageSize = 1000
)

// TokenSaver persists a refreshed OAuth token pair.
type TokenSaver interface {
	SaveTokens(ctx context.Context, tokens models.OAuthTokens) error
}

// Config holds the endpoints and HTTP settings shared by every Client.
type Config struct {
	BaseURL       string // v4, used with OAuth
	LegacyBaseURL string // v3, used with an API key
	Timeout       time.Duration
	OAuth         *oauth2.Config
	HTTPClient    *http.Client
}

func (cfg Config) withDefaults() Config {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.LegacyBaseURL == "" {
		cfg.LegacyBaseURL = DefaultLegacyBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	cfg.LegacyBaseURL = strings.TrimRight(cfg.LegacyBaseURL, "/")
	return cfg
}

// Client wraps Kit API calls using the REST API directly.
type Client struct {
	cfg        Config
	httpClient *http.Client
	saver      TokenSaver

	mu    sync.Mutex
	creds models.Credentials
}

// NewClient creates a Kit client for one credential set. saver may be nil, in
// which case refreshed tokens are only kept in memory.
func NewClient(cfg Config, creds models.Credentials, saver TokenSaver) *Client {
	cfg = cfg.withDefaults()
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{
		cfg:        cfg,
		httpClient: httpClient,
		saver:      saver,
		creds:      creds,
	}
}

// Scheme reports which credential scheme requests are sent with.
func (c *Client) Scheme() models.CredentialScheme {
	return c.credentials().Scheme()
}

func (c *Client) credentials() models.Credentials {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.creds
}

type tagsResponse struct {
	Tags       []models.Tag `json:"tags"`
	Pagination struct {
		HasNextPage bool   `json:"has_next_page"`
		EndCursor   string `json:"end_cursor"`
	} `json:"pagination"`
}

// ListTags returns every tag on the account, following cursor pagination.
func (c *Client) ListTags(ctx context.Context) ([]models.Tag, error) {
	const op = "list_tags"

	var (
		tags   []models.Tag
		cursor string
	)
	for {
		query := url.Values{}
		query.Set("per_page", strconv.Itoa(tagsPageSize))
		if cursor != "" {
			query.Set("after", cursor)
		}

		var page tagsResponse
		if err := c.do(ctx, op, http.MethodGet, "/tags", query, nil, &page); err != nil {
			return nil, err
		}
		tags = append(tags, page.Tags...)

		next := page.Pagination.EndCursor
		if !page.Pagination.HasNextPage || next == "" || next == cursor {
			break
		}
		cursor = next
	}
	if tags == nil {
		tags = []models.Tag{}
	}
	return tags, nil
}

type subscriberRequest struct {
	Email     string `json:"email_address,omitempty"`
	FirstName string `json:"first_name,omitempty"`
}

type subscriberResponse struct {
	Subscriber models.Subscriber `json:"subscriber"`
}

// legacySubscribeRequest is the v3 tag-subscribe body. v3 names the field
// "email" where v4 uses "email_address".
type legacySubscribeRequest struct {
	Email     string `json:"email"`
	FirstName string `json:"first_name,omitempty"`
}

type legacySubscriptionResponse struct {
	Subscription struct {
		ID         int64             `json:"id"`
		Subscriber models.Subscriber `json:"subscriber"`
	} `json:"subscription"`
}

// ParseTagID validates a stored tag id. Tag ids must be positive integers.
func ParseTagID(tagID models.TagID) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(tagID.String()), 10, 64)
	if err != nil || id <= 0 {
		return 0, &Error{Op: "parse_tag_id", Code: CodeInvalidTagID, Message: fmt.Sprintf("invalid tag id %q", tagID)}
	}
	return id, nil
}

// SubscribeToTag subscribes email and applies tagID, returning the subscriber
// id. With an API key this is the single v3 tag-subscribe call; under OAuth it
// is a v4 upsert followed by a tag call. An invalid tag id fails before any
// request is sent.
func (c *Client) SubscribeToTag(ctx context.Context, tagID models.TagID, email, firstName string) (int64, error) {
	const op = "subscribe_to_tag"

	id, err := ParseTagID(tagID)
	if err != nil {
		return 0, err
	}

	if c.Scheme() != models.SchemeAPIKey {
		subscriberID, err := c.CreateOrGetSubscriber(ctx, email, firstName)
		if err != nil {
			return 0, err
		}
		return subscriberID, c.tagSubscriber(ctx, id, subscriberID)
	}

	var resp legacySubscriptionResponse
	body := legacySubscribeRequest{Email: email, FirstName: firstName}
	path := fmt.Sprintf("/tags/%d/subscribe", id)
	if err := c.do(ctx, op, http.MethodPost, path, nil, body, &resp); err != nil {
		return 0, err
	}
	if resp.Subscription.Subscriber.ID <= 0 {
		return 0, &Error{Op: op, Code: CodeInvalidJSON, Message: "response missing subscriber id"}
	}
	return resp.Subscription.Subscriber.ID, nil
}

// requireOAuth guards the v4-only operations. v3 has no equivalent that
// works with an API key alone.
func (c *Client) requireOAuth(op string) error {
	switch c.Scheme() {
	case models.SchemeOAuth:
		return nil
	case models.SchemeAPIKey:
		return &Error{Op: op, Code: CodeMissingCredentials, Err: ErrOAuthRequired}
	default:
		return &Error{Op: op, Code: CodeMissingCredentials, Err: ErrMissingCredentials}
	}
}

// CreateOrGetSubscriber upserts a subscriber by email and returns its id.
// Requires OAuth.
func (c *Client) CreateOrGetSubscriber(ctx context.Context, email, firstName string) (int64, error) {
	const op = "create_subscriber"

	if err := c.requireOAuth(op); err != nil {
		return 0, err
	}

	var resp subscriberResponse
	body := subscriberRequest{Email: email, FirstName: firstName}
	if err := c.do(ctx, op, http.MethodPost, "/subscribers", nil, body, &resp); err != nil {
		return 0, err
	}
	if resp.Subscriber.ID <= 0 {
		return 0, &Error{Op: op, Code: CodeInvalidJSON, Message: "response missing subscriber id"}
	}
	return resp.Subscriber.ID, nil
}

// TagSubscriber applies tagID to a subscriber. Requires OAuth.
func (c *Client) TagSubscriber(ctx context.Context, tagID models.TagID, subscriberID int64) error {
	id, err := ParseTagID(tagID)
	if err != nil {
		return err
	}
	if err := c.requireOAuth("tag_subscriber"); err != nil {
		return err
	}
	return c.tagSubscriber(ctx, id, subscriberID)
}

func (c *Client) tagSubscriber(ctx context.Context, tagID, subscriberID int64) error {
	path := fmt.Sprintf("/tags/%d/subscribers/%d", tagID, subscriberID)
	return c.do(ctx, "tag_subscriber", http.MethodPost, path, nil, nil, nil)
}

type subscribersResponse struct {
	Subscribers []models.Subscriber `json:"subscribers"`
}

// GetSubscriberIDByEmail looks up a subscriber id. Only an empty result
// matches ErrSubscriberNotFound; an HTTP 404 is a failure. Requires OAuth.
func (c *Client) GetSubscriberIDByEmail(ctx context.Context, email string) (int64, error) {
	const op = "get_subscriber"

	if err := c.requireOAuth(op); err != nil {
		return 0, err
	}

	query := url.Values{}
	query.Set("email_address", email)

	var resp subscribersResponse
	if err := c.do(ctx, op, http.MethodGet, "/subscribers", query, nil, &resp); err != nil {
		return 0, err
	}
	for _, sub := range resp.Subscribers {
		if sub.ID > 0 {
			return sub.ID, nil
		}
	}
	return 0, &Error{Op: op, Code: CodeSubscriberNotFound, Err: ErrSubscriberNotFound}
}

// UpdateSubscriber rewrites a subscriber's email address and first name.
// Requires OAuth.
func (c *Client) UpdateSubscriber(ctx context.Context, subscriberID int64, firstName, newEmail string) error {
	const op = "update_subscriber"

	if err := c.requireOAuth(op); err != nil {
		return err
	}

	body := subscriberRequest{Email: newEmail, FirstName: firstName}
	path := fmt.Sprintf("/subscribers/%d", subscriberID)
	return c.do(ctx, op, http.MethodPut, path, nil, body, nil)
}

// do sends one request. Under OAuth a 401 triggers exactly one token refresh
// and one retry.
func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, body, out any) error {
	scheme := c.Scheme()
	if scheme == models.SchemeNone {
		return &Error{Op: op, Code: CodeMissingCredentials, Err: ErrMissingCredentials}
	}

	err := c.attempt(ctx, op, method, path, query, body, out)
	if scheme != models.SchemeOAuth || CodeOf(err) != CodeUnauthorized {
		return err
	}

	log.Info().Str("component", "kit").Str("op", op).Msg("access token rejected, refreshing")
	if _, rerr := c.RefreshTokens(ctx); rerr != nil {
		return rerr
	}
	return c.attempt(ctx, op, method, path, query, body, out)
}

func (c *Client) attempt(ctx context.Context, op, method, path string, query url.Values, body, out any) error {
	creds := c.credentials()

	params := url.Values{}
	for k, v := range query {
		params[k] = v
	}

	base := c.cfg.BaseURL
	if creds.Scheme() == models.SchemeAPIKey {
		base = c.cfg.LegacyBaseURL
		params.Set("api_key", creds.APIKey)
	}
	target := base + path
	if len(params) > 0 {
		target += "?" + params.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return newError(op, CodeRequestFailed, fmt.Errorf("encode request: %w", err))
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return newError(op, CodeRequestFailed, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if creds.Scheme() == models.SchemeOAuth {
		req.Header.Set("Authorization", "Bearer "+creds.OAuth.AccessToken)
	}

	return c.doRequest(op, req, out)
}

func (c *Client) doRequest(op string, req *http.Request, out any) (err error) {
	start := time.Now()
	defer func() {
		code := "ok"
		if err != nil {
			code = string(CodeOf(err))
		}
		metrics.KitRequestsTotal.WithLabelValues(op, code).Inc()
		metrics.KitRequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return newError(op, CodeRequestFailed, fmt.Errorf("kit request failed: %w", err))
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, resp.Body); err != nil {
		return newError(op, CodeRequestFailed, fmt.Errorf("read kit response: %w", err))
	}
	raw := bytes.TrimSpace(buf.Bytes())

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &Error{
			Op:         op,
			Code:       codeForStatus(resp.StatusCode),
			Message:    errorMessage(raw, resp.Status),
			StatusCode: resp.StatusCode,
		}
	}

	if len(raw) == 0 {
		if out != nil {
			return &Error{Op: op, Code: CodeInvalidJSON, Message: "empty response body", StatusCode: resp.StatusCode}
		}
		return nil
	}
	if out == nil {
		if !json.Valid(raw) {
			return &Error{Op: op, Code: CodeInvalidJSON, Message: "response is not JSON", StatusCode: resp.StatusCode}
		}
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &Error{Op: op, Code: CodeInvalidJSON, StatusCode: resp.StatusCode, Err: fmt.Errorf("parse kit response: %w", err)}
	}
	return nil
}

// errorMessage extracts a readable message from a Kit error body. v4 returns
// {"errors": [...]}, v3 {"error": "...", "message": "..."}.
func errorMessage(raw []byte, fallback string) string {
	var body struct {
		Errors  []string `json:"errors"`
		Error   string   `json:"error"`
		Message string   `json:"message"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return fallback
	}
	switch {
	case len(body.Errors) > 0:
		return strings.Join(body.Errors, "; ")
	case body.Message != "":
		return body.Message
	case body.Error != "":
		return body.Error
	}
	return fallback
}

// RefreshTokens exchanges the stored refresh token for a new pair, swaps it
// into the client and persists it through the TokenSaver.
func (c *Client) RefreshTokens(ctx context.Context) (models.OAuthTokens, error) {
	const op = "refresh_tokens"

	creds := c.credentials()
	if c.cfg.OAuth == nil || c.cfg.OAuth.ClientID == "" {
		metrics.TokenRefreshesTotal.WithLabelValues("failed").Inc()
		return models.OAuthTokens{}, &Error{Op: op, Code: CodeTokenRefreshFailed, Message: "oauth client not configured"}
	}
	if strings.TrimSpace(creds.OAuth.RefreshToken) == "" {
		metrics.TokenRefreshesTotal.WithLabelValues("failed").Inc()
		return models.OAuthTokens{}, &Error{Op: op, Code: CodeTokenRefreshFailed, Message: "no refresh token stored"}
	}

	src := c.cfg.OAuth.TokenSource(c.oauthContext(ctx), &oauth2.Token{RefreshToken: creds.OAuth.RefreshToken})
	tok, err := src.Token()
	if err != nil {
		metrics.TokenRefreshesTotal.WithLabelValues("failed").Inc()
		return models.OAuthTokens{}, &Error{Op: op, Code: CodeTokenRefreshFailed, Err: err}
	}

	tokens := fromOAuthToken(tok)
	if tokens.RefreshToken == "" {
		tokens.RefreshToken = creds.OAuth.RefreshToken
	}

	c.mu.Lock()
	c.creds.OAuth = tokens
	c.mu.Unlock()
	metrics.TokenRefreshesTotal.WithLabelValues("ok").Inc()

	if c.saver != nil {
		if err := c.saver.SaveTokens(ctx, tokens); err != nil {
			log.Warn().Err(err).Str("component", "kit").Msg("failed to persist refreshed tokens")
		}
	}
	return tokens, nil
}

// ExchangeCode trades an authorization code for a token pair.
func (c *Client) ExchangeCode(ctx context.Context, code string) (models.OAuthTokens, error) {
	return ExchangeCode(ctx, c.cfg, code)
}

// ExchangeCode trades an authorization code for a token pair without needing
// existing credentials.
func ExchangeCode(ctx context.Context, cfg Config, code string) (models.OAuthTokens, error) {
	const op = "exchange_code"

	cfg = cfg.withDefaults()
	if cfg.OAuth == nil || cfg.OAuth.ClientID == "" {
		return models.OAuthTokens{}, &Error{Op: op, Code: CodeMissingCredentials, Message: "oauth client not configured"}
	}
	if strings.TrimSpace(code) == "" {
		return models.OAuthTokens{}, &Error{Op: op, Code: CodeHTTPError, Message: "authorization code is empty"}
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	tok, err := cfg.OAuth.Exchange(context.WithValue(ctx, oauth2.HTTPClient, httpClient), code)
	if err != nil {
		errCode := CodeRequestFailed
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) && rerr.Response != nil {
			errCode = codeForStatus(rerr.Response.StatusCode)
		}
		return models.OAuthTokens{}, &Error{Op: op, Code: errCode, Err: err}
	}
	return fromOAuthToken(tok), nil
}

func (c *Client) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

func fromOAuthToken(tok *oauth2.Token) models.OAuthTokens {
	tokens := models.OAuthTokens{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
	}
	if !tok.Expiry.IsZero() {
		tokens.ExpiresAt = tok.Expiry.UTC()
	}
	return tokens
}
