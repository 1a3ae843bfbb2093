package oauth

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"guichet/pkg/clock"
	pkgstrings "guichet/pkg/strings"
)

// DefaultHTTPTimeout is the default timeout for token endpoint requests.
const DefaultHTTPTimeout = 30 * time.Second

// maxTokenResponseBytes caps how much of a token endpoint response is read.
const maxTokenResponseBytes = 1 << 20

// TokenEndpointError is returned when the token endpoint answers with a
// status >= 400. Body carries the raw response for diagnostics; Error shows a
// shortened copy.
type TokenEndpointError struct {
	StatusCode int
	Body       string
}

// Error implements the error interface.
func (e *TokenEndpointError) Error() string {
	return fmt.Sprintf("token endpoint returned status %d: %s", e.StatusCode, pkgstrings.Truncate(e.Body, pkgstrings.DefaultMaxLen))
}

// Client handles OAuth 2.0 protocol operations against the token endpoint.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	clock      clock.Clock
}

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the HTTP client used for token requests.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithLogger overrides the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithClock sets the clock used to compute absolute expiry instants.
func WithClock(clk clock.Clock) ClientOption {
	return func(c *Client) {
		c.clock = clk
	}
}

// NewClient returns a Client with a DefaultHTTPTimeout HTTP client,
// slog.Default and the real clock unless overridden.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: DefaultHTTPTimeout},
		logger:     slog.Default(),
		clock:      clock.Real{},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// BuildAuthorizationURL returns the provider sign-in URL for a code flow
// attempt. The PKCE challenge is attached when pkce is not nil.
func (c *Client) BuildAuthorizationURL(authEndpoint, clientID, redirectURI, state, scope string, pkce *PKCEChallenge) (string, error) {
	authURL, err := url.Parse(authEndpoint)
	if err != nil {
		return "", fmt.Errorf("invalid authorization endpoint: %w", err)
	}

	query := authURL.Query()
	query.Set("response_type", "code")
	query.Set("client_id", clientID)
	query.Set("redirect_uri", redirectURI)

	if state != "" {
		query.Set("state", state)
	}

	if scope != "" {
		query.Set("scope", scope)
	}

	if pkce != nil {
		query.Set("code_challenge", pkce.CodeChallenge)
		query.Set("code_challenge_method", pkce.CodeChallengeMethod)
	}

	authURL.RawQuery = query.Encode()
	return authURL.String(), nil
}

// ExchangeCode redeems an authorization code with its PKCE verifier.
func (c *Client) ExchangeCode(ctx context.Context, tokenEndpoint, code, redirectURI, clientID, codeVerifier string) (*Token, error) {
	data := url.Values{
		"grant_type":    {"authorization_code"},
		"client_id":     {clientID},
		"code":          {code},
		"redirect_uri":  {redirectURI},
		"code_verifier": {codeVerifier},
	}

	return c.doTokenRequest(ctx, tokenEndpoint, data)
}

// RefreshToken runs the refresh_token grant. The provider may or may not
// return a new refresh token.
func (c *Client) RefreshToken(ctx context.Context, tokenEndpoint, refreshToken, clientID string) (*Token, error) {
	data := url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {clientID},
		"refresh_token": {refreshToken},
	}

	return c.doTokenRequest(ctx, tokenEndpoint, data)
}

// doTokenRequest posts a form to the token endpoint and parses the answer.
// Statuses from 400 up become a *TokenEndpointError carrying the raw body.
func (c *Client) doTokenRequest(ctx context.Context, tokenEndpoint string, data url.Values) (*Token, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenEndpoint, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read token response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		c.logger.Debug("Token request failed",
			"grant_type", data.Get("grant_type"),
			"status", resp.StatusCode)
		return nil, &TokenEndpointError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	return ParseTokenResponse(body, c.clock.Now())
}
