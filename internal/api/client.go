package api

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

// DefaultTimeout bounds every API request.
const DefaultTimeout = 30 * time.Second

const maxBodyBytes = 1 << 20

type authMode int

const (
	authNone authMode = iota
	authBasic
	authBearer
)

// Config locates the API and the provider logout endpoint.
type Config struct {
	// BaseURL is the API root, e.g. https://espacecollaboratif.ign.fr/api/
	BaseURL string

	// LogoutURL is the provider end-session endpoint.
	LogoutURL string

	ClientID string
}

// Client is the API transport. It is safe for concurrent use.
type Client struct {
	baseURL   *url.URL
	logoutURL string
	clientID  string

	httpClient *http.Client
	logger     *slog.Logger

	mu          sync.RWMutex
	mode        authMode
	username    string
	password    string
	tokenSource oauth2.TokenSource
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates an API client without credentials.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("invalid API base URL %q", cfg.BaseURL)
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}

	c := &Client{
		baseURL:    base,
		logoutURL:  cfg.LogoutURL,
		clientID:   cfg.ClientID,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// SetCredentials switches to HTTP basic auth.
func (c *Client) SetCredentials(username, password string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.mode = authBasic
	c.username = username
	c.password = password
	c.tokenSource = nil
}

// SetExternalToken switches to bearer auth with an access token obtained
// elsewhere. The client never refreshes it.
func (c *Client) SetExternalToken(accessToken string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.mode = authBearer
	c.username, c.password = "", ""
	c.tokenSource = oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: accessToken,
		TokenType:   "Bearer",
	})
}

// Disconnect drops the credentials.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.mode = authNone
	c.username, c.password = "", ""
	c.tokenSource = nil
}

// IsConnected reports whether credentials are set.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mode != authNone
}

// GetUser fetches users/{id}. Use "me" for the authenticated user.
func (c *Client) GetUser(ctx context.Context, id string) (*UserResponse, error) {
	body, err := c.get(ctx, "users/"+url.PathEscape(id))
	if err != nil {
		return nil, err
	}
	return parseUser(body)
}

// Logout ends the provider session of refreshToken. A 2xx or 204 answer is
// success.
func (c *Client) Logout(ctx context.Context, refreshToken string) error {
	if c.logoutURL == "" {
		return fmt.Errorf("no logout endpoint configured")
	}

	form := url.Values{"client_id": {c.clientID}}
	if refreshToken != "" {
		form.Set("refresh_token", refreshToken)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.logoutURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create logout request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	_, err = c.do(req, c.httpClient)
	return err
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	target := c.baseURL.ResolveReference(&url.URL{Path: path})

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	httpClient, err := c.authorize(req)
	if err != nil {
		return nil, err
	}
	return c.do(req, httpClient)
}

// authorize applies the current credentials and returns the client to send
// req with.
func (c *Client) authorize(req *http.Request) (*http.Client, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	switch c.mode {
	case authBasic:
		req.SetBasicAuth(c.username, c.password)
		return c.httpClient, nil
	case authBearer:
		base := c.httpClient.Transport
		if base == nil {
			base = http.DefaultTransport
		}
		return &http.Client{
			Transport: &oauth2.Transport{Source: c.tokenSource, Base: base},
			Timeout:   c.httpClient.Timeout,
		}, nil
	default:
		return nil, ErrNotConnected
	}
}

func (c *Client) do(req *http.Request, httpClient *http.Client) ([]byte, error) {
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Debug("API request failed",
			"method", req.Method,
			"path", req.URL.Path,
			"status", resp.StatusCode)
		return nil, newAPIError(resp.StatusCode, body)
	}
	return body, nil
}
