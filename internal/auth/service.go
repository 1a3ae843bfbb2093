package auth

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"guichet/internal/api"
	"guichet/internal/domain"
	"guichet/internal/platform"
	"guichet/internal/session"
	"guichet/pkg/oauth"
)

// DefaultRestoreTimeout bounds RestoreSession.
const DefaultRestoreTimeout = 10 * time.Second

// Transport is the API transport used by the service.
type Transport interface {
	SetCredentials(username, password string)
	SetExternalToken(accessToken string)
	Disconnect()
	IsConnected() bool
	GetUser(ctx context.Context, id string) (*api.UserResponse, error)
	Logout(ctx context.Context, refreshToken string) error
}

// IDTokenVerifier checks an OpenID Connect id_token.
type IDTokenVerifier interface {
	Verify(ctx context.Context, rawIDToken string) error
}

// Config holds the identity provider settings.
type Config struct {
	ClientID  string
	Endpoints oauth.Endpoints
	Scope     string

	// RedirectURI must match the URI registered for the launcher's platform.
	RedirectURI string

	RestoreTimeout time.Duration
	ExpiryBuffer   time.Duration
}

// Service is the authentication service. It is safe for concurrent use.
type Service struct {
	cfg         Config
	oauthClient *oauth.Client
	transport   Transport
	sessions    *session.Store
	launcher    platform.Launcher
	idVerifier  IDTokenVerifier
	logger      *slog.Logger
	newID       func() string

	mu      sync.RWMutex
	state   State
	user    *domain.AppUser
	lastErr error

	loginMu         sync.Mutex
	loginInProgress bool

	refreshGroup singleflight.Group
}

// Option configures a Service.
type Option func(*Service)

// WithIDTokenVerifier enables id_token verification after the code exchange.
func WithIDTokenVerifier(v IDTokenVerifier) Option {
	return func(s *Service) {
		s.idVerifier = v
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithAttemptIDs replaces the login attempt id generator, for tests.
func WithAttemptIDs(fn func() string) Option {
	return func(s *Service) {
		s.newID = fn
	}
}

// New creates the service. All dependencies are required.
func New(cfg Config, oauthClient *oauth.Client, transport Transport, sessions *session.Store, launcher platform.Launcher, opts ...Option) (*Service, error) {
	if cfg.ClientID == "" {
		return nil, errors.New("auth: client ID is required")
	}
	if cfg.Endpoints.AuthURL == "" || cfg.Endpoints.TokenURL == "" {
		return nil, errors.New("auth: authorization and token endpoints are required")
	}
	if cfg.RedirectURI == "" {
		return nil, errors.New("auth: redirect URI is required")
	}
	if oauthClient == nil || transport == nil || sessions == nil || launcher == nil {
		return nil, errors.New("auth: missing dependency")
	}
	if cfg.Scope == "" {
		cfg.Scope = oauth.DefaultScope
	}
	if cfg.RestoreTimeout <= 0 {
		cfg.RestoreTimeout = DefaultRestoreTimeout
	}
	if cfg.ExpiryBuffer <= 0 {
		cfg.ExpiryBuffer = session.DefaultExpiryBuffer
	}

	s := &Service{
		cfg:         cfg,
		oauthClient: oauthClient,
		transport:   transport,
		sessions:    sessions,
		launcher:    launcher,
		logger:      slog.Default(),
		newID:       newAttemptID,
		state:       Unauthenticated,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// State returns the current authentication state.
func (s *Service) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// CurrentUser returns the authenticated user, or nil.
func (s *Service) CurrentUser() *domain.AppUser {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user
}

// LastError returns the error of the last failed operation.
func (s *Service) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// Platform returns the platform of the configured launcher.
func (s *Service) Platform() platform.Platform {
	return s.launcher.Platform()
}

// Sessions exposes the session store.
func (s *Service) Sessions() *session.Store {
	return s.sessions
}

// beginAuthenticating enters Authenticating and returns the state it left.
func (s *Service) beginAuthenticating() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.state
	s.state = Authenticating
	return prev
}

func (s *Service) setState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

// succeed moves to Authenticated with user.
func (s *Service) succeed(user *domain.AppUser) AuthResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = Authenticated
	s.user = user
	s.lastErr = nil
	return succeeded(user)
}

// fail records err and falls back to Unauthenticated.
func (s *Service) fail(err error) AuthResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = Unauthenticated
	s.user = nil
	s.lastErr = err
	return failed(err)
}

// signOut forgets the in-memory session.
func (s *Service) signOut(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = Unauthenticated
	s.user = nil
	s.lastErr = err
}
