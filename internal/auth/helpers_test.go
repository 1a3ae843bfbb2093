package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"guichet/internal/api"
	"guichet/internal/domain"
	"guichet/internal/platform"
	"guichet/internal/session"
	"guichet/internal/storage"
	"guichet/internal/testing/mock"
	"guichet/pkg/clock"
	"guichet/pkg/oauth"
)

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	idp       *mock.Provider
	clk       *clock.Mock
	kv        *storage.Memory
	sessions  *session.Store
	transport *api.Client
	launcher  platform.Launcher
	svc       *Service
}

type fixtureOption func(*fixtureConfig)

type fixtureConfig struct {
	provider mock.ProviderConfig
	launcher func(*mock.Provider) platform.Launcher
	opts     []Option
}

func withProvider(cfg mock.ProviderConfig) fixtureOption {
	return func(c *fixtureConfig) { c.provider = cfg }
}

func withLauncher(fn func(*mock.Provider) platform.Launcher) fixtureOption {
	return func(c *fixtureConfig) { c.launcher = fn }
}

func withServiceOptions(opts ...Option) fixtureOption {
	return func(c *fixtureConfig) { c.opts = append(c.opts, opts...) }
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()

	clk := clock.NewMock(epoch)
	fc := fixtureConfig{
		launcher: func(p *mock.Provider) platform.Launcher { return &mock.BrowserLauncher{Provider: p} },
	}
	for _, opt := range opts {
		opt(&fc)
	}
	fc.provider.Clock = clk
	if fc.provider.Username == "" {
		fc.provider.Username, fc.provider.Password = "ada@example.fr", "correct horse"
	}

	idp := mock.NewProvider(t, fc.provider)
	kv := storage.NewMemory()
	sessions := session.New(kv, session.WithClock(clk))

	transport, err := api.NewClient(api.Config{
		BaseURL:   idp.APIBaseURL(),
		LogoutURL: idp.Endpoints().LogoutURL,
		ClientID:  idp.ClientID(),
	})
	require.NoError(t, err)

	launcher := fc.launcher(idp)
	redirectURI := "http://127.0.0.1:3000/auth/callback"
	if launcher.Platform() == platform.Web {
		redirectURI = "https://guichet.example.fr/auth/callback"
	}

	svc, err := New(Config{
		ClientID:    idp.ClientID(),
		Endpoints:   idp.Endpoints(),
		RedirectURI: redirectURI,
	}, oauth.NewClient(oauth.WithClock(clk)), transport, sessions, launcher, fc.opts...)
	require.NoError(t, err)

	return &fixture{
		idp:       idp,
		clk:       clk,
		kv:        kv,
		sessions:  sessions,
		transport: transport,
		launcher:  launcher,
		svc:       svc,
	}
}

// webLogin starts a web login and returns the provider's redirect back.
func (f *fixture) webLogin(t *testing.T) *platform.CallbackResult {
	t.Helper()

	res := f.svc.LoginWithOAuth(context.Background())
	require.False(t, res.Success)
	require.ErrorIs(t, res.Err, RedirectRequired)

	authURL, ok := RedirectURL(res.Err)
	require.True(t, ok)

	location, err := f.idp.Authorize(authURL)
	require.NoError(t, err)
	cb, err := mock.ParseCallback(location)
	require.NoError(t, err)
	return cb
}

// oauthLogin completes a native login and fails the test otherwise.
func (f *fixture) oauthLogin(t *testing.T) {
	t.Helper()
	res := f.svc.LoginWithOAuth(context.Background())
	require.True(t, res.Success, "login failed: %v", res.Err)
}

func (f *fixture) storedKeys(t *testing.T) []string {
	t.Helper()
	keys, err := f.kv.Keys(context.Background())
	require.NoError(t, err)
	return keys
}

func (f *fixture) hasPKCE(t *testing.T) bool {
	t.Helper()
	_, err := f.sessions.PKCE(context.Background())
	if errors.Is(err, session.ErrNoPKCE) {
		return false
	}
	require.NoError(t, err)
	return true
}

// stubTransport is a Transport with scripted behaviour.
type stubTransport struct {
	getUser   func(ctx context.Context) (*api.UserResponse, error)
	logout    func(ctx context.Context, refreshToken string) error
	connected bool
	logouts   int
}

func (s *stubTransport) SetCredentials(string, string) { s.connected = true }
func (s *stubTransport) SetExternalToken(string)       { s.connected = true }
func (s *stubTransport) Disconnect()                   { s.connected = false }
func (s *stubTransport) IsConnected() bool             { return s.connected }

func (s *stubTransport) GetUser(ctx context.Context, _ string) (*api.UserResponse, error) {
	if s.getUser == nil {
		return nil, &api.APIError{StatusCode: http.StatusUnauthorized}
	}
	return s.getUser(ctx)
}

func (s *stubTransport) Logout(ctx context.Context, refreshToken string) error {
	s.logouts++
	if s.logout == nil {
		return nil
	}
	return s.logout(ctx, refreshToken)
}

func newStubService(t *testing.T, transport Transport, tokenURL string) (*Service, *session.Store, *storage.Memory) {
	t.Helper()
	kv := storage.NewMemory()
	sessions := session.New(kv, session.WithClock(clock.NewMock(epoch)))
	if tokenURL == "" {
		tokenURL = "http://127.0.0.1:1/token"
	}
	svc, err := New(Config{
		ClientID:       "guichet",
		Endpoints:      oauth.Endpoints{AuthURL: "http://127.0.0.1:1/auth", TokenURL: tokenURL},
		RedirectURI:    "http://127.0.0.1:3000/auth/callback",
		RestoreTimeout: 100 * time.Millisecond,
	}, oauth.NewClient(oauth.WithClock(clock.NewMock(epoch))), transport, sessions, platform.RedirectLauncher{})
	require.NoError(t, err)
	return svc, sessions, kv
}

// restart builds a new service over the same storage, as after an app
// relaunch.
func (f *fixture) restart(t *testing.T) *Service {
	t.Helper()
	transport, err := api.NewClient(api.Config{
		BaseURL:   f.idp.APIBaseURL(),
		LogoutURL: f.idp.Endpoints().LogoutURL,
		ClientID:  f.idp.ClientID(),
	})
	require.NoError(t, err)
	f.transport = transport

	svc, err := New(Config{
		ClientID:    f.idp.ClientID(),
		Endpoints:   f.idp.Endpoints(),
		RedirectURI: "http://127.0.0.1:3000/auth/callback",
	}, oauth.NewClient(oauth.WithClock(f.clk)), transport, f.sessions, f.launcher)
	require.NoError(t, err)
	f.svc = svc
	return svc
}

// verifierFunc adapts a function to IDTokenVerifier.
type verifierFunc func(ctx context.Context, raw string) error

func (f verifierFunc) Verify(ctx context.Context, raw string) error { return f(ctx, raw) }

// heldTokenServer is a token endpoint that blocks every request until
// release is called. entered receives one value per request.
func heldTokenServer(t *testing.T, body string) (tokenURL string, entered <-chan struct{}, release func()) {
	t.Helper()

	in := make(chan struct{}, 4)
	gate := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		in <- struct{}{}
		select {
		case <-gate:
		case <-r.Context().Done():
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	var once sync.Once
	release = func() { once.Do(func() { close(gate) }) }
	t.Cleanup(release)
	return srv.URL, in, release
}

// storeSession writes a signed in user with tokens issued at issuedAt.
func storeSession(t *testing.T, sessions *session.Store, issuedAt time.Time) {
	t.Helper()
	ctx := context.Background()
	token, err := oauth.ParseTokenResponse([]byte(`{"access_token":"AT1","refresh_token":"RT1","expires_in":300}`), issuedAt)
	require.NoError(t, err)
	require.NoError(t, sessions.SetTokens(ctx, token))
	require.NoError(t, sessions.SaveUser(ctx, &domain.AppUser{ID: 7, Email: "gaston@example.fr"}))
}
