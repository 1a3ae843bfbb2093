package auth

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"guichet/internal/api"
	"guichet/internal/platform"
	"guichet/internal/session"
	"guichet/internal/testing/mock"
	"guichet/pkg/oauth"
)

func TestLoginWithOAuth_Native(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	res := f.svc.LoginWithOAuth(ctx)
	require.True(t, res.Success, "login failed: %v", res.Err)
	assert.Equal(t, int64(42), res.User.ID)
	assert.Equal(t, Authenticated, f.svc.State())
	assert.Nil(t, f.svc.LastError())

	launcher := f.launcher.(*mock.BrowserLauncher)
	require.Len(t, launcher.Launched, 1)
	authURL, err := url.Parse(launcher.Launched[0])
	require.NoError(t, err)
	q := authURL.Query()
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "guichet", q.Get("client_id"))
	assert.Equal(t, oauth.CodeChallengeMethodS256, q.Get("code_challenge_method"))
	assert.Equal(t, oauth.DefaultScope, q.Get("scope"))
	assert.NotEmpty(t, q.Get("state"))
	assert.Equal(t, "http://127.0.0.1:3000/auth/callback", q.Get("redirect_uri"))

	rec, err := f.sessions.Tokens(ctx)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.NotEmpty(t, rec.AccessToken)
	assert.NotEmpty(t, rec.RefreshToken)
	assert.NotEmpty(t, rec.IDToken)
	assert.Equal(t, epoch.Add(300*time.Second), rec.AccessTokenExpiresAt)
	assert.False(t, f.sessions.IsAccessTokenExpired(ctx, session.DefaultExpiryBuffer))

	assert.False(t, f.hasPKCE(t), "PKCE state must not outlive the exchange")
	assert.Equal(t, 1, f.idp.Stats().CodeExchanges)
	assert.True(t, f.transport.IsConnected())
}

func TestLoginWithOAuth_ClearsStaleCredentials(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.True(t, f.svc.LoginWithPassword(ctx, "ada@example.fr", "correct horse").Success)
	f.oauthLogin(t)

	creds, err := f.sessions.Credentials(ctx)
	require.NoError(t, err)
	assert.Nil(t, creds)
}

func TestLoginWithOAuth_CallbackFailures(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name      string
		setup     func(f *fixture)
		intercept func(*platform.CallbackResult)
		kind      Kind
		exchanges int
	}{
		{
			name:  "provider denies",
			setup: func(f *fixture) { f.idp.DenyNextAuthorization("access_denied") },
			kind:  ProviderError,
		},
		{
			name:      "no code",
			intercept: func(r *platform.CallbackResult) { r.Code = "" },
			kind:      NoAuthorizationCode,
		},
		{
			name:      "forged state",
			intercept: func(r *platform.CallbackResult) { r.State = "forged" },
			kind:      StateMismatch,
		},
		{
			name:      "token endpoint rejects",
			setup:     func(f *fixture) { f.idp.FailTokenRequests(http.StatusBadRequest, `{"error":"invalid_grant"}`) },
			kind:      TokenExchangeFailed,
			exchanges: 0,
		},
		{
			name:  "malformed token response",
			setup: func(f *fixture) { f.idp.FailTokenRequests(http.StatusOK, `{"token_type":"Bearer"}`) },
			kind:  MalformedResponse,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, withLauncher(func(p *mock.Provider) platform.Launcher {
				return &mock.BrowserLauncher{Provider: p, Intercept: tt.intercept}
			}))
			if tt.setup != nil {
				tt.setup(f)
			}

			res := f.svc.LoginWithOAuth(ctx)
			assert.False(t, res.Success)
			assert.ErrorIs(t, res.Err, tt.kind)
			assert.Equal(t, tt.kind, KindOf(res.Err))
			assert.Equal(t, Unauthenticated, f.svc.State())
			assert.Nil(t, f.svc.CurrentUser())
			assert.Equal(t, res.Err, f.svc.LastError())
			assert.False(t, f.hasPKCE(t))
			assert.Empty(t, f.sessions.AccessToken(ctx))
			assert.Equal(t, tt.exchanges, f.idp.Stats().CodeExchanges)
		})
	}
}

func TestLoginWithOAuth_TokenEndpointBodyIsKept(t *testing.T) {
	f := newFixture(t)
	f.idp.FailTokenRequests(http.StatusBadRequest, `{"error":"invalid_grant","error_description":"Code not valid"}`)

	res := f.svc.LoginWithOAuth(context.Background())
	require.ErrorIs(t, res.Err, TokenExchangeFailed)

	var endpointErr *oauth.TokenEndpointError
	require.ErrorAs(t, res.Err, &endpointErr)
	assert.Equal(t, http.StatusBadRequest, endpointErr.StatusCode)
	assert.Contains(t, endpointErr.Body, "Code not valid")
}

func TestLoginWithOAuth_ProviderErrorMessage(t *testing.T) {
	f := newFixture(t)
	f.idp.DenyNextAuthorization("access_denied")

	res := f.svc.LoginWithOAuth(context.Background())
	require.ErrorIs(t, res.Err, ProviderError)
	assert.Contains(t, res.Err.Error(), "access_denied")
	assert.Contains(t, res.Err.Error(), "The user denied the request")
}

func TestLoginWithOAuth_UserFetchFailedKeepsTokens(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.idp.FailProfile(http.StatusServiceUnavailable)

	res := f.svc.LoginWithOAuth(ctx)
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, UserFetchFailed)
	assert.Equal(t, Unauthenticated, f.svc.State())
	assert.NotEmpty(t, f.sessions.AccessToken(ctx))
	assert.False(t, f.transport.IsConnected())

	user, err := f.sessions.User(ctx)
	require.NoError(t, err)
	assert.Nil(t, user)
}

func TestLoginWithOAuth_IDTokenVerification(t *testing.T) {
	ctx := context.Background()

	t.Run("rejected", func(t *testing.T) {
		f := newFixture(t, withServiceOptions(WithIDTokenVerifier(verifierFunc(func(context.Context, string) error {
			return errors.New("bad signature")
		}))))

		res := f.svc.LoginWithOAuth(ctx)
		assert.ErrorIs(t, res.Err, AuthenticationFailed)
		assert.Contains(t, res.Err.Error(), "bad signature")
		assert.Empty(t, f.sessions.AccessToken(ctx))
	})

	t.Run("accepted", func(t *testing.T) {
		var seen string
		f := newFixture(t, withServiceOptions(WithIDTokenVerifier(verifierFunc(func(_ context.Context, raw string) error {
			seen = raw
			return nil
		}))))

		f.oauthLogin(t)
		assert.Equal(t, f.sessions.IDToken(ctx), seen)
	})
}

// blockingLauncher parks in Launch until released.
type blockingLauncher struct {
	entered chan struct{}
	release chan struct{}
}

func (l *blockingLauncher) Platform() platform.Platform { return platform.Native }

func (l *blockingLauncher) Launch(ctx context.Context, _, _ string) (*platform.CallbackResult, error) {
	close(l.entered)
	select {
	case <-l.release:
		return nil, errors.New("window closed")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestLoginWithOAuth_LoginInProgress(t *testing.T) {
	ctx := context.Background()
	launcher := &blockingLauncher{entered: make(chan struct{}), release: make(chan struct{})}
	f := newFixture(t, withLauncher(func(*mock.Provider) platform.Launcher { return launcher }))

	var (
		wg    sync.WaitGroup
		first AuthResult
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		first = f.svc.LoginWithOAuth(ctx)
	}()

	<-launcher.entered
	assert.Equal(t, Authenticating, f.svc.State())

	second := f.svc.LoginWithOAuth(ctx)
	assert.False(t, second.Success)
	assert.ErrorIs(t, second.Err, LoginInProgress)

	close(launcher.release)
	wg.Wait()

	assert.ErrorIs(t, first.Err, AuthenticationFailed)
	assert.Equal(t, Unauthenticated, f.svc.State())
	assert.False(t, f.hasPKCE(t))
	assert.Equal(t, first.Err, f.svc.LastError(), "the rejected attempt must not overwrite the state")
}

func webFixture(t *testing.T, opts ...fixtureOption) *fixture {
	opts = append(opts, withLauncher(func(*mock.Provider) platform.Launcher { return platform.RedirectLauncher{} }))
	return newFixture(t, opts...)
}

func TestLoginWithOAuth_Web(t *testing.T) {
	ctx := context.Background()
	f := webFixture(t)

	cb := f.webLogin(t)
	assert.Equal(t, Unauthenticated, f.svc.State(), "a redirect is not a failure")
	assert.Nil(t, f.svc.LastError())
	assert.True(t, f.hasPKCE(t), "PKCE state must survive the redirect")

	res := f.svc.HandleCallbackParams(ctx, url.Values{"code": {cb.Code}, "state": {cb.State}})
	require.True(t, res.Success, "callback failed: %v", res.Err)
	assert.Equal(t, Authenticated, f.svc.State())
	assert.False(t, f.hasPKCE(t))

	t.Run("replayed callback", func(t *testing.T) {
		res := f.svc.HandleOAuthCallback(ctx, cb.Code, cb.State)
		assert.ErrorIs(t, res.Err, CodeVerifierMissing)
		assert.Equal(t, 1, f.idp.Stats().CodeExchanges)
	})
}

func TestLoginWithOAuth_WebProviderError(t *testing.T) {
	f := webFixture(t)
	f.idp.DenyNextAuthorization("access_denied")
	cb := f.webLogin(t)

	res := f.svc.HandleCallbackParams(context.Background(), url.Values{
		"error":             {cb.Error},
		"error_description": {cb.ErrorDescription},
		"state":             {cb.State},
	})
	assert.ErrorIs(t, res.Err, ProviderError)
	assert.False(t, f.hasPKCE(t))
}

func TestLoginWithOAuth_WebNewAttemptSupersedesOld(t *testing.T) {
	ctx := context.Background()
	f := webFixture(t)

	stale := f.webLogin(t)
	fresh := f.webLogin(t)

	res := f.svc.HandleOAuthCallback(ctx, stale.Code, stale.State)
	assert.ErrorIs(t, res.Err, StateMismatch)

	res = f.svc.HandleOAuthCallback(ctx, fresh.Code, fresh.State)
	assert.ErrorIs(t, res.Err, CodeVerifierMissing, "the mismatch consumed the pending login")
	assert.Equal(t, 0, f.idp.Stats().CodeExchanges)
}

func TestLoginWithOAuth_ExpiredPKCE(t *testing.T) {
	f := webFixture(t)
	cb := f.webLogin(t)

	f.clk.Advance(session.DefaultPKCETTL + time.Second)

	res := f.svc.HandleOAuthCallback(context.Background(), cb.Code, cb.State)
	assert.ErrorIs(t, res.Err, CodeVerifierMissing)
}

func TestHandleOAuthCallback_WithoutPendingLogin(t *testing.T) {
	f := newFixture(t)

	res := f.svc.HandleOAuthCallback(context.Background(), "abc123", "whatever")
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, CodeVerifierMissing)
	assert.Equal(t, Unauthenticated, f.svc.State())
	assert.Equal(t, 0, f.idp.Stats().CodeExchanges)
}

func TestHandleCallbackParams_StrayCallbackKeepsSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.oauthLogin(t)
	user := f.svc.CurrentUser()
	access := f.sessions.AccessToken(ctx)

	stray := []url.Values{
		{"error": {"access_denied"}},
		{"code": {"replayed"}, "state": {"whatever"}},
		{},
	}
	for _, params := range stray {
		res := f.svc.HandleCallbackParams(ctx, params)
		assert.False(t, res.Success)
		assert.ErrorIs(t, res.Err, CodeVerifierMissing)
		assert.ErrorIs(t, res.Err, ErrNoPendingLogin)
		assert.Equal(t, user, res.User)

		assert.Equal(t, Authenticated, f.svc.State())
		assert.Equal(t, user, f.svc.CurrentUser())
		assert.True(t, f.transport.IsConnected())
		assert.Equal(t, access, f.sessions.AccessToken(ctx))
	}
	assert.Equal(t, 1, f.idp.Stats().CodeExchanges)
	assert.True(t, f.svc.IsSessionValid(ctx))
}

func TestHandleOAuthCallback_StoresTokenResponse(t *testing.T) {
	ctx := context.Background()

	forms := make(chan url.Values, 1)
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		form, _ := url.ParseQuery(string(body))
		forms <- form
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"AT1","refresh_token":"RT1","expires_in":300}`))
	}))
	t.Cleanup(tokenServer.Close)

	transport := &stubTransport{getUser: func(context.Context) (*api.UserResponse, error) {
		return &api.UserResponse{ID: 7, Username: "gaston"}, nil
	}}
	svc, sessions, _ := newStubService(t, transport, tokenServer.URL)

	require.NoError(t, sessions.SavePKCE(ctx, session.PKCEState{
		CodeVerifier: "verifier-0123456789",
		State:        "s-1",
		RedirectURI:  "http://127.0.0.1:3000/auth/callback",
		CreatedAt:    epoch,
	}))

	res := svc.HandleOAuthCallback(ctx, "abc123", "s-1")
	require.True(t, res.Success, "callback failed: %v", res.Err)
	assert.Equal(t, int64(7), res.User.ID)

	assert.Equal(t, "AT1", sessions.AccessToken(ctx))
	assert.Equal(t, "RT1", sessions.RefreshToken(ctx))
	assert.False(t, sessions.IsAccessTokenExpired(ctx, 60*time.Second))

	form := <-forms
	assert.Equal(t, "authorization_code", form.Get("grant_type"))
	assert.Equal(t, "abc123", form.Get("code"))
	assert.Equal(t, "verifier-0123456789", form.Get("code_verifier"))
	assert.Equal(t, "guichet", form.Get("client_id"))
	assert.Equal(t, "http://127.0.0.1:3000/auth/callback", form.Get("redirect_uri"))
}

func TestLoginWithOAuth_DebugLogOmitsTokens(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	f := newFixture(t, withServiceOptions(WithLogger(logger)))

	f.oauthLogin(t)

	rec, err := f.sessions.Tokens(context.Background())
	require.NoError(t, err)
	require.NotNil(t, rec)

	assert.Contains(t, logs.String(), "Tokens received")
	assert.NotContains(t, logs.String(), rec.AccessToken)
	assert.NotContains(t, logs.String(), rec.RefreshToken)
}
