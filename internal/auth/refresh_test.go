package auth

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"guichet/internal/testing/mock"
)

func TestRefreshAccessToken(t *testing.T) {
	ctx := context.Background()

	t.Run("keeps refresh token when none is returned", func(t *testing.T) {
		f := newFixture(t, withProvider(mock.ProviderConfig{RefreshTokenLifetime: 30 * time.Minute}))
		f.oauthLogin(t)
		before, err := f.sessions.Tokens(ctx)
		require.NoError(t, err)

		f.clk.Advance(2 * time.Minute)
		rec, err := f.svc.RefreshAccessToken(ctx)
		require.NoError(t, err)

		assert.NotEqual(t, before.AccessToken, rec.AccessToken)
		assert.Equal(t, before.RefreshToken, rec.RefreshToken)
		assert.Equal(t, before.RefreshTokenExpiresAt, rec.RefreshTokenExpiresAt)
		assert.Equal(t, epoch.Add(2*time.Minute+300*time.Second), rec.AccessTokenExpiresAt)
		assert.Equal(t, rec.AccessToken, f.sessions.AccessToken(ctx))
	})

	t.Run("rotates refresh token", func(t *testing.T) {
		f := newFixture(t, withProvider(mock.ProviderConfig{RotateRefreshTokens: true}))
		f.oauthLogin(t)
		old := f.sessions.RefreshToken(ctx)

		rec, err := f.svc.RefreshAccessToken(ctx)
		require.NoError(t, err)
		assert.NotEqual(t, old, rec.RefreshToken)
		assert.Equal(t, rec.RefreshToken, f.sessions.RefreshToken(ctx))

		_, err = f.svc.RefreshAccessToken(ctx)
		require.NoError(t, err, "the rotated token must be the one presented next")
	})

	t.Run("no refresh token", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.RefreshAccessToken(ctx)
		assert.ErrorIs(t, err, NoRefreshToken)
		assert.Equal(t, 0, f.idp.Stats().Refreshes)
	})

	t.Run("expired refresh token is not sent", func(t *testing.T) {
		f := newFixture(t, withProvider(mock.ProviderConfig{RefreshTokenLifetime: 10 * time.Minute}))
		f.oauthLogin(t)
		f.clk.Advance(10 * time.Minute)

		_, err := f.svc.RefreshAccessToken(ctx)
		assert.ErrorIs(t, err, RefreshTokenExpired)
		assert.Equal(t, 0, f.idp.Stats().Refreshes)
	})

	t.Run("rejected refresh leaves the session untouched", func(t *testing.T) {
		f := newFixture(t)
		f.oauthLogin(t)
		before, err := f.sessions.Tokens(ctx)
		require.NoError(t, err)

		f.idp.FailTokenRequests(http.StatusBadRequest, `{"error":"invalid_grant"}`)
		_, err = f.svc.RefreshAccessToken(ctx)
		assert.ErrorIs(t, err, TokenRefreshFailed)

		after, err := f.sessions.Tokens(ctx)
		require.NoError(t, err)
		assert.Equal(t, before, after)
	})

	t.Run("malformed refresh response", func(t *testing.T) {
		f := newFixture(t)
		f.oauthLogin(t)

		f.idp.FailTokenRequests(http.StatusOK, `not json`)
		_, err := f.svc.RefreshAccessToken(ctx)
		assert.ErrorIs(t, err, MalformedResponse)
	})
}

func TestRefreshAccessToken_ConcurrentCallsShareOneRequest(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, withProvider(mock.ProviderConfig{RotateRefreshTokens: true}))
	f.oauthLogin(t)

	release := f.idp.HoldTokenEndpoint()
	defer release()

	const callers = 5
	var (
		started sync.WaitGroup
		done    sync.WaitGroup
		mu      sync.Mutex
		tokens  = make(map[string]struct{})
		errs    []error
	)
	started.Add(callers)
	done.Add(callers)
	for i := 0; i < callers; i++ {
		go func() {
			defer done.Done()
			started.Done()
			rec, err := f.svc.RefreshAccessToken(ctx)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			tokens[rec.AccessToken] = struct{}{}
		}()
	}

	started.Wait()
	time.Sleep(100 * time.Millisecond)
	release()
	done.Wait()

	assert.Empty(t, errs)
	assert.Len(t, tokens, 1)
	assert.Equal(t, 1, f.idp.Stats().Refreshes)
}

func TestRefreshAccessToken_CallerCancellation(t *testing.T) {
	f := newFixture(t)
	f.oauthLogin(t)
	before := f.sessions.AccessToken(context.Background())

	release := f.idp.HoldTokenEndpoint()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.svc.RefreshAccessToken(ctx)
	assert.ErrorIs(t, err, TokenRefreshFailed)
	assert.ErrorIs(t, err, context.Canceled)

	release()

	// The shared request runs to completion and stores its result.
	require.Eventually(t, func() bool {
		return f.sessions.AccessToken(context.Background()) != before
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, f.idp.Stats().Refreshes)
}

func TestRefreshSession(t *testing.T) {
	ctx := context.Background()

	t.Run("success updates the transport", func(t *testing.T) {
		f := newFixture(t)
		f.oauthLogin(t)
		f.clk.Advance(299 * time.Second)

		res := f.svc.RefreshSession(ctx)
		require.True(t, res.Success, "refresh failed: %v", res.Err)
		assert.Equal(t, int64(42), res.User.ID)

		f.clk.Advance(2 * time.Second)
		assert.True(t, f.svc.IsSessionValid(ctx), "the transport must carry the new access token")
	})

	t.Run("failure keeps the session", func(t *testing.T) {
		f := newFixture(t)
		f.oauthLogin(t)
		access := f.sessions.AccessToken(ctx)

		f.idp.FailTokenRequests(http.StatusInternalServerError, "boom")
		res := f.svc.RefreshSession(ctx)
		assert.False(t, res.Success)
		assert.ErrorIs(t, res.Err, TokenRefreshFailed)
		assert.Equal(t, res.Err, f.svc.LastError())
		assert.Equal(t, Authenticated, f.svc.State())
		assert.NotNil(t, res.User)
		assert.Equal(t, access, f.sessions.AccessToken(ctx))
	})
}
