package auth

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"guichet/internal/session"
)

func TestLoginWithPassword(t *testing.T) {
	ctx := context.Background()

	t.Run("valid credentials", func(t *testing.T) {
		f := newFixture(t)

		res := f.svc.LoginWithPassword(ctx, "ada@example.fr", "correct horse")
		require.True(t, res.Success, "login failed: %v", res.Err)
		assert.Equal(t, int64(42), res.User.ID)
		assert.Equal(t, Authenticated, f.svc.State())
		assert.Equal(t, res.User, f.svc.CurrentUser())
		assert.True(t, f.transport.IsConnected())

		creds, err := f.sessions.Credentials(ctx)
		require.NoError(t, err)
		assert.Equal(t, &session.Credentials{Username: "ada@example.fr", Password: "correct horse"}, creds)

		stored, err := f.sessions.User(ctx)
		require.NoError(t, err)
		assert.Equal(t, "Ada", stored.FirstName)
		assert.Len(t, stored.Communities, 2)

		assert.Empty(t, f.sessions.AccessToken(ctx))
	})

	t.Run("wrong password", func(t *testing.T) {
		f := newFixture(t)

		res := f.svc.LoginWithPassword(ctx, "ada@example.fr", "nope")
		assert.False(t, res.Success)
		assert.ErrorIs(t, res.Err, InvalidCredentials)
		assert.Contains(t, res.Err.Error(), "Invalid email or password")
		assert.Equal(t, Unauthenticated, f.svc.State())
		assert.Nil(t, f.svc.CurrentUser())
		assert.Equal(t, res.Err, f.svc.LastError())
		assert.False(t, f.transport.IsConnected())
		assert.Empty(t, f.storedKeys(t))
	})

	t.Run("server error", func(t *testing.T) {
		f := newFixture(t)
		f.idp.FailProfile(http.StatusInternalServerError)

		res := f.svc.LoginWithPassword(ctx, "ada@example.fr", "correct horse")
		assert.False(t, res.Success)
		assert.ErrorIs(t, res.Err, AuthenticationFailed)
		assert.Contains(t, res.Err.Error(), "simulated failure")
		assert.Equal(t, Unauthenticated, f.svc.State())
	})

	t.Run("replaces a previous oauth session", func(t *testing.T) {
		f := newFixture(t)
		f.oauthLogin(t)
		require.NotEmpty(t, f.sessions.AccessToken(ctx))

		res := f.svc.LoginWithPassword(ctx, "ada@example.fr", "correct horse")
		require.True(t, res.Success)
		assert.Empty(t, f.sessions.AccessToken(ctx))
	})
}
