package auth

import (
	"context"

	"guichet/internal/api"
	"guichet/internal/domain"
)

// ContinueWithoutAccount signs in as the anonymous user. No tokens are
// involved.
func (s *Service) ContinueWithoutAccount(ctx context.Context) AuthResult {
	s.beginAuthenticating()

	s.transport.Disconnect()
	if err := s.sessions.Clear(ctx); err != nil {
		return s.fail(newError(StorageFailed, "failed to clear previous session", err))
	}

	user := domain.AnonymousUser()
	if err := s.sessions.SaveUser(ctx, user); err != nil {
		return s.fail(newError(StorageFailed, "failed to store anonymous user", err))
	}

	s.logger.Info("Continuing without account")
	return s.succeed(user)
}

// RestoreSession revalidates the stored session at startup. An anonymous
// user is trusted as is. Otherwise the stored credentials or tokens are put
// back on the transport, refreshing an expired access token first, and the
// profile is fetched. Any failure clears the whole stored session.
//
// The call is bounded by the restore timeout.
func (s *Service) RestoreSession(ctx context.Context) AuthResult {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.RestoreTimeout)
	defer cancel()

	s.beginAuthenticating()

	stored, err := s.sessions.User(ctx)
	if err != nil {
		return s.abandonSession(ctx, newError(StorageFailed, "failed to read stored user", err))
	}
	if stored == nil {
		s.setState(Unauthenticated)
		return failed(nil)
	}
	if stored.IsAnonymous {
		return s.succeed(stored)
	}

	if err := s.rehydrateTransport(ctx); err != nil {
		return s.abandonSession(ctx, err)
	}

	profile, err := s.transport.GetUser(ctx, "me")
	if err != nil {
		return s.abandonSession(ctx, newError(UserFetchFailed, "stored session is no longer valid", err))
	}

	user := api.MapUser(profile)
	if err := s.sessions.SaveUser(ctx, user); err != nil {
		s.logger.Warn("Failed to update stored user", "error", err)
	}

	s.logger.Info("Session restored", "user_id", user.ID)
	return s.succeed(user)
}

func (s *Service) rehydrateTransport(ctx context.Context) error {
	creds, err := s.sessions.Credentials(ctx)
	if err != nil {
		return newError(StorageFailed, "failed to read credentials", err)
	}
	if creds != nil {
		s.transport.SetCredentials(creds.Username, creds.Password)
		return nil
	}

	rec, err := s.sessions.Tokens(ctx)
	if err != nil {
		return newError(StorageFailed, "failed to read tokens", err)
	}
	if rec == nil {
		return newError(AuthenticationFailed, "stored user has neither credentials nor tokens", nil)
	}

	accessToken := rec.AccessToken
	if s.sessions.IsAccessTokenExpired(ctx, s.cfg.ExpiryBuffer) {
		refreshed, err := s.RefreshAccessToken(ctx)
		if err != nil {
			return err
		}
		accessToken = refreshed.AccessToken
	}

	s.transport.SetExternalToken(accessToken)
	return nil
}

// abandonSession clears everything after a failed restore.
func (s *Service) abandonSession(ctx context.Context, cause error) AuthResult {
	s.transport.Disconnect()
	if err := s.sessions.Clear(context.WithoutCancel(ctx)); err != nil {
		s.logger.Error("Failed to clear session after restore failure", "error", err)
	}
	s.logger.Info("Stored session discarded", "reason", KindOf(cause).String())
	s.signOut(cause)
	return failed(cause)
}

// Logout ends the session. The provider logout is best effort; local state is
// always cleared, even when the provider call fails or panics.
func (s *Service) Logout(ctx context.Context) (result AuthResult) {
	refreshToken := s.sessions.RefreshToken(ctx)

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Provider logout panicked", "panic", r)
		}

		s.transport.Disconnect()
		s.signOut(nil)

		if err := s.sessions.Clear(context.WithoutCancel(ctx)); err != nil {
			s.logger.Error("Failed to clear local session", "error", err)
			result = failed(newError(StorageFailed, "failed to clear local session", err))
			return
		}
		result = AuthResult{Success: true}
	}()

	if refreshToken != "" {
		if err := s.transport.Logout(ctx, refreshToken); err != nil {
			s.logger.Warn("Provider logout failed", "error", err)
		}
	}
	return AuthResult{Success: true}
}

// IsSessionValid reports whether the transport has credentials and the
// profile endpoint accepts them.
func (s *Service) IsSessionValid(ctx context.Context) bool {
	if !s.transport.IsConnected() {
		return false
	}
	_, err := s.transport.GetUser(ctx, "me")
	return err == nil
}
