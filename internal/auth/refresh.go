package auth

import (
	"context"

	"guichet/internal/session"
)

const refreshKey = "refresh"

// RefreshAccessToken exchanges the stored refresh token for a new token set
// and persists it. The refresh token rotates only when the provider returns
// a new one. A failure leaves the stored session untouched, and a session
// cleared while the request was in flight is not written back.
//
// Concurrent calls share one request, so a rotating refresh token is never
// presented twice.
func (s *Service) RefreshAccessToken(ctx context.Context) (*session.Record, error) {
	ch := s.refreshGroup.DoChan(refreshKey, func() (interface{}, error) {
		// Detached from the first caller so its cancellation does not fail
		// the others; the HTTP client timeout still bounds the request.
		return s.refresh(context.WithoutCancel(ctx))
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*session.Record), nil
	case <-ctx.Done():
		return nil, newError(TokenRefreshFailed, "refresh abandoned", ctx.Err())
	}
}

func (s *Service) refresh(ctx context.Context) (*session.Record, error) {
	current, err := s.sessions.Tokens(ctx)
	if err != nil {
		return nil, newError(StorageFailed, "failed to read tokens", err)
	}
	if current == nil || current.RefreshToken == "" {
		return nil, newError(NoRefreshToken, "no refresh token stored", nil)
	}
	if s.sessions.IsRefreshTokenExpired(ctx) {
		return nil, newError(RefreshTokenExpired, "refresh token expired", nil)
	}

	token, err := s.oauthClient.RefreshToken(ctx, s.cfg.Endpoints.TokenURL, current.RefreshToken, s.cfg.ClientID)
	if err != nil {
		return nil, classifyTokenError(TokenRefreshFailed, "token refresh failed", err)
	}

	if token.RefreshToken == "" {
		token.RefreshToken = current.RefreshToken
		token.RefreshExpiresIn = 0
		token.RefreshExpiresAt = current.RefreshTokenExpiresAt
	}
	if token.IDToken == "" {
		token.IDToken = current.IDToken
	}

	// The request outlives its callers, so the session may have been cleared
	// or replaced while it ran.
	stored, err := s.sessions.ReplaceTokens(ctx, current.RefreshToken, token)
	if err != nil {
		return nil, newError(StorageFailed, "failed to store refreshed tokens", err)
	}
	if !stored {
		s.logger.Info("Discarding refreshed tokens of an ended session")
		return nil, newError(TokenRefreshFailed, "session ended during refresh", nil)
	}

	s.logger.Debug("Access token refreshed", "expires_at", token.ExpiresAt)

	updated, err := s.sessions.Tokens(ctx)
	if err != nil {
		return nil, newError(StorageFailed, "failed to read refreshed tokens", err)
	}
	return updated, nil
}

// RefreshSession refreshes the access token and points the transport at the
// new one. On failure the session is kept and the error returned; the caller
// decides whether to log out.
func (s *Service) RefreshSession(ctx context.Context) AuthResult {
	rec, err := s.RefreshAccessToken(ctx)
	if err != nil {
		s.mu.Lock()
		s.lastErr = err
		s.mu.Unlock()
		return AuthResult{User: s.CurrentUser(), Err: err}
	}

	s.transport.SetExternalToken(rec.AccessToken)
	return AuthResult{Success: true, User: s.CurrentUser()}
}
