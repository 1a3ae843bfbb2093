package auth

import (
	"context"

	"guichet/internal/api"
	"guichet/internal/session"
)

// LoginWithPassword authenticates with HTTP basic credentials, using the
// profile endpoint as the liveness check. No tokens are stored.
func (s *Service) LoginWithPassword(ctx context.Context, email, password string) AuthResult {
	s.beginAuthenticating()

	s.transport.SetCredentials(email, password)
	profile, err := s.transport.GetUser(ctx, "me")
	if err != nil {
		s.transport.Disconnect()
		if api.IsUnauthorized(err) {
			s.logger.Info("Password login rejected", "reason", "invalid_credentials")
			return s.fail(newError(InvalidCredentials, "Invalid email or password", err))
		}
		return s.fail(newError(AuthenticationFailed, err.Error(), err))
	}

	user := api.MapUser(profile)

	if err := s.sessions.ClearTokens(ctx); err != nil {
		s.transport.Disconnect()
		return s.fail(newError(StorageFailed, "failed to clear previous tokens", err))
	}
	if err := s.sessions.SaveUser(ctx, user); err != nil {
		s.transport.Disconnect()
		return s.fail(newError(StorageFailed, "failed to store user", err))
	}
	if err := s.sessions.SaveCredentials(ctx, session.Credentials{Username: email, Password: password}); err != nil {
		s.transport.Disconnect()
		return s.fail(newError(StorageFailed, "failed to store credentials", err))
	}

	s.logger.Info("Password login succeeded", "user_id", user.ID)
	return s.succeed(user)
}
