package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/url"

	"github.com/google/uuid"

	"guichet/internal/api"
	"guichet/internal/platform"
	"guichet/internal/session"
	"guichet/pkg/oauth"
)

func newAttemptID() string {
	return uuid.NewString()
}

// LoginWithOAuth starts an authorization code login with PKCE.
//
// Natively the call blocks until the redirect is captured and the login is
// complete. In web mode it returns a RedirectRequired failure carrying the
// authorization URL; the login completes later through HandleCallbackParams.
// A second call while one is in flight fails with LoginInProgress.
func (s *Service) LoginWithOAuth(ctx context.Context) AuthResult {
	if !s.acquireLogin() {
		return failed(newError(LoginInProgress, "another login is already in progress", nil))
	}
	defer s.releaseLogin()

	prev := s.beginAuthenticating()

	pkce, err := oauth.GeneratePKCE()
	if err != nil {
		return s.fail(newError(AuthenticationFailed, "failed to generate PKCE parameters", err))
	}
	state, err := oauth.GenerateState()
	if err != nil {
		return s.fail(newError(AuthenticationFailed, "failed to generate state", err))
	}

	attempt := session.PKCEState{
		CodeVerifier: pkce.CodeVerifier,
		State:        state,
		RedirectURI:  s.cfg.RedirectURI,
		AttemptID:    s.newID(),
		CreatedAt:    s.sessions.Now(),
	}
	if err := s.sessions.SavePKCE(ctx, attempt); err != nil {
		return s.fail(newError(StorageFailed, "failed to store PKCE state", err))
	}

	authURL, err := s.oauthClient.BuildAuthorizationURL(s.cfg.Endpoints.AuthURL, s.cfg.ClientID,
		attempt.RedirectURI, state, s.cfg.Scope, pkce)
	if err != nil {
		s.discardPKCE(ctx)
		return s.fail(newError(AuthenticationFailed, "failed to build authorization URL", err))
	}

	s.logger.Info("OAuth login started",
		"attempt_id", attempt.AttemptID,
		"platform", string(s.launcher.Platform()))

	result, err := s.launcher.Launch(ctx, authURL, attempt.RedirectURI)
	if err != nil {
		var redirect *platform.RedirectRequiredError
		if errors.As(err, &redirect) {
			// The PKCE state must survive until the callback route runs.
			s.setState(prev)
			return failed(newError(RedirectRequired, "navigate to the authorization URL", redirect))
		}
		s.discardPKCE(ctx)
		return s.fail(newError(AuthenticationFailed, "authorization flow did not complete", err))
	}

	return s.completeCallback(ctx, result)
}

// HandleOAuthCallback exchanges an authorization code received on the
// callback route and completes the login.
func (s *Service) HandleOAuthCallback(ctx context.Context, code, state string) AuthResult {
	if res, stray := s.strayCallback(ctx); stray {
		return res
	}
	s.beginAuthenticating()
	return s.finishLogin(ctx, code, state)
}

// HandleCallbackParams is the callback route entry point. It classifies the
// provider's error and a missing code before exchanging.
func (s *Service) HandleCallbackParams(ctx context.Context, params url.Values) AuthResult {
	if res, stray := s.strayCallback(ctx); stray {
		return res
	}
	s.beginAuthenticating()
	return s.completeCallback(ctx, &platform.CallbackResult{
		Code:             params.Get("code"),
		State:            params.Get("state"),
		Error:            params.Get("error"),
		ErrorDescription: params.Get("error_description"),
	})
}

// strayCallback rejects a callback that no pending login is waiting for,
// such as a replayed or forged one. The current session is left as it is.
func (s *Service) strayCallback(ctx context.Context) (AuthResult, bool) {
	_, err := s.sessions.PKCE(ctx)
	if !errors.Is(err, session.ErrNoPKCE) {
		return AuthResult{}, false
	}
	s.logger.Warn("Ignoring OAuth callback without a pending login")
	return AuthResult{
		User: s.CurrentUser(),
		Err:  newError(CodeVerifierMissing, "no pending login for this callback", ErrNoPendingLogin),
	}, true
}

// completeCallback handles an authorization response. The service is in
// Authenticating.
func (s *Service) completeCallback(ctx context.Context, result *platform.CallbackResult) AuthResult {
	if result.IsError() {
		s.discardPKCE(ctx)
		msg := result.Error
		if result.ErrorDescription != "" {
			msg += ": " + result.ErrorDescription
		}
		s.logger.Info("OAuth provider returned an error", "error", result.Error)
		return s.fail(newError(ProviderError, msg, nil))
	}
	if result.Code == "" {
		s.discardPKCE(ctx)
		return s.fail(newError(NoAuthorizationCode, "authorization response carried no code", nil))
	}
	return s.finishLogin(ctx, result.Code, result.State)
}

// finishLogin exchanges the code, points the transport at the new token and
// fetches the profile.
func (s *Service) finishLogin(ctx context.Context, code, state string) AuthResult {
	token, err := s.exchangeCodeForTokens(ctx, code, state)
	if err != nil {
		return s.fail(err)
	}

	s.transport.SetExternalToken(token.AccessToken)

	profile, err := s.transport.GetUser(ctx, "me")
	if err != nil {
		// Tokens stay persisted; RestoreSession detects and clears them.
		s.transport.Disconnect()
		return s.fail(newError(UserFetchFailed, "failed to fetch user profile", err))
	}

	user := api.MapUser(profile)
	if err := s.sessions.SaveUser(ctx, user); err != nil {
		return s.fail(newError(StorageFailed, "failed to store user", err))
	}
	if err := s.sessions.ClearCredentials(ctx); err != nil {
		s.logger.Warn("Failed to clear stale password credentials", "error", err)
	}

	s.logger.Info("OAuth login succeeded", "user_id", user.ID)
	return s.succeed(user)
}

// exchangeCodeForTokens consumes the stored PKCE state, validates the
// callback state and exchanges code for tokens, which are persisted. The PKCE
// state is deleted on every return path once it has been read.
func (s *Service) exchangeCodeForTokens(ctx context.Context, code, state string) (*oauth.Token, error) {
	attempt, err := s.sessions.PKCE(ctx)
	if errors.Is(err, session.ErrNoPKCE) {
		return nil, newError(CodeVerifierMissing, "no pending login for this callback", err)
	}
	if err != nil {
		return nil, newError(StorageFailed, "failed to read PKCE state", err)
	}
	defer s.discardPKCE(ctx)

	if subtle.ConstantTimeCompare([]byte(state), []byte(attempt.State)) != 1 {
		s.logger.Warn("OAuth callback state mismatch", "attempt_id", attempt.AttemptID)
		return nil, newError(StateMismatch, "callback state does not match the pending login", nil)
	}

	token, err := s.oauthClient.ExchangeCode(ctx, s.cfg.Endpoints.TokenURL, code,
		attempt.RedirectURI, s.cfg.ClientID, attempt.CodeVerifier)
	if err != nil {
		return nil, classifyTokenError(TokenExchangeFailed, "token exchange failed", err)
	}

	if s.idVerifier != nil && token.IDToken != "" {
		if err := s.idVerifier.Verify(ctx, token.IDToken); err != nil {
			return nil, newError(AuthenticationFailed, "id_token verification failed", err)
		}
	}

	if err := s.sessions.SetTokens(ctx, token); err != nil {
		return nil, newError(StorageFailed, "failed to store tokens", err)
	}
	s.logger.Debug("Tokens received", "token", token)
	return token, nil
}

// classifyTokenError maps a token endpoint failure to kind, or to
// MalformedResponse when the body could not be parsed.
func classifyTokenError(kind Kind, message string, err error) *Error {
	if errors.Is(err, oauth.ErrMalformedResponse) {
		return newError(MalformedResponse, message, err)
	}
	return newError(kind, message, err)
}

func (s *Service) discardPKCE(ctx context.Context) {
	if err := s.sessions.DeletePKCE(context.WithoutCancel(ctx)); err != nil {
		s.logger.Warn("Failed to delete PKCE state", "error", err)
	}
}

func (s *Service) acquireLogin() bool {
	s.loginMu.Lock()
	defer s.loginMu.Unlock()
	if s.loginInProgress {
		return false
	}
	s.loginInProgress = true
	return true
}

func (s *Service) releaseLogin() {
	s.loginMu.Lock()
	defer s.loginMu.Unlock()
	s.loginInProgress = false
}
