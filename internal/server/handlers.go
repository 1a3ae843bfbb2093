package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"guichet/internal/auth"
	"guichet/internal/authctx"
	"guichet/internal/domain"
	"guichet/internal/platform"
	"guichet/pkg/logging"
)

// sessionView is the JSON form of a snapshot.
type sessionView struct {
	Authenticated bool            `json:"authenticated"`
	Anonymous     bool            `json:"anonymous"`
	Loading       bool            `json:"loading"`
	User          *domain.AppUser `json:"user,omitempty"`
	Error         *errorView      `json:"error,omitempty"`
}

type errorView struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func newSessionView(s authctx.Snapshot) sessionView {
	return sessionView{
		Authenticated: s.IsAuthenticated,
		Anonymous:     s.IsAnonymous,
		Loading:       s.IsLoading,
		User:          s.User,
		Error:         newErrorView(s.LastError),
	}
}

func newErrorView(err error) *errorView {
	if err == nil {
		return nil
	}
	return &errorView{Kind: auth.KindOf(err).String(), Message: userMessage(err)}
}

// userMessage returns a message that is safe to show in a browser.
func userMessage(err error) string {
	switch auth.KindOf(err) {
	case auth.InvalidCredentials:
		return "Invalid email or password"
	case auth.ProviderError:
		var authErr *auth.Error
		if errors.As(err, &authErr) {
			return authErr.Message
		}
	case auth.StateMismatch, auth.CodeVerifierMissing:
		return "This login link is no longer valid. Please start again."
	case auth.LoginInProgress:
		return "A login is already in progress"
	case auth.RefreshTokenExpired, auth.NoRefreshToken:
		return "Your session has expired. Please log in again."
	}
	return "Authentication failed"
}

// statusFor maps a failed result to an HTTP status.
func statusFor(err error) int {
	switch auth.KindOf(err) {
	case auth.InvalidCredentials:
		return http.StatusUnauthorized
	case auth.LoginInProgress:
		return http.StatusConflict
	case auth.ProviderError, auth.NoAuthorizationCode, auth.StateMismatch, auth.CodeVerifierMissing:
		return http.StatusBadRequest
	case auth.RefreshTokenExpired, auth.NoRefreshToken:
		return http.StatusUnauthorized
	case auth.StorageFailed, auth.Unknown:
		return http.StatusInternalServerError
	default:
		return http.StatusBadGateway
	}
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	res := s.auth.LoginWithOAuth(r.Context())
	if authURL, ok := auth.RedirectURL(res.Err); ok {
		http.Redirect(w, r, authURL, http.StatusFound)
		return
	}
	if res.Success {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}
	writeAuthError(w, res.Err)
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	res := s.auth.HandleCallback(r.Context(), r.URL.Query())
	if res.Success {
		platform.RenderPage(w, http.StatusOK, platform.SuccessPage())
		return
	}
	logging.Info("Server", "OAuth callback failed: %s", auth.KindOf(res.Err))
	platform.RenderPage(w, statusFor(res.Err), platform.ErrorPage(auth.KindOf(res.Err).String(), userMessage(res.Err)))
}

type passwordRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handlePassword(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req passwordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	res := s.auth.Login(r.Context(), req.Email, req.Password)
	if !res.Success {
		logging.Info("Server", "Password login failed for %s: %s", hashEmail(req.Email), auth.KindOf(res.Err))
		writeAuthError(w, res.Err)
		return
	}
	s.writeSession(w)
}

func (s *Server) handleAnonymous(w http.ResponseWriter, r *http.Request) {
	s.writeResult(w, s.auth.ContinueWithoutAccount(r.Context()))
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.writeResult(w, s.auth.Refresh(r.Context()))
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.writeResult(w, s.auth.Logout(r.Context()))
}

func (s *Server) handleSession(w http.ResponseWriter, _ *http.Request) {
	s.writeSession(w)
}

func (s *Server) writeResult(w http.ResponseWriter, res auth.AuthResult) {
	if !res.Success {
		writeAuthError(w, res.Err)
		return
	}
	s.writeSession(w)
}

func (s *Server) writeSession(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, newSessionView(s.auth.Snapshot()))
}

func writeAuthError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), map[string]any{"error": newErrorView(err)})
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": errorView{Kind: "bad_request", Message: message}})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
