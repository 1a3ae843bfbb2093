package auth

import (
	"errors"
	"fmt"

	"guichet/internal/platform"
)

// ErrNoPendingLogin is wrapped by the CodeVerifierMissing failure of a
// callback that arrived while no login was pending. Such a failure leaves the
// session untouched.
var ErrNoPendingLogin = errors.New("no pending login")

// Kind classifies an authentication failure. A Kind is itself an error so it
// can be used as an errors.Is target.
type Kind int

const (
	Unknown Kind = iota
	InvalidCredentials
	AuthenticationFailed
	NoAuthorizationCode
	ProviderError
	CodeVerifierMissing
	StateMismatch
	TokenExchangeFailed
	TokenRefreshFailed
	RefreshTokenExpired
	NoRefreshToken
	UserFetchFailed
	MalformedResponse
	LoginInProgress
	RedirectRequired
	StorageFailed
)

var kindNames = map[Kind]string{
	Unknown:              "unknown",
	InvalidCredentials:   "invalid_credentials",
	AuthenticationFailed: "authentication_failed",
	NoAuthorizationCode:  "no_authorization_code",
	ProviderError:        "provider_error",
	CodeVerifierMissing:  "code_verifier_missing",
	StateMismatch:        "state_mismatch",
	TokenExchangeFailed:  "token_exchange_failed",
	TokenRefreshFailed:   "token_refresh_failed",
	RefreshTokenExpired:  "refresh_token_expired",
	NoRefreshToken:       "no_refresh_token",
	UserFetchFailed:      "user_fetch_failed",
	MalformedResponse:    "malformed_response",
	LoginInProgress:      "login_in_progress",
	RedirectRequired:     "redirect_required",
	StorageFailed:        "storage_failed",
}

// String returns the snake_case name of the kind.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return kindNames[Unknown]
}

// Error implements the error interface.
func (k Kind) Error() string {
	return k.String()
}

// Error is a classified authentication failure.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return e.Kind.String()
	}
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches a Kind target.
func (e *Error) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == e.Kind
}

func newError(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf returns the Kind of err, or Unknown.
func KindOf(err error) Kind {
	var authErr *Error
	if errors.As(err, &authErr) {
		return authErr.Kind
	}
	return Unknown
}

// RedirectURL returns the authorization URL carried by a RedirectRequired
// failure.
func RedirectURL(err error) (string, bool) {
	var redirect *platform.RedirectRequiredError
	if errors.As(err, &redirect) {
		return redirect.AuthURL, true
	}
	return "", false
}
