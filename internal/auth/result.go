package auth

import "guichet/internal/domain"

// State is the authentication state of the service.
type State int

const (
	Unauthenticated State = iota
	Authenticating
	Authenticated
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case Unauthenticated:
		return "unauthenticated"
	case Authenticating:
		return "authenticating"
	case Authenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// AuthResult is returned by every public operation of the service.
type AuthResult struct {
	Success bool
	User    *domain.AppUser
	Err     error
}

func succeeded(user *domain.AppUser) AuthResult {
	return AuthResult{Success: true, User: user}
}

func failed(err error) AuthResult {
	return AuthResult{Err: err}
}
