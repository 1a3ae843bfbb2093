package session

import (
	"errors"
	"time"
)

// Storage keys, relative to the store namespace.
const (
	keyTokens          = "AUTH_SESSION"
	keyUser            = "USER"
	keyCredentials     = "CREDENTIALS"
	keyActiveCommunity = "ACTIVE_COMMUNITY"
	keyPKCE            = "temp_code_verifier"
)

// ownedKeys lists every key Clear removes.
var ownedKeys = []string{keyTokens, keyUser, keyCredentials, keyActiveCommunity, keyPKCE}

// DefaultExpiryBuffer is the margin used by IsAccessTokenExpired callers.
const DefaultExpiryBuffer = 60 * time.Second

// DefaultPKCETTL bounds how long a pending login stays valid.
const DefaultPKCETTL = 10 * time.Minute

var (
	// ErrNoPKCE is returned when there is no usable pending PKCE state.
	ErrNoPKCE = errors.New("session: no pending PKCE state")

	// ErrNotMember is returned when selecting a community the user is not in.
	ErrNotMember = errors.New("session: user is not a member of this community")

	// ErrNoUser is returned when an operation needs a stored user.
	ErrNoUser = errors.New("session: no stored user")
)

// Record is the persisted token set.
type Record struct {
	AccessToken           string    `json:"access_token"`
	AccessTokenExpiresAt  time.Time `json:"access_token_expires_at"`
	RefreshToken          string    `json:"refresh_token,omitempty"`
	RefreshTokenExpiresAt time.Time `json:"refresh_token_expires_at,omitempty"`
	IDToken               string    `json:"id_token,omitempty"`
	TokenType             string    `json:"token_type,omitempty"`
	IssuedAt              time.Time `json:"issued_at"`
}

// Credentials are the password login credentials.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// PKCEState is the transient state of one OAuth login attempt.
type PKCEState struct {
	CodeVerifier string    `json:"code_verifier"`
	State        string    `json:"state"`
	RedirectURI  string    `json:"redirect_uri"`
	AttemptID    string    `json:"attempt_id"`
	CreatedAt    time.Time `json:"created_at"`
}
