package oauth

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// DefaultScope is the scope requested in every authorization request.
const DefaultScope = "openid profile email"

// DefaultExpiryMargin is the default margin when checking token expiry.
// A token expiring within the margin is treated as expired so that a request
// is never sent with a token that dies mid-flight.
const DefaultExpiryMargin = 60 * time.Second

// ErrMalformedResponse is returned when a token endpoint response cannot be
// parsed or lacks a required field.
var ErrMalformedResponse = errors.New("malformed token response")

// PKCEChallenge represents a PKCE (Proof Key for Code Exchange) challenge.
type PKCEChallenge struct {
	// CodeVerifier is the secret kept by the client until the code exchange.
	CodeVerifier string

	// CodeChallenge is the base64url SHA256 of the verifier, sent in the
	// authorization request.
	CodeChallenge string

	// CodeChallengeMethod is always "S256".
	CodeChallengeMethod string
}

// Endpoints are the identity provider URLs guichet talks to.
type Endpoints struct {
	AuthURL   string
	TokenURL  string
	LogoutURL string
}

// EndpointsFromBaseURL derives the provider endpoints from the OAuth base URL
// (for Keycloak: {realm}/protocol/openid-connect).
func EndpointsFromBaseURL(baseURL string) Endpoints {
	baseURL = strings.TrimSuffix(baseURL, "/")
	return Endpoints{
		AuthURL:   baseURL + "/auth",
		TokenURL:  baseURL + "/token",
		LogoutURL: baseURL + "/logout",
	}
}

// Token is a validated token endpoint response.
// Expiry instants are absolute and computed once, when the response is parsed.
type Token struct {
	// AccessToken is the bearer token used for API calls.
	AccessToken string `json:"access_token"`

	// TokenType is typically "Bearer".
	TokenType string `json:"token_type,omitempty"`

	// RefreshToken is used to obtain new access tokens (optional).
	RefreshToken string `json:"refresh_token,omitempty"`

	// IDToken is the OIDC ID token (optional).
	IDToken string `json:"id_token,omitempty"`

	// Scope is the granted scope(s), space-separated.
	Scope string `json:"scope,omitempty"`

	// ExpiresIn is the access token lifetime in seconds, as returned.
	ExpiresIn int64 `json:"expires_in,omitempty"`

	// RefreshExpiresIn is the refresh token lifetime in seconds, as returned.
	// Zero means the provider did not say.
	RefreshExpiresIn int64 `json:"refresh_expires_in,omitempty"`

	// ExpiresAt is IssuedAt + ExpiresIn.
	ExpiresAt time.Time `json:"expires_at,omitempty"`

	// RefreshExpiresAt is IssuedAt + RefreshExpiresIn, zero when unknown.
	RefreshExpiresAt time.Time `json:"refresh_expires_at,omitempty"`

	// IssuedAt is when the response was received.
	IssuedAt time.Time `json:"issued_at,omitempty"`
}

// tokenResponse mirrors the wire format. Pointers distinguish absent fields
// from zero values.
type tokenResponse struct {
	AccessToken      *string `json:"access_token"`
	TokenType        string  `json:"token_type"`
	RefreshToken     string  `json:"refresh_token"`
	IDToken          string  `json:"id_token"`
	Scope            string  `json:"scope"`
	ExpiresIn        *int64  `json:"expires_in"`
	RefreshExpiresIn *int64  `json:"refresh_expires_in"`
}

// ParseTokenResponse validates a token endpoint response body and computes
// absolute expiry instants relative to now.
//
// access_token and expires_in are required; everything else is optional.
func ParseTokenResponse(body []byte, now time.Time) (*Token, error) {
	var raw tokenResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	if raw.AccessToken == nil || *raw.AccessToken == "" {
		return nil, fmt.Errorf("%w: missing access_token", ErrMalformedResponse)
	}
	if raw.ExpiresIn == nil {
		return nil, fmt.Errorf("%w: missing expires_in", ErrMalformedResponse)
	}
	if *raw.ExpiresIn < 0 {
		return nil, fmt.Errorf("%w: negative expires_in", ErrMalformedResponse)
	}
	if raw.RefreshExpiresIn != nil && *raw.RefreshExpiresIn < 0 {
		return nil, fmt.Errorf("%w: negative refresh_expires_in", ErrMalformedResponse)
	}

	token := &Token{
		AccessToken:  *raw.AccessToken,
		TokenType:    raw.TokenType,
		RefreshToken: raw.RefreshToken,
		IDToken:      raw.IDToken,
		Scope:        raw.Scope,
		ExpiresIn:    *raw.ExpiresIn,
		IssuedAt:     now,
		ExpiresAt:    now.Add(time.Duration(*raw.ExpiresIn) * time.Second),
	}
	if token.TokenType == "" {
		token.TokenType = "Bearer"
	}

	// Keycloak reports 0 for offline tokens that never expire.
	if raw.RefreshExpiresIn != nil && *raw.RefreshExpiresIn > 0 {
		token.RefreshExpiresIn = *raw.RefreshExpiresIn
		token.RefreshExpiresAt = now.Add(time.Duration(*raw.RefreshExpiresIn) * time.Second)
	}

	return token, nil
}

// IsExpiredWithMargin reports whether the access token has expired at now,
// or will expire within margin.
func (t *Token) IsExpiredWithMargin(now time.Time, margin time.Duration) bool {
	if t.ExpiresAt.IsZero() {
		return true
	}
	return !now.Before(t.ExpiresAt.Add(-margin))
}

// Scopes returns the scope as a slice of individual scopes.
func (t *Token) Scopes() []string {
	if t.Scope == "" {
		return nil
	}
	return strings.Fields(t.Scope)
}

// ToOAuth2Token converts the Token to an oauth2.Token for use with
// golang.org/x/oauth2 transports.
func (t *Token) ToOAuth2Token() *oauth2.Token {
	token := &oauth2.Token{
		AccessToken:  t.AccessToken,
		TokenType:    t.TokenType,
		RefreshToken: t.RefreshToken,
		Expiry:       t.ExpiresAt,
	}

	if t.IDToken != "" {
		token = token.WithExtra(map[string]interface{}{
			"id_token": t.IDToken,
		})
	}

	return token
}
