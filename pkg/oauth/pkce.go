package oauth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

const (
	// pkceVerifierBytes is the number of random bytes for the PKCE code verifier.
	// 32 bytes (256 bits) encode to a 43 character verifier, the RFC 7636 minimum.
	pkceVerifierBytes = 32

	// stateBytes is the number of random bytes for the OAuth state parameter.
	stateBytes = 32

	// CodeChallengeMethodS256 is the only challenge method guichet sends.
	CodeChallengeMethodS256 = "S256"
)

// GenerateCodeVerifier returns a new high-entropy PKCE code verifier,
// base64url-encoded without padding.
func GenerateCodeVerifier() (string, error) {
	verifierBytes := make([]byte, pkceVerifierBytes)
	if _, err := rand.Read(verifierBytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes for PKCE: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(verifierBytes), nil
}

// GenerateCodeChallenge derives the S256 challenge for a verifier:
// SHA256(verifier), base64url-encoded without padding.
// The identity provider recomputes the same value at token exchange.
func GenerateCodeChallenge(verifier string) string {
	hash := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(hash[:])
}

// GeneratePKCE generates a new code verifier and its S256 challenge.
func GeneratePKCE() (*PKCEChallenge, error) {
	verifier, err := GenerateCodeVerifier()
	if err != nil {
		return nil, err
	}

	return &PKCEChallenge{
		CodeVerifier:        verifier,
		CodeChallenge:       GenerateCodeChallenge(verifier),
		CodeChallengeMethod: CodeChallengeMethodS256,
	}, nil
}

// GenerateState generates a random state parameter for OAuth.
// The state binds an authorization response to the login attempt that
// started it.
func GenerateState() (string, error) {
	buf := make([]byte, stateBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(buf), nil
}
