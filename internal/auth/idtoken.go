package auth

import (
	"context"
	"fmt"
	"sync"

	"github.com/coreos/go-oidc/v3/oidc"
)

// OIDCVerifier verifies id_tokens against the issuer's published keys. The
// discovery document is fetched on first use.
type OIDCVerifier struct {
	issuer   string
	clientID string

	mu       sync.Mutex
	verifier *oidc.IDTokenVerifier
}

// NewOIDCVerifier creates a verifier for tokens issued by issuer to clientID.
func NewOIDCVerifier(issuer, clientID string) *OIDCVerifier {
	return &OIDCVerifier{issuer: issuer, clientID: clientID}
}

// newStaticOIDCVerifier wraps an already configured verifier.
func newStaticOIDCVerifier(v *oidc.IDTokenVerifier) *OIDCVerifier {
	return &OIDCVerifier{verifier: v}
}

// Verify implements IDTokenVerifier.
func (v *OIDCVerifier) Verify(ctx context.Context, rawIDToken string) error {
	verifier, err := v.load(ctx)
	if err != nil {
		return err
	}
	if _, err := verifier.Verify(ctx, rawIDToken); err != nil {
		return fmt.Errorf("invalid id_token: %w", err)
	}
	return nil
}

func (v *OIDCVerifier) load(ctx context.Context) (*oidc.IDTokenVerifier, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.verifier != nil {
		return v.verifier, nil
	}

	provider, err := oidc.NewProvider(ctx, v.issuer)
	if err != nil {
		return nil, fmt.Errorf("OIDC discovery for %s: %w", v.issuer, err)
	}
	v.verifier = provider.Verifier(&oidc.Config{ClientID: v.clientID})
	return v.verifier, nil
}
