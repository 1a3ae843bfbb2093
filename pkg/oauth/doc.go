// Package oauth provides the OAuth 2.0 client primitives used by guichet to
// authenticate against the collaborative platform's identity provider.
//
// # Core Components
//
//   - PKCE: code verifier and S256 challenge generation (RFC 7636)
//   - Token: normalized token endpoint response with absolute expiry instants
//   - Client: authorization URL construction, authorization-code exchange and
//     refresh-token grant over form-encoded POST requests
//
// The package is platform independent. It knows nothing about how the
// authorization redirect is captured (see internal/platform) or where tokens
// are persisted (see internal/session).
//
// # Usage
//
//	pkce, err := oauth.GeneratePKCE()
//	endpoints := oauth.EndpointsFromBaseURL(cfg.OAuth.BaseURL)
//	authURL, err := client.BuildAuthorizationURL(endpoints.AuthURL, clientID,
//	    redirectURI, state, oauth.DefaultScope, pkce)
//
//	token, err := client.ExchangeCode(ctx, endpoints.TokenURL, code,
//	    redirectURI, clientID, pkce.CodeVerifier)
package oauth
