// Package mock provides an in-process identity provider and collaborative
// platform API for tests.
//
// Provider speaks the Keycloak flavour of OAuth 2.0 used by guichet:
//
//	{base}/realms/test/protocol/openid-connect/auth    authorization (auto-approved)
//	{base}/realms/test/protocol/openid-connect/token   authorization_code and refresh_token grants
//	{base}/realms/test/protocol/openid-connect/logout  end session
//	{base}/api/users/me                                  profile (bearer or basic)
//
// PKCE is mandatory and verified. Token expiry follows the configured clock,
// so tests can move time forward without sleeping.
//
// Example:
//
//	idp := mock.NewProvider(t, mock.ProviderConfig{ClientID: "guichet"})
//	location, err := idp.Authorize(authURL) // what the browser would be redirected to
package mock
