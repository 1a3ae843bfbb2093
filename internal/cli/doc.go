// Package cli holds the terminal side of the guichet commands.
//
// Errors returned by the auth service are converted with FromAuthError into
// AuthRequiredError, AuthExpiredError or AuthFailedError, which the root
// command maps to exit codes. Network failures are classified with
// ClassifyConnectionError so the user can tell a TLS problem from an
// unreachable host.
//
// Output helpers build go-pretty tables and colored status lines, a spinner
// is shown while waiting for the identity provider, and passwords are read
// with readline without echo.
package cli
