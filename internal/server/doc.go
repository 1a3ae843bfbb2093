// Package server implements the web mode of guichet.
//
// The browser is sent to the identity provider with a full page redirect and
// comes back on the same-origin callback route, where the login completes.
//
// # Endpoints
//
//   - GET  /auth/login     302 to the authorization URL
//   - GET  /auth/callback  completes the login and renders a result page
//   - POST /auth/password  JSON {"email", "password"}
//   - POST /auth/anonymous continue without account
//   - POST /auth/refresh   refresh the access token
//   - POST /auth/logout    end the session
//   - GET  /auth/session   current session as JSON
//   - GET  /auth/events    websocket stream of session snapshots
//   - GET  /healthz        liveness
//
// When started by systemd with Type=notify, readiness is reported once the
// listener is open.
package server
