// Package authctx keeps an observable snapshot of the authentication state.
//
// A Context wraps the auth service operations and applies each result to its
// snapshot: a success replaces the user, a failure falls back to
// unauthenticated and records the error. Subscribers are called with every
// new snapshot. WatchStore keeps the snapshot in line with the session when
// another process (the CLI, while the server runs) changes it.
package authctx
