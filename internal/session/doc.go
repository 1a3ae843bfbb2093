// Package session persists the authentication session on top of a
// storage.Store: the token record, the user, password credentials, the
// active community and the transient PKCE state of an in-flight login.
//
// The token record is written as one JSON value so a reader never observes a
// new access token next to a stale expiry. Expiry instants are absolute.
package session
