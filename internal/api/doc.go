// Package api is the transport to the collaborative platform API.
//
// A Client holds the credentials used for every request: HTTP basic auth after
// a password login, or a bearer token after an OAuth login. It fetches the
// user profile and performs the provider side logout.
package api
