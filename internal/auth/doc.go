// Package auth is the authentication service: password login, OAuth 2.0
// authorization code login with PKCE, anonymous sessions, session restore,
// refresh and logout.
//
// Every public operation returns an AuthResult and never panics; failures
// carry an *Error whose Kind classifies them:
//
//	res := svc.LoginWithOAuth(ctx)
//	if errors.Is(res.Err, auth.RedirectRequired) {
//		url, _ := auth.RedirectURL(res.Err)
//		http.Redirect(w, r, url, http.StatusFound)
//	}
//
// The service holds no package level state. Its dependencies (session
// store, API transport, OAuth client, redirect launcher) are injected by New.
package auth
