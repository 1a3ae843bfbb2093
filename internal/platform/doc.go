// Package platform captures the OAuth redirect.
//
// How the authorization response comes back depends on where guichet runs.
// A native shell opens the system browser and listens on a loopback redirect
// URI (LoopbackLauncher). In web mode the browser navigates away and the
// response arrives later on the server's /auth/callback route
// (RedirectLauncher). Both implement Launcher, so the auth service never
// branches on the platform.
package platform
