package platform

import (
	"context"
	"fmt"
	"time"

	"guichet/pkg/logging"
)

// DefaultCallbackTimeout is how long the loopback launcher waits for the user
// to finish logging in.
const DefaultCallbackTimeout = 10 * time.Minute

// LoopbackLauncher opens the system browser and captures the redirect on a
// loopback callback server.
type LoopbackLauncher struct {
	openBrowser func(string) error
	onURL       func(string)
	timeout     time.Duration
}

// LoopbackOption configures a LoopbackLauncher.
type LoopbackOption func(*LoopbackLauncher)

// WithBrowserOpener replaces OpenBrowser, mainly for tests.
func WithBrowserOpener(open func(string) error) LoopbackOption {
	return func(l *LoopbackLauncher) {
		l.openBrowser = open
	}
}

// WithURLNotifier is called with the authorization URL before the browser is
// opened, so the CLI can print it for manual use.
func WithURLNotifier(fn func(string)) LoopbackOption {
	return func(l *LoopbackLauncher) {
		l.onURL = fn
	}
}

// WithCallbackTimeout bounds the wait for the redirect.
func WithCallbackTimeout(d time.Duration) LoopbackOption {
	return func(l *LoopbackLauncher) {
		if d > 0 {
			l.timeout = d
		}
	}
}

// NewLoopbackLauncher creates a native launcher.
func NewLoopbackLauncher(opts ...LoopbackOption) *LoopbackLauncher {
	l := &LoopbackLauncher{
		openBrowser: OpenBrowser,
		timeout:     DefaultCallbackTimeout,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Platform implements Launcher.
func (l *LoopbackLauncher) Platform() Platform {
	return Native
}

// Launch implements Launcher. The callback server is stopped on every return
// path.
func (l *LoopbackLauncher) Launch(ctx context.Context, authURL, redirectURI string) (*CallbackResult, error) {
	srv, err := NewCallbackServer(redirectURI)
	if err != nil {
		return nil, err
	}
	if err := srv.Start(); err != nil {
		return nil, err
	}
	defer srv.Stop()

	if l.onURL != nil {
		l.onURL(authURL)
	}
	if err := l.openBrowser(authURL); err != nil {
		// The URL was handed to onURL; the user can still open it by hand.
		logging.Warn("Launcher", "Could not open the browser: %v", err)
		if l.onURL == nil {
			return nil, fmt.Errorf("failed to open browser: %w", err)
		}
	}

	waitCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	result, err := srv.Wait(waitCtx)
	if err != nil {
		return nil, fmt.Errorf("waiting for the authorization response: %w", err)
	}
	return result, nil
}

// RedirectLauncher is the web launcher: the page must navigate to the
// authorization URL, so Launch always returns *RedirectRequiredError.
type RedirectLauncher struct{}

// Platform implements Launcher.
func (RedirectLauncher) Platform() Platform {
	return Web
}

// Launch implements Launcher.
func (RedirectLauncher) Launch(_ context.Context, authURL, _ string) (*CallbackResult, error) {
	return nil, &RedirectRequiredError{AuthURL: authURL}
}
