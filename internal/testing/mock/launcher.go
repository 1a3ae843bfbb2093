package mock

import (
	"context"
	"fmt"
	"net/url"

	"guichet/internal/platform"
)

// BrowserLauncher is a native launcher whose "browser" approves the request
// at the provider and hands back the redirect.
type BrowserLauncher struct {
	Provider *Provider

	// Intercept, when set, may rewrite the callback before it is returned.
	Intercept func(*platform.CallbackResult)

	// Launched receives every authorization URL.
	Launched []string
}

// Platform implements platform.Launcher.
func (l *BrowserLauncher) Platform() platform.Platform {
	return platform.Native
}

// Launch implements platform.Launcher.
func (l *BrowserLauncher) Launch(ctx context.Context, authURL, _ string) (*platform.CallbackResult, error) {
	l.Launched = append(l.Launched, authURL)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	location, err := l.Provider.Authorize(authURL)
	if err != nil {
		return nil, err
	}
	result, err := ParseCallback(location)
	if err != nil {
		return nil, err
	}
	if l.Intercept != nil {
		l.Intercept(result)
	}
	return result, nil
}

// ParseCallback extracts the authorization response from a redirect URL.
func ParseCallback(location string) (*platform.CallbackResult, error) {
	u, err := url.Parse(location)
	if err != nil {
		return nil, fmt.Errorf("invalid redirect location %q: %w", location, err)
	}
	q := u.Query()
	return &platform.CallbackResult{
		Code:             q.Get("code"),
		State:            q.Get("state"),
		Error:            q.Get("error"),
		ErrorDescription: q.Get("error_description"),
	}, nil
}
