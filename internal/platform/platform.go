package platform

import (
	"context"
	"fmt"
	"strings"

	"guichet/internal/config"
)

// Platform identifies a runtime shell.
type Platform string

const (
	Native Platform = "native"
	Web    Platform = "web"
)

// CallbackPath is the path of the redirect route on every platform.
const CallbackPath = "/auth/callback"

// CallbackResult is the authorization response delivered to the redirect URI.
type CallbackResult struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string
}

// IsError reports whether the provider returned an error.
func (r *CallbackResult) IsError() bool {
	return r.Error != ""
}

// Launcher sends the user to the authorization URL and returns the response
// when the platform can wait for it.
type Launcher interface {
	Platform() Platform
	Launch(ctx context.Context, authURL, redirectURI string) (*CallbackResult, error)
}

// RedirectRequiredError is returned by launchers that cannot wait for the
// response: the caller must navigate to AuthURL and the flow completes on the
// callback route.
type RedirectRequiredError struct {
	AuthURL string
}

// Error implements the error interface.
func (e *RedirectRequiredError) Error() string {
	return "redirect to the identity provider required"
}

// Detect selects the launcher for cfg.Platform. "auto" resolves to web when a
// public URL is configured and to native otherwise.
func Detect(cfg config.Config, opts ...LoopbackOption) Launcher {
	if Resolve(cfg) == Web {
		return RedirectLauncher{}
	}
	return NewLoopbackLauncher(opts...)
}

// Resolve returns the platform selected by cfg.
func Resolve(cfg config.Config) Platform {
	switch cfg.Platform {
	case config.PlatformWeb:
		return Web
	case config.PlatformNative:
		return Native
	default:
		if cfg.Server.PublicURL != "" {
			return Web
		}
		return Native
	}
}

// RedirectURI returns the redirect URI registered for p.
func RedirectURI(cfg config.Config, p Platform) (string, error) {
	if p == Web {
		if cfg.Server.PublicURL == "" {
			return "", fmt.Errorf("web platform requires server.publicURL")
		}
		return strings.TrimSuffix(cfg.Server.PublicURL, "/") + CallbackPath, nil
	}
	if cfg.OAuth.RedirectURI != "" {
		return cfg.OAuth.RedirectURI, nil
	}
	return config.DefaultRedirectURI, nil
}
