package cmd

import (
	"fmt"
	"io"
	"net/http"

	"guichet/internal/api"
	"guichet/internal/auth"
	"guichet/internal/cli"
	"guichet/internal/config"
	"guichet/internal/platform"
	"guichet/internal/session"
	"guichet/internal/storage"
	"guichet/pkg/logging"
	"guichet/pkg/oauth"

	"github.com/spf13/cobra"
)

// app is the wired session core used by every command.
type app struct {
	cfg      config.Config
	store    *storage.Namespace
	sessions *session.Store
	svc      *auth.Service
}

// newLauncher selects how the browser step of an OAuth login runs. Tests
// replace it.
var newLauncher = func(cfg config.Config, out io.Writer) platform.Launcher {
	return platform.Detect(cfg,
		platform.WithCallbackTimeout(cfg.Timeouts.Callback),
		platform.WithURLNotifier(func(authURL string) {
			cli.Fprintf(out, quiet, "Opening the browser to sign in. If it does not open, visit:\n\n  %s\n\n", authURL)
		}),
	)
}

// Prompts, replaced in tests.
var (
	promptLine     = cli.PromptLine
	promptPassword = cli.PromptPassword
)

// loadConfig reads the configuration and applies the global flags.
func loadConfig() (config.Config, error) {
	dir := configPath
	if dir == "" {
		var err error
		if dir, err = config.DefaultConfigPath(); err != nil {
			return config.Config{}, err
		}
	}

	cfg, err := config.LoadConfig(dir)
	if err != nil {
		return config.Config{}, err
	}
	if environment != "" {
		cfg.Environment = environment
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if storageBackend != "" {
		cfg.Storage.Backend = storageBackend
	}

	cfg = cfg.Effective()
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid configuration in %s: %w", dir, err)
	}
	return cfg, nil
}

// newApp wires configuration, logging, storage and the auth service.
// mutate, when set, adjusts the configuration before anything is built.
func newApp(cmd *cobra.Command, mutate func(*config.Config)) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if mutate != nil {
		mutate(&cfg)
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	logging.Init(logging.ParseLevel(cfg.LogLevel), logging.Format(cfg.LogFormat), cmd.ErrOrStderr())

	store, err := storage.Open(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s credential store: %w", cfg.Storage.Backend, err)
	}
	credStore, err := storage.OpenCredentials(cfg.Storage, store)
	if err != nil {
		return nil, fmt.Errorf("failed to open the credential keychain: %w", err)
	}
	sessions := session.New(store,
		session.WithPKCETTL(cfg.Timeouts.PKCETTL),
		session.WithCredentialStore(credStore))

	endpoints := oauth.EndpointsFromBaseURL(cfg.OAuth.BaseURL)
	httpClient := &http.Client{Timeout: cfg.Timeouts.HTTP}

	transport, err := api.NewClient(api.Config{
		BaseURL:   cfg.API.BaseURL,
		LogoutURL: endpoints.LogoutURL,
		ClientID:  cfg.OAuth.ClientID,
	}, api.WithHTTPClient(httpClient), api.WithLogger(logging.For("API")))
	if err != nil {
		return nil, err
	}

	oauthClient := oauth.NewClient(
		oauth.WithHTTPClient(httpClient),
		oauth.WithLogger(logging.For("OAuth")),
	)

	launcher := newLauncher(cfg, cmd.OutOrStdout())
	redirectURI, err := platform.RedirectURI(cfg, launcher.Platform())
	if err != nil {
		return nil, err
	}

	opts := []auth.Option{auth.WithLogger(logging.For("Auth"))}
	if cfg.OAuth.Issuer != "" {
		opts = append(opts, auth.WithIDTokenVerifier(auth.NewOIDCVerifier(cfg.OAuth.Issuer, cfg.OAuth.ClientID)))
	}

	svc, err := auth.New(auth.Config{
		ClientID:       cfg.OAuth.ClientID,
		Endpoints:      endpoints,
		Scope:          cfg.OAuth.Scope,
		RedirectURI:    redirectURI,
		RestoreTimeout: cfg.Timeouts.Restore,
	}, oauthClient, transport, sessions, launcher, opts...)
	if err != nil {
		return nil, err
	}

	return &app{cfg: cfg, store: store, sessions: sessions, svc: svc}, nil
}

// authError converts a failed result into the error that selects the exit
// code.
func (a *app) authError(res auth.AuthResult) error {
	if res.Err == nil {
		return &cli.AuthRequiredError{Environment: a.cfg.Environment}
	}
	return cli.FromAuthError(res.Err, a.cfg.Environment)
}
