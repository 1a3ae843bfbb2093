package cmd

import (
	"errors"

	"guichet/internal/authctx"
	"guichet/internal/config"
	"guichet/internal/server"
	"guichet/internal/storage"
	"guichet/pkg/logging"

	"github.com/spf13/cobra"
)

// Serve flags.
var (
	serveListen    string
	servePublicURL string
)

// newServeCmd creates the web mode command.
func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the session core for the browser client",
		Long: `Run the web mode server.

The browser client signs in through /auth/login and the identity provider
redirects back to /auth/callback under the public URL, which must be
registered as a redirect URI for the client. Session changes are pushed on
the /auth/events websocket.

The stored session is restored at startup, and changes made by other
guichet processes sharing the file store are picked up.`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}

	cmd.Flags().StringVar(&serveListen, "listen", "", "Listen address (default from server.listenAddress)")
	cmd.Flags().StringVar(&servePublicURL, "public-url", "", "Public URL of the server (default from server.publicURL)")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd, func(cfg *config.Config) {
		cfg.Platform = config.PlatformWeb
		if serveListen != "" {
			cfg.Server.ListenAddress = serveListen
		}
		if servePublicURL != "" {
			cfg.Server.PublicURL = servePublicURL
		}
	})
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	authCtx := authctx.New(a.svc, a.sessions)

	err = authCtx.WatchStore(ctx, a.store)
	switch {
	case errors.Is(err, storage.ErrWatchUnsupported):
		logging.Debug("Serve", "The %s store does not report changes", a.cfg.Storage.Backend)
	case err != nil:
		logging.Warn("Serve", "Not following session changes: %v", err)
	}

	if res := authCtx.Restore(ctx); res.Success {
		logging.Info("Serve", "Restored session of user %d", res.User.ID)
	}

	srv, err := server.New(server.Config{
		ListenAddress:  a.cfg.Server.ListenAddress,
		PublicURL:      a.cfg.Server.PublicURL,
		AllowedOrigins: a.cfg.Server.AllowedOrigins,
		Environment:    a.cfg.Environment,
	}, authCtx)
	if err != nil {
		return err
	}

	printf(cmd, "Serving %s on %s\n", a.cfg.Server.PublicURL, a.cfg.Server.ListenAddress)
	return srv.ListenAndServe(ctx)
}
