package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"guichet/internal/cli"

	"github.com/spf13/cobra"
)

// Exit codes for CLI commands.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error (command failed, invalid arguments).
	ExitCodeError = 1
	// ExitCodeAuthRequired indicates no usable session is stored.
	ExitCodeAuthRequired = 2
	// ExitCodeAuthFailed indicates a login, refresh or restore failed.
	ExitCodeAuthFailed = 3
)

// Global flags.
var (
	configPath     string
	environment    string
	logLevel       string
	storageBackend string
	quiet          bool
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "guichet",
	Short: "Sign in to the Espace collaboratif platform",
	Long: `guichet manages the sign-in session of the Espace collaboratif client.

It signs in through the identity provider in the browser (OAuth2 with PKCE),
with an email and password, or without an account, and keeps the session in
the configured credential store so that it survives restarts.

guichet serve runs the same session core behind a small web server for the
browser build of the client.`,
	SilenceUsage: true,
}

// SetVersion sets the version for the root command.
func SetVersion(v string) {
	rootCmd.Version = v
}

// GetVersion returns the current version of the application.
func GetVersion() string {
	return rootCmd.Version
}

// Execute runs the root command and exits with a code derived from the
// returned error.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "guichet version %s\n" .Version}}`)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	if err != nil {
		os.Exit(getExitCode(err))
	}
}

// getExitCode determines the exit code for err, for scripting.
func getExitCode(err error) int {
	var authRequired *cli.AuthRequiredError
	if errors.As(err, &authRequired) {
		return ExitCodeAuthRequired
	}

	var authExpired *cli.AuthExpiredError
	if errors.As(err, &authExpired) {
		return ExitCodeAuthRequired
	}

	var authFailed *cli.AuthFailedError
	if errors.As(err, &authFailed) {
		return ExitCodeAuthFailed
	}

	return ExitCodeError
}

// printf writes progress output unless --quiet is set.
func printf(cmd *cobra.Command, format string, args ...any) {
	cli.Fprintf(cmd.OutOrStdout(), quiet, format, args...)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config-path", "", "Configuration directory (default ~/.config/guichet)")
	rootCmd.PersistentFlags().StringVar(&environment, "environment", "", "Platform instance: production or qualification (env: GUICHET_ENVIRONMENT)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn or error")
	rootCmd.PersistentFlags().StringVar(&storageBackend, "storage", "", "Credential store: file, keyring, sqlite or memory")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Suppress non-essential output")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newServeCmd())
}
