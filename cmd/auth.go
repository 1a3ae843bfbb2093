package cmd

import (
	"errors"
	"fmt"

	"guichet/internal/auth"
	"guichet/internal/cli"
	"guichet/internal/platform"

	"github.com/spf13/cobra"
)

// Login flags.
var (
	loginWithPassword bool
	loginEmail        string
)

// authCmd represents the auth command group.
var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage the sign-in session",
	Long: `Manage the sign-in session of the Espace collaboratif client.

Examples:
  guichet auth login                       # Sign in in the browser
  guichet auth login --password            # Sign in with email and password
  guichet auth anonymous                   # Continue without an account
  guichet auth status                      # Show the stored session
  guichet auth whoami                      # Check the session with the platform
  guichet auth refresh                     # Force an access token refresh
  guichet auth logout                      # Sign out`,
}

var authLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in",
	Long: `Sign in to the platform.

By default the identity provider sign-in page is opened in the browser and
the response is captured on the loopback redirect URI. With --password the
email and password are sent to the API directly.`,
	Args: cobra.NoArgs,
	RunE: runAuthLogin,
}

var authAnonymousCmd = &cobra.Command{
	Use:   "anonymous",
	Short: "Continue without an account",
	Args:  cobra.NoArgs,
	RunE:  runAuthAnonymous,
}

var authLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out and clear the stored session",
	Long: `Sign out.

The refresh token is revoked at the identity provider when there is one.
The stored session is cleared even if the provider cannot be reached.`,
	Args: cobra.NoArgs,
	RunE: runAuthLogout,
}

var authRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Force an access token refresh",
	Args:  cobra.NoArgs,
	RunE:  runAuthRefresh,
}

var authWhoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the signed in user, checked with the platform",
	Long: `Restore the stored session and show the signed in user.

An access token about to expire is refreshed first. If the session can no
longer be used it is cleared.`,
	Args: cobra.NoArgs,
	RunE: runAuthWhoami,
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(authLoginCmd)
	authCmd.AddCommand(authAnonymousCmd)
	authCmd.AddCommand(authLogoutCmd)
	authCmd.AddCommand(authStatusCmd)
	authCmd.AddCommand(authRefreshCmd)
	authCmd.AddCommand(authWhoamiCmd)

	authLoginCmd.Flags().BoolVar(&loginWithPassword, "password", false, "Sign in with email and password instead of the browser")
	authLoginCmd.Flags().StringVar(&loginEmail, "email", "", "Email for --password (prompted when empty)")
}

func runAuthLogin(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd, nil)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	var res auth.AuthResult
	if loginWithPassword {
		email := loginEmail
		if email == "" {
			if email, err = promptLine("Email: "); err != nil {
				return err
			}
		}
		password, err := promptPassword("Password: ")
		if err != nil {
			return err
		}

		spin := cli.StartSpinner(cmd.OutOrStdout(), "Signing in...", quiet)
		res = a.svc.LoginWithPassword(ctx, email, password)
		spin.Stop()
	} else {
		res = a.svc.LoginWithOAuth(ctx)
		if authURL, ok := auth.RedirectURL(res.Err); ok {
			return fmt.Errorf("the %s platform signs in through the browser page; open %s or use guichet serve", platform.Web, authURL)
		}
	}

	if !res.Success {
		return a.authError(res)
	}

	printf(cmd, "%s\n", cli.FormatSuccess(fmt.Sprintf("Signed in as %s (%s)", res.User.DisplayName(), res.User.Email)))
	return nil
}

func runAuthAnonymous(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd, nil)
	if err != nil {
		return err
	}

	res := a.svc.ContinueWithoutAccount(cmd.Context())
	if !res.Success {
		return a.authError(res)
	}

	printf(cmd, "%s\n", cli.FormatSuccess("Continuing without an account"))
	return nil
}

func runAuthLogout(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd, nil)
	if err != nil {
		return err
	}

	user, err := a.sessions.User(cmd.Context())
	if err != nil {
		return err
	}

	res := a.svc.Logout(cmd.Context())
	if !res.Success {
		return res.Err
	}

	if user == nil {
		printf(cmd, "No stored session.\n")
		return nil
	}
	printf(cmd, "%s\n", cli.FormatSuccess(fmt.Sprintf("Signed out %s", user.DisplayName())))
	return nil
}

func runAuthRefresh(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd, nil)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	creds, err := a.sessions.Credentials(ctx)
	if err != nil {
		return err
	}
	if creds != nil {
		printf(cmd, "%s\n", cli.FormatWarning("Password sessions have no token to refresh."))
		return nil
	}

	spin := cli.StartSpinner(cmd.OutOrStdout(), "Refreshing the access token...", quiet)
	res := a.svc.RefreshSession(ctx)
	spin.Stop()

	if !res.Success {
		if errors.Is(res.Err, auth.NoRefreshToken) {
			if user, _ := a.sessions.User(ctx); user == nil {
				return &cli.AuthRequiredError{Environment: a.cfg.Environment}
			}
		}
		return a.authError(res)
	}

	rec, err := a.sessions.Tokens(ctx)
	if err != nil {
		return err
	}
	printf(cmd, "%s\n", cli.FormatSuccess("Access token refreshed, expires "+cli.FormatExpiry(rec.AccessTokenExpiresAt, a.sessions.Now())))
	return nil
}

func runAuthWhoami(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd, nil)
	if err != nil {
		return err
	}

	res := a.svc.RestoreSession(cmd.Context())
	if !res.Success {
		return a.authError(res)
	}

	out := cmd.OutOrStdout()
	user := res.User
	if user.IsAnonymous {
		fmt.Fprintln(out, "Anonymous (no account)")
		return nil
	}

	fmt.Fprintf(out, "Identity:     %s\n", user.DisplayName())
	fmt.Fprintf(out, "Email:        %s\n", user.Email)
	fmt.Fprintf(out, "User ID:      %d\n", user.ID)
	fmt.Fprintf(out, "Environment:  %s\n", a.cfg.Environment)
	if rec, _ := a.sessions.Tokens(cmd.Context()); rec != nil {
		fmt.Fprintf(out, "Expires:      %s\n", cli.FormatExpiry(rec.AccessTokenExpiresAt, a.sessions.Now()))
	}
	return nil
}
