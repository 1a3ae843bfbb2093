package cmd

import (
	"fmt"

	"guichet/internal/cli"
	"guichet/internal/platform"
	"guichet/internal/session"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
)

var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the stored session",
	Long: `Show the session kept in the credential store.

Nothing is sent over the network: use guichet auth whoami to check the
session with the platform.`,
	Args: cobra.NoArgs,
	RunE: runAuthStatus,
}

func runAuthStatus(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd, nil)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	user, err := a.sessions.User(ctx)
	if err != nil {
		return err
	}
	creds, err := a.sessions.Credentials(ctx)
	if err != nil {
		return err
	}
	rec, err := a.sessions.Tokens(ctx)
	if err != nil {
		return err
	}
	community, err := a.sessions.ActiveCommunity(ctx)
	if err != nil {
		return err
	}

	tw := cli.NewTable(cmd.OutOrStdout())
	tw.AppendHeader(table.Row{cli.Header("KEY"), cli.Header("VALUE")})
	tw.AppendRow(table.Row{"Environment", a.cfg.Environment})
	tw.AppendRow(table.Row{"Platform", platform.Resolve(a.cfg)})
	tw.AppendRow(table.Row{"Store", a.cfg.Storage.Backend})
	tw.AppendRow(table.Row{"Status", sessionStatus(user != nil, user != nil && user.IsAnonymous)})

	if user != nil && !user.IsAnonymous {
		tw.AppendRow(table.Row{"User", user.DisplayName()})
		tw.AppendRow(table.Row{"Email", user.Email})
		tw.AppendRow(table.Row{"Method", signInMethod(creds, rec)})
	}
	if rec != nil {
		now := a.sessions.Now()
		tw.AppendRow(table.Row{"Access token", cli.FormatExpiry(rec.AccessTokenExpiresAt, now)})
		if rec.RefreshToken != "" {
			tw.AppendRow(table.Row{"Refresh token", cli.FormatExpiry(rec.RefreshTokenExpiresAt, now)})
		}
	}
	if community != nil {
		tw.AppendRow(table.Row{"Community", fmt.Sprintf("%s (%d)", community.Name, community.ID)})
	}
	tw.Render()

	if user == nil {
		printf(cmd, "\nTo sign in, run: guichet auth login\n")
	}
	return nil
}

func sessionStatus(signedIn, anonymous bool) string {
	switch {
	case anonymous:
		return text.FgYellow.Sprint("Anonymous")
	case signedIn:
		return text.FgGreen.Sprint("Signed in")
	default:
		return text.FgRed.Sprint("Not signed in")
	}
}

func signInMethod(creds *session.Credentials, rec *session.Record) string {
	switch {
	case creds != nil:
		return "password"
	case rec != nil:
		return "browser (OAuth2 PKCE)"
	default:
		return "unknown"
	}
}
