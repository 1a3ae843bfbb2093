package cmd

import (
	"errors"
	"fmt"
	"strconv"

	"guichet/internal/cli"
	"guichet/internal/session"
	pkgstrings "guichet/pkg/strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

// communityNameMaxLen keeps the list on one terminal line.
const communityNameMaxLen = 60

var communityCmd = &cobra.Command{
	Use:   "community",
	Short: "List the communities of the signed in user and select one",
	Long: `List the communities of the signed in user and select the active one.

The list comes from the profile stored at sign-in; run guichet auth whoami
to refresh it.

Examples:
  guichet community list
  guichet community use 12`,
}

var communityListCmd = &cobra.Command{
	Use:   "list",
	Short: "List communities",
	Args:  cobra.NoArgs,
	RunE:  runCommunityList,
}

var communityUseCmd = &cobra.Command{
	Use:   "use <id>",
	Short: "Select the active community",
	Args:  cobra.ExactArgs(1),
	RunE:  runCommunityUse,
}

func init() {
	rootCmd.AddCommand(communityCmd)
	communityCmd.AddCommand(communityListCmd)
	communityCmd.AddCommand(communityUseCmd)
}

func runCommunityList(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd, nil)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	user, err := a.sessions.User(ctx)
	if err != nil {
		return err
	}
	if user == nil || user.IsAnonymous {
		return &cli.AuthRequiredError{Environment: a.cfg.Environment}
	}

	if len(user.Communities) == 0 {
		printf(cmd, "%s\n", cli.FormatWarning(fmt.Sprintf("%s is not a member of any community", user.DisplayName())))
		return nil
	}

	active, err := a.sessions.ActiveCommunity(ctx)
	if err != nil {
		return err
	}

	tw := cli.NewTable(cmd.OutOrStdout())
	tw.AppendHeader(table.Row{cli.Header("ID"), cli.Header("NAME"), cli.Header("ACTIVE")})
	for _, c := range user.Communities {
		marker := ""
		if active != nil && active.ID == c.ID {
			marker = "*"
		}
		tw.AppendRow(table.Row{c.ID, pkgstrings.Truncate(c.Name, communityNameMaxLen), marker})
	}
	tw.Render()
	return nil
}

func runCommunityUse(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid community id %q", args[0])
	}

	a, err := newApp(cmd, nil)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	err = a.sessions.SetActiveCommunity(ctx, id)
	switch {
	case errors.Is(err, session.ErrNoUser):
		return &cli.AuthRequiredError{Environment: a.cfg.Environment}
	case errors.Is(err, session.ErrNotMember):
		return fmt.Errorf("community %d is not one of yours; see guichet community list", id)
	case err != nil:
		return err
	}

	community, err := a.sessions.ActiveCommunity(ctx)
	if err != nil {
		return err
	}
	printf(cmd, "%s\n", cli.FormatSuccess(fmt.Sprintf("Active community: %s", community.Name)))
	return nil
}
