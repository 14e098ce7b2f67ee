package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/feed-archiver/internal/server"
	"github.com/JakeFAU/feed-archiver/internal/store"
)

func newCreatorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "creator",
		Short: "Manages the people behind tracked accounts",
	}
	cmd.AddCommand(newCreatorListCmd(), newCreatorDescribeCmd())
	return cmd
}

func newCreatorListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list [name-filter]",
		Short: "Lists creators",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			term := ""
			if len(args) == 1 {
				term = args[0]
			}
			return withApp(cmd, server.Options{}, func(app *server.App) error {
				creators, err := app.Store().ListCreators(cmd.Context(), term)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tNAME\tDESCRIPTION")
				for _, c := range creators {
					fmt.Fprintf(tw, "%d\t%s\t%s\n", c.ID, c.Name, c.Description)
				}
				return tw.Flush()
			})
		},
	}
}

func newCreatorDescribeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "describe <creator-id> <description...>",
		Short: "Replaces a creator's description",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("invalid creator id %q", args[0])
			}
			description := strings.Join(args[1:], " ")
			return withApp(cmd, server.Options{}, func(app *server.App) error {
				err := app.Writer().Do(cmd.Context(), "describe creator", func(ctx context.Context, tx *sql.Tx) error {
					return store.New(tx).SetCreatorDescription(ctx, id, description)
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "creator %d: %s\n", id, description)
				return nil
			})
		},
	}
}
