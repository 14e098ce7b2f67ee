package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/feed-archiver/internal/crawl"
	"github.com/JakeFAU/feed-archiver/internal/server"
)

func newScrapeCmd() *cobra.Command {
	var accountID string
	cmd := &cobra.Command{
		Use:   "scrape",
		Short: "Runs one scrape cycle, or crawls a single account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, server.Options{}, func(app *server.App) error {
				out := cmd.OutOrStdout()
				if accountID != "" {
					res, err := app.Orchestrator().ScrapeAccount(cmd.Context(), accountID)
					if res.Handle != "" {
						fmt.Fprintf(out, "@%s: %d new, %d skipped, %d failed in %s\n",
							res.Handle, res.Ingested, res.Skipped, res.Failed, res.Duration.Round(time.Millisecond))
					}
					return err
				}
				summary, err := app.Orchestrator().RunCycle(cmd.Context())
				if err != nil {
					return err
				}
				ingested, failed := summary.Totals()
				fmt.Fprintf(out, "cycle %s: %d new posts from %d accounts, %d failed\n",
					summary.ID, ingested, len(summary.Accounts), failed)
				for _, res := range summary.Accounts {
					if res.Err != "" {
						fmt.Fprintf(out, "  @%s: %s\n", res.Handle, res.Err)
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&accountID, "account", "", "remote id of a single account to crawl")
	return cmd
}

func newFetchPostCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fetch-post <id>",
		Short: "Archives one post by id, ignoring the account watermark",
		Long: `Fetches a single item from the feed and archives it. Use it to recover an
item that a scrape skipped after a failed download.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, server.Options{}, func(app *server.App) error {
				post, err := app.Crawler().ScrapeItem(cmd.Context(), args[0])
				if errors.Is(err, crawl.ErrAlreadyArchived) {
					fmt.Fprintf(cmd.OutOrStdout(), "post %s is already archived\n", args[0])
					return nil
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "archived post %s with %d media\n", post.ID, len(post.Media))
				for _, m := range post.Media {
					fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", m.LocalPath)
				}
				return nil
			})
		},
	}
}
