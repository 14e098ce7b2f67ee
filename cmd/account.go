package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/feed-archiver/internal/archive"
	"github.com/JakeFAU/feed-archiver/internal/server"
	"github.com/JakeFAU/feed-archiver/internal/store"
)

func newAccountCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Manages tracked accounts",
	}
	cmd.AddCommand(
		newAccountAddCmd(),
		newAccountDeleteCmd(),
		newAccountSetStatusCmd(),
		newAccountEditCmd(),
		newAccountListCmd(),
	)
	return cmd
}

func newAccountAddCmd() *cobra.Command {
	var (
		creator     string
		displayName string
		thread      string
		protected   bool
		noDownload  bool
	)
	cmd := &cobra.Command{
		Use:   "add <remote-id> <handle>",
		Short: "Starts tracking an account",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, server.Options{}, func(app *server.App) error {
				var added archive.Account
				err := app.Writer().Do(cmd.Context(), "register account", func(ctx context.Context, tx *sql.Tx) error {
					var err error
					added, err = store.New(tx).RegisterAccount(ctx, creator, archive.Account{
						ID:              args[0],
						Handle:          args[1],
						DisplayName:     displayName,
						Protected:       protected,
						DownloadEnabled: !noDownload,
						NotifyThreadID:  thread,
					})
					return err
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "tracking @%s (%s) under creator %d\n", added.Handle, added.ID, added.CreatorID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&creator, "creator", "", "creator name (default: the handle)")
	cmd.Flags().StringVar(&displayName, "display-name", "", "display name")
	cmd.Flags().StringVar(&thread, "thread", "", "Discord thread id for upload notifications")
	cmd.Flags().BoolVar(&protected, "protected", false, "account is private upstream")
	cmd.Flags().BoolVar(&noDownload, "no-download", false, "track the account without scheduled downloads")
	return cmd
}

func newAccountDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <remote-id>",
		Short: "Stops tracking an account and drops its posts and media rows",
		Long: `Removes the account from the index. Posts and media rows cascade; archived
files stay on disk.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, server.Options{}, func(app *server.App) error {
				err := app.Writer().Do(cmd.Context(), "delete account", func(ctx context.Context, tx *sql.Tx) error {
					return store.New(tx).DeleteAccount(ctx, args[0])
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted account %s\n", args[0])
				return nil
			})
		},
	}
}

func newAccountSetStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "set-status <remote-id> <Active|Deleted|Suspended>",
		Short:     "Changes an account's lifecycle status",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{string(archive.StatusActive), string(archive.StatusDeleted), string(archive.StatusSuspended)},
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := parseStatus(args[1])
			if err != nil {
				return err
			}
			return withApp(cmd, server.Options{}, func(app *server.App) error {
				err := app.Writer().Do(cmd.Context(), "set account status", func(ctx context.Context, tx *sql.Tx) error {
					return store.New(tx).SetAccountStatus(ctx, args[0], status)
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "account %s is now %s\n", args[0], status)
				return nil
			})
		},
	}
}

func newAccountEditCmd() *cobra.Command {
	var (
		handle      string
		displayName string
		thread      string
		protected   bool
		download    bool
	)
	cmd := &cobra.Command{
		Use:   "edit <remote-id>",
		Short: "Changes an account's names, flags or notification thread",
		Long: `Updates only the fields whose flags are given. Use it after an upstream rename,
when an account goes private, or to pause scheduled downloads.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			if !flags.Changed("handle") && !flags.Changed("display-name") && !flags.Changed("thread") &&
				!flags.Changed("protected") && !flags.Changed("download") {
				return fmt.Errorf("nothing to change")
			}
			return withApp(cmd, server.Options{}, func(app *server.App) error {
				var edited archive.Account
				err := app.Writer().Do(cmd.Context(), "edit account", func(ctx context.Context, tx *sql.Tx) error {
					q := store.New(tx)
					current, err := q.GetAccount(ctx, args[0])
					if err != nil {
						return err
					}
					if flags.Changed("handle") || flags.Changed("display-name") {
						if !flags.Changed("handle") {
							handle = current.Handle
						}
						if !flags.Changed("display-name") {
							displayName = current.DisplayName
						}
						if strings.TrimPrefix(strings.TrimSpace(handle), "@") == "" {
							return fmt.Errorf("handle must not be empty")
						}
						if err := q.SetAccountNames(ctx, args[0], strings.TrimSpace(handle), displayName); err != nil {
							return err
						}
					}
					if flags.Changed("thread") {
						if err := q.SetNotifyThread(ctx, args[0], thread); err != nil {
							return err
						}
					}
					if flags.Changed("protected") {
						if err := q.SetProtected(ctx, args[0], protected); err != nil {
							return err
						}
					}
					if flags.Changed("download") {
						if err := q.SetDownloadEnabled(ctx, args[0], download); err != nil {
							return err
						}
					}
					edited, err = q.GetAccount(ctx, args[0])
					return err
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "updated @%s (%s): download=%t protected=%t thread=%q\n",
					edited.Handle, edited.ID, edited.DownloadEnabled, edited.Protected, edited.NotifyThreadID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&handle, "handle", "", "new handle")
	cmd.Flags().StringVar(&displayName, "display-name", "", "new display name")
	cmd.Flags().StringVar(&thread, "thread", "", "Discord thread id for upload notifications (empty clears it)")
	cmd.Flags().BoolVar(&protected, "protected", false, "account is private upstream")
	cmd.Flags().BoolVar(&download, "download", true, "include the account in scheduled downloads")
	return cmd
}

func parseStatus(raw string) (archive.AccountStatus, error) {
	for _, s := range []archive.AccountStatus{archive.StatusActive, archive.StatusDeleted, archive.StatusSuspended} {
		if strings.EqualFold(raw, string(s)) {
			return s, nil
		}
	}
	return "", fmt.Errorf("unknown status %q: want Active, Deleted or Suspended", raw)
}

func newAccountListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Lists tracked accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, server.Options{}, func(app *server.App) error {
				accounts, err := app.Store().ListAccounts(cmd.Context())
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tHANDLE\tSTATUS\tDOWNLOAD\tPROTECTED\tWATERMARK")
				for _, a := range accounts {
					fmt.Fprintf(tw, "%s\t@%s\t%s\t%t\t%t\t%s\n",
						a.ID, a.Handle, a.Status, a.DownloadEnabled, a.Protected, a.LastScrapedID)
				}
				return tw.Flush()
			})
		},
	}
}
