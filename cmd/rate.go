package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/feed-archiver/internal/relocate"
	"github.com/JakeFAU/feed-archiver/internal/server"
)

func newRateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rate",
		Short: "Rates a post or a single media file and moves its files",
	}
	cmd.AddCommand(newRateTargetCmd(relocate.TargetPost), newRateTargetCmd(relocate.TargetMedia))
	return cmd
}

func newRateTargetCmd(kind relocate.TargetKind) *cobra.Command {
	var content, safety string
	cmd := &cobra.Command{
		Use:   string(kind) + " <id>",
		Short: "Rates a " + string(kind),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := relocate.Request{Kind: kind}
			if kind == relocate.TargetMedia {
				id, err := strconv.ParseInt(args[0], 10, 64)
				if err != nil {
					return fmt.Errorf("media id %q is not a number", args[0])
				}
				req.MediaID = id
			} else {
				req.PostID = args[0]
			}
			if cmd.Flags().Changed("content") {
				req.Content = &content
			}
			if cmd.Flags().Changed("safety") {
				req.Safety = &safety
			}
			if req.Content == nil && req.Safety == nil {
				return fmt.Errorf("at least one of --content or --safety is required")
			}
			return withApp(cmd, server.Options{}, func(app *server.App) error {
				report, err := app.Relocator().Apply(cmd.Context(), req)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if report.Unchanged {
					fmt.Fprintf(out, "%s already rated %s\n", req.Key(), report.To)
					return nil
				}
				moved, missing, failed := report.Counts()
				fmt.Fprintf(out, "%s: %s -> %s (%d moved, %d missing, %d failed)\n",
					req.Key(), report.From, report.To, moved, missing, failed)
				for _, m := range report.Media {
					if m.Err != "" {
						fmt.Fprintf(out, "  media %d: %s\n", m.MediaID, m.Err)
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&content, "content", "", "content rating")
	cmd.Flags().StringVar(&safety, "safety", "", "safety rating")
	return cmd
}
