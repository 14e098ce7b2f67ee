package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/feed-archiver/internal/relocate"
	"github.com/JakeFAU/feed-archiver/internal/server"
)

func newVerifyCmd() *cobra.Command {
	var deep bool
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Checks that every media file sits where its rating says",
		Long: `Scans the media index and reports files that are missing or sit outside the
directory of their rating pair. --deep also re-hashes every file. Nothing is
modified; rate the post or media again with its current rating to move a
misplaced file into place.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, server.Options{}, func(app *server.App) error {
				report, err := app.Relocator().Verify(cmd.Context(), relocate.VerifyOptions{Deep: deep})
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for _, p := range report.Problems {
					fmt.Fprintf(out, "%-9s media %d (post %s): %s, expected in %s\n", p.Kind, p.MediaID, p.PostID, p.Path, p.Expected)
				}
				fmt.Fprintf(out, "checked %d media files, %d problems\n", report.Checked, len(report.Problems))
				if len(report.Problems) > 0 {
					return fmt.Errorf("%d media files are inconsistent with the index", len(report.Problems))
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&deep, "deep", false, "re-hash files and compare with the stored content hash")
	return cmd
}
