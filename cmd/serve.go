package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/feed-archiver/internal/server"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Runs the scrape scheduler with the HTTP API and the Discord bot",
		Long: `Starts the periodic scrape cycle (archive.check_interval), the HTTP API
(api.enabled) and the Discord bot (discord.enabled), and runs until SIGINT or
SIGTERM. Pending ratings are flushed before the database is closed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := resolveRuntime(cmd.Context())
			if err != nil {
				return err
			}
			app, err := server.Build(cmd.Context(), rt.cfg, rt.logger, server.Options{
				Frontends:  true,
				Registerer: newRegisterer(),
			})
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			return app.Run(cmd.Context())
		},
	}
}
