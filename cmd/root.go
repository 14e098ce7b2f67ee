// Package cmd defines and implements the CLI commands for the archiver executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/feed-archiver/internal/config"
	"github.com/JakeFAU/feed-archiver/internal/logging"
	"github.com/JakeFAU/feed-archiver/internal/server"
)

// runtimeKeyType is the key for storing the loaded runtime in the context.
type runtimeKeyType string

const runtimeKey runtimeKeyType = "runtime"

// runtime is what PersistentPreRunE prepares for every subcommand.
type runtime struct {
	cfg    config.Config
	logger *zap.Logger
}

// Factories replaced by tests to keep output quiet and metrics isolated.
var (
	newLogger     = logging.New
	newRegisterer = func() prometheus.Registerer { return prometheus.DefaultRegisterer }
)

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "archiver",
		Short: "Archives media feeds to disk and files them by rating.",
		Long: `archiver crawls the media timelines of tracked accounts, stores every
file under ArchiveImages/{content}/{safety}/ with an SQLite index, and moves
files between directories as posts are rated from the CLI, the HTTP API or
Discord.`,
		SilenceUsage: true,

		// Loads config and the logger before any subcommand runs.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := newLogger(cfg.Logging.Development)
			if err != nil {
				return fmt.Errorf("logger init failed: %w", err)
			}
			zap.ReplaceGlobals(logger)
			cmd.SetContext(context.WithValue(cmd.Context(), runtimeKey, &runtime{cfg: cfg, logger: logger}))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if rt, ok := cmd.Context().Value(runtimeKey).(*runtime); ok {
				_ = rt.logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")

	cmd.AddCommand(
		newServeCmd(),
		newScrapeCmd(),
		newFetchPostCmd(),
		newAccountCmd(),
		newCreatorCmd(),
		newRateCmd(),
		newVerifyCmd(),
	)
	return cmd
}

func resolveRuntime(ctx context.Context) (*runtime, error) {
	rt, ok := ctx.Value(runtimeKey).(*runtime)
	if !ok || rt == nil {
		return nil, errors.New("configuration not loaded")
	}
	return rt, nil
}

// withApp builds the application, hands it to fn and closes it afterwards.
func withApp(cmd *cobra.Command, opts server.Options, fn func(*server.App) error) (err error) {
	rt, err := resolveRuntime(cmd.Context())
	if err != nil {
		return err
	}
	opts.Registerer = newRegisterer()
	app, err := server.Build(cmd.Context(), rt.cfg, rt.logger, opts)
	if err != nil {
		return fmt.Errorf("failed to initialize application services: %w", err)
	}
	defer func() {
		if cerr := app.Close(context.Background()); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(app)
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
