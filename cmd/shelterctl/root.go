package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/shelter/internal/application"
	"github.com/JonMunkholm/shelter/internal/config"
	"github.com/JonMunkholm/shelter/internal/logging"
)

// globalOptions are the persistent flags shared by every subcommand.
type globalOptions struct {
	databaseURL string
	logLevel    string
}

// appOpener builds the application for a command. Tests swap it for an
// in-memory store.
type appOpener func(ctx context.Context, opts globalOptions, cmd *cobra.Command) (*application.App, error)

func newRootCmd(open appOpener) *cobra.Command {
	var opts globalOptions

	root := &cobra.Command{
		Use:           "shelterctl",
		Short:         "Preview and apply shelter animal CSV imports",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&opts.databaseURL, "database-url", "", "PostgreSQL URL (default: $DATABASE_URL, empty uses an in-memory store)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error (default: $LOG_LEVEL)")

	openFor := func(cmd *cobra.Command) (*application.App, error) {
		return open(cmd.Context(), opts, cmd)
	}

	root.AddCommand(
		newPreviewCmd(openFor),
		newApplyCmd(openFor),
		newExportCmd(openFor),
	)
	return root
}

// openApp loads configuration with flag overrides, logs to stderr so stdout
// stays machine readable, and wires the store.
func openApp(ctx context.Context, opts globalOptions, cmd *cobra.Command) (*application.App, error) {
	overrides := map[string]string{
		"DATABASE_URL": opts.databaseURL,
		"LOG_LEVEL":    opts.logLevel,
	}
	cfg, err := config.LoadFrom(func(key string) string {
		if v := overrides[key]; v != "" {
			return v
		}
		return os.Getenv(key)
	})
	if err != nil {
		return nil, withCode(exitUsage, err)
	}

	logging.SetupWriter(cmd.ErrOrStderr(), cfg.Logging.Level, cfg.Logging.Format)
	return application.Open(ctx, cfg, slog.Default())
}
