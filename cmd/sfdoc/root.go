package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/mrajeshsfdc/sfdoc/internal/app"
	"github.com/mrajeshsfdc/sfdoc/internal/config"
	"github.com/mrajeshsfdc/sfdoc/internal/logging"
	"github.com/mrajeshsfdc/sfdoc/internal/telemetry"
	"github.com/mrajeshsfdc/sfdoc/internal/ver"
)

type rootOptions struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:          "sfdoc",
		Short:        "sfdoc syncs published documentation bundles into the knowledge base and CDN",
		SilenceUsage: true,
	}
	cmd.AddGroup(&cobra.Group{
		ID:    "actions",
		Title: "Actions",
	})

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file, .yaml or .toml (default is $SFDOC_CONFIG)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override the configured log level")
	cmd.CompletionOptions.DisableDescriptions = true

	version := ver.Load()
	cmd.AddCommand(
		newServeCmd(opts, version),
		newEnqueueCmd(opts, version),
		newPublishCmd(opts, version),
		newProcessQueueCmd(opts, version),
		newBundlesCmd(opts),
		newVersionCmd(version),
	)
	return cmd
}

// load reads the config and installs the process logger.
func (o *rootOptions) load(cmd *cobra.Command) (config.Config, *slog.Logger, error) {
	cfg, err := config.Load(config.Path(o.configPath))
	if err != nil {
		return config.Config{}, nil, err
	}
	if o.logLevel != "" {
		cfg.Log.Level = logging.ParseLevel(o.logLevel)
	}

	logger := logging.New(cmd.ErrOrStderr(), cfg.Log)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

// application loads the config, sets up telemetry and builds the application.
// The returned function releases everything.
func (o *rootOptions) application(cmd *cobra.Command, version ver.Version) (*app.Application, *slog.Logger, func(), error) {
	cfg, logger, err := o.load(cmd)
	if err != nil {
		return nil, nil, nil, err
	}
	logger.Debug("loaded config", slog.String("config", cfg.String()))

	shutdownOtel, err := telemetry.SetupOtel(version.Short(), cfg.Otel, logger)
	if err != nil {
		return nil, nil, nil, err
	}

	application, err := app.New(cmd.Context(), cfg, version, logger)
	if err != nil {
		_ = shutdownOtel(context.Background())
		return nil, nil, nil, err
	}

	cleanup := func() {
		if closeErr := application.Close(); closeErr != nil {
			logger.Error("failed to close application", slog.Any("err", closeErr))
		}
		if otelErr := shutdownOtel(context.Background()); otelErr != nil {
			logger.Error("failed to shut down telemetry", slog.Any("err", otelErr))
		}
	}
	return application, logger, cleanup, nil
}

func printf(cmd *cobra.Command, format string, args ...any) {
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), format, args...)
}
