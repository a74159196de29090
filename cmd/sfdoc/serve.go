package main

import (
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mrajeshsfdc/sfdoc/internal/ver"
)

func newServeCmd(opts *rootOptions, version ver.Version) *cobra.Command {
	return &cobra.Command{
		Use:     "serve",
		GroupID: "actions",
		Short:   "Run the webhook endpoint, admin API and worker pool",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			cmd.SetContext(ctx)

			application, logger, cleanup, err := opts.application(cmd, version)
			if err != nil {
				return err
			}
			defer cleanup()

			logger.Info("starting sfdoc", slog.String("version", version.Short()))
			if err = application.Serve(ctx); err != nil {
				return err
			}
			logger.Info("sfdoc stopped")
			return nil
		},
	}
}
