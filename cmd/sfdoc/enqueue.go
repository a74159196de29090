package main

import (
	"strconv"

	"github.com/spf13/cobra"

	"github.com/mrajeshsfdc/sfdoc/internal/ver"
)

func newEnqueueCmd(opts *rootOptions, version ver.Version) *cobra.Command {
	var wait bool
	cmd := &cobra.Command{
		Use:     "enqueue <source-id>",
		GroupID: "actions",
		Short:   "Queue a bundle by its source id",
		Long: `Queue a bundle by its source id, the same way an accepted webhook does.
A bundle that is still in flight is rejected. With --wait the bundle is
processed into drafts before the command returns.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			application, _, cleanup, err := opts.application(cmd, version)
			if err != nil {
				return err
			}
			defer cleanup()

			bundle, err := application.Enqueue(cmd.Context(), args[0], wait)
			if err != nil {
				return err
			}
			printf(cmd, "bundle %d (%s) is %s\n", bundle.ID, bundle.SourceID, bundle.Status)
			if bundle.Error != "" {
				printf(cmd, "error: %s\n", bundle.Error)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", false, "process the queue until idle before returning")
	return cmd
}

func newPublishCmd(opts *rootOptions, version ver.Version) *cobra.Command {
	return &cobra.Command{
		Use:     "publish <bundle-id>",
		GroupID: "actions",
		Short:   "Publish the staged drafts of a bundle",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return err
			}

			application, _, cleanup, err := opts.application(cmd, version)
			if err != nil {
				return err
			}
			defer cleanup()

			bundle, err := application.Publish(cmd.Context(), id)
			if err != nil {
				return err
			}
			printf(cmd, "bundle %d (%s) is %s\n", bundle.ID, bundle.SourceID, bundle.Status)
			return nil
		},
	}
}

func newProcessQueueCmd(opts *rootOptions, version ver.Version) *cobra.Command {
	return &cobra.Command{
		Use:     "process-queue",
		GroupID: "actions",
		Short:   "Admit the next queued bundle and work it until idle",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			application, _, cleanup, err := opts.application(cmd, version)
			if err != nil {
				return err
			}
			defer cleanup()

			return application.ProcessQueue(cmd.Context())
		},
	}
}
