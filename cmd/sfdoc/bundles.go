package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/mrajeshsfdc/sfdoc/internal/domain"
	"github.com/mrajeshsfdc/sfdoc/internal/infrastructure/storage"
)

func newBundlesCmd(opts *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "bundles",
		Short: "List the most recent bundles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := opts.load(cmd)
			if err != nil {
				return err
			}

			repo, err := storage.New(cmd.Context(), cfg.Database)
			if err != nil {
				return err
			}
			defer repo.Close()

			bundles, err := repo.ListBundles(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return printBundles(cmd, bundles, time.Now())
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of bundles to list")
	return cmd
}

func printBundles(cmd *cobra.Command, bundles []domain.Bundle, now time.Time) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSOURCE\tSTATUS\tQUEUED\tPUBLISHED\tERROR")
	for _, b := range bundles {
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
			b.ID,
			b.SourceID,
			b.Status,
			relative(b.QueuedAt, now),
			relative(b.PublishedAt, now),
			b.Error,
		)
	}
	return w.Flush()
}

func relative(t *time.Time, now time.Time) string {
	if t == nil {
		return "-"
	}
	return humanize.RelTime(*t, now, "ago", "from now")
}
