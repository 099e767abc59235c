package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/obloq-bridge/internal/journal"
)

func newFramesCmd(opts *rootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "frames",
		Short: "Print the most recent journalled frames",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if !cfg.Database.Enabled {
				return fmt.Errorf("frame journal is disabled (database.enabled: false)")
			}

			db, err := openDatabase(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer db.Close() //nolint:errcheck // Read-only command

			frames, err := journal.NewSQLiteRepository(db.DB).Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tDIR\tKIND\tLINE")
			// Oldest first so the output reads like a terminal log.
			for i := len(frames) - 1; i >= 0; i-- {
				f := frames[i]
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
					f.RecordedAt.Local().Format(time.DateTime), f.Direction, f.Kind, f.Line)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of frames to show")
	return cmd
}
