package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nerrad567/obloq-bridge/internal/infrastructure/database"
)

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the journal database schema",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "List applied and pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := openRawDatabase(opts)
			if err != nil {
				return err
			}
			defer db.Close() //nolint:errcheck // Read-only command

			states, err := db.MigrationStatus(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, s := range states {
				if s.Applied {
					fmt.Fprintf(out, "applied  %s  %-12s  %s\n",
						s.Version, s.Name, s.AppliedAt.Local().Format("2006-01-02 15:04:05"))
					continue
				}
				fmt.Fprintf(out, "pending  %s  %s\n", s.Version, s.Name)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := openRawDatabase(opts)
			if err != nil {
				return err
			}
			defer db.Close() //nolint:errcheck // Closed on exit

			n, err := db.Migrate(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "applied %d migration(s)\n", n)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := openRawDatabase(opts)
			if err != nil {
				return err
			}
			defer db.Close() //nolint:errcheck // Closed on exit

			version, err := db.MigrateDown(cmd.Context())
			if err != nil {
				return err
			}
			if version == "" {
				fmt.Fprintln(cmd.OutOrStdout(), "nothing to revert")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reverted %s\n", version)
			return nil
		},
	})

	return cmd
}

// openRawDatabase opens the journal database without migrating it.
func openRawDatabase(opts *rootOptions) (*database.DB, error) {
	cfg, _, err := opts.loadConfig()
	if err != nil {
		return nil, err
	}
	db, err := database.Open(database.ConfigFrom(cfg.Database))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return db, nil
}
