package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MrEthical07/authbroker/internal/store"
	"github.com/MrEthical07/authbroker/migrations"
)

func newMigrateCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the Postgres schema",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withDB(cmd.Context(), root, migrations.Migrate)
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Revert the latest migration",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withDB(cmd.Context(), root, migrations.Rollback)
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Print the applied schema version",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withDB(cmd.Context(), root, func(db *sql.DB) error {
					v, err := migrations.Version(db)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "schema version %d\n", v)
					return nil
				})
			},
		},
	)
	return cmd
}

func withDB(ctx context.Context, root *rootOptions, fn func(*sql.DB) error) error {
	cfg, log, err := root.load(false)
	if err != nil {
		return err
	}
	db, err := store.Open(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(db)
}
