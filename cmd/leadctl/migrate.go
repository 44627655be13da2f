package main

import (
	"fmt"

	"crm-platform/migrations"
	"crm-platform/pkg/utils"

	"github.com/spf13/cobra"
)

func migrateCmd() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded schema to Postgres",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if dryRun {
				names, err := migrations.Names()
				if err != nil {
					return err
				}
				for _, n := range names {
					fmt.Fprintln(cmd.OutOrStdout(), n)
				}
				return nil
			}

			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := utils.OpenPostgres(cmd.Context(), cfg.PostgresDSN(), utils.PostgresPoolConfig{})
			if err != nil {
				return fmt.Errorf("postgres: %w", err)
			}
			defer db.Close()

			applied, err := migrations.Apply(cmd.Context(), db)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "applied %d migration(s)\n", len(applied))
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "list migrations without applying them")
	return cmd
}
