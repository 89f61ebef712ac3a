// Package migrate implements the migrate command.
package migrate

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rrandiak/altoEditorAPI-sub000/cmd/common"
	"github.com/rrandiak/altoEditorAPI-sub000/internal/database"
)

// Command manages the database schema.
func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage database migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(*cobra.Command, []string) error {
			cfg, log, err := common.Setup()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()
			return database.RunMigrations(cfg.Database, log)
		},
	})

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		RunE: func(*cobra.Command, []string) error {
			if steps < 1 {
				return fmt.Errorf("--steps must be at least 1")
			}
			cfg, log, err := common.Setup()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()
			return database.MigrateDown(cfg.Database, steps, log)
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")
	cmd.AddCommand(down)

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		RunE: func(c *cobra.Command, _ []string) error {
			cfg, log, err := common.Setup()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			version, dirty, err := database.MigrationVersion(cfg.Database, log)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.OutOrStdout(), "version %d (dirty: %t)\n", version, dirty)
			return nil
		},
	})

	return cmd
}
