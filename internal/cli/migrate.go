package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bissquit/wastewatch/internal/config"
	"github.com/bissquit/wastewatch/internal/pkg/postgres"
)

// MigrateCmd applies or rolls back database migrations.
func MigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the PostgreSQL schema",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := migrationConfig(cmd)
			if err != nil {
				return err
			}
			if err := postgres.MigrateUp(cfg.MigrationsPath, cfg.URL); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	})

	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := migrationConfig(cmd)
			if err != nil {
				return err
			}
			steps, _ := cmd.Flags().GetInt("steps")
			if err := postgres.MigrateDown(cfg.MigrationsPath, cfg.URL, steps); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations rolled back")
			return nil
		},
	}
	down.Flags().Int("steps", 1, "number of migrations to roll back (0 rolls back all)")
	cmd.AddCommand(down)

	return cmd
}

func migrationConfig(cmd *cobra.Command) (*config.DatabaseConfig, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	if cfg.Database.URL == "" {
		return nil, errors.New("database.url is not set")
	}
	return &cfg.Database, nil
}
