package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/docchat/docchat/db"
	"github.com/docchat/docchat/internal/config"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database schema migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMigrate()
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := newLogger()
	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return fmt.Errorf("applying migrations: %w", err)
	}

	logger.Info("schema migrations applied",
		"host", cfg.PostgresHost,
		"database", cfg.PostgresDBName,
	)
	return nil
}
