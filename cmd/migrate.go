package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/murmurhq/murmur/db"
	"github.com/murmurhq/murmur/internal/config"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and exit",
	RunE: func(*cobra.Command, []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		logger := newLogger()
		if err := db.Migrate(cfg.PostgresURL(), logger); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
		logger.Info("migrations applied", "database", cfg.PostgresDBName)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
