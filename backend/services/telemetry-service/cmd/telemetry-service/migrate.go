package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"voltlink/backend/libs/db"
	"voltlink/backend/services/telemetry-service/internal/repository"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending Postgres schema migrations",
	RunE:  runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Database.DSN == "" {
		return errors.New("database dsn is not configured")
	}

	sqlDB, err := db.NewPostgresDB(cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer sqlDB.Close()

	applied, err := repository.Migrate(cmd.Context(), sqlDB)
	if err != nil {
		return fmt.Errorf("migrating: %w", err)
	}
	if len(applied) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
		return nil
	}
	for _, name := range applied {
		fmt.Fprintf(cmd.OutOrStdout(), "applied %s\n", name)
	}
	return nil
}
