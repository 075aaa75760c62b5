package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bookstore/library/internal/config"
	"github.com/bookstore/library/internal/db"
	"github.com/bookstore/library/pkg/logger"
)

func main() {
	root := &cobra.Command{
		Use:           "libraryd",
		Short:         "Library lending service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(), newMigrateCmd(), newImportBooksCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// bootstrap loads configuration and opens the migrated database
func bootstrap() (*config.Config, *zap.Logger, *db.DB, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}

	log := logger.NewLogger(cfg.ServiceName, cfg.LogLevel)

	dsn := cfg.PGDSN
	if cfg.DBDriver == "sqlite" {
		dsn = cfg.SQLitePath
	}

	log.Info("Connecting to database...", zap.String("driver", cfg.DBDriver))
	database, err := db.Connect(cfg.DBDriver, dsn, log)
	if err != nil {
		_ = log.Sync()
		return nil, nil, nil, fmt.Errorf("connect database: %w", err)
	}

	log.Info("Running database migrations...")
	if err := db.RunMigrations(database); err != nil {
		_ = database.Close()
		_ = log.Sync()
		return nil, nil, nil, fmt.Errorf("run migrations: %w", err)
	}

	return cfg, log, database, nil
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, log, database, err := bootstrap()
			if err != nil {
				return err
			}
			defer log.Sync()
			defer database.Close()

			log.Info("Migrations applied")
			return nil
		},
	}
}
