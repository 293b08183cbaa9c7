package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/psds-microservice/contact-service/internal/clock"
	"github.com/psds-microservice/contact-service/internal/config"
	"github.com/psds-microservice/contact-service/internal/database"
)

var errPostgresOnly = errors.New("versioned migrations are only used with DB_DRIVER=postgres")

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE:  runMigrateUp,
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back the latest migration",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMigrationConfig(func(cfg *config.Config, log *zap.Logger) error {
			if !cfg.IsPostgres() {
				return errPostgresOnly
			}
			if err := database.MigrateDown(cfg.DatabaseURL()); err != nil {
				return fmt.Errorf("migrate down: %w", err)
			}
			log.Info("migrate down: ok")
			return nil
		})
	},
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print migration status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMigrationConfig(func(cfg *config.Config, _ *zap.Logger) error {
			if !cfg.IsPostgres() {
				return errPostgresOnly
			}
			return database.MigrateStatus(cfg.DatabaseURL())
		})
	},
}

func init() {
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateStatusCmd)
}

func withMigrationConfig(fn func(*config.Config, *zap.Logger) error) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return fn(cfg, log)
}

func runMigrateUp(cmd *cobra.Command, args []string) error {
	return withMigrationConfig(func(cfg *config.Config, log *zap.Logger) error {
		if !cfg.IsPostgres() {
			// SQLite schemas come from the models.
			db, err := database.Open(cfg, clock.Real(), log)
			if err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			if sqlDB, err := db.DB(); err == nil {
				sqlDB.Close()
			}
			log.Info("migrate up: ok", zap.String("driver", cfg.DB.Driver))
			return nil
		}
		if err := database.MigrateUp(cfg.DatabaseURL()); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		log.Info("migrate up: ok", zap.String("driver", cfg.DB.Driver))
		return nil
	})
}
