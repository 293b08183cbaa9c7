package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	_ "modernc.org/sqlite" // pure Go driver registered as "sqlite"

	"github.com/psds-microservice/contact-service/internal/clock"
	"github.com/psds-microservice/contact-service/internal/config"
	"github.com/psds-microservice/contact-service/internal/logger"
	"github.com/psds-microservice/contact-service/internal/model"
)

const (
	maxOpenConns    = 25
	maxIdleConns    = 5
	connMaxLifetime = 5 * time.Minute
	connMaxIdleTime = 10 * time.Minute
	pingTimeout     = 5 * time.Second
)

// Open connects to the configured store. Timestamps GORM fills in come from clk.
func Open(cfg *config.Config, clk clock.Clock, log *zap.Logger) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.DB.Driver {
	case config.DriverSQLite:
		sqlDB, err := sql.Open("sqlite", cfg.DSN())
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		dialector = SQLiteDialector(sqlDB)
	default:
		dialector = postgres.Open(cfg.DSN())
	}

	db, err := gorm.Open(dialector, GormConfig(clk, log))
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("underlying sql.DB: %w", err)
	}
	if cfg.IsPostgres() {
		sqlDB.SetMaxOpenConns(maxOpenConns)
		sqlDB.SetMaxIdleConns(maxIdleConns)
		sqlDB.SetConnMaxLifetime(connMaxLifetime)
		sqlDB.SetConnMaxIdleTime(connMaxIdleTime)
	} else {
		// SQLite serializes writers; one connection keeps transactions from
		// tripping over SQLITE_BUSY.
		sqlDB.SetMaxOpenConns(1)
	}

	if err := Ping(context.Background(), db); err != nil {
		return nil, err
	}
	if !cfg.IsPostgres() {
		if err := AutoMigrate(db); err != nil {
			return nil, err
		}
	}
	return db, nil
}

func SQLiteDialector(conn *sql.DB) gorm.Dialector {
	return sqlite.Dialector{DriverName: "sqlite", Conn: conn}
}

func GormConfig(clk clock.Clock, log *zap.Logger) *gorm.Config {
	return &gorm.Config{
		Logger:         logger.NewGormLogger(log),
		NowFunc:        clk.Now,
		TranslateError: true,
	}
}

// AutoMigrate creates the schema from the models. Postgres deployments use
// the versioned migrations instead.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&model.User{}, &model.Contact{}); err != nil {
		return fmt.Errorf("automigrate: %w", err)
	}
	return nil
}

// Ping checks the connection with a bounded timeout.
func Ping(ctx context.Context, db *gorm.DB) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// OpenMemory opens a private in-memory SQLite database with the schema
// applied.
func OpenMemory(clk clock.Clock, log *zap.Logger) (*gorm.DB, error) {
	sqlDB, err := sql.Open("sqlite", "file::memory:")
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	db, err := gorm.Open(SQLiteDialector(sqlDB), GormConfig(clk, log))
	if err != nil {
		return nil, err
	}
	if err := AutoMigrate(db); err != nil {
		return nil, err
	}
	return db, nil
}
