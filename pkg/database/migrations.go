package database

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratedb "github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"

	"github.com/ekaya-inc/edp-engine/migrations"
)

// RunMigrations applies the embedded PostgreSQL migrations and closes db.
// It is idempotent and safe to call multiple times - only pending migrations will be executed.
func RunMigrations(db *sql.DB, logger *zap.Logger) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		db.Close()
		return fmt.Errorf("failed to create migration driver: %w", err)
	}
	defer func() {
		if err := driver.Close(); err != nil {
			logger.Warn("Failed to close migration database", zap.Error(err))
		}
	}()
	return migrateUp("postgres", driver, logger)
}

// RunSQLiteMigrations applies the embedded SQLite migrations. db stays open.
func RunSQLiteMigrations(db *sql.DB, logger *zap.Logger) error {
	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}
	return migrateUp("sqlite", driver, logger)
}

func migrateUp(dialect string, driver migratedb.Driver, logger *zap.Logger) error {
	src, err := iofs.New(migrations.FS, dialect)
	if err != nil {
		return fmt.Errorf("failed to open embedded migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, dialect, driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	// m.Close would also close db, so only the source is released.
	defer func() {
		if err := src.Close(); err != nil {
			logger.Warn("Failed to close migration source", zap.Error(err))
		}
	}()

	err = m.Up()
	if errors.Is(err, migrate.ErrNoChange) {
		logger.Info("No migrations to apply (database up-to-date)", zap.String("dialect", dialect))
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	newVersion, _, _ := m.Version()
	logger.Info("Applied migrations successfully",
		zap.String("dialect", dialect),
		zap.Uint("version", newVersion))
	return nil
}
