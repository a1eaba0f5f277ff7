package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/pressly/goose/v3"

	"github.com/klabs/labelqueue/internal/database/postgres"
)

// RunMigrations applies all pending database migrations.
func RunMigrations(ctx context.Context, pool postgres.DatabaseConnection, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("starting database migrations")

	migrationsDir := filepath.Join("internal", "database", "migrations")

	db, err := createSQLDBFromPool(pool)
	if err != nil {
		logger.Error("failed to create sql.DB from pool", "error", err)
		return fmt.Errorf("failed to create SQL DB: %w", err)
	}
	defer db.Close()

	if err := goose.SetDialect("postgres"); err != nil {
		logger.Error("failed to set goose dialect", "error", err)
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	if err := goose.Up(db, migrationsDir); err != nil {
		logger.Error("failed to run migrations", "error", err)
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	logger.Info("database migrations completed")
	return nil
}

// RunMigrationsDown rolls migrations back by the given number of steps.
func RunMigrationsDown(ctx context.Context, pool postgres.DatabaseConnection, steps int, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("rolling back database migrations", "steps", steps)

	migrationsDir := filepath.Join("internal", "database", "migrations")

	db, err := createSQLDBFromPool(pool)
	if err != nil {
		logger.Error("failed to create sql.DB from pool", "error", err)
		return fmt.Errorf("failed to create SQL DB: %w", err)
	}
	defer db.Close()

	if err := goose.SetDialect("postgres"); err != nil {
		logger.Error("failed to set goose dialect", "error", err)
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	current, err := goose.GetDBVersion(db)
	if err != nil {
		logger.Error("failed to read migration version", "error", err)
		return fmt.Errorf("failed to read migration version: %w", err)
	}
	target := current - int64(steps)
	if target < 0 {
		target = 0
	}

	if err := goose.DownTo(db, migrationsDir, target); err != nil {
		logger.Error("failed to roll back migrations", "error", err, "steps", steps)
		return fmt.Errorf("failed to rollback migrations: %w", err)
	}

	logger.Info("database migration rollback completed", "steps", steps)
	return nil
}

// GetMigrationStatus prints the current migration status.
func GetMigrationStatus(ctx context.Context, pool postgres.DatabaseConnection, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	migrationsDir := filepath.Join("internal", "database", "migrations")

	db, err := createSQLDBFromPool(pool)
	if err != nil {
		logger.Error("failed to create sql.DB from pool", "error", err)
		return fmt.Errorf("failed to create SQL DB: %w", err)
	}
	defer db.Close()

	if err := goose.SetDialect("postgres"); err != nil {
		logger.Error("failed to set goose dialect", "error", err)
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	if err := goose.Status(db, migrationsDir); err != nil {
		logger.Error("failed to get migration status", "error", err)
		return fmt.Errorf("failed to get migration status: %w", err)
	}

	return nil
}

// createSQLDBFromPool builds a database/sql handle from the pgx pool for goose's sake, since
// goose drives migrations through database/sql rather than pgx's native interface.
func createSQLDBFromPool(pool postgres.DatabaseConnection) (*sql.DB, error) {
	if pgPool, ok := pool.(*postgres.PostgresPool); ok {
		config := pgPool.GetConfig()

		db, err := sql.Open("pgx", config.DSN())
		if err != nil {
			return nil, fmt.Errorf("failed to open SQL DB: %w", err)
		}

		db.SetMaxOpenConns(int(config.MaxConns))
		db.SetMaxIdleConns(int(config.MinConns))
		db.SetConnMaxLifetime(config.MaxConnLifetime)
		db.SetConnMaxIdleTime(config.MaxConnIdleTime)

		return db, nil
	}

	return nil, fmt.Errorf("unsupported pool type")
}
