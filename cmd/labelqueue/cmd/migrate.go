package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/klabs/labelqueue/internal/database"
	"github.com/klabs/labelqueue/internal/database/postgres"
)

var (
	migrateDown  bool
	migrateSteps int
	migrateShow  bool
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply or inspect the Postgres schema migrations",
	RunE:  runMigrate,
}

func init() {
	migrateCmd.Flags().BoolVar(&migrateDown, "down", false, "Roll back migrations instead of applying them")
	migrateCmd.Flags().IntVar(&migrateSteps, "steps", 0, "Number of migrations to roll back (with --down)")
	migrateCmd.Flags().BoolVar(&migrateShow, "status", false, "Print migration status and exit")
}

func runMigrate(_ *cobra.Command, _ []string) error {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg := postgres.LoadFromEnv()
	pool := postgres.NewPostgresPool(cfg, logger)

	ctx := context.Background()
	if err := pool.Connect(ctx); err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Disconnect(ctx)

	switch {
	case migrateShow:
		return database.GetMigrationStatus(ctx, pool, logger)
	case migrateDown:
		if err := database.RunMigrationsDown(ctx, pool, migrateSteps, logger); err != nil {
			return fmt.Errorf("roll back migrations: %w", err)
		}
		fmt.Println("migrations rolled back")
		return nil
	default:
		if err := database.RunMigrations(ctx, pool, logger); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
		fmt.Println("migrations applied")
		return nil
	}
}
