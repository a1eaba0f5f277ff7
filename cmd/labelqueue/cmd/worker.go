package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/klabs/labelqueue/internal/bootstrap"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run only the background workers (timeout sweep, agreement recompute, retention)",
	Long: `worker runs the timeout sweep, agreement recompute, and retention workers without
serving HTTP traffic. Run this as a separate deployment from "serve" to scale worker and API
capacity independently.`,
	RunE: runWorker,
}

func runWorker(_ *cobra.Command, _ []string) error {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx := context.Background()
	rt, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("bootstrap runtime: %w", err)
	}
	defer rt.Close()

	workerCtx, stopWorkers := context.WithCancel(ctx)
	rt.StartWorkers(workerCtx)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	logger.Info("workers started")

	<-quit
	logger.Info("shutting down workers...")
	stopWorkers()
	rt.StopWorkers()
	return nil
}
