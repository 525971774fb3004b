package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"spese/internal/amqp"
	"spese/internal/config"
	"spese/internal/log"
	"spese/internal/metrics"
	"spese/internal/storage"
	"spese/internal/worker"
)

// Soft-deleted rows older than the undo window plus this grace can no longer
// be restored by anyone, so the sweep may purge them.
const staleGrace = 5 * time.Minute

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	cfg := config.Load()

	logger := log.New(log.Config{
		Level:     log.ParseLevel(cfg.LogLevel),
		Component: log.ComponentWorker,
		Output:    os.Stdout,
	})
	slog.SetDefault(logger)

	logger.Info("Starting spese-worker")

	if err := errors.Join(cfg.Validate(), cfg.RequireAMQP()); err != nil {
		logger.Error("Configuration validation failed", log.FieldError, err)
		os.Exit(1)
	}
	if cfg.DataBackend != config.BackendSQLite {
		logger.Error("The worker purges from SQLite; set DATA_BACKEND=sqlite", "backend", cfg.DataBackend)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Worker stopped with error", log.FieldError, err)
		os.Exit(1)
	}
	logger.Info("Worker shutdown complete")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath, logger)
	if err != nil {
		return fmt.Errorf("initialize SQLite repository at %s: %w", cfg.SQLiteDBPath, err)
	}
	defer repo.Close()

	client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
	if err != nil {
		return fmt.Errorf("initialize AMQP client: %w", err)
	}
	defer client.Close()

	purger := worker.NewPurgeWorker(repo, cfg.PurgeBatchSize, metrics.New(nil), logger)
	staleAfter := cfg.UndoTimeout + staleGrace

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Catch up on deletions whose messages were lost while we were down.
	if _, err := purger.SweepStale(ctx, staleAfter); err != nil {
		logger.Error("Startup sweep failed", log.FieldError, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return client.ConsumeExpenseDeletes(gctx, purger.HandleDeleteMessage)
	})
	g.Go(func() error {
		ticker := time.NewTicker(cfg.PurgeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case <-ticker.C:
				if _, err := purger.SweepStale(gctx, staleAfter); err != nil {
					logger.Error("Periodic sweep failed", log.FieldError, err)
				}
			}
		}
	})

	return g.Wait()
}
