package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"spese/internal/amqp"
	"spese/internal/cache"
	"spese/internal/config"
	apphttp "spese/internal/http"
	"spese/internal/log"
	"spese/internal/metrics"
	"spese/internal/services"
	"spese/internal/session"
	"spese/internal/storage"
	"spese/internal/storage/memory"
)

const (
	shutdownTimeout        = 30 * time.Second
	sessionCleanupInterval = time.Minute
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	cfg := config.Load()

	logger := log.New(log.Config{
		Level:     log.ParseLevel(cfg.LogLevel),
		Component: log.ComponentApp,
		Output:    os.Stdout,
	})
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", log.FieldError, err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("Server error", log.FieldError, err)
		os.Exit(1)
	}
	logger.Info("Server stopped gracefully")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	store, err := openStore(cfg, logger)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	opts := services.Options{
		UndoTimeout: cfg.UndoTimeout,
		Metrics:     m,
		Logger:      logger,
	}
	if cfg.AMQPURL != "" {
		client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
		if err != nil {
			// Deletes still work; rows just stay soft-deleted until the worker sweeps them.
			logger.Warn("AMQP unavailable, permanent deletes will not be published", log.FieldError, err)
		} else {
			defer client.Close()
			opts.Publisher = client
			logger.Info("AMQP publisher initialized", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
		}
	}

	svc := services.NewExpenseService(store, opts)
	defer func() {
		if err := svc.Close(); err != nil {
			logger.Error("Failed to close expense store", log.FieldError, err)
		}
	}()

	sessions := session.NewRegistry(cfg.MaxSessions, cfg.SessionTTL, svc.NewUndoCoordinator, m, logger)
	cacheManager := cache.NewManager(log.WithComponent(logger, log.ComponentSession))
	cacheManager.Register(sessions)
	cacheManager.StartCleanup(sessionCleanupInterval)

	srv := apphttp.NewServer(":"+cfg.Port, svc, sessions, apphttp.Options{
		Metrics:  m,
		Gatherer: reg,
		Logger:   logger,
	})

	// Configure server timeouts and limits. No write timeout: /undo/events streams.
	srv.ReadTimeout = 10 * time.Second
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16 // 64KB

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting spese server",
			"port", cfg.Port,
			"backend", cfg.DataBackend,
			"undo_timeout", cfg.UndoTimeout,
			log.FieldOperation, log.OpStartup)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen on port %s: %w", cfg.Port, err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutdown signal received", log.FieldOperation, log.OpShutdown)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		err := srv.Shutdown(shutdownCtx)
		cacheManager.Stop()
		// Pending deletions become permanent before the store closes.
		sessions.Close()
		if err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}

func openStore(cfg *config.Config, logger *slog.Logger) (storage.ExpenseStore, error) {
	switch cfg.DataBackend {
	case config.BackendSQLite:
		repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath, logger)
		if err != nil {
			return nil, fmt.Errorf("initialize SQLite repository at %s: %w", cfg.SQLiteDBPath, err)
		}
		logger.Info("Initialized SQLite backend", "path", cfg.SQLiteDBPath)
		return repo, nil
	default:
		logger.Info("Initialized memory backend")
		return memory.New(), nil
	}
}
