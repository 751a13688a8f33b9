// Package main is the entrypoint for the AutoML training worker. It consumes
// tasks from RabbitMQ, runs the training pipeline and reaps abandoned jobs.
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
	"github.com/kiranshivaraju/automl/internal/artifact"
	"github.com/kiranshivaraju/automl/internal/config"
	"github.com/kiranshivaraju/automl/internal/jobs"
	"github.com/kiranshivaraju/automl/internal/queue"
	"github.com/kiranshivaraju/automl/internal/store"
	"github.com/kiranshivaraju/automl/internal/telemetry"
	"github.com/kiranshivaraju/automl/internal/trainer"
	"github.com/kiranshivaraju/automl/internal/worker"
	"golang.org/x/sync/errgroup"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("worker failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("reading .env", "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.Server.LogLevel,
	})).With("worker_id", cfg.Worker.ID))
	slog.Info("config loaded",
		"trainer", cfg.Trainer.Provider,
		"concurrency", cfg.Worker.Concurrency,
		"lease_ttl", cfg.Worker.LeaseTTL,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Setup(ctx, cfg.Telemetry, "worker")
	if err != nil {
		return fmt.Errorf("setup telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			slog.Warn("telemetry shutdown", "error", err)
		}
	}()

	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	pgStore := store.NewPostgresStore(pool)
	slog.Info("database connected")

	tr, err := trainer.New(cfg.Trainer)
	if err != nil {
		return fmt.Errorf("create trainer: %w", err)
	}

	arts, err := artifact.New(ctx, cfg.Artifacts)
	if err != nil {
		return fmt.Errorf("create artifact store: %w", err)
	}

	rabbit, err := queue.Dial(cfg.RabbitMQ.URL, cfg.RabbitMQ.Queue)
	if err != nil {
		return fmt.Errorf("connect rabbitmq: %w", err)
	}
	defer rabbit.Close()
	slog.Info("rabbitmq connected", "queue", cfg.RabbitMQ.Queue)

	runner := jobs.NewRunner(pgStore, tr, arts, jobs.RunnerConfig{
		WorkerID:      cfg.Worker.ID,
		LeaseTTL:      cfg.Worker.LeaseTTL,
		StageMinDelay: cfg.Trainer.StageMinDelay,
		StageMaxDelay: cfg.Trainer.StageMaxDelay,
	})
	w := worker.New(runner)

	reaper := worker.NewReaper(pgStore, rabbit, worker.ReaperConfig{
		Interval:      cfg.Worker.ReapInterval,
		MaxAttempts:   cfg.Worker.MaxAttempts,
		PendingAfter:  cfg.Worker.PendingRedelivery,
		Grace:         cfg.Worker.LeaseTTL,
		MaxPendingAge: cfg.Worker.MaxPendingAge,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return rabbit.Consume(gctx, cfg.Worker.ID, cfg.Worker.Concurrency, w.Handle)
	})
	g.Go(func() error {
		return reaper.Run(gctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("worker stopped: %w", err)
	}

	slog.Info("worker stopped gracefully")
	return nil
}
