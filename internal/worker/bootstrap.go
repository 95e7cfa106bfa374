package worker

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"

	"github.com/Kamyshanskii/pdf-engine/config"
	"github.com/Kamyshanskii/pdf-engine/internal/extract"
	"github.com/Kamyshanskii/pdf-engine/internal/latex"
	"github.com/Kamyshanskii/pdf-engine/internal/liveness"
	"github.com/Kamyshanskii/pdf-engine/internal/queue/streams"
	"github.com/Kamyshanskii/pdf-engine/internal/rewrite"
	"github.com/Kamyshanskii/pdf-engine/internal/store"
	"github.com/Kamyshanskii/pdf-engine/internal/version"
)

// Run wires the worker's dependencies from config and blocks consuming jobs
// until the context is cancelled.
func Run(ctx context.Context, cfg *config.Config, logger *log.Logger) error {
	if err := cfg.Storage.Postgres.Validate(); err != nil {
		return fmt.Errorf("worker config: %w", err)
	}
	if err := cfg.Storage.Redis.Validate(); err != nil {
		return fmt.Errorf("worker config: %w", err)
	}

	st, err := store.NewWithDSN(ctx, cfg.Storage.Postgres.DSN())
	if err != nil {
		return fmt.Errorf("worker store init: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Storage.Redis.Addr(),
		Password: cfg.Storage.Redis.Password,
		DB:       cfg.Storage.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("worker redis ping: %w", err)
	}
	defer func() { _ = rdb.Close() }()

	if err := streams.EnsureGroup(ctx, rdb, cfg.Worker.Stream, cfg.Worker.Group); err != nil {
		return fmt.Errorf("worker ensure group: %w", err)
	}

	for _, dir := range []string{cfg.Storage.GeneratedDir, cfg.Storage.ScratchDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("worker storage dir %s: %w", dir, err)
		}
	}

	consumerName := fmt.Sprintf("worker-%s", uuid.NewString()[:8])
	consumer := streams.NewConsumer(rdb, cfg.Worker.Group, consumerName)

	rewriter := rewrite.New(cfg.LLM, logger)
	compiler := latex.New(cfg.Latex.Engine, cfg.Latex.MaxRuns, cfg.Storage.ScratchDir, logger)
	versions := version.NewManager(st, cfg.Storage.GeneratedDir, logger)

	reaper := liveness.NewReaper(liveness.StoreSessions{Store: st}, versions, logger)
	sched := &liveness.Scheduler{Reaper: reaper, Rdb: rdb, Spec: cfg.Worker.ReapSchedule, Logger: logger}
	go sched.Run(ctx)

	meter := otel.Meter("worker")
	processor := NewProcessor(logger, st, consumer, rewriter, compiler, versions, extract.Text, cfg.Worker.Stream, meter, nil)
	return processor.Start(ctx)
}
