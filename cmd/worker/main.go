package main

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"renderflow/internal/config"
	"renderflow/internal/jobs"
	"renderflow/internal/notify"
	"renderflow/internal/pkg/logger"
	"renderflow/internal/pkg/shutdown"
	"renderflow/internal/ports"
	"renderflow/internal/publish"
	"renderflow/internal/queue"
	"renderflow/internal/render"
	"renderflow/internal/storage"
	"renderflow/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.NewDefault().LogFatal("invalid configuration", err)
	}

	log := logger.New(logger.Config{
		Level:       cfg.LogLevel,
		Format:      cfg.LogFormat,
		ServiceName: "renderflow-worker",
	})

	log.Info("starting renderflow worker", "version", "0.1.0", "concurrency", cfg.WorkerConcurrency)

	ctx := context.Background()
	shutdownMgr := shutdown.NewManager(log, cfg.ShutdownTimeout)

	log.Info("connecting to PostgreSQL")
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.LogFatal("failed to connect to PostgreSQL", err)
	}
	shutdownMgr.Register("postgres", func(ctx context.Context) error {
		pool.Close()
		return nil
	})
	if err := pool.Ping(ctx); err != nil {
		log.LogFatal("failed to ping PostgreSQL", err)
	}
	log.Info("PostgreSQL connected")

	log.Info("connecting to Redis")
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	shutdownMgr.Register("redis", func(ctx context.Context) error {
		return rdb.Close()
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.LogFatal("failed to ping Redis", err)
	}
	log.Info("Redis connected")

	durable, fallback, err := buildStorage(ctx, cfg)
	if err != nil {
		log.LogFatal("failed to initialize storage", err)
	}
	log.Info("storage initialized", "durable", durable.Provider(), "has_fallback", fallback != nil)

	store := jobs.NewPostgres(pool)

	invoker := render.NewInvoker(store, render.NewFrameParser(), log, render.Config{
		Bin:        cfg.RenderBin,
		ExtraArgs:  cfg.RenderArgs,
		ScratchDir: cfg.ScratchDir,
		Timeout:    cfg.RenderTimeout,
		KillGrace:  cfg.RenderKillGrace,
	})

	pl := worker.NewPool(worker.Deps{
		Store:       store,
		Queue:       queue.NewRedis(rdb, cfg.QueueName, cfg.PopTimeout),
		Invoker:     invoker,
		Publisher:   publish.New(durable, fallback, cfg.StorageBucket, log),
		Notifier:    notify.New(store, cfg.WebhookTimeout, log),
		Log:         log,
		Concurrency: cfg.WorkerConcurrency,
	})

	runCtx, cancel := context.WithCancel(ctx)
	runDone := make(chan struct{})
	shutdownMgr.Register("worker-pool", func(ctx context.Context) error {
		cancel()
		select {
		case <-runDone:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	go func() {
		defer close(runDone)
		if err := pl.Run(runCtx); err != nil && err != context.Canceled {
			log.Error("worker pool stopped", "error", err)
		}
	}()

	shutdownMgr.Wait()
}

// buildStorage returns the durable backend plus the localfs fallback used for
// degraded publishes. When localfs is itself the durable backend there is no
// separate fallback.
func buildStorage(ctx context.Context, cfg *config.Config) (durable, fallback ports.StorageProvider, err error) {
	durable, err = storage.NewProvider(ctx, storage.Config{
		Provider:           cfg.StorageProvider,
		LocalRoot:          cfg.StorageLocalRoot,
		GDriveClientID:     cfg.GDriveClientID,
		GDriveClientSecret: cfg.GDriveClientSecret,
		GDriveRefreshToken: cfg.GDriveRefreshToken,
		GDriveFolderID:     cfg.GDriveFolderID,
	})
	if err != nil {
		return nil, nil, err
	}

	if durable.Provider() != "localfs" && cfg.StorageLocalRoot != "" {
		fallback, err = storage.NewProvider(ctx, storage.Config{
			Provider:  "localfs",
			LocalRoot: cfg.StorageLocalRoot,
		})
		if err != nil {
			return nil, nil, err
		}
	}

	return durable, fallback, nil
}
