package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"renderflow/internal/config"
	"renderflow/internal/httpapi"
	"renderflow/internal/jobs"
	"renderflow/internal/pkg/logger"
	"renderflow/internal/pkg/shutdown"
	"renderflow/internal/ports"
	"renderflow/internal/queue"
	"renderflow/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.NewDefault().LogFatal("invalid configuration", err)
	}

	log := logger.New(logger.Config{
		Level:       cfg.LogLevel,
		Format:      cfg.LogFormat,
		ServiceName: "renderflow-api",
	})

	log.Info("starting renderflow API", "version", "0.1.0")

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

	providers, err := buildProviders(ctx, cfg)
	if err != nil {
		log.LogFatal("failed to initialize storage providers", err)
	}

	router := httpapi.NewRouter(httpapi.Deps{
		Store:            jobs.NewPostgres(pool),
		Queue:            queue.NewRedis(rdb, cfg.QueueName, cfg.PopTimeout),
		Providers:        providers,
		Pool:             pool,
		RDB:              rdb,
		Log:              log,
		AllowedTemplates: cfg.AllowedTemplates,
		AuthTokens:       cfg.AuthTokens,
		CORSOrigins:      cfg.CORSOrigins,
	})

	server := &http.Server{
		Addr:         "0.0.0.0:" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	shutdownMgr.Register("http-server", func(ctx context.Context) error {
		log.Info("shutting down HTTP server")
		return server.Shutdown(ctx)
	})

	go func() {
		log.Info("HTTP server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.LogFatal("HTTP server failed", err)
		}
	}()

	shutdownMgr.Wait()
}

// buildProviders returns every storage backend the API can stream artifacts
// from, keyed by provider name. The localfs backend is always present when a
// local root is configured, because degraded publishes land there even when
// gdrive is the durable backend.
func buildProviders(ctx context.Context, cfg *config.Config) (map[string]ports.StorageProvider, error) {
	providers := make(map[string]ports.StorageProvider)

	if cfg.StorageLocalRoot != "" {
		sp, err := storage.NewProvider(ctx, storage.Config{
			Provider:  "localfs",
			LocalRoot: cfg.StorageLocalRoot,
		})
		if err != nil {
			return nil, err
		}
		providers[sp.Provider()] = sp
	}

	if cfg.StorageProvider != "" && cfg.StorageProvider != "localfs" {
		sp, err := storage.NewProvider(ctx, storage.Config{
			Provider:           cfg.StorageProvider,
			GDriveClientID:     cfg.GDriveClientID,
			GDriveClientSecret: cfg.GDriveClientSecret,
			GDriveRefreshToken: cfg.GDriveRefreshToken,
			GDriveFolderID:     cfg.GDriveFolderID,
		})
		if err != nil {
			return nil, err
		}
		providers[sp.Provider()] = sp
	}

	if len(providers) == 0 {
		return nil, fmt.Errorf("no storage provider configured")
	}
	return providers, nil
}
