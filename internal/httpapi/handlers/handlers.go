// Package handlers implements the HTTP endpoints of the submission API.
package handlers

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"renderflow/internal/jobs"
	"renderflow/internal/pkg/logger"
	"renderflow/internal/ports"
	"renderflow/internal/queue"
)

type Deps struct {
	Store     jobs.Store
	Queue     queue.Queue
	Providers map[string]ports.StorageProvider
	Pool      *pgxpool.Pool
	RDB       *redis.Client
	Log       *logger.Logger

	AllowedTemplates map[string]bool
}

type Handler struct {
	store     jobs.Store
	queue     queue.Queue
	providers map[string]ports.StorageProvider
	pool      *pgxpool.Pool
	rdb       *redis.Client
	log       *logger.Logger

	allowedTemplates map[string]bool
}

func New(d Deps) *Handler {
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}
	return &Handler{
		store:            d.Store,
		queue:            d.Queue,
		providers:        d.Providers,
		pool:             d.Pool,
		rdb:              d.RDB,
		log:              log,
		allowedTemplates: d.AllowedTemplates,
	}
}
