// Package httpapi wires the submission API router.
package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"renderflow/internal/httpapi/handlers"
	"renderflow/internal/httpkit"
	"renderflow/internal/jobs"
	"renderflow/internal/pkg/logger"
	"renderflow/internal/pkg/middleware"
	"renderflow/internal/ports"
	"renderflow/internal/queue"
)

type Deps struct {
	Store jobs.Store
	Queue queue.Queue

	// Providers maps provider names to storage backends so artifact reads
	// follow the provider recorded on the job, including degraded localfs
	// fallbacks written while gdrive was unreachable.
	Providers map[string]ports.StorageProvider

	// Pool and RDB are only used by the deep health check; nil skips them.
	Pool *pgxpool.Pool
	RDB  *redis.Client

	Log *logger.Logger

	AllowedTemplates map[string]bool
	AuthTokens       map[string]string
	CORSOrigins      []string
}

func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logging(d.Log))
	r.Use(middleware.Recovery(d.Log))

	origins := d.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173"}
	}
	r.Use(httpkit.CORS(httpkit.CORSOptions{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: false,
		MaxAgeSeconds:    600,
	}))

	h := handlers.New(handlers.Deps{
		Store:            d.Store,
		Queue:            d.Queue,
		Providers:        d.Providers,
		Pool:             d.Pool,
		RDB:              d.RDB,
		Log:              d.Log,
		AllowedTemplates: d.AllowedTemplates,
	})

	r.Get("/health", h.Health)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(d.AuthTokens))

		r.Post("/renders", h.PostRender)
		r.Get("/renders", h.ListRenders)
		r.Get("/renders/{jobId}", h.GetRender)
		r.Get("/renders/{jobId}/progress", h.GetProgress)
		r.Post("/renders/{jobId}/cancel", h.CancelRender)
		r.Get("/renders/{jobId}/artifact", h.StreamArtifact)
	})

	return r
}
