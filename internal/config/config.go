// Package config loads the environment configuration for both binaries.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the full environment surface of the pipeline.
type Config struct {
	// HTTP API
	HTTPPort        string
	CORSOrigins     []string
	ShutdownTimeout time.Duration

	// Backing services
	DatabaseURL string
	RedisAddr   string

	// Queue
	QueueName  string
	PopTimeout time.Duration

	// Submission
	AllowedTemplates map[string]bool

	// Auth: token -> owner id
	AuthTokens map[string]string

	// Worker / renderer
	WorkerConcurrency int
	RenderBin         string
	RenderArgs        []string
	RenderTimeout     time.Duration
	RenderKillGrace   time.Duration
	ScratchDir        string

	// Storage
	StorageProvider    string
	StorageLocalRoot   string
	StorageBucket      string
	GDriveClientID     string
	GDriveClientSecret string
	GDriveRefreshToken string
	GDriveFolderID     string

	// Notification
	WebhookTimeout time.Duration

	// Logging
	LogLevel  string
	LogFormat string
}

// Load reads configuration from the environment. A .env file in the working
// directory is merged in first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		HTTPPort:        env("HTTP_PORT", "8080"),
		CORSOrigins:     envCSV("CORS_ALLOWED_ORIGINS", nil),
		ShutdownTimeout: envDuration("SHUTDOWN_TIMEOUT", 30*time.Second),

		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisAddr:   os.Getenv("REDIS_ADDR"),

		QueueName:  env("QUEUE_NAME", "renderflow:jobs"),
		PopTimeout: envDuration("QUEUE_POP_TIMEOUT", 2*time.Second),

		AllowedTemplates: envSet("ALLOWED_TEMPLATES", []string{"slideshow", "walkthrough", "teaser"}),
		AuthTokens:       envPairs("AUTH_TOKENS"),

		WorkerConcurrency: envInt("WORKER_CONCURRENCY", 2),
		RenderBin:         env("RENDER_BIN", "renderer"),
		RenderArgs:        envCSV("RENDER_ARGS", nil),
		RenderTimeout:     envDuration("RENDER_TIMEOUT", 30*time.Minute),
		RenderKillGrace:   envDuration("RENDER_KILL_GRACE", 5*time.Second),
		ScratchDir:        env("SCRATCH_DIR", os.TempDir()),

		StorageProvider:    env("STORAGE_PROVIDER", "localfs"),
		StorageLocalRoot:   os.Getenv("STORAGE_LOCAL_ROOT"),
		StorageBucket:      env("STORAGE_BUCKET", "render-artifacts"),
		GDriveClientID:     os.Getenv("GDRIVE_CLIENT_ID"),
		GDriveClientSecret: os.Getenv("GDRIVE_CLIENT_SECRET"),
		GDriveRefreshToken: os.Getenv("GDRIVE_REFRESH_TOKEN"),
		GDriveFolderID:     os.Getenv("GDRIVE_FOLDER_ID"),

		WebhookTimeout: envDuration("WEBHOOK_TIMEOUT", 10*time.Second),

		LogLevel:  env("LOG_LEVEL", "info"),
		LogFormat: env("LOG_FORMAT", "json"),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.RedisAddr == "" {
		return nil, fmt.Errorf("REDIS_ADDR is required")
	}
	if len(cfg.AllowedTemplates) == 0 {
		return nil, fmt.Errorf("ALLOWED_TEMPLATES must not be empty")
	}

	return cfg, nil
}

func env(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func envCSV(key string, def []string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}

func envSet(key string, def []string) map[string]bool {
	vals := envCSV(key, def)
	out := make(map[string]bool, len(vals))
	for _, v := range vals {
		out[v] = true
	}
	return out
}

// envPairs parses "a:1,b:2" into {"a":"1","b":"2"}.
func envPairs(key string) map[string]string {
	out := make(map[string]string)
	for _, pair := range envCSV(key, nil) {
		k, v, ok := strings.Cut(pair, ":")
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		if ok && k != "" && v != "" {
			out[k] = v
		}
	}
	return out
}
