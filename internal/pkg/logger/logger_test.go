package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name   string
		config Config
	}{
		{
			name: "default config",
			config: Config{
				Level:       "info",
				Format:      "json",
				ServiceName: "test-service",
			},
		},
		{
			name: "debug level",
			config: Config{
				Level:       "debug",
				Format:      "json",
				ServiceName: "test-service",
			},
		},
		{
			name: "text format",
			config: Config{
				Level:       "info",
				Format:      "text",
				ServiceName: "test-service",
			},
		},
		{
			name: "pretty format",
			config: Config{
				Level:       "info",
				Format:      "pretty",
				ServiceName: "test-service",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log := New(tt.config)
			if log == nil {
				t.Fatal("expected logger to be non-nil")
			}
		})
	}
}

func TestLoggerOutput(t *testing.T) {
	var buf bytes.Buffer

	log := New(Config{
		Level:       "debug",
		Format:      "json",
		Output:      &buf,
		ServiceName: "test-service",
	})

	log.Info("test message", "key", "value")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log output: %v", err)
	}

	if entry["msg"] != "test message" {
		t.Errorf("expected msg %q, got %q", "test message", entry["msg"])
	}
	if entry["key"] != "value" {
		t.Errorf("expected key %q, got %q", "value", entry["key"])
	}
	if entry["service"] != "test-service" {
		t.Errorf("expected service %q, got %q", "test-service", entry["service"])
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer

	log := New(Config{
		Level:  "warn",
		Format: "json",
		Output: &buf,
	})

	log.Debug("debug message")
	log.Info("info message")
	log.Warn("warn message")

	out := buf.String()
	if strings.Contains(out, "debug message") {
		t.Error("debug message should be filtered at warn level")
	}
	if strings.Contains(out, "info message") {
		t.Error("info message should be filtered at warn level")
	}
	if !strings.Contains(out, "warn message") {
		t.Error("warn message should be logged at warn level")
	}
}

func TestWithJobID(t *testing.T) {
	var buf bytes.Buffer

	log := New(Config{Level: "info", Format: "json", Output: &buf})
	log.WithJobID("job-123").Info("processing")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log output: %v", err)
	}
	if entry["job_id"] != "job-123" {
		t.Errorf("expected job_id %q, got %q", "job-123", entry["job_id"])
	}
}

func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer

	log := New(Config{Level: "info", Format: "json", Output: &buf})
	log.WithComponent("worker").Info("started")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log output: %v", err)
	}
	if entry["component"] != "worker" {
		t.Errorf("expected component %q, got %q", "worker", entry["component"])
	}
}

func TestFromContext(t *testing.T) {
	var buf bytes.Buffer

	log := New(Config{Level: "info", Format: "json", Output: &buf})

	ctx := context.Background()
	ctx = ContextWithRequestID(ctx, "req-1")
	ctx = ContextWithJobID(ctx, "job-9")

	log.FromContext(ctx).Info("enriched")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log output: %v", err)
	}
	if entry["request_id"] != "req-1" {
		t.Errorf("expected request_id %q, got %q", "req-1", entry["request_id"])
	}
	if entry["job_id"] != "job-9" {
		t.Errorf("expected job_id %q, got %q", "job-9", entry["job_id"])
	}
}

func TestFromContextEmpty(t *testing.T) {
	var buf bytes.Buffer

	log := New(Config{Level: "info", Format: "json", Output: &buf})
	log.FromContext(context.Background()).Info("plain")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log output: %v", err)
	}
	if _, ok := entry["request_id"]; ok {
		t.Error("request_id should be absent without context value")
	}
	if _, ok := entry["job_id"]; ok {
		t.Error("job_id should be absent without context value")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"debug", "DEBUG"},
		{"info", "INFO"},
		{"WARN", "WARN"},
		{"warning", "WARN"},
		{"error", "ERROR"},
		{"bogus", "INFO"},
		{"", "INFO"},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in).String(); got != tt.want {
			t.Errorf("parseLevel(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}
