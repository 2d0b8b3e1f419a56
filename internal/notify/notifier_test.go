package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"renderflow/internal/jobs"
	"renderflow/internal/pkg/logger"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Config{Level: "error", Format: "json", Output: io.Discard})
}

func terminalJob(t *testing.T, store jobs.Store, id string, webhook *string, terminal jobs.Status) *jobs.Job {
	t.Helper()
	ctx := context.Background()

	job := &jobs.Job{
		ID:            id,
		OwnerID:       "owner-1",
		TemplateID:    "slideshow",
		CompositionID: "Intro",
		Status:        jobs.StatusQueued,
		WebhookURL:    webhook,
		CreatedAt:     time.Now().UTC(),
	}
	if webhook != nil {
		job.WebhookDelivery = jobs.WebhookPending
	}
	require.NoError(t, store.Create(ctx, job))

	switch terminal {
	case jobs.StatusCompleted:
		ok, err := store.MarkRendering(ctx, id)
		require.NoError(t, err)
		require.True(t, ok)
		ok, err = store.MarkUploading(ctx, id)
		require.NoError(t, err)
		require.True(t, ok)
		require.NoError(t, store.Complete(ctx, id, jobs.OutputRef{Key: "k", URL: "https://example.com/out.mp4"}))
	case jobs.StatusFailed:
		ok, err := store.MarkRendering(ctx, id)
		require.NoError(t, err)
		require.True(t, ok)
		require.NoError(t, store.Fail(ctx, id, "missing asset", "exit status 1"))
	case jobs.StatusCanceled:
		_, err := store.Cancel(ctx, id)
		require.NoError(t, err)
	}

	got, err := store.Get(ctx, id)
	require.NoError(t, err)
	return got
}

func TestDeliverSuccess(t *testing.T) {
	ctx := context.Background()
	store := jobs.NewMemory()

	var attempts atomic.Int32
	var received Payload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	url := srv.URL
	job := terminalJob(t, store, "job-1", &url, jobs.StatusCompleted)

	n := New(store, time.Second, testLogger())
	n.Deliver(ctx, job)

	assert.Equal(t, int32(1), attempts.Load())
	assert.Equal(t, "job-1", received.ID)
	assert.Equal(t, "completed", received.Status)
	require.NotNil(t, received.OutputURL)
	assert.Equal(t, "https://example.com/out.mp4", *received.OutputURL)
	assert.Nil(t, received.ErrorMessage)
	assert.Equal(t, 1.0, received.Progress)

	got, err := store.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, jobs.WebhookSent, got.WebhookDelivery)
}

func TestDeliverFailedJobPayload(t *testing.T) {
	ctx := context.Background()
	store := jobs.NewMemory()

	var received Payload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	url := srv.URL
	job := terminalJob(t, store, "job-2", &url, jobs.StatusFailed)

	New(store, time.Second, testLogger()).Deliver(ctx, job)

	assert.Equal(t, "failed", received.Status)
	require.NotNil(t, received.ErrorMessage)
	assert.Contains(t, *received.ErrorMessage, "missing asset")
	assert.Nil(t, received.OutputURL)
}

func TestDeliverNon2xxMarksFailed(t *testing.T) {
	ctx := context.Background()
	store := jobs.NewMemory()

	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	url := srv.URL
	job := terminalJob(t, store, "job-3", &url, jobs.StatusCompleted)

	New(store, time.Second, testLogger()).Deliver(ctx, job)

	// Exactly one attempt; no retry in this design.
	assert.Equal(t, int32(1), attempts.Load())

	got, err := store.Get(ctx, "job-3")
	require.NoError(t, err)
	assert.Equal(t, jobs.WebhookFailed, got.WebhookDelivery)
	assert.Equal(t, jobs.StatusCompleted, got.Status, "job status unaffected by webhook failure")
}

func TestDeliverUnreachableMarksFailed(t *testing.T) {
	ctx := context.Background()
	store := jobs.NewMemory()

	url := "http://127.0.0.1:1/hook"
	job := terminalJob(t, store, "job-4", &url, jobs.StatusCanceled)

	New(store, 200*time.Millisecond, testLogger()).Deliver(ctx, job)

	got, err := store.Get(ctx, "job-4")
	require.NoError(t, err)
	assert.Equal(t, jobs.WebhookFailed, got.WebhookDelivery)
}

func TestDeliverSkipsWithoutWebhook(t *testing.T) {
	ctx := context.Background()
	store := jobs.NewMemory()

	job := terminalJob(t, store, "job-5", nil, jobs.StatusCompleted)
	New(store, time.Second, testLogger()).Deliver(ctx, job)

	got, err := store.Get(ctx, "job-5")
	require.NoError(t, err)
	assert.Empty(t, got.WebhookDelivery)
}

func TestDeliverSkipsNonTerminal(t *testing.T) {
	ctx := context.Background()
	store := jobs.NewMemory()

	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
	}))
	defer srv.Close()

	url := srv.URL
	job := &jobs.Job{
		ID: "job-6", OwnerID: "o", TemplateID: "slideshow", CompositionID: "Intro",
		Status: jobs.StatusRendering, WebhookURL: &url, CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.Create(ctx, job))

	New(store, time.Second, testLogger()).Deliver(ctx, job)
	assert.Equal(t, int32(0), attempts.Load())
}
