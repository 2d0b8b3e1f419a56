package render

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
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

// writeScript writes an executable fake renderer invoked as
// <script> <composition> <props> <output>.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "renderer.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func newTestInvoker(t *testing.T, store jobs.Store, bin string) *Invoker {
	t.Helper()
	return NewInvoker(store, NewFrameParser(), testLogger(), Config{
		Bin:             bin,
		ScratchDir:      t.TempDir(),
		Timeout:         30 * time.Second,
		KillGrace:       time.Second,
		PollInterval:    20 * time.Millisecond,
		PersistInterval: 20 * time.Millisecond,
	})
}

func queuedJob(t *testing.T, store jobs.Store, id string) *jobs.Job {
	t.Helper()
	job := &jobs.Job{
		ID:            id,
		OwnerID:       "owner-1",
		TemplateID:    "slideshow",
		CompositionID: "Intro",
		InputProps:    json.RawMessage(`{"title":"Hi"}`),
		Status:        jobs.StatusQueued,
		CreatedAt:     time.Now().UTC(),
	}
	require.NoError(t, store.Create(context.Background(), job))
	return job
}

func TestRenderSuccess(t *testing.T) {
	ctx := context.Background()
	store := jobs.NewMemory()
	job := queuedJob(t, store, "job-ok")

	script := writeScript(t, `
echo "frame 10/100"
echo "frame 50/100 (eta 2s)"
echo "frame 100/100"
echo rendered > "$3"
exit 0
`)
	iv := newTestInvoker(t, store, script)

	res, err := iv.Render(ctx, job)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRendered, res.Outcome)
	assert.True(t, res.Started)
	assert.FileExists(t, res.OutputPath)

	got, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusRendering, got.Status)
	assert.InDelta(t, 1.0, got.Progress, 0.001)
	require.NotNil(t, got.TotalFrames)
	assert.Equal(t, 100, *got.TotalFrames)
	assert.NotNil(t, got.StartedAt)

	// Props must have been handed to the process verbatim.
	props, err := os.ReadFile(filepath.Join(filepath.Dir(res.OutputPath), "props.json"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"title":"Hi"}`, string(props))
}

func TestRenderFailureCapturesStderr(t *testing.T) {
	ctx := context.Background()
	store := jobs.NewMemory()
	job := queuedJob(t, store, "job-fail")

	script := writeScript(t, `
echo "missing asset" >&2
exit 1
`)
	iv := newTestInvoker(t, store, script)

	res, err := iv.Render(ctx, job)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.True(t, res.Started)

	got, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusFailed, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Contains(t, *got.ErrorMessage, "missing asset")
	require.NotNil(t, got.ErrorDetail)
	assert.Contains(t, *got.ErrorDetail, "exit status 1")
	assert.Nil(t, got.Output)
}

func TestRenderNoOutputFileFails(t *testing.T) {
	ctx := context.Background()
	store := jobs.NewMemory()
	job := queuedJob(t, store, "job-noout")

	script := writeScript(t, `exit 0`)
	iv := newTestInvoker(t, store, script)

	res, err := iv.Render(ctx, job)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, res.Outcome)

	got, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusFailed, got.Status)
}

func TestRenderCanceledMidFlight(t *testing.T) {
	ctx := context.Background()
	store := jobs.NewMemory()
	job := queuedJob(t, store, "job-cancel")

	// Emits one progress line, then stalls until killed.
	script := writeScript(t, `
echo "frame 1/100"
sleep 30
`)
	iv := newTestInvoker(t, store, script)

	go func() {
		// Give the process time to start, then cancel externally.
		time.Sleep(150 * time.Millisecond)
		_, _ = store.Cancel(context.Background(), job.ID)
	}()

	start := time.Now()
	res, err := iv.Render(ctx, job)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCanceled, res.Outcome)
	assert.True(t, res.Started)
	assert.Less(t, time.Since(start), 10*time.Second, "cancel should not wait for the sleep")

	got, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusCanceled, got.Status)
}

func TestRenderDropsUnclaimableJob(t *testing.T) {
	ctx := context.Background()
	store := jobs.NewMemory()
	job := queuedJob(t, store, "job-raced")

	// Cancel lands between dequeue and claim.
	_, err := store.Cancel(ctx, job.ID)
	require.NoError(t, err)

	iv := newTestInvoker(t, store, "/bin/false")
	res, err := iv.Render(ctx, job)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCanceled, res.Outcome)
	assert.False(t, res.Started, "no work should have occurred")
}

func TestCleanup(t *testing.T) {
	ctx := context.Background()
	store := jobs.NewMemory()
	job := queuedJob(t, store, "job-clean")

	script := writeScript(t, `
echo done > "$3"
exit 0
`)
	iv := newTestInvoker(t, store, script)

	res, err := iv.Render(ctx, job)
	require.NoError(t, err)
	require.Equal(t, OutcomeRendered, res.Outcome)

	dir := filepath.Dir(res.OutputPath)
	iv.Cleanup(job.ID)
	_, statErr := os.Stat(dir)
	assert.True(t, os.IsNotExist(statErr), "scratch dir should be removed")
}
