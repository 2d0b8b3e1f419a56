package publish

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"renderflow/internal/adapters/storage/localfs"
	"renderflow/internal/pkg/logger"
	"renderflow/internal/ports"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Config{Level: "error", Format: "json", Output: io.Discard})
}

// unreachableStore simulates a durable backend that is down.
type unreachableStore struct{}

func (unreachableStore) Provider() string { return "gdrive" }

func (unreachableStore) PutObject(ctx context.Context, in ports.PutObjectInput) (ports.PutObjectOutput, error) {
	return ports.PutObjectOutput{}, fmt.Errorf("dial tcp: connection refused")
}

func (unreachableStore) GetObject(ctx context.Context, objectKey string) (io.ReadCloser, string, int64, error) {
	return nil, "", 0, fmt.Errorf("unavailable")
}

func (unreachableStore) DeleteObject(ctx context.Context, objectKey string) error {
	return fmt.Errorf("unavailable")
}

func (unreachableStore) GetSignedURL(ctx context.Context, objectKey string, expiresIn time.Duration) (ports.SignedURLOutput, error) {
	return ports.SignedURLOutput{}, fmt.Errorf("unavailable")
}

func writeArtifact(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "output.mp4")
	require.NoError(t, os.WriteFile(path, []byte("fake video bytes"), 0o644))
	return path
}

func TestPublishToLocalFS(t *testing.T) {
	root := t.TempDir()
	lfs := localfs.New(root)
	pub := New(lfs, nil, "render-artifacts", testLogger())

	ref, err := pub.Publish(context.Background(), "job-1", writeArtifact(t))
	require.NoError(t, err)

	assert.Equal(t, "localfs", ref.Provider)
	assert.Equal(t, "render-artifacts", ref.Bucket)
	assert.Equal(t, "renders/job-1/output.mp4", ref.Key)
	assert.Equal(t, "/renders/job-1/artifact", ref.URL)
	assert.False(t, ref.Degraded)

	// Object must be readable back through the provider.
	rc, _, size, err := lfs.GetObject(context.Background(), ref.Key)
	require.NoError(t, err)
	defer rc.Close()
	assert.Equal(t, int64(len("fake video bytes")), size)
}

func TestPublishDegradedFallback(t *testing.T) {
	root := t.TempDir()
	lfs := localfs.New(root)
	pub := New(unreachableStore{}, lfs, "render-artifacts", testLogger())

	ref, err := pub.Publish(context.Background(), "job-2", writeArtifact(t))
	require.NoError(t, err)

	assert.True(t, ref.Degraded, "fallback reference must be flagged")
	assert.Equal(t, "localfs", ref.Provider)
	assert.Equal(t, "renders/job-2/output.mp4", ref.Key)
}

func TestPublishFailsWithoutFallback(t *testing.T) {
	pub := New(unreachableStore{}, nil, "render-artifacts", testLogger())

	_, err := pub.Publish(context.Background(), "job-3", writeArtifact(t))
	assert.Error(t, err)
}

func TestPublishMissingArtifact(t *testing.T) {
	lfs := localfs.New(t.TempDir())
	pub := New(lfs, nil, "render-artifacts", testLogger())

	_, err := pub.Publish(context.Background(), "job-4", "/nonexistent/output.mp4")
	assert.Error(t, err)
}

func TestObjectKeyDeterministic(t *testing.T) {
	assert.Equal(t, "renders/abc/output.mp4", ObjectKey("abc"))
	assert.Equal(t, ObjectKey("abc"), ObjectKey("abc"))
}
