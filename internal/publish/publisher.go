// Package publish uploads finished render artifacts to durable storage.
package publish

import (
	"context"
	"fmt"
	"os"
	"time"

	"renderflow/internal/jobs"
	"renderflow/internal/pkg/logger"
	"renderflow/internal/ports"
)

// Publisher produces a durable reference for a finished local media file.
type Publisher interface {
	Publish(ctx context.Context, jobID, localPath string) (jobs.OutputRef, error)
}

// ArtifactPublisher uploads under a deterministic per-job key. When the
// durable backend is unavailable it degrades to a local file reference
// instead of failing the job.
type ArtifactPublisher struct {
	durable  ports.StorageProvider
	fallback ports.StorageProvider
	bucket   string
	urlTTL   time.Duration
	log      *logger.Logger
}

func New(durable, fallback ports.StorageProvider, bucket string, log *logger.Logger) *ArtifactPublisher {
	if log == nil {
		log = logger.NewDefault()
	}
	return &ArtifactPublisher{
		durable:  durable,
		fallback: fallback,
		bucket:   bucket,
		urlTTL:   24 * time.Hour,
		log:      log.WithComponent("publisher"),
	}
}

// ObjectKey is the deterministic storage key for a job's artifact.
func ObjectKey(jobID string) string {
	return fmt.Sprintf("renders/%s/output.mp4", jobID)
}

func (p *ArtifactPublisher) Publish(ctx context.Context, jobID, localPath string) (jobs.OutputRef, error) {
	log := p.log.WithJobID(jobID)
	key := ObjectKey(jobID)

	provider := p.durable
	degraded := false

	out, err := p.put(ctx, provider, key, localPath)
	if err != nil {
		if p.fallback == nil || p.fallback.Provider() == provider.Provider() {
			return jobs.OutputRef{}, err
		}
		log.Warn("durable upload failed, falling back to local reference",
			"provider", provider.Provider(),
			"error", err.Error(),
		)
		provider = p.fallback
		degraded = true

		out, err = p.put(ctx, provider, key, localPath)
		if err != nil {
			return jobs.OutputRef{}, err
		}
	}

	url := ""
	if signed, err := provider.GetSignedURL(ctx, out.ObjectKey, p.urlTTL); err == nil {
		url = signed.URL
	}
	if url == "" {
		// No externally addressable form; the API streams it instead.
		url = fmt.Sprintf("/renders/%s/artifact", jobID)
	}

	log.Info("artifact published",
		"provider", provider.Provider(),
		"key", out.ObjectKey,
		"size_bytes", out.Size,
		"degraded", degraded,
	)

	return jobs.OutputRef{
		Provider: provider.Provider(),
		Bucket:   p.bucket,
		Key:      out.ObjectKey,
		URL:      url,
		Degraded: degraded,
	}, nil
}

func (p *ArtifactPublisher) put(ctx context.Context, sp ports.StorageProvider, key, localPath string) (ports.PutObjectOutput, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return ports.PutObjectOutput{}, fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close()

	size := int64(0)
	if st, err := f.Stat(); err == nil {
		size = st.Size()
	}

	return sp.PutObject(ctx, ports.PutObjectInput{
		ObjectKey:   key,
		ContentType: "video/mp4",
		Reader:      f,
		Size:        size,
	})
}
