package jobs

import (
	"context"
	"sort"
	"sync"
	"time"

	apperrors "renderflow/internal/pkg/errors"
)

// Memory is an in-process Store used by tests and local development. It
// enforces the same transition guards as the Postgres store.
type Memory struct {
	mu   sync.Mutex
	jobs map[string]*Job
}

func NewMemory() *Memory {
	return &Memory{jobs: make(map[string]*Job)}
}

func (s *Memory) Create(ctx context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[job.ID]; ok {
		return apperrors.New(apperrors.CodeConflict, "job id already exists")
	}

	c := *job
	c.UpdatedAt = job.CreatedAt
	s.jobs[job.ID] = &c
	return nil
}

func (s *Memory) Get(ctx context.Context, id string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *job
	return &c, nil
}

func (s *Memory) ListByOwner(ctx context.Context, ownerID string, limit int) ([]*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Job, 0)
	for _, job := range s.jobs {
		if job.OwnerID == ownerID {
			c := *job
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Memory) MarkRendering(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok || job.Status != StatusQueued {
		return false, nil
	}
	now := time.Now().UTC()
	job.Status = StatusRendering
	job.StartedAt = &now
	job.UpdatedAt = now
	return true, nil
}

func (s *Memory) UpdateProgress(ctx context.Context, id string, p Progress) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok || job.Status != StatusRendering {
		return nil
	}
	if p.Fraction > job.Progress {
		job.Progress = p.Fraction
	}
	cf, tf := p.CurrentFrame, p.TotalFrames
	job.CurrentFrame = &cf
	job.TotalFrames = &tf
	if p.HasETA {
		eta := p.ETASeconds
		job.ETASeconds = &eta
	}
	job.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Memory) MarkUploading(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok || job.Status != StatusRendering {
		return false, nil
	}
	job.Status = StatusUploading
	job.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (s *Memory) Complete(ctx context.Context, id string, out OutputRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok || job.Status != StatusUploading {
		return nil
	}
	now := time.Now().UTC()
	o := out
	job.Status = StatusCompleted
	job.Progress = 1.0
	job.Output = &o
	job.FinishedAt = &now
	job.UpdatedAt = now
	return nil
}

func (s *Memory) Fail(ctx context.Context, id string, message, detail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok || job.Status.Terminal() {
		return nil
	}
	now := time.Now().UTC()
	job.Status = StatusFailed
	job.ErrorMessage = &message
	if detail != "" {
		job.ErrorDetail = &detail
	}
	job.FinishedAt = &now
	job.UpdatedAt = now
	return nil
}

func (s *Memory) Cancel(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return false, nil
	}
	if job.Status != StatusQueued && job.Status != StatusRendering {
		return false, nil
	}
	now := time.Now().UTC()
	job.Status = StatusCanceled
	job.FinishedAt = &now
	job.UpdatedAt = now
	return true, nil
}

func (s *Memory) SetWebhookDelivery(ctx context.Context, id string, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	job.WebhookDelivery = status
	job.UpdatedAt = time.Now().UTC()
	return nil
}
