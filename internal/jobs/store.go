package jobs

import (
	"context"

	apperrors "renderflow/internal/pkg/errors"
)

// ErrNotFound is returned by Get when no job exists with the given id.
var ErrNotFound = apperrors.New(apperrors.CodeNotFound, "job not found")

// Store is the single source of truth for job state. All mutations are
// single-row and transitions are guarded so illegal ones become no-ops:
//
//	queued -> rendering -> uploading -> completed
//	queued|rendering -> canceled
//	queued|rendering|uploading -> failed
//
// Workers own all transitions except Cancel, which external callers may issue
// at any time; last-write-wins on the cancel flag is safe because cancellation
// is never reversed.
type Store interface {
	Create(ctx context.Context, job *Job) error
	Get(ctx context.Context, id string) (*Job, error)
	ListByOwner(ctx context.Context, ownerID string, limit int) ([]*Job, error)

	// MarkRendering moves queued -> rendering and stamps started_at. Returns
	// false when the job was not queued anymore (canceled or already claimed).
	MarkRendering(ctx context.Context, id string) (bool, error)

	// UpdateProgress persists a progress snapshot for a rendering job.
	UpdateProgress(ctx context.Context, id string, p Progress) error

	// MarkUploading moves rendering -> uploading. Returns false when the job
	// left the rendering state (a cancel won the race).
	MarkUploading(ctx context.Context, id string) (bool, error)

	// Complete moves uploading -> completed, sets the output reference and
	// forces progress to 1.0.
	Complete(ctx context.Context, id string, out OutputRef) error

	// Fail moves any non-terminal state to failed with the captured error.
	Fail(ctx context.Context, id string, message, detail string) error

	// Cancel moves queued|rendering -> canceled. Returns false when the job
	// was already terminal or uploading; the call is idempotent either way.
	Cancel(ctx context.Context, id string) (bool, error)

	// SetWebhookDelivery records the outcome of the terminal webhook. This is
	// the only mutation allowed on a terminal job.
	SetWebhookDelivery(ctx context.Context, id string, status string) error
}
