package jobs

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	apperrors "renderflow/internal/pkg/errors"
)

const jobColumns = `id, owner_id, template_id, composition_id, input_props, status, progress,
	current_frame, total_frames, eta_seconds,
	output_provider, output_bucket, output_key, output_url, output_degraded,
	error_message, error_detail, webhook_url, COALESCE(webhook_delivery_status,''),
	created_at, started_at, finished_at, updated_at`

// Postgres implements Store on a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (s *Postgres) Create(ctx context.Context, job *Job) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO render_jobs
		 (id, owner_id, template_id, composition_id, input_props, status, progress,
		  webhook_url, webhook_delivery_status, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,0,$7,$8,$9,$9)`,
		job.ID, job.OwnerID, job.TemplateID, job.CompositionID, string(job.InputProps),
		string(job.Status), job.WebhookURL, nullIfBlank(job.WebhookDelivery), job.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.WrapWithCode(err, apperrors.CodeConflict, "jobs.create", "job id already exists")
		}
		return apperrors.Wrap(err, "jobs.create", "insert failed")
	}
	return nil
}

func (s *Postgres) Get(ctx context.Context, id string) (*Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM render_jobs WHERE id=$1`, id)

	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, apperrors.Wrap(err, "jobs.get", "query failed")
	}
	return job, nil
}

func (s *Postgres) ListByOwner(ctx context.Context, ownerID string, limit int) ([]*Job, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM render_jobs
		 WHERE owner_id=$1 ORDER BY created_at DESC LIMIT $2`,
		ownerID, limit,
	)
	if err != nil {
		return nil, apperrors.Wrap(err, "jobs.list", "query failed")
	}
	defer rows.Close()

	out := make([]*Job, 0, limit)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, apperrors.Wrap(err, "jobs.list", "row scan failed")
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

func (s *Postgres) MarkRendering(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE render_jobs
		 SET status='rendering', started_at=now(), updated_at=now()
		 WHERE id=$1 AND status='queued'`,
		id,
	)
	if err != nil {
		return false, apperrors.Wrap(err, "jobs.rendering", "update failed")
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Postgres) UpdateProgress(ctx context.Context, id string, p Progress) error {
	var eta *float64
	if p.HasETA {
		eta = &p.ETASeconds
	}
	// Progress never moves backwards within an attempt; GREATEST guards the
	// persisted value against out-of-order writes.
	_, err := s.pool.Exec(ctx,
		`UPDATE render_jobs
		 SET progress=GREATEST(progress,$2), current_frame=$3, total_frames=$4,
		     eta_seconds=$5, updated_at=now()
		 WHERE id=$1 AND status='rendering'`,
		id, p.Fraction, p.CurrentFrame, p.TotalFrames, eta,
	)
	if err != nil {
		return apperrors.Wrap(err, "jobs.progress", "update failed")
	}
	return nil
}

func (s *Postgres) MarkUploading(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE render_jobs
		 SET status='uploading', updated_at=now()
		 WHERE id=$1 AND status='rendering'`,
		id,
	)
	if err != nil {
		return false, apperrors.Wrap(err, "jobs.uploading", "update failed")
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Postgres) Complete(ctx context.Context, id string, out OutputRef) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE render_jobs
		 SET status='completed', progress=1.0,
		     output_provider=$2, output_bucket=$3, output_key=$4, output_url=$5,
		     output_degraded=$6, finished_at=now(), updated_at=now()
		 WHERE id=$1 AND status='uploading'`,
		id, out.Provider, out.Bucket, out.Key, out.URL, out.Degraded,
	)
	if err != nil {
		return apperrors.Wrap(err, "jobs.complete", "update failed")
	}
	return nil
}

func (s *Postgres) Fail(ctx context.Context, id string, message, detail string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE render_jobs
		 SET status='failed', error_message=$2, error_detail=$3,
		     finished_at=now(), updated_at=now()
		 WHERE id=$1 AND status IN ('queued','rendering','uploading')`,
		id, message, nullIfBlank(detail),
	)
	if err != nil {
		return apperrors.Wrap(err, "jobs.fail", "update failed")
	}
	return nil
}

func (s *Postgres) Cancel(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE render_jobs
		 SET status='canceled', finished_at=now(), updated_at=now()
		 WHERE id=$1 AND status IN ('queued','rendering')`,
		id,
	)
	if err != nil {
		return false, apperrors.Wrap(err, "jobs.cancel", "update failed")
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Postgres) SetWebhookDelivery(ctx context.Context, id string, status string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE render_jobs SET webhook_delivery_status=$2, updated_at=now() WHERE id=$1`,
		id, status,
	)
	if err != nil {
		return apperrors.Wrap(err, "jobs.webhook", "update failed")
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var (
		job        Job
		inputProps string
		status     string
		provider   *string
		bucket     *string
		key        *string
		url        *string
		degraded   *bool
	)

	err := row.Scan(
		&job.ID, &job.OwnerID, &job.TemplateID, &job.CompositionID, &inputProps,
		&status, &job.Progress,
		&job.CurrentFrame, &job.TotalFrames, &job.ETASeconds,
		&provider, &bucket, &key, &url, &degraded,
		&job.ErrorMessage, &job.ErrorDetail, &job.WebhookURL, &job.WebhookDelivery,
		&job.CreatedAt, &job.StartedAt, &job.FinishedAt, &job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	job.InputProps = []byte(inputProps)
	job.Status = Status(status)

	if key != nil {
		job.Output = &OutputRef{
			Provider: deref(provider),
			Bucket:   deref(bucket),
			Key:      *key,
			URL:      deref(url),
		}
		if degraded != nil {
			job.Output.Degraded = *degraded
		}
	}

	return &job, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func nullIfBlank(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// isUniqueViolation reports a PostgreSQL unique constraint violation (23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
