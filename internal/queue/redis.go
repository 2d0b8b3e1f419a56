// Package queue provides the durable FIFO broker holding references to
// pending render jobs.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "renderflow/internal/pkg/errors"
)

// Reference is the payload enqueued per submitted job. Delivery is
// at-least-once; consumers must re-read the job's status from the store
// before doing any work.
type Reference struct {
	JobID         string          `json:"job_id"`
	TemplateID    string          `json:"template_id"`
	CompositionID string          `json:"composition_id"`
	InputProps    json.RawMessage `json:"input_props"`
}

// Queue is the broker contract used by the submission API and the workers.
type Queue interface {
	Enqueue(ctx context.Context, ref Reference) error
	// Dequeue blocks up to the configured timeout and returns (nil, nil)
	// when nothing arrived, so callers can observe shutdown.
	Dequeue(ctx context.Context) (*Reference, error)
}

// Redis implements Queue on a Redis list (LPUSH tail-push, BRPOP head-pop).
type Redis struct {
	rdb        *redis.Client
	name       string
	popTimeout time.Duration
}

func NewRedis(rdb *redis.Client, name string, popTimeout time.Duration) *Redis {
	if popTimeout <= 0 {
		popTimeout = 2 * time.Second
	}
	return &Redis{rdb: rdb, name: name, popTimeout: popTimeout}
}

func (q *Redis) Enqueue(ctx context.Context, ref Reference) error {
	body, err := json.Marshal(ref)
	if err != nil {
		return apperrors.Wrap(err, "queue.enqueue", "marshal reference")
	}
	if err := q.rdb.LPush(ctx, q.name, body).Err(); err != nil {
		return apperrors.WrapWithCode(err, apperrors.CodeUnavailable, "queue.enqueue", "queue push failed")
	}
	return nil
}

func (q *Redis) Dequeue(ctx context.Context) (*Reference, error) {
	res, err := q.rdb.BRPop(ctx, q.popTimeout, q.name).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, apperrors.WrapWithCode(err, apperrors.CodeUnavailable, "queue.dequeue", "queue pop failed")
	}
	if len(res) < 2 {
		return nil, nil
	}

	var ref Reference
	if err := json.Unmarshal([]byte(res[1]), &ref); err != nil {
		return nil, apperrors.Wrap(err, "queue.dequeue", "malformed queue entry")
	}
	return &ref, nil
}
