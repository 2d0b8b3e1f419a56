// Package worker runs the pull-process loops that drive render jobs from the
// queue through render, publish and notification.
package worker

import (
	"context"
	"sync"
	"time"

	"renderflow/internal/jobs"
	"renderflow/internal/pkg/logger"
	"renderflow/internal/publish"
	"renderflow/internal/queue"
	"renderflow/internal/render"
)

// Invoker runs the external render process for one job.
type Invoker interface {
	Render(ctx context.Context, job *jobs.Job) (render.Result, error)
	Cleanup(jobID string)
}

// Notifier fires the terminal webhook for a job.
type Notifier interface {
	Deliver(ctx context.Context, job *jobs.Job)
}

// Deps wires the pool's collaborators; all are injected so tests can
// substitute fakes.
type Deps struct {
	Store       jobs.Store
	Queue       queue.Queue
	Invoker     Invoker
	Publisher   publish.Publisher
	Notifier    Notifier
	Log         *logger.Logger
	Concurrency int
}

// Pool is a set of stateless worker loops sharing the store and the queue.
// Whoever dequeues a reference owns its processing; job state lives entirely
// in the store, so any worker may pick up any job.
type Pool struct {
	store       jobs.Store
	queue       queue.Queue
	invoker     Invoker
	publisher   publish.Publisher
	notifier    Notifier
	log         *logger.Logger
	concurrency int
}

func NewPool(d Deps) *Pool {
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}
	concurrency := d.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Pool{
		store:       d.Store,
		queue:       d.Queue,
		invoker:     d.Invoker,
		publisher:   d.Publisher,
		notifier:    d.Notifier,
		log:         log.WithComponent("worker"),
		concurrency: concurrency,
	}
}

// Run spawns the worker loops and blocks until ctx is canceled.
func (p *Pool) Run(ctx context.Context) error {
	p.log.Info("starting worker pool", "concurrency", p.concurrency)

	var wg sync.WaitGroup
	for i := 0; i < p.concurrency; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			p.loop(ctx, n)
		}(i)
	}

	wg.Wait()
	p.log.Info("worker pool stopped")
	return ctx.Err()
}

func (p *Pool) loop(ctx context.Context, n int) {
	log := &logger.Logger{Logger: p.log.With("worker_num", n)}
	log.Info("worker loop started")

	for {
		select {
		case <-ctx.Done():
			log.Info("worker loop stopping")
			return
		default:
		}

		ref, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Info("worker loop stopping")
				return
			}
			log.Warn("queue pop error, retrying", "error", err.Error())
			time.Sleep(time.Second)
			continue
		}
		if ref == nil {
			// Bounded wait elapsed with nothing queued.
			continue
		}

		jobCtx := logger.ContextWithJobID(ctx, ref.JobID)
		jobLog := log.WithJobID(ref.JobID)

		jobLog.Info("processing job")
		start := time.Now()
		p.process(jobCtx, ref)
		jobLog.Info("job processing finished", "duration_ms", time.Since(start).Milliseconds())
	}
}

// process drives one dequeued reference to a terminal state. Delivery is
// at-least-once, so the job is re-validated against the store before any
// work happens.
func (p *Pool) process(ctx context.Context, ref *queue.Reference) {
	log := p.log.WithJobID(ref.JobID)

	job, err := p.store.Get(ctx, ref.JobID)
	if err != nil {
		log.Warn("dropping reference, job fetch failed", "error", err.Error())
		return
	}
	if job.Status != jobs.StatusQueued {
		// Canceled (or handled elsewhere) after being queued; no work was
		// done, so no webhook fires.
		log.Info("dropping reference, job no longer queued", "status", string(job.Status))
		return
	}

	res, err := p.invoker.Render(ctx, job)
	if err != nil {
		// Worker shutdown mid-render; leave the job for the caller to
		// cancel and resubmit.
		log.Warn("render interrupted", "error", err.Error())
		p.invoker.Cleanup(job.ID)
		return
	}
	defer p.invoker.Cleanup(job.ID)

	switch res.Outcome {
	case render.OutcomeCanceled:
		if res.Started {
			p.notify(ctx, job.ID)
		}

	case render.OutcomeFailed:
		p.notify(ctx, job.ID)

	case render.OutcomeRendered:
		ok, err := p.store.MarkUploading(ctx, job.ID)
		if err != nil {
			log.Error("uploading transition failed", "error", err.Error())
			return
		}
		if !ok {
			// A cancel landed after the render finished.
			p.notify(ctx, job.ID)
			return
		}

		out, err := p.publisher.Publish(ctx, job.ID, res.OutputPath)
		if err != nil {
			log.Error("artifact publish failed", "error", err.Error())
			_ = p.store.Fail(ctx, job.ID, "artifact upload failed", err.Error())
		} else if err := p.store.Complete(ctx, job.ID, out); err != nil {
			log.Error("completion update failed", "error", err.Error())
		}
		p.notify(ctx, job.ID)
	}
}

// notify re-reads the job so the webhook payload reflects its terminal row.
func (p *Pool) notify(ctx context.Context, jobID string) {
	job, err := p.store.Get(ctx, jobID)
	if err != nil {
		p.log.WithJobID(jobID).Error("notify fetch failed", "error", err.Error())
		return
	}
	p.notifier.Deliver(ctx, job)
}
