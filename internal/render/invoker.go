// Package render drives one job from queued through to a finished output
// file or a failure, while remaining cancellable.
package render

import (
	"bufio"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"renderflow/internal/jobs"
	"renderflow/internal/pkg/logger"
)

// Config holds invoker settings.
type Config struct {
	// Bin is the external renderer executable.
	Bin string
	// ExtraArgs are prepended before the per-job arguments.
	ExtraArgs []string
	// ScratchDir is the root for per-job scratch directories.
	ScratchDir string
	// Timeout bounds the child process lifetime.
	Timeout time.Duration
	// KillGrace is the SIGTERM-to-SIGKILL grace period.
	KillGrace time.Duration
	// PollInterval is how often the store is re-checked for cancellation.
	PollInterval time.Duration
	// PersistInterval throttles progress writes to the store.
	PersistInterval time.Duration
}

func (c *Config) applyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Minute
	}
	if c.KillGrace <= 0 {
		c.KillGrace = 5 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 500 * time.Millisecond
	}
	if c.PersistInterval <= 0 {
		c.PersistInterval = 500 * time.Millisecond
	}
}

// Outcome classifies how a render attempt ended.
type Outcome int

const (
	// OutcomeRendered means the process exited zero and wrote the output file.
	OutcomeRendered Outcome = iota
	// OutcomeFailed means the job was marked failed (recorded in the store).
	OutcomeFailed
	// OutcomeCanceled means an external cancel was observed.
	OutcomeCanceled
)

// Result reports a finished render attempt.
type Result struct {
	Outcome    Outcome
	OutputPath string
	// Started is false when the job could not be claimed (canceled between
	// dequeue and claim); no work occurred in that case.
	Started bool
}

// Invoker spawns the external render process for one job, feeds it input and
// consumes its progress stream.
type Invoker struct {
	store  jobs.Store
	parser ProgressParser
	log    *logger.Logger
	cfg    Config
}

func NewInvoker(store jobs.Store, parser ProgressParser, log *logger.Logger, cfg Config) *Invoker {
	cfg.applyDefaults()
	if log == nil {
		log = logger.NewDefault()
	}
	return &Invoker{
		store:  store,
		parser: parser,
		log:    log.WithComponent("invoker"),
		cfg:    cfg,
	}
}

// Render runs the renderer for job. Failures of the process are recorded in
// the store here; the caller handles upload and notification.
func (iv *Invoker) Render(ctx context.Context, job *jobs.Job) (Result, error) {
	log := iv.log.WithJobID(job.ID)

	claimed, err := iv.store.MarkRendering(ctx, job.ID)
	if err != nil {
		return Result{}, err
	}
	if !claimed {
		// Canceled (or claimed elsewhere) after dequeue; drop without work.
		log.Info("job not claimable, dropping")
		return Result{Outcome: OutcomeCanceled, Started: false}, nil
	}

	dir := filepath.Join(iv.cfg.ScratchDir, job.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		msg := "cannot create scratch directory"
		_ = iv.store.Fail(ctx, job.ID, msg, err.Error())
		return Result{Outcome: OutcomeFailed, Started: true}, nil
	}

	propsPath := filepath.Join(dir, "props.json")
	props := job.InputProps
	if len(props) == 0 {
		props = []byte("{}")
	}
	if err := os.WriteFile(propsPath, props, 0o644); err != nil {
		msg := "cannot write input properties"
		_ = iv.store.Fail(ctx, job.ID, msg, err.Error())
		return Result{Outcome: OutcomeFailed, Started: true}, nil
	}

	outputPath := filepath.Join(dir, "output.mp4")

	args := append(append([]string{}, iv.cfg.ExtraArgs...), job.CompositionID, propsPath, outputPath)
	cmd := exec.Command(iv.cfg.Bin, args...)

	stderr := &tailBuffer{max: 4096}
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		_ = iv.store.Fail(ctx, job.ID, "cannot open renderer stdout", err.Error())
		return Result{Outcome: OutcomeFailed, Started: true}, nil
	}

	log.Info("spawning renderer",
		"bin", iv.cfg.Bin,
		"composition_id", job.CompositionID,
	)

	if err := cmd.Start(); err != nil {
		_ = iv.store.Fail(ctx, job.ID, "cannot start renderer", err.Error())
		return Result{Outcome: OutcomeFailed, Started: true}, nil
	}

	// Decouple process I/O from orchestration: a scan goroutine turns stdout
	// lines into progress events consumed by the select loop below.
	events := make(chan ProgressEvent, 16)
	scanDone := make(chan struct{})
	go func() {
		defer close(events)
		defer close(scanDone)
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			if ev, ok := iv.parser.Parse(scanner.Text()); ok {
				events <- ev
			}
		}
	}()

	waitCh := make(chan error, 1)
	go func() {
		<-scanDone
		waitCh <- cmd.Wait()
	}()

	ticker := time.NewTicker(iv.cfg.PollInterval)
	defer ticker.Stop()

	deadline := time.Now().Add(iv.cfg.Timeout)
	ctxDone := ctx.Done()

	var (
		last        jobs.Progress
		dirty       bool
		lastPersist time.Time
		canceled    bool
		timedOut    bool
		aborted     bool
		waitErr     error
	)

	persist := func() {
		if !dirty {
			return
		}
		if err := iv.store.UpdateProgress(ctx, job.ID, last); err != nil {
			log.Warn("progress update failed", "error", err.Error())
		}
		lastPersist = time.Now()
		dirty = false
	}

loop:
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				// Stream ended; keep looping for process exit and cancel polls.
				events = nil
				continue
			}
			p := jobs.Progress{
				Fraction:     ev.Fraction(),
				CurrentFrame: ev.CurrentFrame,
				TotalFrames:  ev.TotalFrames,
				ETASeconds:   ev.ETASeconds,
				HasETA:       ev.HasETA,
			}
			// Progress is monotonically non-decreasing within an attempt.
			if p.Fraction >= last.Fraction {
				last = p
				dirty = true
			}
			if time.Since(lastPersist) >= iv.cfg.PersistInterval {
				persist()
			}

		case waitErr = <-waitCh:
			break loop

		case <-ticker.C:
			if time.Since(lastPersist) >= iv.cfg.PersistInterval {
				persist()
			}
			if canceled || timedOut || aborted {
				continue
			}

			cur, err := iv.store.Get(ctx, job.ID)
			if err == nil && cur.Status == jobs.StatusCanceled {
				log.Info("cancel observed, terminating renderer")
				canceled = true
				iv.terminate(cmd)
				continue
			}
			if time.Now().After(deadline) {
				log.Warn("render timeout exceeded, terminating renderer")
				timedOut = true
				iv.terminate(cmd)
			}

		case <-ctxDone:
			// Worker shutdown. Stop the child and leave the job where it is;
			// an observer of the frozen job cancels and resubmits.
			log.Info("context canceled, terminating renderer")
			aborted = true
			iv.terminate(cmd)
			ctxDone = nil
		}
	}

	switch {
	case canceled:
		return Result{Outcome: OutcomeCanceled, Started: true}, nil

	case aborted:
		return Result{Started: true}, ctx.Err()

	case timedOut:
		msg := "render timed out"
		_ = iv.store.Fail(ctx, job.ID, msg, detailOf(waitErr))
		return Result{Outcome: OutcomeFailed, Started: true}, nil

	case waitErr != nil:
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = "render process failed"
		}
		_ = iv.store.Fail(ctx, job.ID, msg, detailOf(waitErr))
		log.Warn("renderer failed", "error", waitErr.Error())
		return Result{Outcome: OutcomeFailed, Started: true}, nil
	}

	if _, err := os.Stat(outputPath); err != nil {
		_ = iv.store.Fail(ctx, job.ID, "renderer produced no output file", err.Error())
		return Result{Outcome: OutcomeFailed, Started: true}, nil
	}

	persist()
	return Result{Outcome: OutcomeRendered, OutputPath: outputPath, Started: true}, nil
}

// Cleanup removes the job's scratch directory.
func (iv *Invoker) Cleanup(jobID string) {
	if iv.cfg.ScratchDir == "" || jobID == "" {
		return
	}
	if err := os.RemoveAll(filepath.Join(iv.cfg.ScratchDir, jobID)); err != nil {
		iv.log.WithJobID(jobID).Warn("scratch cleanup failed", "error", err.Error())
	}
}

// terminate asks the child to exit and force-kills it after the grace period.
func (iv *Invoker) terminate(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	_ = cmd.Process.Signal(syscall.SIGTERM)

	proc := cmd.Process
	grace := iv.cfg.KillGrace
	go func() {
		time.Sleep(grace)
		_ = proc.Kill()
	}()
}

func detailOf(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// tailBuffer keeps the last max bytes written, for stderr capture.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.buf = append(b.buf, p...)
	if len(b.buf) > b.max {
		b.buf = b.buf[len(b.buf)-b.max:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
