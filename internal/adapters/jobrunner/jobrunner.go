// Package jobrunner provides job execution and worker management for the
// housecall queue.
package jobrunner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/housecall/housecall/internal/core"
	"github.com/housecall/housecall/internal/domain/model"
)

// HandlerFunc executes one job body and returns the job result string.
// A returned error fails the job; retry-safe kinds with budget left are
// re-queued by the repository.
type HandlerFunc func(ctx context.Context, job *model.Job) (string, error)

// defaultPollInterval bounds how long an idle worker sleeps when the
// notification path is quiet. The poll is the safety net; LISTEN/NOTIFY
// is the fast path.
const defaultPollInterval = 5 * time.Second

// RunnerOptions configures the job runner adapter.
type RunnerOptions struct {
	Jobs         core.JobRepository
	Concurrency  int
	PollInterval time.Duration
	Logger       *slog.Logger
}

// Runner pulls jobs and executes them using registered handlers. Workers
// block on a shared wakeup channel fed by a single LISTEN connection, so
// concurrency does not multiply listener connections.
type Runner struct {
	jobs         core.JobRepository
	workers      int
	pollInterval time.Duration
	logger       *slog.Logger

	mu       sync.Mutex
	handlers map[model.JobKind]HandlerFunc
}

// NewRunner constructs a job runner. Handlers are registered afterwards
// with Register, before Run is called.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.Jobs == nil {
		return nil, errors.New("JobRepository is required")
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Runner{
		jobs:         opts.Jobs,
		workers:      opts.Concurrency,
		pollInterval: opts.PollInterval,
		logger:       opts.Logger,
		handlers:     make(map[model.JobKind]HandlerFunc),
	}, nil
}

// Register installs the handler for a job kind, replacing any previous one.
func (r *Runner) Register(kind model.JobKind, h HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[kind] = h
}

func (r *Runner) handler(kind model.JobKind) (HandlerFunc, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handlers[kind]
	return h, ok
}

// Run starts the listener and worker goroutines and processes jobs until
// the context is cancelled. Returns nil on graceful shutdown.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting job runner",
		"workers", r.workers, "poll_interval", r.pollInterval)

	wakeup := make(chan struct{}, 1)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return r.listenLoop(ctx, wakeup)
	})
	for i := 0; i < r.workers; i++ {
		g.Go(func() error {
			return r.workerLoop(ctx, wakeup)
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// listenLoop holds the single LISTEN connection and coalesces
// notifications into the wakeup channel.
func (r *Runner) listenLoop(ctx context.Context, wakeup chan<- struct{}) error {
	for ctx.Err() == nil {
		err := r.jobs.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.logger.WarnContext(ctx, "job notification wait failed", "error", err)
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		select {
		case wakeup <- struct{}{}:
		default:
		}
	}
	return ctx.Err()
}

func (r *Runner) workerLoop(ctx context.Context, wakeup <-chan struct{}) error {
	for ctx.Err() == nil {
		job, err := r.jobs.ReserveNext(ctx)
		switch {
		case err == nil:
			r.processJob(ctx, job)
		case errors.Is(err, model.ErrNoJobsAvailable):
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-wakeup:
			case <-time.After(r.pollInterval):
			}
		default:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("reserve next: %w", err)
		}
	}
	return ctx.Err()
}

// processJob runs one job to a terminal status. Handler panics are
// recovered and recorded as failures so one bad job never kills the
// worker.
func (r *Runner) processJob(ctx context.Context, job *model.Job) {
	h, ok := r.handler(job.Kind)
	if !ok {
		r.failJob(ctx, job.ID, fmt.Sprintf("no handler for job kind %s", job.Kind))
		return
	}

	result, err := r.runHandler(ctx, h, job)
	if err != nil {
		r.logger.WarnContext(ctx, "job failed",
			"id", job.ID, "kind", job.Kind, "error", err)
		r.failJob(ctx, job.ID, err.Error())
		return
	}

	ok, err = r.jobs.Succeed(ctx, job.ID, result)
	if err != nil {
		r.logger.ErrorContext(ctx, "succeed job error", "id", job.ID, "error", err)
		return
	}
	if !ok {
		r.logger.WarnContext(ctx, "job no longer running at completion", "id", job.ID)
		return
	}
	r.logger.InfoContext(ctx, "job succeeded", "id", job.ID, "kind", job.Kind)
}

func (r *Runner) runHandler(ctx context.Context, h HandlerFunc, job *model.Job) (result string, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("job handler panic: %v", p)
		}
	}()
	return h(ctx, job)
}

func (r *Runner) failJob(ctx context.Context, id, msg string) {
	if _, err := r.jobs.Fail(ctx, id, msg); err != nil {
		r.logger.ErrorContext(ctx, "fail job error", "id", id, "error", err)
	}
}
