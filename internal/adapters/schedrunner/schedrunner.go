// Package schedrunner drives the calendar scheduler on a fixed interval.
package schedrunner

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/housecall/housecall/internal/data"
	"github.com/housecall/housecall/internal/service"
)

const defaultTickInterval = 30 * time.Second

// RunnerOptions configures the scheduler loop.
type RunnerOptions struct {
	Scheduler    *service.SchedulerService
	TickInterval time.Duration
	TimeProvider data.TimeProvider
	Logger       *slog.Logger
}

// Runner ticks the scheduler until its context is cancelled. Any number
// of runners can race; the scheduler's advisory lock keeps a tick
// single-flight across processes.
type Runner struct {
	scheduler    *service.SchedulerService
	tickInterval time.Duration
	timeProvider data.TimeProvider
	logger       *slog.Logger
}

// NewRunner builds a scheduler runner.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.Scheduler == nil {
		return nil, errors.New("SchedulerService is required")
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = defaultTickInterval
	}
	if opts.TimeProvider == nil {
		opts.TimeProvider = &data.RealTimeProvider{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Runner{
		scheduler:    opts.Scheduler,
		tickInterval: opts.TickInterval,
		timeProvider: opts.TimeProvider,
		logger:       opts.Logger,
	}, nil
}

// Run ticks immediately and then on every interval. Returns nil on
// graceful shutdown.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting scheduler", "tick_interval", r.tickInterval)

	ticker := time.NewTicker(r.tickInterval)
	defer ticker.Stop()

	r.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			r.logger.InfoContext(ctx, "scheduler shutting down")
			return nil
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *Runner) tick(ctx context.Context) {
	fired, err := r.scheduler.Tick(ctx, r.timeProvider.Now())
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		r.logger.ErrorContext(ctx, "scheduler tick failed", "error", err)
		return
	}
	if fired > 0 {
		r.logger.InfoContext(ctx, "scheduler tick fired tasks", "count", fired)
	}
}
