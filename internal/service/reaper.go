package service

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/housecall/housecall/config"
	"github.com/housecall/housecall/internal/core"
	"github.com/housecall/housecall/internal/data"
)

// ReaperServiceOptions groups dependencies for ReaperService.
type ReaperServiceOptions struct {
	Jobs         core.JobRepository
	Config       config.ReaperConfig
	TimeProvider data.TimeProvider
	Logger       *slog.Logger
}

// ReaperService deletes finished jobs after the retention window so the
// jobs table never grows without bound. A reaped job id polls as not
// found, which is part of the queue's contract.
type ReaperService struct {
	jobs         core.JobRepository
	config       config.ReaperConfig
	timeProvider data.TimeProvider
	logger       *slog.Logger
}

// NewReaperService constructs a new ReaperService.
func NewReaperService(opts ReaperServiceOptions) (*ReaperService, error) {
	if opts.Jobs == nil {
		return nil, errors.New("JobRepository is required")
	}
	if opts.TimeProvider == nil {
		opts.TimeProvider = &data.RealTimeProvider{}
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "reaper_service")
		logger.Debug("ReaperService initialized",
			"interval", opts.Config.Interval,
			"retention", opts.Config.Retention,
		)
	}

	return &ReaperService{
		jobs:         opts.Jobs,
		config:       opts.Config,
		timeProvider: opts.TimeProvider,
		logger:       logger,
	}, nil
}

// Run starts the reaper loop and runs until the context is cancelled.
// Returns nil on graceful shutdown (context.Canceled), error otherwise.
func (s *ReaperService) Run(ctx context.Context) error {
	if s.logger != nil {
		s.logger.InfoContext(ctx, "starting reaper service", "interval", s.config.Interval)
	}

	// Jitter keeps replicas started together from reaping in lockstep.
	s.waitWithJitter(ctx)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	if _, err := s.ReapOnce(ctx); err != nil {
		s.logReapError(err, "initial reap")
	}

	for {
		select {
		case <-ctx.Done():
			if s.logger != nil {
				s.logger.InfoContext(ctx, "reaper service stopping", "reason", ctx.Err())
			}
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()

		case <-ticker.C:
			if _, err := s.ReapOnce(ctx); err != nil {
				s.logReapError(err, "reap")
			}
		}
	}
}

// ReapOnce deletes finished jobs past retention, draining in batches so a
// backlog never holds long locks. Returns the number of jobs removed.
func (s *ReaperService) ReapOnce(ctx context.Context) (int64, error) {
	cutoff := s.timeProvider.Now().UTC().Add(-s.config.Retention)

	var total int64
	for {
		count, err := s.jobs.DeleteFinishedBefore(ctx, cutoff, s.config.BatchSize)
		if err != nil {
			return total, fmt.Errorf("delete finished jobs: %w", err)
		}
		total += count
		if count == 0 {
			break
		}
		if ctx.Err() != nil {
			return total, ctx.Err()
		}
	}

	if total > 0 && s.logger != nil {
		s.logger.InfoContext(ctx, "reaped finished jobs",
			"count", total, "retention", s.config.Retention)
	}
	return total, nil
}

// waitWithJitter adds a random delay up to 10% of the interval.
func (s *ReaperService) waitWithJitter(ctx context.Context) {
	maxJitter := int64(s.config.Interval / 10)
	if maxJitter <= 0 {
		return
	}

	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		if s.logger != nil {
			s.logger.WarnContext(ctx, "failed to generate jitter, skipping", "error", err)
		}
		return
	}

	jitterNanos := binary.BigEndian.Uint64(buf[:]) % uint64(maxJitter)
	jitter := time.Duration(int64(jitterNanos)) // #nosec G115 - bounded by maxJitter which is int64

	select {
	case <-time.After(jitter):
	case <-ctx.Done():
	}
}

func (s *ReaperService) logReapError(err error, label string) {
	if err == nil || s.logger == nil {
		return
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		s.logger.Debug(label+" cancelled by context", "error", err)
		return
	}
	s.logger.Error(label+" failed", "error", err)
}
