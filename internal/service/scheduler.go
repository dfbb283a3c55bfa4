package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/housecall/housecall/internal/core"
	"github.com/housecall/housecall/internal/data"

	"github.com/housecall/housecall/internal/domain/model"
)

// schedulerLockName guards the whole firing pass. Only one replica fires
// tasks in any given tick; the others see the lock held and skip.
const schedulerLockName = "housecall_scheduler"

// defaultSchedulerBatchSize bounds how many due tasks one tick processes.
const defaultSchedulerBatchSize = 16

// firedArgs is the payload submitted with every scheduled job, recording
// which trigger fired it and when.
type firedArgs struct {
	TaskName string    `json:"task_name"`
	FiredAt  time.Time `json:"fired_at"`
}

// SchedulerService fires calendar-triggered tasks. Each due task submits
// one job and advances to its next slot inside a single transaction, so a
// firing is either fully recorded or not at all. Missed slots are skipped,
// never replayed.
type SchedulerService struct {
	tasks        core.ScheduledTaskRepository
	jobs         core.JobRepository
	batchSize    int
	timeProvider data.TimeProvider
	logger       *slog.Logger
}

// SchedulerServiceOptions holds the dependencies for creating a SchedulerService.
type SchedulerServiceOptions struct {
	Tasks        core.ScheduledTaskRepository
	Jobs         core.JobRepository
	BatchSize    int
	TimeProvider data.TimeProvider
	Logger       *slog.Logger
}

// NewSchedulerService creates a new SchedulerService with the given dependencies.
func NewSchedulerService(opts SchedulerServiceOptions) *SchedulerService {
	if opts.Tasks == nil {
		panic("ScheduledTaskRepository is required")
	}
	if opts.Jobs == nil {
		panic("JobRepository is required")
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultSchedulerBatchSize
	}
	if opts.TimeProvider == nil {
		opts.TimeProvider = &data.RealTimeProvider{}
	}
	return &SchedulerService{
		tasks:        opts.Tasks,
		jobs:         opts.Jobs,
		batchSize:    opts.BatchSize,
		timeProvider: opts.TimeProvider,
		logger:       opts.Logger,
	}
}

// Tick fires every due task once and returns how many fired.
//
// Concurrency safety is layered: an advisory lock keeps replicas from
// ticking concurrently, and FindDueTx row locks (FOR UPDATE SKIP LOCKED)
// protect each task row inside the transaction. A task whose firing
// fails rolls back whole, leaving next_fire_at untouched for a later
// tick to retry while the slot is still current.
func (s *SchedulerService) Tick(ctx context.Context, now time.Time) (int, error) {
	processed := 0
	locked, err := s.tasks.TryWithTaskLock(ctx, schedulerLockName, func(ctx context.Context, tx *sql.Tx) error {
		due, findErr := s.tasks.FindDueTx(ctx, tx, now, s.batchSize)
		if findErr != nil {
			return fmt.Errorf("find due tasks: %w", findErr)
		}
		for i := range due {
			if fireErr := s.fireTask(ctx, tx, &due[i], now); fireErr != nil {
				return fmt.Errorf("fire task %s: %w", due[i].TaskName, fireErr)
			}
			processed++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if !locked {
		if s.logger != nil {
			s.logger.DebugContext(ctx, "scheduler tick skipped, lock held elsewhere")
		}
		return 0, nil
	}
	return processed, nil
}

// fireTask submits the task's job and advances its schedule within tx.
func (s *SchedulerService) fireTask(ctx context.Context, tx *sql.Tx, task *model.ScheduledTask, now time.Time) error {
	args, err := json.Marshal(firedArgs{TaskName: task.TaskName, FiredAt: now.UTC()})
	if err != nil {
		return fmt.Errorf("marshal args: %w", err)
	}
	req := &model.SubmitJobRequest{Kind: task.JobKind, Args: args}

	if err := s.submitJob(ctx, tx, req); err != nil {
		return fmt.Errorf("submit job: %w", err)
	}

	updated, err := s.tasks.MarkFiredTx(ctx, tx, task, now)
	if err != nil {
		return fmt.Errorf("mark fired: %w", err)
	}
	if !updated {
		return fmt.Errorf("task %s vanished while firing", task.ID)
	}

	if s.logger != nil {
		s.logger.InfoContext(ctx, "scheduled task fired",
			"task", task.TaskName, "kind", task.JobKind, "at", now.UTC())
	}
	return nil
}

// submitJob prefers transactional submission so the job commits with the
// schedule advance; a repository without it falls back to a separate
// submit.
func (s *SchedulerService) submitJob(ctx context.Context, tx *sql.Tx, req *model.SubmitJobRequest) error {
	if submitter, ok := s.jobs.(core.JobRepositoryTx); ok {
		_, err := submitter.SubmitInTx(ctx, tx, req)
		return err
	}

	if s.logger != nil {
		s.logger.WarnContext(ctx,
			"job repository missing transactional support; falling back to non-transactional submit")
	}
	_, err := s.jobs.Submit(ctx, req)
	return err
}
