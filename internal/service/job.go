package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/housecall/housecall/internal/core"
	"github.com/housecall/housecall/internal/data"
	apperrors "github.com/housecall/housecall/internal/errors"

	"github.com/housecall/housecall/internal/domain/model"
)

// JobService provides the submit/poll/cancel surface of the job queue.
// Execution lives in the worker adapter; this service only manages the
// pollable handle a submitter holds.
type JobService struct {
	jobs   core.JobRepository
	logger *slog.Logger
}

// JobServiceOptions holds the dependencies for creating a JobService.
type JobServiceOptions struct {
	Jobs   core.JobRepository
	Logger *slog.Logger
}

// NewJobService creates a new JobService with the given dependencies.
func NewJobService(opts JobServiceOptions) *JobService {
	if opts.Jobs == nil {
		panic("JobRepository is required")
	}
	return &JobService{
		jobs:   opts.Jobs,
		logger: opts.Logger,
	}
}

// Submit enqueues a job and returns its pollable handle. The job is
// durable once this returns; it runs later on whichever worker reserves it.
func (s *JobService) Submit(ctx context.Context, req *model.SubmitJobRequest) (*model.Job, error) {
	job, err := s.jobs.Submit(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("submit job: %w", err)
	}
	if s.logger != nil {
		s.logger.InfoContext(ctx, "job submitted", "id", job.ID, "kind", job.Kind)
	}
	return job, nil
}

// Poll returns the submitter-facing snapshot of a job. Ids unknown to the
// queue, including jobs already reaped, come back as not found.
func (s *JobService) Poll(ctx context.Context, id string) (*model.JobView, error) {
	job, err := s.jobs.GetByID(ctx, id)
	if errors.Is(err, data.ErrJobNotFound) {
		return nil, apperrors.NotFoundf("job %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("poll job %s: %w", id, err)
	}

	view := &model.JobView{
		ID:         job.ID,
		Kind:       job.Kind,
		Status:     job.Status,
		FinishedAt: job.FinishedAt,
	}
	// Result and Error are status-gated so a poller never sees both, and
	// never sees either before the job finishes.
	switch job.Status {
	case model.JobStatusSucceeded:
		if job.Result != nil {
			view.Result = *job.Result
		}
	case model.JobStatusFailed:
		if job.LastError != nil {
			view.Error = *job.LastError
		}
	}
	return view, nil
}

// Cancel removes a job that has not started. Cancellation is best-effort:
// once a worker holds the job it runs to completion and Cancel reports
// false.
func (s *JobService) Cancel(ctx context.Context, id string) (bool, error) {
	cancelled, err := s.jobs.CancelPending(ctx, id)
	if err != nil {
		return false, fmt.Errorf("cancel job %s: %w", id, err)
	}
	if cancelled && s.logger != nil {
		s.logger.InfoContext(ctx, "job cancelled", "id", id)
	}
	return cancelled, nil
}
