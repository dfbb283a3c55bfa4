package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/housecall/housecall/internal/errors"

	"github.com/housecall/housecall/internal/domain/model"
)

func TestJobSubmit(t *testing.T) {
	jobs := newFakeJobRepo()
	svc := NewJobService(JobServiceOptions{Jobs: jobs})

	job, err := svc.Submit(context.Background(), &model.SubmitJobRequest{
		Kind: model.JobKindExportCSV,
		Args: []byte(`{}`),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, model.JobStatusPending, job.Status)
	assert.Zero(t, job.MaxRetries, "export jobs do not retry")
}

func TestJobSubmitRetrySafeKindsGetRetries(t *testing.T) {
	jobs := newFakeJobRepo()
	svc := NewJobService(JobServiceOptions{Jobs: jobs})

	job, err := svc.Submit(context.Background(), &model.SubmitJobRequest{
		Kind: model.JobKindSendReminder,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, job.MaxRetries)
}

func TestJobSubmitRejectsUnknownKind(t *testing.T) {
	jobs := newFakeJobRepo()
	svc := NewJobService(JobServiceOptions{Jobs: jobs})

	_, err := svc.Submit(context.Background(), &model.SubmitJobRequest{Kind: "mine_bitcoin"})
	assert.Error(t, err)
}

func TestJobPollGatesResultAndError(t *testing.T) {
	ctx := context.Background()
	jobs := newFakeJobRepo()
	svc := NewJobService(JobServiceOptions{Jobs: jobs})

	job, err := svc.Submit(ctx, &model.SubmitJobRequest{Kind: model.JobKindExportCSV})
	require.NoError(t, err)

	view, err := svc.Poll(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusPending, view.Status)
	assert.Empty(t, view.Result)
	assert.Empty(t, view.Error)
	assert.Nil(t, view.FinishedAt)

	// Running: still no result or error exposed.
	_, err = jobs.ReserveNext(ctx)
	require.NoError(t, err)
	view, err = svc.Poll(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusRunning, view.Status)
	assert.Empty(t, view.Result)
	assert.Empty(t, view.Error)

	ok, err := jobs.Succeed(ctx, job.ID, "/tmp/out.csv")
	require.NoError(t, err)
	require.True(t, ok)

	view, err = svc.Poll(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusSucceeded, view.Status)
	assert.Equal(t, "/tmp/out.csv", view.Result)
	assert.Empty(t, view.Error)
	assert.NotNil(t, view.FinishedAt)
}

func TestJobPollExposesErrorOnFailure(t *testing.T) {
	ctx := context.Background()
	jobs := newFakeJobRepo()
	svc := NewJobService(JobServiceOptions{Jobs: jobs})

	job, err := svc.Submit(ctx, &model.SubmitJobRequest{Kind: model.JobKindExportCSV})
	require.NoError(t, err)
	_, err = jobs.ReserveNext(ctx)
	require.NoError(t, err)
	_, err = jobs.Fail(ctx, job.ID, "disk full")
	require.NoError(t, err)

	view, err := svc.Poll(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, view.Status)
	assert.Equal(t, "disk full", view.Error)
	assert.Empty(t, view.Result)
}

func TestJobPollUnknownID(t *testing.T) {
	svc := NewJobService(JobServiceOptions{Jobs: newFakeJobRepo()})

	_, err := svc.Poll(context.Background(), "nope")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestJobCancel(t *testing.T) {
	ctx := context.Background()
	jobs := newFakeJobRepo()
	svc := NewJobService(JobServiceOptions{Jobs: jobs})

	pending, err := svc.Submit(ctx, &model.SubmitJobRequest{Kind: model.JobKindSendReport})
	require.NoError(t, err)

	cancelled, err := svc.Cancel(ctx, pending.ID)
	require.NoError(t, err)
	assert.True(t, cancelled)

	// A cancelled job is gone entirely.
	_, err = svc.Poll(ctx, pending.ID)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestJobCancelRunningReportsFalse(t *testing.T) {
	ctx := context.Background()
	jobs := newFakeJobRepo()
	svc := NewJobService(JobServiceOptions{Jobs: jobs})

	job, err := svc.Submit(ctx, &model.SubmitJobRequest{Kind: model.JobKindSendReport})
	require.NoError(t, err)
	_, err = jobs.ReserveNext(ctx)
	require.NoError(t, err)

	cancelled, err := svc.Cancel(ctx, job.ID)
	require.NoError(t, err)
	assert.False(t, cancelled)
}
