package data_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/housecall/housecall/internal/data"
	"github.com/housecall/housecall/internal/data/pgxutil"
	"github.com/housecall/housecall/internal/testutil"

	"github.com/housecall/housecall/internal/domain/model"
)

func TestJobRepoSubmit(t *testing.T) {
	testutil.WithAutoDB(t, func(db *sql.DB) {
		ctx := context.Background()
		repo := data.NewJobRepo(db, data.RepoConfig{})

		job, err := repo.Submit(ctx, testutil.NewSubmitJob().Build())
		require.NoError(t, err)
		assert.Equal(t, model.JobKindExportCSV, job.Kind)
		assert.Equal(t, model.JobStatusPending, job.Status)
		assert.Zero(t, job.MaxRetries)
		assert.Nil(t, job.StartedAt)

		mail, err := repo.Submit(ctx, testutil.NewSubmitJob().WithKind(model.JobKindSendReminder).Build())
		require.NoError(t, err)
		assert.Equal(t, 3, mail.MaxRetries)
	})
}

func TestJobRepoSubmitRejectsInvalid(t *testing.T) {
	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo := data.NewJobRepo(db, data.RepoConfig{})

		_, err := repo.Submit(context.Background(), &model.SubmitJobRequest{Kind: "make_coffee"})
		assert.Error(t, err)

		_, err = repo.Submit(context.Background(), nil)
		assert.Error(t, err)
	})
}

func TestJobRepoReserveNextFIFO(t *testing.T) {
	testutil.WithAutoDB(t, func(db *sql.DB) {
		ctx := context.Background()
		tp := testutil.NewTestTimeProvider(testutil.TestTime())
		repo := data.NewJobRepo(db, data.RepoConfig{TimeProvider: tp})

		first, err := repo.Submit(ctx, testutil.NewSubmitJob().Build())
		require.NoError(t, err)
		tp.AddTime(time.Second)
		second, err := repo.Submit(ctx, testutil.NewSubmitJob().WithKind(model.JobKindSendReport).Build())
		require.NoError(t, err)

		got, err := repo.ReserveNext(ctx)
		require.NoError(t, err)
		assert.Equal(t, first.ID, got.ID)
		assert.Equal(t, model.JobStatusRunning, got.Status)
		assert.NotNil(t, got.StartedAt)

		got, err = repo.ReserveNext(ctx)
		require.NoError(t, err)
		assert.Equal(t, second.ID, got.ID)

		_, err = repo.ReserveNext(ctx)
		assert.ErrorIs(t, err, model.ErrNoJobsAvailable)
	})
}

func TestJobRepoSucceed(t *testing.T) {
	testutil.WithAutoDB(t, func(db *sql.DB) {
		ctx := context.Background()
		repo := data.NewJobRepo(db, data.RepoConfig{})

		job, err := repo.Submit(ctx, testutil.NewSubmitJob().Build())
		require.NoError(t, err)

		// Succeeding a job nobody reserved is refused.
		ok, err := repo.Succeed(ctx, job.ID, "early")
		require.NoError(t, err)
		assert.False(t, ok)

		_, err = repo.ReserveNext(ctx)
		require.NoError(t, err)
		ok, err = repo.Succeed(ctx, job.ID, "exports/out.csv")
		require.NoError(t, err)
		assert.True(t, ok)

		got, err := repo.GetByID(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusSucceeded, got.Status)
		require.NotNil(t, got.Result)
		assert.Equal(t, "exports/out.csv", *got.Result)
		assert.NotNil(t, got.FinishedAt)
	})
}

func TestJobRepoFailRetriesRetrySafeKinds(t *testing.T) {
	testutil.WithAutoDB(t, func(db *sql.DB) {
		ctx := context.Background()
		repo := data.NewJobRepo(db, data.RepoConfig{})

		job, err := repo.Submit(ctx, testutil.NewSubmitJob().WithKind(model.JobKindSendReminder).Build())
		require.NoError(t, err)

		// Three failures re-queue, the fourth terminates.
		for attempt := 1; attempt <= 3; attempt++ {
			_, err = repo.ReserveNext(ctx)
			require.NoError(t, err)
			ok, failErr := repo.Fail(ctx, job.ID, "smtp unreachable")
			require.NoError(t, failErr)
			require.True(t, ok)

			got, getErr := repo.GetByID(ctx, job.ID)
			require.NoError(t, getErr)
			assert.Equal(t, model.JobStatusPending, got.Status, "attempt %d should re-queue", attempt)
			assert.Equal(t, attempt, got.RetryCount)
			assert.Nil(t, got.FinishedAt)
		}

		_, err = repo.ReserveNext(ctx)
		require.NoError(t, err)
		ok, err := repo.Fail(ctx, job.ID, "smtp unreachable")
		require.NoError(t, err)
		require.True(t, ok)

		got, err := repo.GetByID(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusFailed, got.Status)
		require.NotNil(t, got.LastError)
		assert.Equal(t, "smtp unreachable", *got.LastError)
		assert.NotNil(t, got.FinishedAt)
	})
}

func TestJobRepoFailTerminatesExportImmediately(t *testing.T) {
	testutil.WithAutoDB(t, func(db *sql.DB) {
		ctx := context.Background()
		repo := data.NewJobRepo(db, data.RepoConfig{})

		job, err := repo.Submit(ctx, testutil.NewSubmitJob().Build())
		require.NoError(t, err)
		_, err = repo.ReserveNext(ctx)
		require.NoError(t, err)

		ok, err := repo.Fail(ctx, job.ID, "disk full")
		require.NoError(t, err)
		require.True(t, ok)

		got, err := repo.GetByID(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusFailed, got.Status)
	})
}

func TestJobRepoGetMissing(t *testing.T) {
	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo := data.NewJobRepo(db, data.RepoConfig{})

		_, err := repo.GetByID(context.Background(), "00000000-0000-0000-0000-000000000000")
		assert.ErrorIs(t, err, data.ErrJobNotFound)
	})
}

func TestJobRepoCancelPending(t *testing.T) {
	testutil.WithAutoDB(t, func(db *sql.DB) {
		ctx := context.Background()
		repo := data.NewJobRepo(db, data.RepoConfig{})

		job, err := repo.Submit(ctx, testutil.NewSubmitJob().Build())
		require.NoError(t, err)

		ok, err := repo.CancelPending(ctx, job.ID)
		require.NoError(t, err)
		assert.True(t, ok)
		_, err = repo.GetByID(ctx, job.ID)
		assert.ErrorIs(t, err, data.ErrJobNotFound)

		// A running job cannot be cancelled.
		running, err := repo.Submit(ctx, testutil.NewSubmitJob().Build())
		require.NoError(t, err)
		_, err = repo.ReserveNext(ctx)
		require.NoError(t, err)
		ok, err = repo.CancelPending(ctx, running.ID)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestJobRepoDeleteFinishedBefore(t *testing.T) {
	testutil.WithAutoDB(t, func(db *sql.DB) {
		ctx := context.Background()
		tp := testutil.NewTestTimeProvider(testutil.TestTime())
		repo := data.NewJobRepo(db, data.RepoConfig{TimeProvider: tp})

		finishJob := func() string {
			job, err := repo.Submit(ctx, testutil.NewSubmitJob().Build())
			require.NoError(t, err)
			_, err = repo.ReserveNext(ctx)
			require.NoError(t, err)
			ok, err := repo.Succeed(ctx, job.ID, "done")
			require.NoError(t, err)
			require.True(t, ok)
			return job.ID
		}

		oldID := finishJob()
		tp.AddTime(48 * time.Hour)
		freshID := finishJob()
		pending, err := repo.Submit(ctx, testutil.NewSubmitJob().Build())
		require.NoError(t, err)

		cutoff := tp.Now().Add(-24 * time.Hour)
		deleted, err := repo.DeleteFinishedBefore(ctx, cutoff, 100)
		require.NoError(t, err)
		assert.Equal(t, int64(1), deleted)

		_, err = repo.GetByID(ctx, oldID)
		assert.ErrorIs(t, err, data.ErrJobNotFound)
		_, err = repo.GetByID(ctx, freshID)
		assert.NoError(t, err, "jobs inside retention survive")
		_, err = repo.GetByID(ctx, pending.ID)
		assert.NoError(t, err, "unfinished jobs are never reaped")
	})
}

func TestJobRepoDeleteFinishedBeforeHonorsBatchSize(t *testing.T) {
	testutil.WithAutoDB(t, func(db *sql.DB) {
		ctx := context.Background()
		tp := testutil.NewTestTimeProvider(testutil.TestTime())
		repo := data.NewJobRepo(db, data.RepoConfig{TimeProvider: tp})

		for i := 0; i < 3; i++ {
			job, err := repo.Submit(ctx, testutil.NewSubmitJob().Build())
			require.NoError(t, err)
			_, err = repo.ReserveNext(ctx)
			require.NoError(t, err)
			_, err = repo.Succeed(ctx, job.ID, "done")
			require.NoError(t, err)
		}
		tp.AddTime(48 * time.Hour)

		cutoff := tp.Now()
		deleted, err := repo.DeleteFinishedBefore(ctx, cutoff, 2)
		require.NoError(t, err)
		assert.Equal(t, int64(2), deleted)

		deleted, err = repo.DeleteFinishedBefore(ctx, cutoff, 2)
		require.NoError(t, err)
		assert.Equal(t, int64(1), deleted)
	})
}

func TestJobRepoSubmitInTxRollsBackWithTransaction(t *testing.T) {
	testutil.WithAutoDB(t, func(db *sql.DB) {
		ctx := context.Background()
		repo := data.NewJobRepo(db, data.RepoConfig{})

		var jobID string
		err := pgxutil.WithSQLTx(ctx, db, func(tx *sql.Tx) error {
			job, serr := repo.SubmitInTx(ctx, tx, testutil.NewSubmitJob().Build())
			if serr != nil {
				return serr
			}
			jobID = job.ID
			return assert.AnError
		})
		require.Error(t, err)

		_, err = repo.GetByID(ctx, jobID)
		assert.ErrorIs(t, err, data.ErrJobNotFound, "rolled-back submit leaves no job")
	})
}

func TestJobRepoWaitForNotification(t *testing.T) {
	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo := data.NewJobRepo(db, data.RepoConfig{})

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		notified := make(chan error, 1)
		go func() { notified <- repo.WaitForNotification(ctx) }()

		// Give the listener a moment to attach before submitting.
		time.Sleep(200 * time.Millisecond)
		_, err := repo.Submit(ctx, testutil.NewSubmitJob().Build())
		require.NoError(t, err)

		select {
		case err := <-notified:
			assert.NoError(t, err)
		case <-ctx.Done():
			t.Fatal("notification never arrived")
		}
	})
}
