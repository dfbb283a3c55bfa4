package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/housecall/housecall/internal/data/pgxutil"
	"github.com/housecall/housecall/internal/domain/model"
)

// notifyChannel is the Postgres NOTIFY channel used to wake idle workers
// when a new job becomes available.
const notifyChannel = "job_submitted"

// retrySafeMaxRetries is the total attempt budget for retry-safe job kinds.
const retrySafeMaxRetries = 3

// RepoConfig holds configuration options shared by repositories.
type RepoConfig struct {
	Logger       *slog.Logger
	TimeProvider TimeProvider
}

// JobRepo provides database operations for the job queue. Reservation uses
// FOR UPDATE SKIP LOCKED so concurrent workers never double-claim a job,
// and pending jobs are handed out in submission order.
type JobRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
	logger       *slog.Logger
}

// NewJobRepo creates a new JobRepo instance with the given database
// connection and configuration.
func NewJobRepo(db *sql.DB, cfg RepoConfig) *JobRepo {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	return &JobRepo{
		DB:           db,
		timeProvider: tp,
		logger:       cfg.Logger,
	}
}

const jobColumns = `
  id,
  kind,
  status,
  args,
  result,
  last_error,
  retry_count,
  max_retries,
  submitted_at,
  started_at,
  finished_at
`

// reserveNextSQL atomically flips the oldest pending job to running.
const reserveNextSQL = `
  WITH cte AS (
    SELECT id FROM jobs
    WHERE status = 'pending'
    ORDER BY submitted_at ASC, id ASC
    LIMIT 1
    FOR UPDATE SKIP LOCKED
  )
  UPDATE jobs j
  SET status = 'running',
      started_at = COALESCE(j.started_at, $1)
  FROM cte
  WHERE j.id = cte.id
  RETURNING j.id, j.kind, j.status, j.args, j.result, j.last_error, j.retry_count, j.max_retries, j.submitted_at, j.started_at, j.finished_at`

// Submit inserts a pending job and notifies listening workers in the same
// transaction. It returns as soon as the row is durable; execution happens
// later on a worker.
func (r *JobRepo) Submit(ctx context.Context, req *model.SubmitJobRequest) (*model.Job, error) {
	if req == nil {
		return nil, errors.New("submit job request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	args := req.Args
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	maxRetries := 0
	if req.Kind.RetrySafe() {
		maxRetries = retrySafeMaxRetries
	}

	id := uuid.NewString()
	now := r.timeProvider.Now().UTC()

	var job *model.Job
	txErr := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Fn: func(tx pgx.Tx) error {
			rows, err := tx.Query(ctx, `
				INSERT INTO jobs (id, kind, status, args, max_retries, submitted_at)
				VALUES ($1, $2, 'pending', $3, $4, $5)
				RETURNING `+jobColumns,
				id, req.Kind, args, maxRetries, now)
			if err != nil {
				return fmt.Errorf("insert job: %w", err)
			}
			j, cerr := collectJob(rows)
			if cerr != nil {
				return fmt.Errorf("collect job: %w", cerr)
			}
			if _, nerr := tx.Exec(ctx, `SELECT pg_notify($1::text, $2::text)`, notifyChannel, j.ID); nerr != nil {
				return fmt.Errorf("send job notification: %w", nerr)
			}
			job = j
			return nil
		},
	})
	if txErr != nil {
		return nil, txErr
	}

	if r.logger != nil {
		r.logger.DebugContext(ctx, "job submitted", "id", job.ID, "kind", job.Kind)
	}
	return job, nil
}

// SubmitInTx inserts a pending job within an existing transaction. The
// scheduler uses this so a calendar firing and its job land atomically.
// The worker notification is sent in the same transaction and only
// delivered if it commits.
func (r *JobRepo) SubmitInTx(ctx context.Context, tx *sql.Tx, req *model.SubmitJobRequest) (*model.Job, error) {
	if req == nil {
		return nil, errors.New("submit job request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	args := req.Args
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	maxRetries := 0
	if req.Kind.RetrySafe() {
		maxRetries = retrySafeMaxRetries
	}

	id := uuid.NewString()
	now := r.timeProvider.Now().UTC()

	var job model.Job
	err := tx.QueryRowContext(ctx, `
		INSERT INTO jobs (id, kind, status, args, max_retries, submitted_at)
		VALUES ($1, $2, 'pending', $3, $4, $5)
		RETURNING `+jobColumns,
		id, req.Kind, []byte(args), maxRetries, now).Scan(
		&job.ID,
		&job.Kind,
		&job.Status,
		&job.Args,
		&job.Result,
		&job.LastError,
		&job.RetryCount,
		&job.MaxRetries,
		&job.SubmittedAt,
		&job.StartedAt,
		&job.FinishedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert job in tx: %w", err)
	}
	if _, nerr := tx.ExecContext(ctx, `SELECT pg_notify($1::text, $2::text)`, notifyChannel, job.ID); nerr != nil {
		return nil, fmt.Errorf("send job notification: %w", nerr)
	}
	return &job, nil
}

// ReserveNext reserves the oldest pending job for processing, regardless
// of kind. Returns model.ErrNoJobsAvailable when the queue is empty.
func (r *JobRepo) ReserveNext(ctx context.Context) (*model.Job, error) {
	var job *model.Job
	err := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Opts: &sql.TxOptions{Isolation: sql.LevelReadCommitted},
		Fn: func(tx pgx.Tx) error {
			rows, qerr := tx.Query(ctx, reserveNextSQL, r.timeProvider.Now().UTC())
			if qerr != nil {
				return fmt.Errorf("reserve job: %w", qerr)
			}
			j, cerr := collectJob(rows)
			if errors.Is(cerr, pgx.ErrNoRows) {
				return model.ErrNoJobsAvailable
			}
			if cerr != nil {
				return fmt.Errorf("reserve job: %w", cerr)
			}
			job = j
			return nil
		},
	})
	if err != nil {
		if errors.Is(err, model.ErrNoJobsAvailable) {
			return nil, model.ErrNoJobsAvailable
		}
		return nil, err
	}
	return job, nil
}

// Succeed marks a running job as succeeded and records its result exactly
// once. Returns false when the job was not running.
func (r *JobRepo) Succeed(ctx context.Context, id, result string) (bool, error) {
	now := r.timeProvider.Now().UTC()
	res, err := r.DB.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'succeeded',
		    result = $2,
		    last_error = NULL,
		    finished_at = $3
		WHERE id = $1 AND status = 'running'
	`, id, result, now)
	if err != nil {
		return false, fmt.Errorf("succeed job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("succeed job rows affected: %w", err)
	}
	return affected > 0, nil
}

// Fail records a job execution error. Retry-safe kinds with attempts left
// re-enter the pending queue; everything else terminates as failed with
// the error preserved verbatim for pollers.
func (r *JobRepo) Fail(ctx context.Context, id, errMsg string) (bool, error) {
	if errMsg == "" {
		return false, errors.New("error message required")
	}
	now := r.timeProvider.Now().UTC()

	var status model.JobStatus
	err := r.DB.QueryRowContext(ctx, `
		UPDATE jobs
		SET last_error = $2,
		    retry_count = retry_count + 1,
		    status = CASE WHEN retry_count + 1 >= max_retries THEN 'failed' ELSE 'pending' END,
		    finished_at = CASE WHEN retry_count + 1 >= max_retries THEN $3::timestamptz ELSE NULL END
		WHERE id = $1 AND status = 'running'
		RETURNING status
	`, id, errMsg, now).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("fail job: %w", err)
	}

	// A job re-queued for retry must wake a worker; the submit-time
	// notification has already been consumed.
	if status == model.JobStatusPending {
		if _, nerr := r.DB.ExecContext(ctx, `SELECT pg_notify($1::text, $2::text)`, notifyChannel, id); nerr != nil && r.logger != nil {
			r.logger.WarnContext(ctx, "notify retry failed", "job_id", id, "error", nerr)
		}
	}
	return true, nil
}

// GetByID retrieves a job by its ID. Unknown or reaped ids return
// ErrJobNotFound.
func (r *JobRepo) GetByID(ctx context.Context, id string) (*model.Job, error) {
	var job *model.Job
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, qerr := conn.Query(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
		if qerr != nil {
			return qerr
		}
		j, cerr := collectJob(rows)
		if cerr != nil {
			return cerr
		}
		job = j
		return nil
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// CancelPending deletes a job that has not started running. Cancellation
// is advisory: once a worker has reserved the job this is a no-op and the
// method reports false.
func (r *JobRepo) CancelPending(ctx context.Context, id string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM jobs WHERE id = $1 AND status = 'pending'`, id)
	if err != nil {
		return false, fmt.Errorf("cancel job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("cancel job rows affected: %w", err)
	}
	return affected > 0, nil
}

// DeleteFinishedBefore removes succeeded and failed jobs that finished
// before the cutoff, in batches. This bounds the retention window for job
// records; a reaped job id polls as not found.
func (r *JobRepo) DeleteFinishedBefore(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	if batchSize < 1 {
		batchSize = 1
	}
	res, err := r.DB.ExecContext(ctx, `
		DELETE FROM jobs
		WHERE id IN (
			SELECT id FROM jobs
			WHERE status IN ('succeeded', 'failed')
			  AND finished_at < $1
			ORDER BY finished_at ASC
			LIMIT $2
		)
	`, cutoff.UTC(), batchSize)
	if err != nil {
		return 0, fmt.Errorf("delete finished jobs: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete finished jobs rows affected: %w", err)
	}
	return affected, nil
}

// WaitForNotification blocks until a new-job notification arrives or the
// context is cancelled.
func (r *JobRepo) WaitForNotification(ctx context.Context) error {
	conn, err := r.DB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("get conn from pool: %w", err)
	}
	defer func() {
		_ = conn.Close()
	}()

	quoted := pgx.Identifier{notifyChannel}.Sanitize()
	if _, execErr := conn.ExecContext(ctx, "LISTEN "+quoted); execErr != nil {
		return fmt.Errorf("listen %s: %w", notifyChannel, execErr)
	}
	defer func() {
		_, _ = conn.ExecContext(context.Background(), "UNLISTEN "+quoted)
	}()

	return conn.Raw(func(dc any) error {
		sc, ok := dc.(*stdlib.Conn)
		if !ok {
			return errors.New("unexpected driver connection type; expected *stdlib.Conn")
		}
		_, notifyErr := sc.Conn().WaitForNotification(ctx)
		return notifyErr
	})
}

// collectJob scans a single job row, closing rows before returning.
func collectJob(rows pgx.Rows) (*model.Job, error) {
	defer rows.Close()
	return pgx.CollectOneRow(rows, func(row pgx.CollectableRow) (*model.Job, error) {
		var j model.Job
		err := row.Scan(
			&j.ID,
			&j.Kind,
			&j.Status,
			&j.Args,
			&j.Result,
			&j.LastError,
			&j.RetryCount,
			&j.MaxRetries,
			&j.SubmittedAt,
			&j.StartedAt,
			&j.FinishedAt,
		)
		return &j, err
	})
}
