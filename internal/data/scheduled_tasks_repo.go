package data

import (
	"context"
	"database/sql"
	"fmt"
	"hash/fnv"
	"math"
	"time"

	"github.com/housecall/housecall/internal/data/pgxutil"
	"github.com/housecall/housecall/internal/domain/model"
)

// ScheduledTaskRepo provides database operations for calendar-triggered tasks.
type ScheduledTaskRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewScheduledTaskRepo creates a new ScheduledTaskRepo instance.
func NewScheduledTaskRepo(db *sql.DB, cfg RepoConfig) *ScheduledTaskRepo {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	return &ScheduledTaskRepo{DB: db, timeProvider: tp}
}

// fnvHash computes FNV-1a 64-bit hash of the given string for use as advisory lock key.
func fnvHash(s string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	// Advisory locks accept BIGINT; constrain the unsigned hash into int64 range before casting.
	u := h.Sum64()
	if u > uint64(math.MaxInt64) {
		u %= uint64(math.MaxInt64)
	}
	return int64(u) // #nosec G115 -- value is explicitly bounded to <= MaxInt64 before casting to int64.
}

const scheduledTaskColumns = `
  id,
  task_name,
  job_kind,
  cadence,
  day_of_month,
  hour,
  minute,
  next_fire_at,
  last_fired_at
`

// FindDueTx finds scheduled tasks whose slot has arrived, within an existing
// transaction. Uses FOR UPDATE SKIP LOCKED so concurrent schedulers never
// process the same task. Must be paired with MarkFiredTx in the same
// transaction for the lock to hold across selection and update.
func (r *ScheduledTaskRepo) FindDueTx(
	ctx context.Context,
	tx *sql.Tx,
	now time.Time,
	limit int,
) ([]model.ScheduledTask, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	}

	query := `
		SELECT ` + scheduledTaskColumns + `
		FROM scheduled_tasks
		WHERE next_fire_at <= $1
		ORDER BY next_fire_at ASC, task_name ASC
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`

	rows, err := tx.QueryContext(ctx, query, now.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("query due scheduled tasks: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var tasks []model.ScheduledTask
	for rows.Next() {
		task, scanErr := scanScheduledTask(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan scheduled task: %w", scanErr)
		}
		tasks = append(tasks, task)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("iterate scheduled tasks: %w", rowsErr)
	}

	return tasks, nil
}

// MarkFiredTx records a firing within an existing transaction: last_fired_at
// is set to the firing time and next_fire_at advances to the first slot
// strictly after it, skipping anything already in the past.
// Return semantics:
//   - (true, nil): task found and updated
//   - (false, nil): task not found
//   - (false, err): update failed due to error
func (r *ScheduledTaskRepo) MarkFiredTx(
	ctx context.Context,
	tx *sql.Tx,
	task *model.ScheduledTask,
	firedAt time.Time,
) (bool, error) {
	next := task.NextFireAfter(firedAt.UTC())

	res, err := tx.ExecContext(ctx, `
		UPDATE scheduled_tasks
		SET last_fired_at = $2, next_fire_at = $3
		WHERE id = $1`,
		task.ID, firedAt.UTC(), next)
	if err != nil {
		return false, fmt.Errorf("mark scheduled task fired: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}
	return affected > 0, nil
}

// List returns all scheduled tasks ordered by name.
func (r *ScheduledTaskRepo) List(ctx context.Context) ([]model.ScheduledTask, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT `+scheduledTaskColumns+`
		FROM scheduled_tasks
		ORDER BY task_name ASC`)
	if err != nil {
		return nil, fmt.Errorf("list scheduled tasks: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var tasks []model.ScheduledTask
	for rows.Next() {
		task, scanErr := scanScheduledTask(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan scheduled task: %w", scanErr)
		}
		tasks = append(tasks, task)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("iterate scheduled tasks: %w", rowsErr)
	}
	return tasks, nil
}

// TryWithTaskLock attempts to acquire an advisory lock for the given task name.
// Uses FNV-1a 64-bit hash of task_name for the lock key.
// If the lock is acquired, executes fn within the same transaction.
// Return semantics:
//   - (false, nil): lock not acquired; fn was not executed
//   - (true, nil): lock acquired; fn executed and succeeded
//   - (true, err): lock acquired; fn executed and failed with err
func (r *ScheduledTaskRepo) TryWithTaskLock(
	ctx context.Context,
	taskName string,
	fn func(context.Context, *sql.Tx) error,
) (bool, error) {
	lockKey := fnvHash(taskName)

	var locked bool
	var fnErr error

	err := pgxutil.WithSQLTx(ctx, r.DB, func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx, "SELECT pg_try_advisory_xact_lock($1)", lockKey).Scan(&locked); err != nil {
			return fmt.Errorf("acquire advisory lock for task %s: %w", taskName, err)
		}
		if !locked {
			return nil
		}
		// A failing fn rolls the transaction back so a firing is
		// never half-recorded.
		fnErr = fn(ctx, tx)
		return fnErr
	})
	if err != nil {
		if fnErr != nil {
			return locked, fnErr
		}
		return false, err
	}

	return locked, fnErr
}

func scanScheduledTask(rows *sql.Rows) (model.ScheduledTask, error) {
	var t model.ScheduledTask
	var lastFired sql.NullTime
	err := rows.Scan(
		&t.ID,
		&t.TaskName,
		&t.JobKind,
		&t.Cadence,
		&t.DayOfMonth,
		&t.Hour,
		&t.Minute,
		&t.NextFireAt,
		&lastFired,
	)
	if err != nil {
		return model.ScheduledTask{}, err
	}
	if lastFired.Valid {
		t.LastFiredAt = &lastFired.Time
	}
	return t, nil
}
