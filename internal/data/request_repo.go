package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	apperrors "github.com/housecall/housecall/internal/errors"

	"github.com/housecall/housecall/internal/core"
	"github.com/housecall/housecall/internal/data/pgxutil"
	"github.com/housecall/housecall/internal/domain/model"
)

// RequestRepo provides database operations for service requests. Status
// changes are compare-and-swap updates keyed on the expected current
// status, so two conflicting transitions on the same row can never both
// apply: the loser's UPDATE matches zero rows.
type RequestRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
	logger       *slog.Logger
}

// NewRequestRepo creates a new RequestRepo instance.
func NewRequestRepo(db *sql.DB, cfg RepoConfig) *RequestRepo {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	return &RequestRepo{
		DB:           db,
		timeProvider: tp,
		logger:       cfg.Logger,
	}
}

const requestColumns = `
  id,
  service_id,
  service_name,
  customer_id,
  professional_id,
  status,
  review,
  created_at,
  completed_at
`

// Create inserts a new request in the canonical initial status.
func (r *RequestRepo) Create(ctx context.Context, p core.CreateRequestParams) (*model.ServiceRequest, error) {
	id := uuid.NewString()
	now := r.timeProvider.Now().UTC()

	var req *model.ServiceRequest
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, qerr := conn.Query(ctx, `
			INSERT INTO service_requests (id, service_id, service_name, customer_id, professional_id, status, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING `+requestColumns,
			id, p.ServiceID, p.ServiceName, p.CustomerID, p.ProfessionalID, model.StatusRequested, now)
		if qerr != nil {
			return qerr
		}
		sr, cerr := collectRequest(rows)
		if cerr != nil {
			return cerr
		}
		req = sr
		return nil
	})
	if err != nil {
		return nil, apperrors.MapDBError(fmt.Errorf("create request: %w", err))
	}

	if r.logger != nil {
		r.logger.DebugContext(ctx, "request created",
			"id", req.ID, "service", req.ServiceName, "professional_id", req.ProfessionalID)
	}
	return req, nil
}

// GetByID retrieves a request by id.
func (r *RequestRepo) GetByID(ctx context.Context, id string) (*model.ServiceRequest, error) {
	var req *model.ServiceRequest
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, qerr := conn.Query(ctx, `SELECT `+requestColumns+` FROM service_requests WHERE id = $1`, id)
		if qerr != nil {
			return qerr
		}
		sr, cerr := collectRequest(rows)
		if cerr != nil {
			return cerr
		}
		req = sr
		return nil
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRequestNotFound
	}
	if err != nil {
		return nil, apperrors.MapDBError(fmt.Errorf("get request: %w", err))
	}
	return req, nil
}

// UpdateStatus applies the transition iff the row is still in the expected
// From status. Returns false when another transition got there first.
// CompletedAt is written only if not already set, keeping the
// completion-timestamp-written-exactly-once guarantee in the same
// statement as the status change.
func (r *RequestRepo) UpdateStatus(ctx context.Context, p core.UpdateStatusParams) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE service_requests
		SET status = $3,
		    completed_at = COALESCE(completed_at, $4)
		WHERE id = $1 AND status = $2
	`, p.ID, p.From, p.To, p.CompletedAt)
	if err != nil {
		return false, apperrors.MapDBError(fmt.Errorf("update request status: %w", err))
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update request status rows affected: %w", err)
	}
	return affected > 0, nil
}

// SetReview stores the customer's review text. The status guard lives in
// the statement so a concurrent cancellation cannot interleave a review
// onto a non-completed request.
func (r *RequestRepo) SetReview(ctx context.Context, id, review string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE service_requests
		SET review = $2
		WHERE id = $1 AND status = $3
	`, id, review, model.StatusCompleted)
	if err != nil {
		return false, apperrors.MapDBError(fmt.Errorf("set review: %w", err))
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("set review rows affected: %w", err)
	}
	return affected > 0, nil
}

// ListCompleted returns all completed requests, oldest first. Used by the
// CSV export job.
func (r *RequestRepo) ListCompleted(ctx context.Context) ([]*model.ServiceRequest, error) {
	return r.list(ctx, `
		SELECT `+requestColumns+`
		FROM service_requests
		WHERE status = $1
		ORDER BY completed_at ASC, id ASC
	`, model.StatusCompleted)
}

// ListClosed returns every terminally closed request, most recently
// closed first.
func (r *RequestRepo) ListClosed(ctx context.Context) ([]*model.ServiceRequest, error) {
	return r.list(ctx, `
		SELECT `+requestColumns+`
		FROM service_requests
		WHERE status IN ($1, $2)
		ORDER BY completed_at DESC, id DESC
	`, model.StatusCompleted, model.StatusCancelled)
}

// ListOpenByProfessional returns the professional's requests that still
// need attention, oldest first. Used by the reminder job.
func (r *RequestRepo) ListOpenByProfessional(ctx context.Context, professionalID string) ([]*model.ServiceRequest, error) {
	return r.list(ctx, `
		SELECT `+requestColumns+`
		FROM service_requests
		WHERE professional_id = $1 AND status IN ($2, $3)
		ORDER BY created_at ASC, id ASC
	`, professionalID, model.StatusRequested, model.StatusInProgress)
}

// ListByCustomer returns every request the customer has made, newest
// first. Used by the monthly report job.
func (r *RequestRepo) ListByCustomer(ctx context.Context, customerID string) ([]*model.ServiceRequest, error) {
	return r.list(ctx, `
		SELECT `+requestColumns+`
		FROM service_requests
		WHERE customer_id = $1
		ORDER BY created_at DESC, id DESC
	`, customerID)
}

func (r *RequestRepo) list(ctx context.Context, query string, args ...any) ([]*model.ServiceRequest, error) {
	var out []*model.ServiceRequest
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, qerr := conn.Query(ctx, query, args...)
		if qerr != nil {
			return qerr
		}
		defer rows.Close()
		collected, cerr := pgx.CollectRows(rows, scanRequest)
		if cerr != nil {
			return cerr
		}
		out = collected
		return nil
	})
	if err != nil {
		return nil, apperrors.MapDBError(fmt.Errorf("list requests: %w", err))
	}
	return out, nil
}

func collectRequest(rows pgx.Rows) (*model.ServiceRequest, error) {
	defer rows.Close()
	return pgx.CollectOneRow(rows, scanRequest)
}

func scanRequest(row pgx.CollectableRow) (*model.ServiceRequest, error) {
	var sr model.ServiceRequest
	err := row.Scan(
		&sr.ID,
		&sr.ServiceID,
		&sr.ServiceName,
		&sr.CustomerID,
		&sr.ProfessionalID,
		&sr.Status,
		&sr.Review,
		&sr.CreatedAt,
		&sr.CompletedAt,
	)
	return &sr, err
}
