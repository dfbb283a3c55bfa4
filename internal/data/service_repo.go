package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	apperrors "github.com/housecall/housecall/internal/errors"

	"github.com/housecall/housecall/internal/data/pgxutil"
	"github.com/housecall/housecall/internal/domain/model"
)

// ServiceRepo provides database operations for the service catalog.
type ServiceRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewServiceRepo creates a new ServiceRepo instance.
func NewServiceRepo(db *sql.DB, cfg RepoConfig) *ServiceRepo {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	return &ServiceRepo{DB: db, timeProvider: tp}
}

const serviceColumns = `
  id,
  name,
  price,
  time_required,
  COALESCE(description, ''),
  created_at
`

// Create inserts a new catalog entry.
func (r *ServiceRepo) Create(ctx context.Context, req *model.CreateServiceRequest) (*model.Service, error) {
	if req == nil {
		return nil, errors.New("create service request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	now := r.timeProvider.Now().UTC()

	var svc *model.Service
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, qerr := conn.Query(ctx, `
			INSERT INTO services (id, name, price, time_required, description, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING `+serviceColumns,
			id, req.Name, req.Price, req.TimeRequired, req.Description, now)
		if qerr != nil {
			return qerr
		}
		s, cerr := collectService(rows)
		if cerr != nil {
			return cerr
		}
		svc = s
		return nil
	})
	if err != nil {
		return nil, apperrors.MapDBError(fmt.Errorf("create service: %w", err))
	}
	return svc, nil
}

// GetByID retrieves a catalog entry by id.
func (r *ServiceRepo) GetByID(ctx context.Context, id string) (*model.Service, error) {
	var svc *model.Service
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, qerr := conn.Query(ctx, `SELECT `+serviceColumns+` FROM services WHERE id = $1`, id)
		if qerr != nil {
			return qerr
		}
		s, cerr := collectService(rows)
		if cerr != nil {
			return cerr
		}
		svc = s
		return nil
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrServiceNotFound
	}
	if err != nil {
		return nil, apperrors.MapDBError(fmt.Errorf("get service: %w", err))
	}
	return svc, nil
}

// List returns the whole catalog ordered by name.
func (r *ServiceRepo) List(ctx context.Context) ([]*model.Service, error) {
	var out []*model.Service
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, qerr := conn.Query(ctx, `SELECT `+serviceColumns+` FROM services ORDER BY name ASC`)
		if qerr != nil {
			return qerr
		}
		defer rows.Close()
		collected, cerr := pgx.CollectRows(rows, scanService)
		if cerr != nil {
			return cerr
		}
		out = collected
		return nil
	})
	if err != nil {
		return nil, apperrors.MapDBError(fmt.Errorf("list services: %w", err))
	}
	return out, nil
}

// Update overwrites the mutable fields of a catalog entry.
func (r *ServiceRepo) Update(ctx context.Context, id string, req *model.CreateServiceRequest) (*model.Service, error) {
	if req == nil {
		return nil, errors.New("update service request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var svc *model.Service
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, qerr := conn.Query(ctx, `
			UPDATE services
			SET name = $2, price = $3, time_required = $4, description = $5
			WHERE id = $1
			RETURNING `+serviceColumns,
			id, req.Name, req.Price, req.TimeRequired, req.Description)
		if qerr != nil {
			return qerr
		}
		s, cerr := collectService(rows)
		if cerr != nil {
			return cerr
		}
		svc = s
		return nil
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrServiceNotFound
	}
	if err != nil {
		return nil, apperrors.MapDBError(fmt.Errorf("update service: %w", err))
	}
	return svc, nil
}

// Delete removes a catalog entry. Returns false when the id is unknown.
func (r *ServiceRepo) Delete(ctx context.Context, id string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM services WHERE id = $1`, id)
	if err != nil {
		return false, apperrors.MapDBError(fmt.Errorf("delete service: %w", err))
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete service rows affected: %w", err)
	}
	return affected > 0, nil
}

func collectService(rows pgx.Rows) (*model.Service, error) {
	defer rows.Close()
	return pgx.CollectOneRow(rows, scanService)
}

func scanService(row pgx.CollectableRow) (*model.Service, error) {
	var s model.Service
	err := row.Scan(&s.ID, &s.Name, &s.Price, &s.TimeRequired, &s.Description, &s.CreatedAt)
	return &s, err
}
