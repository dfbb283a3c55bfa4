package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	apperrors "github.com/housecall/housecall/internal/errors"

	"github.com/housecall/housecall/internal/data/pgxutil"
	"github.com/housecall/housecall/internal/domain/model"
)

// UserRepo provides read access to user accounts. Account creation and
// credentials are owned by the identity system; this repository only
// reads the directory the booking core needs.
type UserRepo struct {
	DB *sql.DB
}

// NewUserRepo creates a new UserRepo instance.
func NewUserRepo(db *sql.DB) *UserRepo {
	return &UserRepo{DB: db}
}

const userColumns = `
  id,
  username,
  email,
  role,
  active,
  COALESCE(service_type, ''),
  created_at
`

// GetByID retrieves a user by id.
func (r *UserRepo) GetByID(ctx context.Context, id string) (*model.User, error) {
	var user *model.User
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, qerr := conn.Query(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
		if qerr != nil {
			return qerr
		}
		u, cerr := collectUser(rows)
		if cerr != nil {
			return cerr
		}
		user = u
		return nil
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, apperrors.MapDBError(fmt.Errorf("get user: %w", err))
	}
	return user, nil
}

// PickProfessional selects the active professional offering the named
// service with the fewest open requests; ties break on the lowest user
// id. This replaces first-match assignment with a deterministic,
// documented least-loaded rule. Returns nil when no professional matches.
func (r *UserRepo) PickProfessional(ctx context.Context, serviceName string) (*model.User, error) {
	var user *model.User
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, qerr := conn.Query(ctx, `
			SELECT u.id, u.username, u.email, u.role, u.active, COALESCE(u.service_type, ''), u.created_at
			FROM users u
			LEFT JOIN service_requests sr
			  ON sr.professional_id = u.id AND sr.status IN ($2, $3)
			WHERE u.role = $4 AND u.active AND u.service_type = $1
			GROUP BY u.id
			ORDER BY COUNT(sr.id) ASC, u.id ASC
			LIMIT 1
		`, serviceName, model.StatusRequested, model.StatusInProgress, model.RoleProfessional)
		if qerr != nil {
			return qerr
		}
		u, cerr := collectUser(rows)
		if cerr != nil {
			return cerr
		}
		user = u
		return nil
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.MapDBError(fmt.Errorf("pick professional: %w", err))
	}
	return user, nil
}

// ListActiveProfessionals returns every active professional. Reminder
// recipients are enumerated with this at fire time, never cached.
func (r *UserRepo) ListActiveProfessionals(ctx context.Context) ([]*model.User, error) {
	return r.list(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE role = $1 AND active
		ORDER BY id ASC
	`, model.RoleProfessional)
}

// ListCustomers returns every customer, for the monthly report fan-out.
func (r *UserRepo) ListCustomers(ctx context.Context) ([]*model.User, error) {
	return r.list(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE role = $1
		ORDER BY id ASC
	`, model.RoleCustomer)
}

func (r *UserRepo) list(ctx context.Context, query string, args ...any) ([]*model.User, error) {
	var out []*model.User
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, qerr := conn.Query(ctx, query, args...)
		if qerr != nil {
			return qerr
		}
		defer rows.Close()
		collected, cerr := pgx.CollectRows(rows, scanUser)
		if cerr != nil {
			return cerr
		}
		out = collected
		return nil
	})
	if err != nil {
		return nil, apperrors.MapDBError(fmt.Errorf("list users: %w", err))
	}
	return out, nil
}

func collectUser(rows pgx.Rows) (*model.User, error) {
	defer rows.Close()
	return pgx.CollectOneRow(rows, scanUser)
}

func scanUser(row pgx.CollectableRow) (*model.User, error) {
	var u model.User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.Role, &u.Active, &u.ServiceType, &u.CreatedAt)
	return &u, err
}
