package errors

import (
	"context"
	"fmt"
	"testing"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppErrorMessage(t *testing.T) {
	t.Parallel()

	plain := NotFound("request not found")
	assert.Equal(t, "request not found", plain.Error())

	cause := fmt.Errorf("connection reset")
	wrapped := Wrap(cause, ErrCodeInternal, "loading request")
	assert.Equal(t, "loading request: connection reset", wrapped.Error())
	assert.ErrorIs(t, wrapped, cause)
}

func TestWrapNilReturnsNil(t *testing.T) {
	t.Parallel()

	assert.Nil(t, Wrap(nil, ErrCodeInternal, "nothing"))
}

func TestPredicatesMatchTheirCode(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		pred func(error) bool
	}{
		{"not found", NotFoundf("job %s", "abc"), IsNotFound},
		{"forbidden", Forbidden("not your request"), IsForbidden},
		{"invalid transition", InvalidTransitionf("%s to %s", "requested", "completed"), IsInvalidTransition},
		{"invalid state", InvalidState("request is not completed"), IsInvalidState},
		{"validation", ValidationField("kind", "unknown job kind"), IsValidation},
		{"no professional", NoProfessional("no match for plumbing"), IsNoProfessional},
		{"stale state", StaleState("lost the race"), IsStaleState},
		{"conflict", Conflict("name taken"), IsConflict},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.True(t, tc.pred(tc.err))
			assert.False(t, tc.pred(fmt.Errorf("unrelated")))
		})
	}
}

func TestPredicatesSeeThroughWrapping(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("apply transition: %w", Forbidden("customer only"))
	assert.True(t, IsForbidden(err))
	assert.False(t, IsNotFound(err))
}

func TestCodeOf(t *testing.T) {
	t.Parallel()

	assert.Equal(t, ErrCodeConflict, CodeOf(Conflict("dup")))
	assert.Equal(t, ErrCodeInternal, CodeOf(fmt.Errorf("plain")))
}

func TestMapDBErrorNoRows(t *testing.T) {
	t.Parallel()

	mapped := MapDBError(pgx.ErrNoRows)
	assert.True(t, IsNotFound(mapped))
	assert.ErrorIs(t, mapped, pgx.ErrNoRows)
}

func TestMapDBErrorContext(t *testing.T) {
	t.Parallel()

	assert.Equal(t, ErrCodeTimeout, CodeOf(MapDBError(context.DeadlineExceeded)))
	assert.Equal(t, ErrCodeCanceled, CodeOf(MapDBError(context.Canceled)))
}

func TestMapDBErrorPgCodes(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		pg     *pgconn.PgError
		want   ErrorCode
		assert func(t *testing.T, err error)
	}{
		{
			name: "serialization failure",
			pg:   &pgconn.PgError{Code: pgerrcode.SerializationFailure},
			want: ErrCodeStaleState,
		},
		{
			name: "deadlock",
			pg:   &pgconn.PgError{Code: pgerrcode.DeadlockDetected},
			want: ErrCodeStaleState,
		},
		{
			name: "unique violation takes field from detail",
			pg: &pgconn.PgError{
				Code:   pgerrcode.UniqueViolation,
				Detail: "Key (name)=(plumbing) already exists.",
			},
			want: ErrCodeConflict,
			assert: func(t *testing.T, err error) {
				var appErr *AppError
				require.ErrorAs(t, err, &appErr)
				assert.Equal(t, "name", appErr.Field)
			},
		},
		{
			name: "foreign key violation",
			pg:   &pgconn.PgError{Code: pgerrcode.ForeignKeyViolation},
			want: ErrCodeValidation,
		},
		{
			name: "not null violation carries column",
			pg:   &pgconn.PgError{Code: pgerrcode.NotNullViolation, ColumnName: "customer_id"},
			want: ErrCodeValidation,
			assert: func(t *testing.T, err error) {
				var appErr *AppError
				require.ErrorAs(t, err, &appErr)
				assert.Equal(t, "customer_id", appErr.Field)
			},
		},
		{
			name: "anything else is internal",
			pg:   &pgconn.PgError{Code: pgerrcode.UndefinedTable},
			want: ErrCodeInternal,
		},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			mapped := MapDBError(tc.pg)
			assert.Equal(t, tc.want, CodeOf(mapped))
			if tc.assert != nil {
				tc.assert(t, mapped)
			}
		})
	}
}

func TestMapDBErrorPassesThroughUnknown(t *testing.T) {
	t.Parallel()

	plain := fmt.Errorf("not a db error")
	assert.Equal(t, plain, MapDBError(plain))
	assert.Nil(t, MapDBError(nil))
}
