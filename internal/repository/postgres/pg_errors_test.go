package postgresrepo

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/kirinyoku/tixflow/internal/repository"
	"github.com/stretchr/testify/assert"
)

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(&pgconn.PgError{Code: "40001"}))
	assert.True(t, IsRetryable(fmt.Errorf("commit: %w", &pgconn.PgError{Code: "40P01"})))
	assert.False(t, IsRetryable(&pgconn.PgError{Code: "23505"}))
	assert.False(t, IsRetryable(errors.New("boom")))
}

func TestWrapDBErr(t *testing.T) {
	assert.NoError(t, wrapDBErr("op", nil))

	err := wrapDBErr("bookings.Get", pgx.ErrNoRows)
	assert.ErrorIs(t, err, repository.ErrNotFound)
	assert.Contains(t, err.Error(), "bookings.Get")

	err = wrapDBErr("bookings.Create", &pgconn.PgError{Code: "23505", ConstraintName: "bookings_hold_id_key"})
	assert.ErrorIs(t, err, repository.ErrConflict)
	assert.Contains(t, err.Error(), "bookings_hold_id_key")

	other := errors.New("connection reset")
	assert.ErrorIs(t, wrapDBErr("op", other), other)
}
