package repository

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrSeatsUnavailable  = errors.New("some seats unavailable")
	ErrSeatEventMismatch = errors.New("seat belongs to another event")
	ErrStaleVersion      = errors.New("stale seat version")
)

// SeatsError carries the seat unit ids that caused Err.
type SeatsError struct {
	Err     error
	SeatIDs []int64
}

func (e *SeatsError) Error() string {
	return fmt.Sprintf("%v: %v", e.Err, e.SeatIDs)
}

func (e *SeatsError) Unwrap() error {
	return e.Err
}
