package reservation

import (
	"errors"
	"fmt"
	"time"

	"github.com/kirinyoku/tixflow/internal/domain"
)

var (
	ErrNoSeats       = fmt.Errorf("no seats selected: %w", domain.ErrInvalidInput)
	ErrEventMismatch = fmt.Errorf("seat belongs to another event: %w", domain.ErrInvalidInput)
	ErrRateLimited   = fmt.Errorf("too many holds: %w", domain.ErrUnavailable)
	ErrHoldNotStored = fmt.Errorf("hold could not be stored: %w", domain.ErrUnavailable)
)

// SeatUnavailableError reports that a requested seat unit is no longer AVAILABLE.
type SeatUnavailableError struct {
	SeatID  int64
	SeatIDs []int64
}

func (e SeatUnavailableError) Error() string {
	return fmt.Sprintf("seat %d is unavailable", e.SeatID)
}

func (e SeatUnavailableError) Unwrap() error {
	return domain.ErrConflict
}

type SeatNotFoundError struct {
	SeatIDs []int64
}

func (e SeatNotFoundError) Error() string {
	return fmt.Sprintf("seats not found: %v", e.SeatIDs)
}

func (e SeatNotFoundError) Unwrap() error {
	return domain.ErrNotFound
}

type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry in %s", e.RetryAfter)
}

func (e RateLimitedError) Unwrap() error {
	return ErrRateLimited
}

// IsRateLimited reports whether err was caused by the per-buyer hold limit.
func IsRateLimited(err error) (time.Duration, bool) {
	var rl RateLimitedError
	if errors.As(err, &rl) {
		return rl.RetryAfter, true
	}
	return 0, false
}
