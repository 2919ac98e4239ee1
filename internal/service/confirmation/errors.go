package confirmation

import (
	"fmt"

	"github.com/kirinyoku/tixflow/internal/domain"
)

// All worker failures are consistency violations: the message is retried and
// eventually dead-lettered, never acknowledged as done.
var (
	ErrBookingMissing = fmt.Errorf("booking missing: %w", domain.ErrConsistencyViolation)
	ErrHoldMismatch   = fmt.Errorf("message hold differs from booking hold: %w", domain.ErrConsistencyViolation)
	ErrNoSeats        = fmt.Errorf("no seats reference the booking hold: %w", domain.ErrConsistencyViolation)
	ErrLinesMismatch  = fmt.Errorf("held seats differ from booking lines: %w", domain.ErrConsistencyViolation)
	ErrSeatsMoved     = fmt.Errorf("seats changed while booking: %w", domain.ErrConsistencyViolation)
)

type SeatNotReservedError struct {
	SeatID int64
	Status domain.SeatStatus
}

func (e SeatNotReservedError) Error() string {
	return fmt.Sprintf("seat %d is %s, expected RESERVED", e.SeatID, e.Status)
}

func (e SeatNotReservedError) Unwrap() error {
	return domain.ErrConsistencyViolation
}
