package checkout

import (
	"fmt"

	"github.com/kirinyoku/tixflow/internal/domain"
)

var (
	ErrHoldNotFound           = fmt.Errorf("hold not found: %w", domain.ErrNotFound)
	ErrNotOwner               = fmt.Errorf("hold belongs to another buyer: %w", domain.ErrForbidden)
	ErrPaymentDeclined        = fmt.Errorf("payment declined: %w", domain.ErrPaymentDeclined)
	ErrPaymentUnavailable     = fmt.Errorf("payment provider unavailable: %w", domain.ErrUnavailable)
	ErrHoldStale              = fmt.Errorf("hold no longer owns any seats: %w", domain.ErrConflict)
	ErrAlreadyCheckedOut      = fmt.Errorf("hold already checked out: %w", domain.ErrConflict)
	ErrHandoffNotAcknowledged = fmt.Errorf("booking handoff not acknowledged: %w", domain.ErrUnavailable)
)

// SeatStateConflictError reports a seat of the hold that is not RESERVED under it.
type SeatStateConflictError struct {
	SeatID int64
	Status domain.SeatStatus
}

func (e SeatStateConflictError) Error() string {
	return fmt.Sprintf("seat %d is %s, not reserved by this hold", e.SeatID, e.Status)
}

func (e SeatStateConflictError) Unwrap() error {
	return domain.ErrConflict
}
