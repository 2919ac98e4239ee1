package cancellation

import (
	"fmt"

	"github.com/kirinyoku/tixflow/internal/domain"
)

var (
	ErrBookingNotFound = fmt.Errorf("booking not found: %w", domain.ErrNotFound)
	ErrForbidden       = fmt.Errorf("not allowed to cancel this booking: %w", domain.ErrForbidden)
	ErrInvalidState    = fmt.Errorf("booking cannot be cancelled in its current state: %w", domain.ErrConflict)
	ErrSeatsChanged    = fmt.Errorf("seats changed during cancellation: %w", domain.ErrConflict)
)
