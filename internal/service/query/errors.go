package query

import (
	"fmt"

	"github.com/kirinyoku/tixflow/internal/domain"
)

var (
	ErrEventNotFound   = fmt.Errorf("event not found: %w", domain.ErrNotFound)
	ErrBookingNotFound = fmt.Errorf("booking not found: %w", domain.ErrNotFound)
	ErrForbidden       = fmt.Errorf("not allowed to view this booking: %w", domain.ErrForbidden)
)
