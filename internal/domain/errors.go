package domain

import "errors"

// Error kinds. Every service error wraps exactly one of these.
var (
	ErrNotFound             = errors.New("not found")
	ErrConflict             = errors.New("conflict")
	ErrForbidden            = errors.New("forbidden")
	ErrPaymentDeclined      = errors.New("payment declined")
	ErrConsistencyViolation = errors.New("consistency violation")
	ErrInvalidInput         = errors.New("invalid input")
	ErrUnavailable          = errors.New("unavailable")
)
