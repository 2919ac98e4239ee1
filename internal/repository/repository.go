package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/kirinyoku/tixflow/internal/domain"
)

// SeatRepository is the seat inventory. Every mutation is conditional on the
// state the caller observed.
type SeatRepository interface {
	// Reserve moves every listed seat of eventID from AVAILABLE to RESERVED under holdID,
	// or none of them. On failure the error is a *SeatsError wrapping ErrNotFound,
	// ErrSeatEventMismatch or ErrSeatsUnavailable.
	Reserve(ctx context.Context, eventID int64, holdID uuid.UUID, seatIDs []int64) ([]domain.SeatUnit, error)
	ByHold(ctx context.Context, holdID uuid.UUID, forUpdate bool) ([]domain.SeatUnit, error)
	ByIDs(ctx context.Context, ids []int64, forUpdate bool) ([]domain.SeatUnit, error)
	// Transition moves each seat to status `to` and clears its hold, provided the row
	// still has the status and version passed in. Any lost race yields ErrStaleVersion.
	Transition(ctx context.Context, seats []domain.SeatUnit, to domain.SeatStatus) error
	// ReleaseHold frees the seats still RESERVED under holdID unless a paid booking
	// already owns that hold. It returns the released seats.
	ReleaseHold(ctx context.Context, holdID uuid.UUID) ([]domain.SeatUnit, error)
	// HoldsOlderThan lists distinct hold ids of RESERVED seats last touched before t.
	HoldsOlderThan(ctx context.Context, t time.Time) ([]uuid.UUID, error)
	CountsByStatus(ctx context.Context, eventID int64) (*domain.EventCounts, error)
}

type BookingRepository interface {
	// Create inserts the booking with its lines. A booking for the same hold yields ErrConflict.
	Create(ctx context.Context, b *domain.Booking) error
	Get(ctx context.Context, id uuid.UUID, forUpdate bool) (*domain.Booking, error)
	GetByHold(ctx context.Context, holdID uuid.UUID) (*domain.Booking, error)
	// SetStatus moves the booking from one status to another; ErrConflict if it is no longer in `from`.
	SetStatus(ctx context.Context, id uuid.UUID, from, to domain.BookingStatus) error
}

type OutboxRepository interface {
	Add(ctx context.Context, msg domain.HandoffMessage) (uuid.UUID, error)
	Pending(ctx context.Context, olderThan time.Time, limit int) ([]domain.OutboxEntry, error)
	MarkPublished(ctx context.Context, id uuid.UUID) error
	MarkPublishedByBooking(ctx context.Context, bookingID uuid.UUID) error
	IncrementAttempts(ctx context.Context, id uuid.UUID) error
}

// HoldStore keeps holds under an expiring key.
type HoldStore interface {
	Put(ctx context.Context, hold domain.Hold, ttl time.Duration) error
	// Get returns ErrNotFound once the hold has expired or been deleted.
	Get(ctx context.Context, id uuid.UUID) (*domain.Hold, error)
	Exists(ctx context.Context, id uuid.UUID) (bool, error)
	// Delete is a no-op for an absent hold.
	Delete(ctx context.Context, id uuid.UUID) error
}
