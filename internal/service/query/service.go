package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kirinyoku/tixflow/internal/domain"
	"github.com/kirinyoku/tixflow/internal/repository"
)

// AvailabilityCache caches seat counts per event.
type AvailabilityCache interface {
	Availability(
		ctx context.Context,
		eventID int64,
		ttl time.Duration,
		load func(ctx context.Context) (domain.EventCounts, error),
	) (domain.EventCounts, error)
}

type Config struct {
	AvailabilityTTL time.Duration
}

type Service struct {
	seats    repository.SeatRepository
	bookings repository.BookingRepository
	cache    AvailabilityCache
	cfg      Config
}

// New builds the read side. cache may be nil.
func New(
	seats repository.SeatRepository,
	bookings repository.BookingRepository,
	cache AvailabilityCache,
	cfg Config,
) *Service {
	if cfg.AvailabilityTTL <= 0 {
		cfg.AvailabilityTTL = 15 * time.Second
	}

	return &Service{
		seats:    seats,
		bookings: bookings,
		cache:    cache,
		cfg:      cfg,
	}
}

// Availability returns the number of seat units of an event in each status.
//
// Parameters:
//   - ctx: request-scoped context.
//   - eventID: ID of the event.
//
// Returns:
//   - *domain.EventCounts: the seat counts.
//   - error: query.ErrEventNotFound if the event has no seat units.
func (s *Service) Availability(ctx context.Context, eventID int64) (*domain.EventCounts, error) {
	const op = "service.query.Availability"

	load := func(ctx context.Context) (domain.EventCounts, error) {
		ec, err := s.seats.CountsByStatus(ctx, eventID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return domain.EventCounts{}, ErrEventNotFound
			}
			return domain.EventCounts{}, err
		}
		return *ec, nil
	}

	var (
		counts domain.EventCounts
		err    error
	)
	if s.cache != nil {
		counts, err = s.cache.Availability(ctx, eventID, s.cfg.AvailabilityTTL, load)
	} else {
		counts, err = load(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &counts, nil
}

// GetBooking returns a booking to its buyer or to an elevated caller.
func (s *Service) GetBooking(ctx context.Context, caller domain.Caller, id uuid.UUID) (*domain.Booking, error) {
	const op = "service.query.GetBooking"

	b, err := s.bookings.Get(ctx, id, false)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrBookingNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if !caller.CanAccess(b.BuyerID) {
		return nil, fmt.Errorf("%s: %w", op, ErrForbidden)
	}

	return b, nil
}
