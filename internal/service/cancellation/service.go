package cancellation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kirinyoku/tixflow/internal/domain"
	"github.com/kirinyoku/tixflow/internal/repository"
	"github.com/kirinyoku/tixflow/internal/telemetry"
	"github.com/kirinyoku/tixflow/internal/uow"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

type Refunder interface {
	Refund(ctx context.Context, bookingID uuid.UUID, amountCents int64) error
}

type Emitter interface {
	Audit(ctx context.Context, n domain.Notification)
	Analytics(ctx context.Context, n domain.Notification)
}

type Notifier interface {
	EventChanged(ctx context.Context, eventID int64)
}

type Service struct {
	uow      uow.Runner
	refunder Refunder
	emitter  Emitter
	notifier Notifier
	logger   *zap.Logger
	now      func() time.Time
}

func New(runner uow.Runner, refunder Refunder, emitter Emitter, notifier Notifier, logger *zap.Logger) *Service {
	return &Service{
		uow:      runner,
		refunder: refunder,
		emitter:  emitter,
		notifier: notifier,
		logger:   logger.Named("cancellation"),
		now:      time.Now,
	}
}

type Result struct {
	Booking             *domain.Booking
	ReleasedSeatUnitIDs []int64
}

// Cancel cancels a CONFIRMED or PAYMENT_COMPLETE booking and returns its seats
// to inventory. Seats of the booking that are neither BOOKED nor still held by
// its hold are left untouched.
//
// Returns:
//   - error: ErrBookingNotFound, ErrForbidden or ErrInvalidState.
func (s *Service) Cancel(ctx context.Context, caller domain.Caller, bookingID uuid.UUID) (res *Result, err error) {
	const op = "service.cancellation.Cancel"

	ctx, span := telemetry.StartSpan(ctx, op,
		attribute.String("booking.id", bookingID.String()),
		attribute.Int64("caller.id", caller.UserID),
	)
	defer func() { telemetry.End(span, err) }()

	err = s.uow.Do(ctx, func(ctx context.Context, tx uow.Tx, after func(uow.AfterCommit)) error {
		b, err := tx.Bookings().Get(ctx, bookingID, true)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrBookingNotFound
			}
			return err
		}

		if !caller.CanAccess(b.BuyerID) {
			return ErrForbidden
		}

		if !b.Status.Cancellable() {
			return fmt.Errorf("%w: %s", ErrInvalidState, b.Status)
		}

		seats, err := tx.Seats().ByIDs(ctx, b.SeatUnitIDs(), true)
		if err != nil {
			return err
		}

		var (
			release  []domain.SeatUnit
			released []int64
		)
		for _, seat := range seats {
			if seat.Status == domain.SeatBooked || seat.HeldBy(b.HoldID) {
				release = append(release, seat)
				released = append(released, seat.ID)
				continue
			}

			s.logger.Warn("leaving seat of cancelled booking untouched",
				zap.String("booking_id", b.ID.String()),
				zap.Int64("seat_unit_id", seat.ID),
				zap.String("status", string(seat.Status)),
			)
		}

		if err := tx.Seats().Transition(ctx, release, domain.SeatAvailable); err != nil {
			if errors.Is(err, repository.ErrStaleVersion) {
				return fmt.Errorf("%w: %w", ErrSeatsChanged, err)
			}
			return err
		}

		if err := tx.Bookings().SetStatus(ctx, b.ID, b.Status, domain.BookingCancelled); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				return ErrInvalidState
			}
			return err
		}

		b.Status = domain.BookingCancelled

		after(func(ctx context.Context) {
			s.notifier.EventChanged(ctx, b.EventID)
		})

		res = &Result{Booking: b, ReleasedSeatUnitIDs: released}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	b := res.Booking

	if err := s.refunder.Refund(ctx, b.ID, b.TotalCents); err != nil {
		s.logger.Error("refund cancelled booking",
			zap.String("booking_id", b.ID.String()),
			zap.Int64("amount_cents", b.TotalCents),
			zap.Error(err),
		)
	}

	n := domain.NewNotification(b, domain.BookingCancelled, res.ReleasedSeatUnitIDs, s.now())
	s.emitter.Audit(ctx, n)
	s.emitter.Analytics(ctx, n)

	s.logger.Info("booking cancelled",
		zap.String("booking_id", b.ID.String()),
		zap.Int64("caller_id", caller.UserID),
		zap.Int64s("released_seat_unit_ids", res.ReleasedSeatUnitIDs),
	)

	return res, nil
}
