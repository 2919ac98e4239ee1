package confirmation

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/kirinyoku/tixflow/internal/domain"
	"github.com/kirinyoku/tixflow/internal/repository"
	"github.com/kirinyoku/tixflow/internal/telemetry"
	"github.com/kirinyoku/tixflow/internal/uow"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

type Emitter interface {
	Audit(ctx context.Context, n domain.Notification)
	Analytics(ctx context.Context, n domain.Notification)
}

type Notifier interface {
	EventChanged(ctx context.Context, eventID int64)
}

// Worker books the seats of paid bookings handed off by checkout.
type Worker struct {
	uow      uow.Runner
	emitter  Emitter
	notifier Notifier
	logger   *zap.Logger
	now      func() time.Time
}

func NewWorker(runner uow.Runner, emitter Emitter, notifier Notifier, logger *zap.Logger) *Worker {
	return &Worker{
		uow:      runner,
		emitter:  emitter,
		notifier: notifier,
		logger:   logger.Named("confirmation"),
		now:      time.Now,
	}
}

// Handle moves the seats of a PAYMENT_COMPLETE booking to BOOKED and the booking
// to CONFIRMED. A booking in any other status is a duplicate delivery and is
// skipped. Every other failure is returned so the delivery is retried.
func (w *Worker) Handle(ctx context.Context, msg domain.HandoffMessage) (err error) {
	const op = "service.confirmation.Worker.Handle"

	ctx, span := telemetry.StartSpan(ctx, op,
		attribute.String("booking.id", msg.BookingID.String()),
		attribute.String("hold.id", msg.HoldID.String()),
	)
	defer func() { telemetry.End(span, err) }()

	var (
		booking *domain.Booking
		skipped bool
	)

	err = w.uow.Do(ctx, func(ctx context.Context, tx uow.Tx, after func(uow.AfterCommit)) error {
		booking = nil

		b, err := tx.Bookings().Get(ctx, msg.BookingID, true)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrBookingMissing
			}
			return err
		}

		booking = b

		if b.Status != domain.BookingPaymentComplete {
			skipped = true
			return nil
		}

		if b.HoldID != msg.HoldID {
			return ErrHoldMismatch
		}

		seats, err := tx.Seats().ByHold(ctx, b.HoldID, true)
		if err != nil {
			return err
		}

		if len(seats) == 0 {
			return ErrNoSeats
		}

		held := make([]int64, 0, len(seats))
		for _, s := range seats {
			if !s.HeldBy(b.HoldID) {
				return SeatNotReservedError{SeatID: s.ID, Status: s.Status}
			}
			held = append(held, s.ID)
		}

		lines := b.SeatUnitIDs()
		slices.Sort(lines)
		if !slices.Equal(held, lines) {
			return fmt.Errorf("%w: held %v, lines %v", ErrLinesMismatch, held, lines)
		}

		if err := tx.Seats().Transition(ctx, seats, domain.SeatBooked); err != nil {
			if errors.Is(err, repository.ErrStaleVersion) {
				return fmt.Errorf("%w: %w", ErrSeatsMoved, err)
			}
			return err
		}

		if err := tx.Bookings().SetStatus(ctx, b.ID, domain.BookingPaymentComplete, domain.BookingConfirmed); err != nil {
			return err
		}

		after(func(ctx context.Context) {
			w.notifier.EventChanged(ctx, b.EventID)
			w.emitter.Analytics(ctx, domain.NewNotification(b, domain.BookingConfirmed, held, w.now()))
		})

		return nil
	})
	if err != nil {
		failed := booking
		if failed == nil {
			failed = &domain.Booking{ID: msg.BookingID, HoldID: msg.HoldID}
		}
		w.emitter.Audit(ctx, domain.NewNotification(failed, domain.BookingFailed, failed.SeatUnitIDs(), w.now()))

		w.logger.Error("confirm booking",
			zap.String("booking_id", msg.BookingID.String()),
			zap.String("hold_id", msg.HoldID.String()),
			zap.Error(err),
		)

		return fmt.Errorf("%s: %w", op, err)
	}

	if skipped {
		w.logger.Info("booking not awaiting confirmation, skipping",
			zap.String("booking_id", booking.ID.String()),
			zap.String("status", string(booking.Status)),
		)
		return nil
	}

	w.logger.Info("booking confirmed",
		zap.String("booking_id", booking.ID.String()),
		zap.Int("seats", len(booking.Lines)),
	)

	return nil
}
