package checkout

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

type Payments interface {
	Authorize(ctx context.Context, buyerID int64, holdID uuid.UUID, method string) (bool, error)
}

// Publisher hands a paid booking to the confirmation worker. It returns only
// once the broker has confirmed the message.
type Publisher interface {
	PublishHandoff(ctx context.Context, msg domain.HandoffMessage) error
}

type Emitter interface {
	Audit(ctx context.Context, n domain.Notification)
	Analytics(ctx context.Context, n domain.Notification)
}

type Service struct {
	uow       uow.Runner
	holds     repository.HoldStore
	payments  Payments
	publisher Publisher
	emitter   Emitter
	logger    *zap.Logger
	now       func() time.Time
}

func New(
	runner uow.Runner,
	holds repository.HoldStore,
	payments Payments,
	publisher Publisher,
	emitter Emitter,
	logger *zap.Logger,
) *Service {
	return &Service{
		uow:       runner,
		holds:     holds,
		payments:  payments,
		publisher: publisher,
		emitter:   emitter,
		logger:    logger.Named("checkout"),
		now:       time.Now,
	}
}

// Checkout charges the caller for a hold and turns it into a PAYMENT_COMPLETE
// booking priced at the current tier prices. The booking is handed to the
// confirmation worker before Checkout returns.
//
// Calling Checkout again for a hold that already has a live booking does not
// charge twice: it re-publishes the handoff and returns that booking.
//
// Parameters:
//   - ctx: request-scoped context.
//   - caller: the buyer paying; must own the hold.
//   - holdID: ID of the hold to check out.
//   - paymentMethod: opaque method handed to the payment provider.
//
// Returns:
//   - *domain.Booking: the booking with its price lines.
//   - error: ErrHoldNotFound, ErrNotOwner, ErrPaymentDeclined, ErrHoldStale,
//     SeatStateConflictError, ErrAlreadyCheckedOut or ErrHandoffNotAcknowledged.
func (s *Service) Checkout(
	ctx context.Context,
	caller domain.Caller,
	holdID uuid.UUID,
	paymentMethod string,
) (b *domain.Booking, err error) {
	const op = "service.checkout.Checkout"

	ctx, span := telemetry.StartSpan(ctx, op,
		attribute.String("hold.id", holdID.String()),
		attribute.Int64("buyer.id", caller.UserID),
	)
	defer func() { telemetry.End(span, err) }()

	hold, err := s.holds.Get(ctx, holdID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrHoldNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if hold.BuyerID != caller.UserID {
		return nil, fmt.Errorf("%s: %w", op, ErrNotOwner)
	}

	existing, err := s.bookingForHold(ctx, holdID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if existing != nil {
		if !existing.Status.Cancellable() {
			return nil, fmt.Errorf("%s: %w", op, ErrAlreadyCheckedOut)
		}

		s.logger.Info("resuming checkout",
			zap.String("hold_id", holdID.String()),
			zap.String("booking_id", existing.ID.String()),
		)

		if err := s.handoff(ctx, existing); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		s.deleteHold(ctx, holdID)

		return existing, nil
	}

	approved, err := s.payments.Authorize(ctx, caller.UserID, holdID, paymentMethod)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrPaymentUnavailable, err)
	}
	if !approved {
		s.logger.Info("payment declined",
			zap.String("hold_id", holdID.String()),
			zap.Int64("buyer_id", caller.UserID),
		)
		return nil, fmt.Errorf("%s: %w", op, ErrPaymentDeclined)
	}

	err = s.uow.Do(ctx, func(ctx context.Context, tx uow.Tx, _ func(uow.AfterCommit)) error {
		seats, err := tx.Seats().ByHold(ctx, holdID, true)
		if err != nil {
			return err
		}

		if len(seats) == 0 {
			return ErrHoldStale
		}

		booking := &domain.Booking{
			ID:      uuid.New(),
			BuyerID: hold.BuyerID,
			EventID: hold.EventID,
			HoldID:  holdID,
			Status:  domain.BookingPaymentComplete,
			Lines:   make([]domain.BookingLine, 0, len(seats)),
		}

		for _, seat := range seats {
			if !seat.HeldBy(holdID) {
				return SeatStateConflictError{SeatID: seat.ID, Status: seat.Status}
			}

			booking.TotalCents += seat.PriceCents
			booking.Lines = append(booking.Lines, domain.BookingLine{
				SeatUnitID: seat.ID,
				PriceCents: seat.PriceCents,
			})
		}

		if err := tx.Bookings().Create(ctx, booking); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				return ErrAlreadyCheckedOut
			}
			return err
		}

		if _, err := tx.Outbox().Add(ctx, domain.HandoffMessage{
			BookingID: booking.ID,
			HoldID:    holdID,
		}); err != nil {
			return err
		}

		b = booking

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.logger.Info("booking created",
		zap.String("booking_id", b.ID.String()),
		zap.String("hold_id", holdID.String()),
		zap.Int64("total_cents", b.TotalCents),
	)

	if err := s.handoff(ctx, b); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.deleteHold(ctx, holdID)

	n := domain.NewNotification(b, domain.BookingPaymentComplete, b.SeatUnitIDs(), s.now())
	s.emitter.Audit(ctx, n)
	s.emitter.Analytics(ctx, n)

	return b, nil
}

func (s *Service) bookingForHold(ctx context.Context, holdID uuid.UUID) (*domain.Booking, error) {
	var b *domain.Booking

	err := s.uow.Do(ctx, func(ctx context.Context, tx uow.Tx, _ func(uow.AfterCommit)) error {
		found, err := tx.Bookings().GetByHold(ctx, holdID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil
			}
			return err
		}

		b = found

		return nil
	})

	return b, err
}

// handoff publishes the booking to the confirmation queue and marks its outbox
// row done. An unacknowledged publish is left to the outbox relay.
func (s *Service) handoff(ctx context.Context, b *domain.Booking) error {
	msg := domain.HandoffMessage{BookingID: b.ID, HoldID: b.HoldID}

	if err := s.publisher.PublishHandoff(ctx, msg); err != nil {
		s.logger.Error("publish handoff",
			zap.String("booking_id", b.ID.String()),
			zap.Error(err),
		)
		return fmt.Errorf("%w: %w", ErrHandoffNotAcknowledged, err)
	}

	err := s.uow.Do(ctx, func(ctx context.Context, tx uow.Tx, _ func(uow.AfterCommit)) error {
		return tx.Outbox().MarkPublishedByBooking(ctx, b.ID)
	})
	if err != nil {
		s.logger.Warn("mark handoff published",
			zap.String("booking_id", b.ID.String()),
			zap.Error(err),
		)
	}

	return nil
}

func (s *Service) deleteHold(ctx context.Context, holdID uuid.UUID) {
	if err := s.holds.Delete(ctx, holdID); err != nil {
		s.logger.Warn("delete hold", zap.String("hold_id", holdID.String()), zap.Error(err))
	}
}
