package reservation

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/kirinyoku/tixflow/internal/domain"
	"github.com/kirinyoku/tixflow/internal/repository"
	"github.com/kirinyoku/tixflow/internal/telemetry"
	"github.com/kirinyoku/tixflow/internal/uow"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const DefaultHoldTTL = 15 * time.Minute

// Limiter caps how many holds one buyer may create per window.
type Limiter interface {
	Allow(ctx context.Context, id string) (allowed bool, retryAfter time.Duration, err error)
}

// Notifier is told when an event's seat counts changed.
type Notifier interface {
	EventChanged(ctx context.Context, eventID int64)
}

type Config struct {
	HoldTTL time.Duration
}

type Service struct {
	uow      uow.Runner
	holds    repository.HoldStore
	limiter  Limiter
	notifier Notifier
	logger   *zap.Logger
	cfg      Config
	now      func() time.Time
}

// New builds the reservation service. limiter may be nil to disable rate limiting.
func New(
	runner uow.Runner,
	holds repository.HoldStore,
	limiter Limiter,
	notifier Notifier,
	cfg Config,
	logger *zap.Logger,
) *Service {
	if cfg.HoldTTL <= 0 {
		cfg.HoldTTL = DefaultHoldTTL
	}

	return &Service{
		uow:      runner,
		holds:    holds,
		limiter:  limiter,
		notifier: notifier,
		logger:   logger.Named("reservation"),
		cfg:      cfg,
		now:      time.Now,
	}
}

type Result struct {
	HoldID      uuid.UUID `json:"hold_id"`
	EventID     int64     `json:"event_id"`
	ExpiresAt   time.Time `json:"expires_at"`
	SeatUnitIDs []int64   `json:"seat_unit_ids"`
}

// CreateHold reserves every requested seat unit of the event for the caller,
// or none of them.
//
// Parameters:
//   - ctx: request-scoped context.
//   - caller: the buyer creating the hold.
//   - eventID: ID of the event the seat units belong to.
//   - seatIDs: IDs of the seat units to hold; duplicates are ignored.
//
// Returns:
//   - *Result: the hold id, its expiry and the held seat units.
//   - error: ErrNoSeats, RateLimitedError, SeatNotFoundError, ErrEventMismatch,
//     SeatUnavailableError or ErrHoldNotStored.
func (s *Service) CreateHold(
	ctx context.Context,
	caller domain.Caller,
	eventID int64,
	seatIDs []int64,
) (res *Result, err error) {
	const op = "service.reservation.CreateHold"

	ctx, span := telemetry.StartSpan(ctx, op,
		attribute.Int64("event.id", eventID),
		attribute.Int("seats.requested", len(seatIDs)),
	)
	defer func() { telemetry.End(span, err) }()

	ids := dedupe(seatIDs)
	if len(ids) == 0 {
		return nil, fmt.Errorf("%s: %w", op, ErrNoSeats)
	}

	if s.limiter != nil {
		ok, retry, err := s.limiter.Allow(ctx, strconv.FormatInt(caller.UserID, 10))
		if err != nil {
			// limiter failures fail open
			s.logger.Warn("rate limiter failed", zap.Int64("buyer_id", caller.UserID), zap.Error(err))
		} else if !ok {
			return nil, fmt.Errorf("%s: %w", op, RateLimitedError{RetryAfter: retry})
		}
	}

	holdID := uuid.New()

	var reserved []domain.SeatUnit

	err = s.uow.Do(ctx, func(ctx context.Context, tx uow.Tx, after func(uow.AfterCommit)) error {
		seats, err := tx.Seats().Reserve(ctx, eventID, holdID, ids)
		if err != nil {
			return classifyReserveErr(err)
		}

		reserved = seats

		after(func(ctx context.Context) {
			s.notifier.EventChanged(ctx, eventID)
		})

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	now := s.now()
	hold := domain.Hold{
		ID:        holdID,
		BuyerID:   caller.UserID,
		EventID:   eventID,
		Status:    domain.HoldPending,
		CreatedAt: now,
		ExpiresAt: now.Add(s.cfg.HoldTTL),
	}

	if err := s.holds.Put(ctx, hold, s.cfg.HoldTTL); err != nil {
		s.logger.Error("store hold, releasing seats",
			zap.String("hold_id", holdID.String()),
			zap.Error(err),
		)
		s.compensate(context.WithoutCancel(ctx), eventID, holdID)

		return nil, fmt.Errorf("%s: %w: %w", op, ErrHoldNotStored, err)
	}

	res = &Result{
		HoldID:      holdID,
		EventID:     eventID,
		ExpiresAt:   hold.ExpiresAt,
		SeatUnitIDs: seatUnitIDs(reserved),
	}

	s.logger.Info("hold created",
		zap.String("hold_id", holdID.String()),
		zap.Int64("buyer_id", caller.UserID),
		zap.Int64("event_id", eventID),
		zap.Int64s("seat_unit_ids", res.SeatUnitIDs),
	)

	return res, nil
}

// compensate frees seats reserved for a hold that never made it into the hold store.
func (s *Service) compensate(ctx context.Context, eventID int64, holdID uuid.UUID) {
	err := s.uow.Do(ctx, func(ctx context.Context, tx uow.Tx, after func(uow.AfterCommit)) error {
		if _, err := tx.Seats().ReleaseHold(ctx, holdID); err != nil {
			return err
		}

		after(func(ctx context.Context) {
			s.notifier.EventChanged(ctx, eventID)
		})

		return nil
	})
	if err != nil {
		// the startup reconciliation of the expiration watcher picks these up
		s.logger.Error("release seats of unstored hold",
			zap.String("hold_id", holdID.String()),
			zap.Error(err),
		)
	}
}

func classifyReserveErr(err error) error {
	var se *repository.SeatsError
	if !errors.As(err, &se) {
		return err
	}

	switch {
	case errors.Is(se.Err, repository.ErrNotFound):
		return SeatNotFoundError{SeatIDs: se.SeatIDs}
	case errors.Is(se.Err, repository.ErrSeatEventMismatch):
		return fmt.Errorf("%w: %v", ErrEventMismatch, se.SeatIDs)
	case errors.Is(se.Err, repository.ErrSeatsUnavailable) && len(se.SeatIDs) > 0:
		return SeatUnavailableError{SeatID: se.SeatIDs[0], SeatIDs: se.SeatIDs}
	}

	return err
}

func dedupe(ids []int64) []int64 {
	out := slices.Clone(ids)
	slices.Sort(out)
	return slices.Compact(out)
}

func seatUnitIDs(seats []domain.SeatUnit) []int64 {
	ids := make([]int64, 0, len(seats))
	for _, s := range seats {
		ids = append(ids, s.ID)
	}
	return ids
}
