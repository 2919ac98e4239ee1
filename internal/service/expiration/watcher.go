package expiration

import (
	"context"
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

const DefaultReconcileGrace = time.Minute

// Subscriber delivers the ids of expired holds until ctx is done.
type Subscriber interface {
	SubscribeExpired(ctx context.Context, handler func(ctx context.Context, holdID uuid.UUID)) error
}

type Notifier interface {
	EventChanged(ctx context.Context, eventID int64)
}

type Config struct {
	// ReconcileGrace is how long a reserved seat must sit without a hold key
	// before Reconcile frees it. It covers the window between the seat commit
	// and the hold write of a hold still being created.
	ReconcileGrace time.Duration
}

// Watcher returns the seats of expired holds to inventory.
type Watcher struct {
	uow      uow.Runner
	holds    repository.HoldStore
	sub      Subscriber
	notifier Notifier
	logger   *zap.Logger
	cfg      Config
	now      func() time.Time
}

func New(
	runner uow.Runner,
	holds repository.HoldStore,
	sub Subscriber,
	notifier Notifier,
	cfg Config,
	logger *zap.Logger,
) *Watcher {
	if cfg.ReconcileGrace <= 0 {
		cfg.ReconcileGrace = DefaultReconcileGrace
	}

	return &Watcher{
		uow:      runner,
		holds:    holds,
		sub:      sub,
		notifier: notifier,
		logger:   logger.Named("expiration"),
		cfg:      cfg,
		now:      time.Now,
	}
}

// Run reconciles once and then handles expirations until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	const op = "service.expiration.Watcher.Run"

	if released, err := w.Reconcile(ctx); err != nil {
		w.logger.Error("reconcile", zap.Error(err))
	} else if released > 0 {
		w.logger.Info("reconciled orphaned holds", zap.Int("seats_released", released))
	}

	err := w.sub.SubscribeExpired(ctx, func(ctx context.Context, holdID uuid.UUID) {
		if _, err := w.HandleExpired(ctx, holdID); err != nil {
			w.logger.Error("release expired hold",
				zap.String("hold_id", holdID.String()),
				zap.Error(err),
			)
		}
	})
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// HandleExpired releases every seat still RESERVED under holdID. A hold whose
// seats were already released, or already paid for, is left alone. It returns
// the number of seats released and may be called any number of times.
func (w *Watcher) HandleExpired(ctx context.Context, holdID uuid.UUID) (n int, err error) {
	const op = "service.expiration.Watcher.HandleExpired"

	ctx, span := telemetry.StartSpan(ctx, op, attribute.String("hold.id", holdID.String()))
	defer func() { telemetry.End(span, err) }()

	var released []domain.SeatUnit

	err = w.uow.Do(ctx, func(ctx context.Context, tx uow.Tx, after func(uow.AfterCommit)) error {
		seats, err := tx.Seats().ReleaseHold(ctx, holdID)
		if err != nil {
			return err
		}

		released = seats

		for _, eventID := range eventIDs(seats) {
			after(func(ctx context.Context) {
				w.notifier.EventChanged(ctx, eventID)
			})
		}

		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	if len(released) == 0 {
		w.logger.Debug("expired hold had nothing to release", zap.String("hold_id", holdID.String()))
		return 0, nil
	}

	w.logger.Info("expired hold released",
		zap.String("hold_id", holdID.String()),
		zap.Int("seats_released", len(released)),
	)

	return len(released), nil
}

// Reconcile releases reserved seats whose hold key is gone, for expirations
// that fired while nobody was subscribed.
func (w *Watcher) Reconcile(ctx context.Context) (int, error) {
	const op = "service.expiration.Watcher.Reconcile"

	var candidates []uuid.UUID

	cutoff := w.now().Add(-w.cfg.ReconcileGrace)

	err := w.uow.Do(ctx, func(ctx context.Context, tx uow.Tx, _ func(uow.AfterCommit)) error {
		ids, err := tx.Seats().HoldsOlderThan(ctx, cutoff)
		if err != nil {
			return err
		}

		candidates = ids

		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	total := 0
	for _, holdID := range candidates {
		ok, err := w.holds.Exists(ctx, holdID)
		if err != nil {
			return total, fmt.Errorf("%s: %w", op, err)
		}
		if ok {
			continue
		}

		n, err := w.HandleExpired(ctx, holdID)
		if err != nil {
			return total, fmt.Errorf("%s: %w", op, err)
		}

		total += n
	}

	return total, nil
}

func eventIDs(seats []domain.SeatUnit) []int64 {
	seen := make(map[int64]struct{}, 1)
	var out []int64
	for _, s := range seats {
		if _, ok := seen[s.EventID]; ok {
			continue
		}
		seen[s.EventID] = struct{}{}
		out = append(out, s.EventID)
	}
	return out
}
