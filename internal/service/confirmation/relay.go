package confirmation

import (
	"context"
	"time"

	"github.com/kirinyoku/tixflow/internal/domain"
	"github.com/kirinyoku/tixflow/internal/uow"
	"go.uber.org/zap"
)

type Publisher interface {
	PublishHandoff(ctx context.Context, msg domain.HandoffMessage) error
}

type RelayConfig struct {
	Interval time.Duration
	// Delay leaves fresh rows to the checkout that wrote them.
	Delay     time.Duration
	BatchSize int
}

// Relay publishes handoff messages that checkout committed but never got
// confirmed by the broker.
type Relay struct {
	uow       uow.Runner
	publisher Publisher
	logger    *zap.Logger
	cfg       RelayConfig
	now       func() time.Time
}

func NewRelay(runner uow.Runner, publisher Publisher, cfg RelayConfig, logger *zap.Logger) *Relay {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.Delay <= 0 {
		cfg.Delay = 10 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}

	return &Relay{
		uow:       runner,
		publisher: publisher,
		logger:    logger.Named("outbox"),
		cfg:       cfg,
		now:       time.Now,
	}
}

func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	r.logger.Info("outbox relay started", zap.Duration("interval", r.cfg.Interval))

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("outbox relay stopped")
			return nil
		case <-ticker.C:
			if _, err := r.Flush(ctx); err != nil {
				r.logger.Error("flush outbox", zap.Error(err))
			}
		}
	}
}

// Flush publishes one batch of pending messages and returns how many the broker confirmed.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	var pending []domain.OutboxEntry

	err := r.uow.Do(ctx, func(ctx context.Context, tx uow.Tx, _ func(uow.AfterCommit)) error {
		entries, err := tx.Outbox().Pending(ctx, r.now().Add(-r.cfg.Delay), r.cfg.BatchSize)
		if err != nil {
			return err
		}

		pending = entries

		return nil
	})
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, e := range pending {
		if err := r.publisher.PublishHandoff(ctx, e.Message); err != nil {
			r.logger.Warn("republish handoff",
				zap.String("booking_id", e.Message.BookingID.String()),
				zap.Int("attempts", e.Attempts+1),
				zap.Error(err),
			)
			r.mark(ctx, func(ctx context.Context, tx uow.Tx) error {
				return tx.Outbox().IncrementAttempts(ctx, e.ID)
			})
			continue
		}

		r.mark(ctx, func(ctx context.Context, tx uow.Tx) error {
			return tx.Outbox().MarkPublished(ctx, e.ID)
		})
		sent++
	}

	if sent > 0 {
		r.logger.Info("outbox flushed", zap.Int("published", sent), zap.Int("pending", len(pending)))
	}

	return sent, nil
}

func (r *Relay) mark(ctx context.Context, fn func(ctx context.Context, tx uow.Tx) error) {
	err := r.uow.Do(ctx, func(ctx context.Context, tx uow.Tx, _ func(uow.AfterCommit)) error {
		return fn(ctx, tx)
	})
	if err != nil {
		r.logger.Error("update outbox entry", zap.Error(err))
	}
}
