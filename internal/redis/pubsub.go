package redisx

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type EventsPubSub struct {
	rdb     *redis.Client
	channel string
}

func NewEventsPubSub(rdb *redis.Client) *EventsPubSub {
	return &EventsPubSub{
		rdb:     rdb,
		channel: ChannelEventsChanged(),
	}
}

type eventChangedMsg struct {
	Type    string `json:"type"`
	EventID int64  `json:"event_id"`
	TsUnix  int64  `json:"ts_unix"`
}

// PublishEventChanged tells seat-map subscribers that availability of eventID moved.
func (p *EventsPubSub) PublishEventChanged(ctx context.Context, eventID int64) error {
	msg := eventChangedMsg{
		Type:    "event_changed",
		EventID: eventID,
		TsUnix:  time.Now().Unix(),
	}

	b, _ := json.Marshal(msg)

	return p.rdb.Publish(ctx, p.channel, b).Err()
}

// ExpirySubscriber receives key-expiry events for holds.
type ExpirySubscriber struct {
	rdb     *redis.Client
	channel string
	logger  *zap.Logger
}

func NewExpirySubscriber(rdb *redis.Client, logger *zap.Logger) *ExpirySubscriber {
	return &ExpirySubscriber{
		rdb:     rdb,
		channel: ChannelExpired(rdb.Options().DB),
		logger:  logger,
	}
}

// SubscribeExpired calls handler for every expired hold key until ctx is done.
// Keys of other kinds are ignored; malformed hold keys are logged and skipped.
func (s *ExpirySubscriber) SubscribeExpired(
	ctx context.Context,
	handler func(ctx context.Context, holdID uuid.UUID),
) error {
	const op = "redis.ExpirySubscriber.SubscribeExpired"

	sub := s.rdb.Subscribe(ctx, s.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.logger.Info("subscribed to hold expirations", zap.String("channel", s.channel))

	ch := sub.Channel(redis.WithChannelSize(256))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-ch:
			if !ok {
				return nil
			}

			id, isHold, err := ParseHoldKey(m.Payload)
			if !isHold {
				continue
			}
			if err != nil {
				s.logger.Warn("ignoring expired key", zap.Error(err))
				continue
			}

			handler(ctx, id)
		}
	}
}
