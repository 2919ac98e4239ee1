package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/kirinyoku/tixflow/internal/domain"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Handler processes one handoff message. A non-nil error means the message
// must be retried and, eventually, dead-lettered.
type Handler func(ctx context.Context, msg domain.HandoffMessage) error

// Republisher hands a failed delivery back to the broker to be redelivered
// after delay.
type Republisher interface {
	Republish(ctx context.Context, body []byte, messageID string, attempts int, delay time.Duration) error
}

type ConsumerConfig struct {
	URL         string
	Concurrency int
	Prefetch    int
	// MaxAttempts counts every delivery, the first one included.
	MaxAttempts int
	// RetryDelay is scaled by the attempt number. The broker holds the message
	// for that long; the shard worker never waits on it.
	RetryDelay  time.Duration
}

// Consumer delivers handoff messages to a Handler. Deliveries are sharded by
// booking id so two messages for the same booking never run concurrently.
type Consumer struct {
	cfg     ConsumerConfig
	retry   Republisher
	handler Handler
	logger  *zap.Logger
}

func NewConsumer(cfg ConsumerConfig, retry Republisher, handler Handler, logger *zap.Logger) *Consumer {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.Prefetch < cfg.Concurrency {
		cfg.Prefetch = cfg.Concurrency * 2
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}

	return &Consumer{cfg: cfg, retry: retry, handler: handler, logger: logger}
}

// Run consumes until ctx is done, reconnecting with backoff when the broker goes away.
func (c *Consumer) Run(ctx context.Context) error {
	backoff := time.Second

	for {
		err := c.consume(ctx)
		if ctx.Err() != nil {
			return nil
		}

		c.logger.Warn("booking consumer stopped, reconnecting",
			zap.Error(err),
			zap.Duration("backoff", backoff),
		)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}

		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

type job struct {
	d   amqp.Delivery
	msg domain.HandoffMessage
}

func (c *Consumer) consume(ctx context.Context) error {
	conn, err := amqp.Dial(c.cfg.URL)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := DeclareTopology(ch); err != nil {
		return err
	}

	if err := ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
		return fmt.Errorf("qos: %w", err)
	}

	deliveries, err := ch.Consume(Queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	c.logger.Info("booking consumer started",
		zap.String("queue", Queue),
		zap.Int("concurrency", c.cfg.Concurrency),
	)

	shards := make([]chan job, c.cfg.Concurrency)
	var wg sync.WaitGroup
	for i := range shards {
		shards[i] = make(chan job)
		wg.Add(1)
		go func(in <-chan job) {
			defer wg.Done()
			for j := range in {
				c.process(ctx, j)
			}
		}(shards[i])
	}
	defer func() {
		for _, s := range shards {
			close(s)
		}
		wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("deliveries channel closed")
			}

			msg, err := decode(d.Body)
			if err != nil {
				c.logger.Error("undecodable handoff message, dead-lettering",
					zap.String("message_id", d.MessageId),
					zap.Error(err),
				)
				_ = d.Nack(false, false)
				continue
			}

			select {
			case shards[shardFor(msg.BookingID, len(shards))] <- job{d: d, msg: msg}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func (c *Consumer) process(ctx context.Context, j job) {
	d := j.d
	log := c.logger.With(
		zap.String("booking_id", j.msg.BookingID.String()),
		zap.String("hold_id", j.msg.HoldID.String()),
	)

	err := c.handler(ctx, j.msg)
	if err == nil {
		_ = d.Ack(false)
		return
	}

	if ctx.Err() != nil {
		_ = d.Nack(false, true)
		return
	}

	attempts := attemptsOf(d.Headers) + 1

	switch nextAction(attempts, c.cfg.MaxAttempts) {
	case actionDeadLetter:
		log.Error("handoff failed, dead-lettering", zap.Int("attempts", attempts), zap.Error(err))
		_ = d.Nack(false, false)
	case actionRetry:
		delay := retryDelay(c.cfg.RetryDelay, attempts)
		log.Warn("handoff failed, retrying",
			zap.Int("attempts", attempts),
			zap.Duration("delay", delay),
			zap.Error(err),
		)

		if rerr := c.retry.Republish(ctx, d.Body, d.MessageId, attempts, delay); rerr != nil {
			log.Error("republish failed, requeueing", zap.Error(rerr))
			_ = d.Nack(false, true)
			return
		}
		_ = d.Ack(false)
	}
}

type action int

const (
	actionRetry action = iota
	actionDeadLetter
)

// nextAction decides what to do after the given number of failed deliveries.
func nextAction(attempts, maxAttempts int) action {
	if attempts >= maxAttempts {
		return actionDeadLetter
	}
	return actionRetry
}

// retryDelay grows linearly with the number of failed attempts.
func retryDelay(base time.Duration, attempts int) time.Duration {
	return base * time.Duration(attempts)
}

func attemptsOf(h amqp.Table) int {
	switch v := h[HeaderAttempts].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	case int16:
		return int(v)
	case int8:
		return int(v)
	case uint8:
		return int(v)
	}

	return 0
}

func shardFor(bookingID uuid.UUID, n int) int {
	return int(xxhash.Sum64(bookingID[:]) % uint64(n))
}

func decode(body []byte) (domain.HandoffMessage, error) {
	var msg domain.HandoffMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return msg, err
	}

	if msg.BookingID == uuid.Nil {
		return msg, errors.New("missing bookingId")
	}

	return msg, nil
}
