// Package notify emits fire-and-forget audit and analytics notifications.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kirinyoku/tixflow/internal/domain"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"
)

const (
	TopicAudit     = "events.audit"
	TopicAnalytics = "events.analytics"
)

// Emitter never reports failure to the caller; delivery problems are logged.
type Emitter interface {
	Audit(ctx context.Context, n domain.Notification)
	Analytics(ctx context.Context, n domain.Notification)
}

type KafkaConfig struct {
	Brokers  []string
	ClientID string
}

// KafkaEmitter produces notifications asynchronously, keyed by booking id.
type KafkaEmitter struct {
	client *kgo.Client
	logger *zap.Logger
}

func NewKafkaEmitter(ctx context.Context, cfg KafkaConfig, logger *zap.Logger) (*KafkaEmitter, error) {
	const op = "notify.NewKafkaEmitter"

	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ClientID(cfg.ClientID),
		kgo.AllowAutoTopicCreation(),
		kgo.ProducerLinger(20*time.Millisecond),
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	ctxPing, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctxPing); err != nil {
		client.Close()
		return nil, fmt.Errorf("%s: ping: %w", op, err)
	}

	return &KafkaEmitter{client: client, logger: logger}, nil
}

func (e *KafkaEmitter) Audit(ctx context.Context, n domain.Notification) {
	e.produce(ctx, TopicAudit, n)
}

func (e *KafkaEmitter) Analytics(ctx context.Context, n domain.Notification) {
	e.produce(ctx, TopicAnalytics, n)
}

func (e *KafkaEmitter) produce(ctx context.Context, topic string, n domain.Notification) {
	value, err := json.Marshal(n)
	if err != nil {
		e.logger.Error("encode notification", zap.String("topic", topic), zap.Error(err))
		return
	}

	rec := &kgo.Record{
		Topic: topic,
		Key:   []byte(n.BookingID.String()),
		Value: value,
	}

	// The request may finish before the record is flushed.
	e.client.Produce(context.WithoutCancel(ctx), rec, func(r *kgo.Record, err error) {
		if err != nil {
			e.logger.Warn("notification not delivered",
				zap.String("topic", r.Topic),
				zap.String("booking_id", n.BookingID.String()),
				zap.String("status", string(n.Status)),
				zap.Error(err),
			)
		}
	})
}

// Close flushes buffered records, bounded by ctx.
func (e *KafkaEmitter) Close(ctx context.Context) {
	if err := e.client.Flush(ctx); err != nil {
		e.logger.Warn("flush notifications", zap.Error(err))
	}
	e.client.Close()
}

// LogEmitter writes notifications to the log. It stands in when no brokers are configured.
type LogEmitter struct {
	logger *zap.Logger
}

func NewLogEmitter(logger *zap.Logger) *LogEmitter {
	return &LogEmitter{logger: logger}
}

func (e *LogEmitter) Audit(_ context.Context, n domain.Notification) {
	e.log(TopicAudit, n)
}

func (e *LogEmitter) Analytics(_ context.Context, n domain.Notification) {
	e.log(TopicAnalytics, n)
}

func (e *LogEmitter) log(topic string, n domain.Notification) {
	e.logger.Info("notification",
		zap.String("topic", topic),
		zap.String("booking_id", n.BookingID.String()),
		zap.Int64("buyer_id", n.BuyerID),
		zap.String("hold_id", n.HoldID.String()),
		zap.String("status", string(n.Status)),
		zap.Int64("total", n.Total),
		zap.Int64s("seat_unit_ids", n.SeatUnitIDs),
	)
}
