package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/kirinyoku/tixflow/internal/domain"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

var ErrNotConfirmed = errors.New("broker did not confirm publish")

// Publisher publishes persistent messages on a confirm-mode channel and waits
// for the broker's ack, so a nil error means the message is durable.
type Publisher struct {
	url     string
	timeout time.Duration
	logger  *zap.Logger

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

func NewPublisher(url string, timeout time.Duration, logger *zap.Logger) (*Publisher, error) {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	p := &Publisher{url: url, timeout: timeout, logger: logger}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.connectLocked(); err != nil {
		return nil, err
	}

	return p, nil
}

func (p *Publisher) connectLocked() error {
	const op = "queue.Publisher.connect"

	conn, err := amqp.Dial(p.url)
	if err != nil {
		return fmt.Errorf("%s: dial: %w", op, err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("%s: channel: %w", op, err)
	}

	if err := DeclareTopology(ch); err != nil {
		_ = conn.Close()
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := ch.Confirm(false); err != nil {
		_ = conn.Close()
		return fmt.Errorf("%s: confirm mode: %w", op, err)
	}

	p.conn, p.ch = conn, ch

	return nil
}

func (p *Publisher) channel() (*amqp.Channel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ch != nil && !p.ch.IsClosed() {
		return p.ch, nil
	}

	p.logger.Warn("amqp publisher channel closed, reconnecting")
	p.closeLocked()

	if err := p.connectLocked(); err != nil {
		return nil, err
	}

	return p.ch, nil
}

// PublishHandoff publishes the message for the confirmation worker.
func (p *Publisher) PublishHandoff(ctx context.Context, msg domain.HandoffMessage) error {
	const op = "queue.Publisher.PublishHandoff"

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := p.publish(ctx, Exchange, body, msg.BookingID.String(), 0, 0); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// Republish parks a failed delivery on the retry queue for delay, after which
// the broker routes it back to the handoff queue with its attempt count.
// A non-positive delay publishes straight to the handoff exchange.
func (p *Publisher) Republish(ctx context.Context, body []byte, messageID string, attempts int, delay time.Duration) error {
	const op = "queue.Publisher.Republish"

	exchange := RetryExchange
	if delay <= 0 {
		exchange = Exchange
	}

	if err := p.publish(ctx, exchange, body, messageID, attempts, delay); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (p *Publisher) publish(ctx context.Context, exchange string, body []byte, messageID string, attempts int, delay time.Duration) error {
	ch, err := p.channel()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	dc, err := ch.PublishWithDeferredConfirmWithContext(ctx, exchange, RoutingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    messageID,
		Timestamp:    time.Now().UTC(),
		Expiration:   expiration(delay),
		Headers:      amqp.Table{HeaderAttempts: int32(attempts)},
		Body:         body,
	})
	if err != nil {
		return err
	}

	acked, err := dc.WaitContext(ctx)
	if err != nil {
		return err
	}
	if !acked {
		return ErrNotConfirmed
	}

	return nil
}

// expiration renders delay as an AMQP per-message TTL in milliseconds.
func expiration(delay time.Duration) string {
	if delay <= 0 {
		return ""
	}

	ms := delay.Milliseconds()
	if ms < 1 {
		ms = 1
	}

	return strconv.FormatInt(ms, 10)
}

func (p *Publisher) closeLocked() {
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
}

func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closeLocked()
}
