// Package queue carries booking handoff messages over RabbitMQ.
//
// Messages go to a durable direct exchange and queue. Failed deliveries are
// republished with an attempt counter onto booking.retry.queue, which has no
// consumers: each message sits there until its per-message TTL expires and the
// broker dead-letters it back to booking.exchange. Once attempts run out the
// delivery is rejected and dead-lettered into booking.dlq.
package queue

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	Exchange             = "booking.exchange"
	RoutingKey           = "booking.key"
	Queue                = "booking.queue"
	DeadLetterExchange   = "booking.dlx"
	DeadLetterRoutingKey = "booking.dlq.key"
	DeadLetterQueue      = "booking.dlq"
	RetryExchange        = "booking.retry"
	RetryQueue           = "booking.retry.queue"

	HeaderAttempts = "x-attempts"
)

// DeclareTopology declares exchanges, queues and bindings. Declarations are idempotent.
func DeclareTopology(ch *amqp.Channel) error {
	const op = "queue.DeclareTopology"

	for _, ex := range []string{Exchange, DeadLetterExchange, RetryExchange} {
		if err := ch.ExchangeDeclare(ex, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
			return fmt.Errorf("%s: exchange %s: %w", op, ex, err)
		}
	}

	if _, err := ch.QueueDeclare(DeadLetterQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("%s: queue %s: %w", op, DeadLetterQueue, err)
	}
	if err := ch.QueueBind(DeadLetterQueue, DeadLetterRoutingKey, DeadLetterExchange, false, nil); err != nil {
		return fmt.Errorf("%s: bind %s: %w", op, DeadLetterQueue, err)
	}

	if _, err := ch.QueueDeclare(Queue, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    DeadLetterExchange,
		"x-dead-letter-routing-key": DeadLetterRoutingKey,
	}); err != nil {
		return fmt.Errorf("%s: queue %s: %w", op, Queue, err)
	}
	if err := ch.QueueBind(Queue, RoutingKey, Exchange, false, nil); err != nil {
		return fmt.Errorf("%s: bind %s: %w", op, Queue, err)
	}

	if _, err := ch.QueueDeclare(RetryQueue, true, false, false, false, retryQueueArgs()); err != nil {
		return fmt.Errorf("%s: queue %s: %w", op, RetryQueue, err)
	}
	if err := ch.QueueBind(RetryQueue, RoutingKey, RetryExchange, false, nil); err != nil {
		return fmt.Errorf("%s: bind %s: %w", op, RetryQueue, err)
	}

	return nil
}

// retryQueueArgs routes expired retry messages back to the handoff queue.
func retryQueueArgs() amqp.Table {
	return amqp.Table{
		"x-dead-letter-exchange":    Exchange,
		"x-dead-letter-routing-key": RoutingKey,
	}
}
