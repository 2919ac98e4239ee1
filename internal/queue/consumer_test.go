package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kirinyoku/tixflow/internal/domain"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type MockRepublisher struct {
	RepublishFunc func(ctx context.Context, body []byte, messageID string, attempts int, delay time.Duration) error
}

func (m *MockRepublisher) Republish(ctx context.Context, body []byte, messageID string, attempts int, delay time.Duration) error {
	return m.RepublishFunc(ctx, body, messageID, attempts, delay)
}

// ackRecorder records how a delivery was settled.
type ackRecorder struct {
	acked   int
	nacked  int
	requeue bool
}

func (a *ackRecorder) Ack(uint64, bool) error { a.acked++; return nil }

func (a *ackRecorder) Nack(_ uint64, _ bool, requeue bool) error {
	a.nacked++
	a.requeue = requeue
	return nil
}

func (a *ackRecorder) Reject(_ uint64, requeue bool) error { return a.Nack(0, false, requeue) }

func failingJob(ack *ackRecorder, attempts int32) job {
	msg := domain.HandoffMessage{BookingID: uuid.New(), HoldID: uuid.New()}
	return job{
		d: amqp.Delivery{
			Acknowledger: ack,
			MessageId:    msg.BookingID.String(),
			Headers:      amqp.Table{HeaderAttempts: attempts},
			Body:         []byte(`{}`),
		},
		msg: msg,
	}
}

func TestAttemptsOf(t *testing.T) {
	assert.Equal(t, 0, attemptsOf(nil))
	assert.Equal(t, 0, attemptsOf(amqp.Table{}))
	assert.Equal(t, 2, attemptsOf(amqp.Table{HeaderAttempts: int32(2)}))
	assert.Equal(t, 3, attemptsOf(amqp.Table{HeaderAttempts: int64(3)}))
	assert.Equal(t, 0, attemptsOf(amqp.Table{HeaderAttempts: "3"}))
}

func TestNextAction(t *testing.T) {
	assert.Equal(t, actionRetry, nextAction(1, 5))
	assert.Equal(t, actionRetry, nextAction(4, 5))
	assert.Equal(t, actionDeadLetter, nextAction(5, 5))
	assert.Equal(t, actionDeadLetter, nextAction(1, 1))
}

func TestShardFor_StablePerBooking(t *testing.T) {
	id := uuid.New()

	first := shardFor(id, 8)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, shardFor(id, 8))
	}

	assert.GreaterOrEqual(t, first, 0)
	assert.Less(t, first, 8)
	assert.Equal(t, 0, shardFor(id, 1))
}

func TestDecode(t *testing.T) {
	b, h := uuid.New(), uuid.New()

	msg, err := decode([]byte(`{"bookingId":"` + b.String() + `","holdId":"` + h.String() + `"}`))
	require.NoError(t, err)
	assert.Equal(t, b, msg.BookingID)
	assert.Equal(t, h, msg.HoldID)

	_, err = decode([]byte(`{"holdId":"` + h.String() + `"}`))
	assert.Error(t, err)

	_, err = decode([]byte(`not json`))
	assert.Error(t, err)
}

func TestRetryDelay(t *testing.T) {
	assert.Equal(t, time.Second, retryDelay(time.Second, 1))
	assert.Equal(t, 3*time.Second, retryDelay(time.Second, 3))
}

func TestRetryQueueArgs_DeadLetterBackToHandoff(t *testing.T) {
	args := retryQueueArgs()
	assert.Equal(t, Exchange, args["x-dead-letter-exchange"])
	assert.Equal(t, RoutingKey, args["x-dead-letter-routing-key"])
	assert.NotContains(t, args, "x-message-ttl")
}

func TestExpiration(t *testing.T) {
	assert.Equal(t, "", expiration(0))
	assert.Equal(t, "1", expiration(time.Microsecond))
	assert.Equal(t, "2500", expiration(2500*time.Millisecond))
}

func TestProcess_RetryDoesNotBlockShard(t *testing.T) {
	var (
		gotAttempts int
		gotDelay    time.Duration
	)
	retry := &MockRepublisher{
		RepublishFunc: func(_ context.Context, _ []byte, _ string, attempts int, delay time.Duration) error {
			gotAttempts, gotDelay = attempts, delay
			return nil
		},
	}
	handler := func(context.Context, domain.HandoffMessage) error { return errors.New("boom") }
	c := NewConsumer(ConsumerConfig{MaxAttempts: 5, RetryDelay: time.Hour}, retry, handler, zap.NewNop())

	ack := &ackRecorder{}
	done := make(chan struct{})
	go func() {
		c.process(context.Background(), failingJob(ack, 1))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("process waited out the retry delay")
	}

	assert.Equal(t, 2, gotAttempts)
	assert.Equal(t, 2*time.Hour, gotDelay)
	assert.Equal(t, 1, ack.acked)
	assert.Zero(t, ack.nacked)
}

func TestProcess_Settlement(t *testing.T) {
	tests := []struct {
		name       string
		handlerErr error
		attempts   int32
		retryErr   error
		acked      int
		nacked     int
		requeue    bool
	}{
		{"success", nil, 0, nil, 1, 0, false},
		{"exhausted", errors.New("boom"), 4, nil, 0, 1, false},
		{"republish failed", errors.New("boom"), 0, errors.New("broker down"), 0, 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			retry := &MockRepublisher{
				RepublishFunc: func(context.Context, []byte, string, int, time.Duration) error { return tt.retryErr },
			}
			handler := func(context.Context, domain.HandoffMessage) error { return tt.handlerErr }
			c := NewConsumer(ConsumerConfig{MaxAttempts: 5}, retry, handler, zap.NewNop())

			ack := &ackRecorder{}
			c.process(context.Background(), failingJob(ack, tt.attempts))

			assert.Equal(t, tt.acked, ack.acked)
			assert.Equal(t, tt.nacked, ack.nacked)
			assert.Equal(t, tt.requeue, ack.requeue)
		})
	}
}
