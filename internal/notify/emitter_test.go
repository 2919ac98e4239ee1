package notify

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kirinyoku/tixflow/internal/domain"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogEmitter(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	e := NewLogEmitter(zap.New(core))

	n := domain.Notification{
		BookingID:   uuid.New(),
		BuyerID:     9,
		HoldID:      uuid.New(),
		Status:      domain.BookingCancelled,
		Total:       2000,
		Timestamp:   time.Now(),
		SeatUnitIDs: []int64{1, 2},
	}

	e.Audit(context.Background(), n)
	e.Analytics(context.Background(), n)

	entries := logs.All()
	if assert.Len(t, entries, 2) {
		assert.Equal(t, TopicAudit, entries[0].ContextMap()["topic"])
		assert.Equal(t, TopicAnalytics, entries[1].ContextMap()["topic"])
		assert.Equal(t, "CANCELLED", entries[0].ContextMap()["status"])
		assert.Equal(t, n.BookingID.String(), entries[0].ContextMap()["booking_id"])
	}
}
