package query

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kirinyoku/tixflow/internal/domain"
	"github.com/kirinyoku/tixflow/internal/service/servicetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type MockAvailabilityCache struct {
	AvailabilityFunc func(
		ctx context.Context,
		eventID int64,
		ttl time.Duration,
		load func(ctx context.Context) (domain.EventCounts, error),
	) (domain.EventCounts, error)
}

func (m *MockAvailabilityCache) Availability(
	ctx context.Context,
	eventID int64,
	ttl time.Duration,
	load func(ctx context.Context) (domain.EventCounts, error),
) (domain.EventCounts, error) {
	if m.AvailabilityFunc != nil {
		return m.AvailabilityFunc(ctx, eventID, ttl, load)
	}
	return load(ctx)
}

func TestAvailability(t *testing.T) {
	store := servicetest.NewStore()
	store.AddSeats(10, 1000, 1, 2, 3)
	h := uuid.New()
	store.PutSeat(domain.SeatUnit{ID: 4, EventID: 10, Status: domain.SeatReserved, HoldID: &h})
	store.PutSeat(domain.SeatUnit{ID: 5, EventID: 10, Status: domain.SeatBooked})

	var gotTTL time.Duration
	cache := &MockAvailabilityCache{
		AvailabilityFunc: func(ctx context.Context, _ int64, ttl time.Duration, load func(context.Context) (domain.EventCounts, error)) (domain.EventCounts, error) {
			gotTTL = ttl
			return load(ctx)
		},
	}

	svc := New(store.SeatReader(), store.BookingReader(), cache, Config{})

	counts, err := svc.Availability(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, domain.EventCounts{Available: 3, Reserved: 1, Booked: 1, Total: 5}, *counts)
	assert.Equal(t, 15*time.Second, gotTTL)
}

func TestAvailability_CachedValue(t *testing.T) {
	store := servicetest.NewStore()
	cache := &MockAvailabilityCache{
		AvailabilityFunc: func(context.Context, int64, time.Duration, func(context.Context) (domain.EventCounts, error)) (domain.EventCounts, error) {
			return domain.EventCounts{Available: 1, Total: 1}, nil
		},
	}

	svc := New(store.SeatReader(), store.BookingReader(), cache, Config{})

	counts, err := svc.Availability(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.Available)
}

func TestAvailability_UnknownEvent(t *testing.T) {
	store := servicetest.NewStore()
	svc := New(store.SeatReader(), store.BookingReader(), nil, Config{})

	_, err := svc.Availability(context.Background(), 42)
	require.ErrorIs(t, err, ErrEventNotFound)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestGetBooking(t *testing.T) {
	store := servicetest.NewStore()
	b := domain.Booking{ID: uuid.New(), BuyerID: 7, EventID: 10, HoldID: uuid.New(), Status: domain.BookingConfirmed}
	store.PutBooking(b)

	svc := New(store.SeatReader(), store.BookingReader(), nil, Config{})

	got, err := svc.GetBooking(context.Background(), domain.Caller{UserID: 7}, b.ID)
	require.NoError(t, err)
	assert.Equal(t, b.ID, got.ID)

	_, err = svc.GetBooking(context.Background(), domain.Caller{UserID: 1, Role: domain.RoleOrganizer}, b.ID)
	require.NoError(t, err)

	_, err = svc.GetBooking(context.Background(), domain.Caller{UserID: 8}, b.ID)
	require.ErrorIs(t, err, ErrForbidden)

	_, err = svc.GetBooking(context.Background(), domain.Caller{UserID: 7}, uuid.New())
	require.ErrorIs(t, err, ErrBookingNotFound)
}
