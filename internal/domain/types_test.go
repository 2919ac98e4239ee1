package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestSeatStatus_CanTransition(t *testing.T) {
	tests := []struct {
		from SeatStatus
		to   SeatStatus
		want bool
	}{
		{SeatAvailable, SeatReserved, true},
		{SeatAvailable, SeatBooked, false},
		{SeatAvailable, SeatAvailable, false},
		{SeatReserved, SeatBooked, true},
		{SeatReserved, SeatAvailable, true},
		{SeatReserved, SeatReserved, false},
		{SeatBooked, SeatAvailable, true},
		{SeatBooked, SeatReserved, false},
		{SeatBooked, SeatBooked, false},
		{SeatStatus("SOLD"), SeatAvailable, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransition(tt.to))
		})
	}
}

func TestBookingStatus_Cancellable(t *testing.T) {
	assert.True(t, BookingPaymentComplete.Cancellable())
	assert.True(t, BookingConfirmed.Cancellable())
	assert.False(t, BookingCancelled.Cancellable())
	assert.False(t, BookingFailed.Cancellable())
}

func TestCaller_CanAccess(t *testing.T) {
	assert.True(t, Caller{UserID: 7, Role: RoleBuyer}.CanAccess(7))
	assert.False(t, Caller{UserID: 8, Role: RoleBuyer}.CanAccess(7))
	assert.True(t, Caller{UserID: 8, Role: RoleAdmin}.CanAccess(7))
	assert.True(t, Caller{UserID: 8, Role: RoleOrganizer}.CanAccess(7))
}

func TestSeatUnit_HeldBy(t *testing.T) {
	h := uuid.New()
	other := uuid.New()

	assert.True(t, SeatUnit{Status: SeatReserved, HoldID: &h}.HeldBy(h))
	assert.False(t, SeatUnit{Status: SeatReserved, HoldID: &other}.HeldBy(h))
	assert.False(t, SeatUnit{Status: SeatBooked}.HeldBy(h))
}

func TestNewNotification(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("x", 3600))
	b := &Booking{
		ID:         uuid.New(),
		BuyerID:    42,
		HoldID:     uuid.New(),
		TotalCents: 2000,
		Lines:      []BookingLine{{SeatUnitID: 1, PriceCents: 1000}, {SeatUnitID: 2, PriceCents: 1000}},
	}

	n := NewNotification(b, BookingPaymentComplete, b.SeatUnitIDs(), at)

	assert.Equal(t, b.ID, n.BookingID)
	assert.Equal(t, int64(42), n.BuyerID)
	assert.Equal(t, b.HoldID, n.HoldID)
	assert.Equal(t, int64(2000), n.Total)
	assert.Equal(t, []int64{1, 2}, n.SeatUnitIDs)
	assert.Equal(t, time.UTC, n.Timestamp.Location())

	empty := NewNotification(b, BookingFailed, nil, at)
	assert.NotNil(t, empty.SeatUnitIDs)
}
