package confirmation

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/kirinyoku/tixflow/internal/domain"
	"github.com/kirinyoku/tixflow/internal/service/servicetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type workerFixture struct {
	w        *Worker
	store    *servicetest.Store
	emitter  *servicetest.Emitter
	notifier *servicetest.Notifier
	booking  domain.Booking
}

// newWorkerFixture stores a paid booking for seat units 1 and 2, both reserved under its hold.
func newWorkerFixture(t *testing.T) *workerFixture {
	t.Helper()

	f := &workerFixture{
		store:    servicetest.NewStore(),
		emitter:  &servicetest.Emitter{},
		notifier: &servicetest.Notifier{},
	}
	f.w = NewWorker(f.store, f.emitter, f.notifier, zap.NewNop())

	f.booking = domain.Booking{
		ID:         uuid.New(),
		BuyerID:    7,
		EventID:    10,
		HoldID:     uuid.New(),
		Status:     domain.BookingPaymentComplete,
		TotalCents: 2000,
		Lines: []domain.BookingLine{
			{SeatUnitID: 1, PriceCents: 1000},
			{SeatUnitID: 2, PriceCents: 1000},
		},
	}
	f.store.PutBooking(f.booking)

	for _, id := range []int64{1, 2} {
		f.putSeat(id, domain.SeatReserved, &f.booking.HoldID)
	}

	return f
}

func (f *workerFixture) putSeat(id int64, status domain.SeatStatus, holdID *uuid.UUID) {
	f.store.PutSeat(domain.SeatUnit{
		ID:         id,
		EventID:    10,
		PriceCents: 1000,
		Status:     status,
		HoldID:     holdID,
		Version:    1,
	})
}

func (f *workerFixture) msg() domain.HandoffMessage {
	return domain.HandoffMessage{BookingID: f.booking.ID, HoldID: f.booking.HoldID}
}

func TestHandle_ConfirmsBooking(t *testing.T) {
	f := newWorkerFixture(t)

	require.NoError(t, f.w.Handle(context.Background(), f.msg()))

	for _, id := range []int64{1, 2} {
		seat := f.store.Seat(id)
		assert.Equal(t, domain.SeatBooked, seat.Status)
		assert.Nil(t, seat.HoldID)
		assert.Equal(t, int64(2), seat.Version)
	}

	b, _ := f.store.Booking(f.booking.ID)
	assert.Equal(t, domain.BookingConfirmed, b.Status)

	audit, analytics := f.emitter.Statuses()
	assert.Empty(t, audit)
	assert.Equal(t, []domain.BookingStatus{domain.BookingConfirmed}, analytics)
	assert.Equal(t, []int64{10}, f.notifier.Events())
}

func TestHandle_DuplicateDeliveryIsNoop(t *testing.T) {
	f := newWorkerFixture(t)

	require.NoError(t, f.w.Handle(context.Background(), f.msg()))
	before := []domain.SeatUnit{f.store.Seat(1), f.store.Seat(2)}

	require.NoError(t, f.w.Handle(context.Background(), f.msg()))

	assert.Equal(t, before, []domain.SeatUnit{f.store.Seat(1), f.store.Seat(2)})
	b, _ := f.store.Booking(f.booking.ID)
	assert.Equal(t, domain.BookingConfirmed, b.Status)

	_, analytics := f.emitter.Statuses()
	assert.Len(t, analytics, 1)
}

func TestHandle_CancelledBookingSkipped(t *testing.T) {
	f := newWorkerFixture(t)
	f.booking.Status = domain.BookingCancelled
	f.store.PutBooking(f.booking)

	require.NoError(t, f.w.Handle(context.Background(), f.msg()))
	assert.Equal(t, domain.SeatReserved, f.store.Seat(1).Status)
}

func TestHandle_Failures(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(f *workerFixture)
		msg     func(f *workerFixture) domain.HandoffMessage
		wantErr error
	}{
		{
			name:    "booking missing",
			msg:     func(f *workerFixture) domain.HandoffMessage { return domain.HandoffMessage{BookingID: uuid.New(), HoldID: f.booking.HoldID} },
			wantErr: ErrBookingMissing,
		},
		{
			name:    "hold mismatch",
			msg:     func(f *workerFixture) domain.HandoffMessage { return domain.HandoffMessage{BookingID: f.booking.ID, HoldID: uuid.New()} },
			wantErr: ErrHoldMismatch,
		},
		{
			name: "no seats",
			mutate: func(f *workerFixture) {
				f.putSeat(1, domain.SeatAvailable, nil)
				f.putSeat(2, domain.SeatAvailable, nil)
			},
			wantErr: ErrNoSeats,
		},
		{
			name: "seat not reserved",
			mutate: func(f *workerFixture) {
				f.putSeat(2, domain.SeatBooked, &f.booking.HoldID)
			},
			wantErr: domain.ErrConsistencyViolation,
		},
		{
			name: "seats differ from lines",
			mutate: func(f *workerFixture) {
				f.putSeat(2, domain.SeatAvailable, nil)
			},
			wantErr: ErrLinesMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newWorkerFixture(t)
			if tt.mutate != nil {
				tt.mutate(f)
			}
			msg := f.msg()
			if tt.msg != nil {
				msg = tt.msg(f)
			}

			err := f.w.Handle(context.Background(), msg)
			require.ErrorIs(t, err, tt.wantErr)
			assert.ErrorIs(t, err, domain.ErrConsistencyViolation)

			b, _ := f.store.Booking(f.booking.ID)
			assert.Equal(t, domain.BookingPaymentComplete, b.Status)

			audit, analytics := f.emitter.Statuses()
			assert.Empty(t, analytics)
			assert.Equal(t, []domain.BookingStatus{domain.BookingFailed}, audit)
		})
	}
}

func TestHandle_MissingBookingAuditsMessageIDs(t *testing.T) {
	f := newWorkerFixture(t)
	msg := domain.HandoffMessage{BookingID: uuid.New(), HoldID: uuid.New()}

	err := f.w.Handle(context.Background(), msg)
	require.ErrorIs(t, err, ErrBookingMissing)

	audit := f.emitter.AuditLog()
	require.Len(t, audit, 1)
	assert.Equal(t, domain.BookingFailed, audit[0].Status)
	assert.Equal(t, msg.BookingID, audit[0].BookingID)
	assert.Equal(t, msg.HoldID, audit[0].HoldID)
	assert.Empty(t, audit[0].SeatUnitIDs)
}
