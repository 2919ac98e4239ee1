package httpgin

import (
	"time"

	"github.com/kirinyoku/tixflow/internal/domain"
	"github.com/kirinyoku/tixflow/internal/service/cancellation"
)

type CreateHoldRequest struct {
	SeatUnitIDs []int64 `json:"seat_unit_ids" binding:"required,min=1,dive,gt=0"`
}

type CheckoutRequest struct {
	PaymentMethod string `json:"payment_method" binding:"required"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type BookingLineResponse struct {
	SeatUnitID int64 `json:"seat_unit_id"`
	PriceCents int64 `json:"price_cents"`
}

type BookingResponse struct {
	BookingID  string                `json:"booking_id"`
	HoldID     string                `json:"hold_id"`
	EventID    int64                 `json:"event_id"`
	BuyerID    int64                 `json:"buyer_id"`
	Status     string                `json:"status"`
	TotalCents int64                 `json:"total_cents"`
	Lines      []BookingLineResponse `json:"lines"`
	CreatedAt  time.Time             `json:"created_at"`
	UpdatedAt  time.Time             `json:"updated_at"`
}

type CancelResponse struct {
	BookingID           string  `json:"booking_id"`
	Status              string  `json:"status"`
	ReleasedSeatUnitIDs []int64 `json:"released_seat_unit_ids"`
}

func toBookingResponse(b *domain.Booking) BookingResponse {
	lines := make([]BookingLineResponse, 0, len(b.Lines))
	for _, l := range b.Lines {
		lines = append(lines, BookingLineResponse{SeatUnitID: l.SeatUnitID, PriceCents: l.PriceCents})
	}

	return BookingResponse{
		BookingID:  b.ID.String(),
		HoldID:     b.HoldID.String(),
		EventID:    b.EventID,
		BuyerID:    b.BuyerID,
		Status:     string(b.Status),
		TotalCents: b.TotalCents,
		Lines:      lines,
		CreatedAt:  b.CreatedAt,
		UpdatedAt:  b.UpdatedAt,
	}
}

func toCancelResponse(res *cancellation.Result) CancelResponse {
	released := res.ReleasedSeatUnitIDs
	if released == nil {
		released = []int64{}
	}

	return CancelResponse{
		BookingID:           res.Booking.ID.String(),
		Status:              string(res.Booking.Status),
		ReleasedSeatUnitIDs: released,
	}
}
