package domain

import (
	"time"

	"github.com/google/uuid"
)

type SeatStatus string

const (
	SeatAvailable SeatStatus = "AVAILABLE"
	SeatReserved  SeatStatus = "RESERVED"
	SeatBooked    SeatStatus = "BOOKED"
)

// CanTransition reports whether a seat unit may move from s to next.
func (s SeatStatus) CanTransition(next SeatStatus) bool {
	switch s {
	case SeatAvailable:
		return next == SeatReserved
	case SeatReserved:
		return next == SeatBooked || next == SeatAvailable
	case SeatBooked:
		return next == SeatAvailable
	}

	return false
}

// SeatUnit is one sellable seat of one event.
// HoldID is set iff Status is SeatReserved.
type SeatUnit struct {
	ID         int64      `json:"id"`
	EventID    int64      `json:"event_id"`
	SeatID     int64      `json:"seat_id"`
	TierID     int64      `json:"tier_id"`
	PriceCents int64      `json:"price_cents"`
	Status     SeatStatus `json:"status"`
	HoldID     *uuid.UUID `json:"hold_id,omitempty"`
	Version    int64      `json:"version"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// HeldBy reports whether the seat is reserved under the given hold.
func (s SeatUnit) HeldBy(holdID uuid.UUID) bool {
	return s.Status == SeatReserved && s.HoldID != nil && *s.HoldID == holdID
}

type HoldStatus string

const HoldPending HoldStatus = "PENDING"

// Hold is the ephemeral claim a buyer has on a set of seat units.
type Hold struct {
	ID        uuid.UUID  `json:"id"`
	BuyerID   int64      `json:"buyer_id"`
	EventID   int64      `json:"event_id"`
	Status    HoldStatus `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt time.Time  `json:"expires_at"`
}

type BookingStatus string

const (
	BookingPaymentComplete BookingStatus = "PAYMENT_COMPLETE"
	BookingConfirmed       BookingStatus = "CONFIRMED"
	BookingCancelled       BookingStatus = "CANCELLED"
	// BookingFailed only tags audit notifications; it is never persisted.
	BookingFailed BookingStatus = "FAILED"
)

// Cancellable reports whether a booking in this status may be cancelled.
func (s BookingStatus) Cancellable() bool {
	return s == BookingPaymentComplete || s == BookingConfirmed
}

type Booking struct {
	ID         uuid.UUID     `json:"id"`
	BuyerID    int64         `json:"buyer_id"`
	EventID    int64         `json:"event_id"`
	HoldID     uuid.UUID     `json:"hold_id"`
	Status     BookingStatus `json:"status"`
	TotalCents int64         `json:"total_cents"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
	Lines      []BookingLine `json:"lines"`
}

// BookingLine records one seat unit and the price paid for it.
type BookingLine struct {
	SeatUnitID int64 `json:"seat_unit_id"`
	PriceCents int64 `json:"price_cents"`
}

func (b *Booking) SeatUnitIDs() []int64 {
	ids := make([]int64, 0, len(b.Lines))
	for _, l := range b.Lines {
		ids = append(ids, l.SeatUnitID)
	}

	return ids
}

type Role string

const (
	RoleBuyer     Role = "BUYER"
	RoleOrganizer Role = "ORGANIZER"
	RoleAdmin     Role = "ADMIN"
)

// Caller is the authenticated identity on whose behalf an operation runs.
type Caller struct {
	UserID int64
	Role   Role
}

// Elevated reports whether the caller may act on other buyers' bookings.
func (c Caller) Elevated() bool {
	return c.Role == RoleAdmin || c.Role == RoleOrganizer
}

// CanAccess reports whether the caller owns, or may act on, a resource owned by buyerID.
func (c Caller) CanAccess(buyerID int64) bool {
	return c.UserID == buyerID || c.Elevated()
}

// HandoffMessage is the body published for the confirmation worker.
type HandoffMessage struct {
	BookingID uuid.UUID `json:"bookingId"`
	HoldID    uuid.UUID `json:"holdId"`
}

// Notification is the audit/analytics payload.
type Notification struct {
	BookingID   uuid.UUID     `json:"bookingId"`
	BuyerID     int64         `json:"buyerId"`
	HoldID      uuid.UUID     `json:"holdId"`
	Status      BookingStatus `json:"status"`
	Total       int64         `json:"total"`
	Timestamp   time.Time     `json:"timestamp"`
	SeatUnitIDs []int64       `json:"seatUnitIds"`
}

func NewNotification(b *Booking, status BookingStatus, seatUnitIDs []int64, at time.Time) Notification {
	if seatUnitIDs == nil {
		seatUnitIDs = []int64{}
	}

	return Notification{
		BookingID:   b.ID,
		BuyerID:     b.BuyerID,
		HoldID:      b.HoldID,
		Status:      status,
		Total:       b.TotalCents,
		Timestamp:   at.UTC(),
		SeatUnitIDs: seatUnitIDs,
	}
}

type EventCounts struct {
	Available int64 `json:"available"`
	Reserved  int64 `json:"reserved"`
	Booked    int64 `json:"booked"`
	Total     int64 `json:"total"`
}

// OutboxEntry is a handoff message persisted alongside its booking until the broker confirms it.
type OutboxEntry struct {
	ID          uuid.UUID
	Message     HandoffMessage
	Attempts    int
	CreatedAt   time.Time
	PublishedAt *time.Time
}
