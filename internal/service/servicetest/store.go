// Package servicetest provides in-memory adapters for exercising the services
// end to end without Postgres, Redis or a broker.
package servicetest

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kirinyoku/tixflow/internal/domain"
	"github.com/kirinyoku/tixflow/internal/repository"
	"github.com/kirinyoku/tixflow/internal/uow"
)

// Store is an in-memory inventory and booking store. Units of work run one at
// a time and roll back on error, which makes them serializable.
type Store struct {
	mu       sync.Mutex
	seats    map[int64]domain.SeatUnit
	bookings map[uuid.UUID]domain.Booking
	outbox   map[uuid.UUID]domain.OutboxEntry

	// Now stamps seat and booking updates.
	Now func() time.Time
}

func NewStore() *Store {
	return &Store{
		seats:    make(map[int64]domain.SeatUnit),
		bookings: make(map[uuid.UUID]domain.Booking),
		outbox:   make(map[uuid.UUID]domain.OutboxEntry),
		Now:      time.Now,
	}
}

// AddSeats puts AVAILABLE seat units of eventID at the given price.
func (s *Store) AddSeats(eventID, priceCents int64, ids ...int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		s.seats[id] = domain.SeatUnit{
			ID:         id,
			EventID:    eventID,
			SeatID:     id,
			TierID:     eventID,
			PriceCents: priceCents,
			Status:     domain.SeatAvailable,
			UpdatedAt:  s.Now(),
		}
	}
}

// PutSeat stores a seat unit as given.
func (s *Store) PutSeat(seat domain.SeatUnit) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seats[seat.ID] = seat
}

func (s *Store) Seat(id int64) domain.SeatUnit {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seats[id]
}

// PutBooking stores a booking as given.
func (s *Store) PutBooking(b domain.Booking) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b.Lines = slices.Clone(b.Lines)
	s.bookings[b.ID] = b
}

func (s *Store) Booking(id uuid.UUID) (domain.Booking, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	return b, ok
}

func (s *Store) Bookings() []domain.Booking {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Collect(maps.Values(s.bookings))
}

func (s *Store) OutboxEntries() []domain.OutboxEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Collect(maps.Values(s.outbox))
}

// Do implements uow.Runner.
func (s *Store) Do(ctx context.Context, fn uow.TxFunc) error {
	var hooks []uow.AfterCommit

	err := func() error {
		s.mu.Lock()
		defer s.mu.Unlock()

		seats := maps.Clone(s.seats)
		bookings := maps.Clone(s.bookings)
		outbox := maps.Clone(s.outbox)

		err := fn(ctx, txView{s: s}, func(h uow.AfterCommit) {
			hooks = append(hooks, h)
		})
		if err != nil {
			s.seats, s.bookings, s.outbox = seats, bookings, outbox
		}
		return err
	}()
	if err != nil {
		return err
	}

	for _, h := range hooks {
		h(ctx)
	}

	return nil
}

// SeatReader returns seat queries that run outside a unit of work.
func (s *Store) SeatReader() repository.SeatRepository {
	return lockedSeats{seatRepo{s: s}}
}

// BookingReader returns booking queries that run outside a unit of work.
func (s *Store) BookingReader() repository.BookingRepository {
	return lockedBookings{bookingRepo{s: s}}
}

type txView struct{ s *Store }

func (t txView) Seats() repository.SeatRepository       { return seatRepo{s: t.s} }
func (t txView) Bookings() repository.BookingRepository { return bookingRepo{s: t.s} }
func (t txView) Outbox() repository.OutboxRepository    { return outboxRepo{s: t.s} }

// seatRepo, bookingRepo and outboxRepo expect the store lock to be held.
type seatRepo struct{ s *Store }

func (r seatRepo) Reserve(_ context.Context, eventID int64, holdID uuid.UUID, seatIDs []int64) ([]domain.SeatUnit, error) {
	var notFound, mismatch, taken []int64
	for _, id := range seatIDs {
		seat, ok := r.s.seats[id]
		switch {
		case !ok:
			notFound = append(notFound, id)
		case seat.EventID != eventID:
			mismatch = append(mismatch, id)
		case seat.Status != domain.SeatAvailable:
			taken = append(taken, id)
		}
	}

	switch {
	case len(notFound) > 0:
		return nil, &repository.SeatsError{Err: repository.ErrNotFound, SeatIDs: notFound}
	case len(mismatch) > 0:
		return nil, &repository.SeatsError{Err: repository.ErrSeatEventMismatch, SeatIDs: mismatch}
	case len(taken) > 0:
		return nil, &repository.SeatsError{Err: repository.ErrSeatsUnavailable, SeatIDs: taken}
	}

	out := make([]domain.SeatUnit, 0, len(seatIDs))
	for _, id := range seatIDs {
		seat := r.s.seats[id]
		h := holdID
		seat.Status = domain.SeatReserved
		seat.HoldID = &h
		seat.Version++
		seat.UpdatedAt = r.s.Now()
		r.s.seats[id] = seat
		out = append(out, seat)
	}

	slices.SortFunc(out, bySeatID)

	return out, nil
}

func (r seatRepo) ByHold(_ context.Context, holdID uuid.UUID, _ bool) ([]domain.SeatUnit, error) {
	var out []domain.SeatUnit
	for _, seat := range r.s.seats {
		if seat.HoldID != nil && *seat.HoldID == holdID {
			out = append(out, seat)
		}
	}
	slices.SortFunc(out, bySeatID)
	return out, nil
}

func (r seatRepo) ByIDs(_ context.Context, ids []int64, _ bool) ([]domain.SeatUnit, error) {
	var out []domain.SeatUnit
	for _, id := range ids {
		if seat, ok := r.s.seats[id]; ok {
			out = append(out, seat)
		}
	}
	slices.SortFunc(out, bySeatID)
	return out, nil
}

func (r seatRepo) Transition(_ context.Context, seats []domain.SeatUnit, to domain.SeatStatus) error {
	var stale []int64
	for _, seen := range seats {
		if to == domain.SeatReserved || !seen.Status.CanTransition(to) {
			return fmt.Errorf("seat %d: illegal transition %s -> %s", seen.ID, seen.Status, to)
		}

		cur, ok := r.s.seats[seen.ID]
		if !ok || cur.Version != seen.Version || cur.Status != seen.Status {
			stale = append(stale, seen.ID)
			continue
		}

		cur.Status = to
		cur.HoldID = nil
		cur.Version++
		cur.UpdatedAt = r.s.Now()
		r.s.seats[seen.ID] = cur
	}

	if len(stale) > 0 {
		return &repository.SeatsError{Err: repository.ErrStaleVersion, SeatIDs: stale}
	}

	return nil
}

func (r seatRepo) ReleaseHold(_ context.Context, holdID uuid.UUID) ([]domain.SeatUnit, error) {
	for _, b := range r.s.bookings {
		if b.HoldID == holdID && b.Status == domain.BookingPaymentComplete {
			return nil, nil
		}
	}

	var out []domain.SeatUnit
	for id, seat := range r.s.seats {
		if !seat.HeldBy(holdID) {
			continue
		}
		seat.Status = domain.SeatAvailable
		seat.HoldID = nil
		seat.Version++
		seat.UpdatedAt = r.s.Now()
		r.s.seats[id] = seat
		out = append(out, seat)
	}
	slices.SortFunc(out, bySeatID)

	return out, nil
}

func (r seatRepo) HoldsOlderThan(_ context.Context, t time.Time) ([]uuid.UUID, error) {
	seen := make(map[uuid.UUID]struct{})
	var out []uuid.UUID
	for _, seat := range r.s.seats {
		if seat.Status != domain.SeatReserved || seat.HoldID == nil || !seat.UpdatedAt.Before(t) {
			continue
		}
		if _, ok := seen[*seat.HoldID]; ok {
			continue
		}
		seen[*seat.HoldID] = struct{}{}
		out = append(out, *seat.HoldID)
	}
	return out, nil
}

func (r seatRepo) CountsByStatus(_ context.Context, eventID int64) (*domain.EventCounts, error) {
	var c domain.EventCounts
	for _, seat := range r.s.seats {
		if seat.EventID != eventID {
			continue
		}
		c.Total++
		switch seat.Status {
		case domain.SeatAvailable:
			c.Available++
		case domain.SeatReserved:
			c.Reserved++
		case domain.SeatBooked:
			c.Booked++
		}
	}
	if c.Total == 0 {
		return nil, repository.ErrNotFound
	}
	return &c, nil
}

type bookingRepo struct{ s *Store }

func (r bookingRepo) Create(_ context.Context, b *domain.Booking) error {
	for _, existing := range r.s.bookings {
		if existing.HoldID == b.HoldID {
			return repository.ErrConflict
		}
	}
	if _, ok := r.s.bookings[b.ID]; ok {
		return repository.ErrConflict
	}

	now := r.s.Now()
	b.CreatedAt, b.UpdatedAt = now, now

	cp := *b
	cp.Lines = slices.Clone(b.Lines)
	r.s.bookings[b.ID] = cp

	return nil
}

func (r bookingRepo) Get(_ context.Context, id uuid.UUID, _ bool) (*domain.Booking, error) {
	b, ok := r.s.bookings[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	b.Lines = slices.Clone(b.Lines)
	return &b, nil
}

func (r bookingRepo) GetByHold(_ context.Context, holdID uuid.UUID) (*domain.Booking, error) {
	for _, b := range r.s.bookings {
		if b.HoldID == holdID {
			b.Lines = slices.Clone(b.Lines)
			return &b, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r bookingRepo) SetStatus(_ context.Context, id uuid.UUID, from, to domain.BookingStatus) error {
	b, ok := r.s.bookings[id]
	if !ok || b.Status != from {
		return repository.ErrConflict
	}
	b.Status = to
	b.UpdatedAt = r.s.Now()
	r.s.bookings[id] = b
	return nil
}

type outboxRepo struct{ s *Store }

func (r outboxRepo) Add(_ context.Context, msg domain.HandoffMessage) (uuid.UUID, error) {
	id := uuid.New()
	r.s.outbox[id] = domain.OutboxEntry{ID: id, Message: msg, CreatedAt: r.s.Now()}
	return id, nil
}

func (r outboxRepo) Pending(_ context.Context, olderThan time.Time, limit int) ([]domain.OutboxEntry, error) {
	var out []domain.OutboxEntry
	for _, e := range r.s.outbox {
		if e.PublishedAt == nil && e.CreatedAt.Before(olderThan) {
			out = append(out, e)
		}
	}
	slices.SortFunc(out, func(a, b domain.OutboxEntry) int { return a.CreatedAt.Compare(b.CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r outboxRepo) MarkPublished(_ context.Context, id uuid.UUID) error {
	e, ok := r.s.outbox[id]
	if !ok {
		return repository.ErrNotFound
	}
	now := r.s.Now()
	e.PublishedAt = &now
	r.s.outbox[id] = e
	return nil
}

func (r outboxRepo) MarkPublishedByBooking(_ context.Context, bookingID uuid.UUID) error {
	now := r.s.Now()
	for id, e := range r.s.outbox {
		if e.Message.BookingID == bookingID && e.PublishedAt == nil {
			e.PublishedAt = &now
			r.s.outbox[id] = e
		}
	}
	return nil
}

func (r outboxRepo) IncrementAttempts(_ context.Context, id uuid.UUID) error {
	e, ok := r.s.outbox[id]
	if !ok {
		return repository.ErrNotFound
	}
	e.Attempts++
	r.s.outbox[id] = e
	return nil
}

type lockedSeats struct{ seatRepo }

func (r lockedSeats) ByHold(ctx context.Context, holdID uuid.UUID, forUpdate bool) ([]domain.SeatUnit, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.seatRepo.ByHold(ctx, holdID, forUpdate)
}

func (r lockedSeats) ByIDs(ctx context.Context, ids []int64, forUpdate bool) ([]domain.SeatUnit, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.seatRepo.ByIDs(ctx, ids, forUpdate)
}

func (r lockedSeats) CountsByStatus(ctx context.Context, eventID int64) (*domain.EventCounts, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.seatRepo.CountsByStatus(ctx, eventID)
}

func (r lockedSeats) HoldsOlderThan(ctx context.Context, t time.Time) ([]uuid.UUID, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.seatRepo.HoldsOlderThan(ctx, t)
}

// Mutations outside a unit of work are not supported.
func (r lockedSeats) Reserve(context.Context, int64, uuid.UUID, []int64) ([]domain.SeatUnit, error) {
	return nil, errReadOnly
}

func (r lockedSeats) Transition(context.Context, []domain.SeatUnit, domain.SeatStatus) error {
	return errReadOnly
}

func (r lockedSeats) ReleaseHold(context.Context, uuid.UUID) ([]domain.SeatUnit, error) {
	return nil, errReadOnly
}

type lockedBookings struct{ bookingRepo }

func (r lockedBookings) Get(ctx context.Context, id uuid.UUID, forUpdate bool) (*domain.Booking, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.bookingRepo.Get(ctx, id, forUpdate)
}

func (r lockedBookings) GetByHold(ctx context.Context, holdID uuid.UUID) (*domain.Booking, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.bookingRepo.GetByHold(ctx, holdID)
}

func (r lockedBookings) Create(context.Context, *domain.Booking) error {
	return errReadOnly
}

func (r lockedBookings) SetStatus(context.Context, uuid.UUID, domain.BookingStatus, domain.BookingStatus) error {
	return errReadOnly
}

var errReadOnly = errors.New("servicetest: mutation outside a unit of work")

func bySeatID(a, b domain.SeatUnit) int {
	switch {
	case a.ID < b.ID:
		return -1
	case a.ID > b.ID:
		return 1
	}
	return 0
}
