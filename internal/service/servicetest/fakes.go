package servicetest

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kirinyoku/tixflow/internal/domain"
	"github.com/kirinyoku/tixflow/internal/repository"
)

// HoldStore keeps holds in memory. Keys only expire through Expire.
type HoldStore struct {
	mu    sync.Mutex
	holds map[uuid.UUID]domain.Hold

	PutErr error
}

func NewHoldStore() *HoldStore {
	return &HoldStore{holds: make(map[uuid.UUID]domain.Hold)}
}

func (h *HoldStore) Put(_ context.Context, hold domain.Hold, _ time.Duration) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.PutErr != nil {
		return h.PutErr
	}
	if _, ok := h.holds[hold.ID]; ok {
		return repository.ErrConflict
	}
	h.holds[hold.ID] = hold
	return nil
}

func (h *HoldStore) Get(_ context.Context, id uuid.UUID) (*domain.Hold, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	hold, ok := h.holds[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &hold, nil
}

func (h *HoldStore) Exists(_ context.Context, id uuid.UUID) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	_, ok := h.holds[id]
	return ok, nil
}

func (h *HoldStore) Delete(_ context.Context, id uuid.UUID) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.holds, id)
	return nil
}

// Expire drops the hold as if its TTL had elapsed and reports whether it existed.
func (h *HoldStore) Expire(id uuid.UUID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	_, ok := h.holds[id]
	delete(h.holds, id)
	return ok
}

func (h *HoldStore) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.holds)
}

// Publisher records handoff messages.
type Publisher struct {
	mu   sync.Mutex
	msgs []domain.HandoffMessage

	Err error
}

func (p *Publisher) PublishHandoff(_ context.Context, msg domain.HandoffMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.Err != nil {
		return p.Err
	}
	p.msgs = append(p.msgs, msg)
	return nil
}

func (p *Publisher) Messages() []domain.HandoffMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.HandoffMessage(nil), p.msgs...)
}

// Emitter records notifications.
type Emitter struct {
	mu        sync.Mutex
	audit     []domain.Notification
	analytics []domain.Notification
}

func (e *Emitter) Audit(_ context.Context, n domain.Notification) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.audit = append(e.audit, n)
}

func (e *Emitter) Analytics(_ context.Context, n domain.Notification) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.analytics = append(e.analytics, n)
}

func (e *Emitter) AuditLog() []domain.Notification {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]domain.Notification(nil), e.audit...)
}

func (e *Emitter) AnalyticsLog() []domain.Notification {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]domain.Notification(nil), e.analytics...)
}

// Statuses lists the status of every notification on both topics, audit first.
func (e *Emitter) Statuses() (audit, analytics []domain.BookingStatus) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, n := range e.audit {
		audit = append(audit, n.Status)
	}
	for _, n := range e.analytics {
		analytics = append(analytics, n.Status)
	}
	return audit, analytics
}

type Refund struct {
	BookingID   uuid.UUID
	AmountCents int64
}

// Payments approves every charge unless Decline is set.
type Payments struct {
	mu      sync.Mutex
	charges int
	refunds []Refund

	Decline bool
}

func (p *Payments) Authorize(context.Context, int64, uuid.UUID, string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.charges++
	return !p.Decline, nil
}

func (p *Payments) Refund(_ context.Context, bookingID uuid.UUID, amountCents int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refunds = append(p.refunds, Refund{BookingID: bookingID, AmountCents: amountCents})
	return nil
}

func (p *Payments) Charges() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.charges
}

func (p *Payments) Refunds() []Refund {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Refund(nil), p.refunds...)
}

// Notifier records the events whose availability changed.
type Notifier struct {
	mu     sync.Mutex
	events []int64
}

func (n *Notifier) EventChanged(_ context.Context, eventID int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, eventID)
}

func (n *Notifier) Events() []int64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]int64(nil), n.events...)
}

// ExpiryFeed delivers hold ids pushed with Send to the subscribed handler.
type ExpiryFeed struct {
	ch chan uuid.UUID
}

func NewExpiryFeed() *ExpiryFeed {
	return &ExpiryFeed{ch: make(chan uuid.UUID, 16)}
}

func (f *ExpiryFeed) Send(id uuid.UUID) {
	f.ch <- id
}

func (f *ExpiryFeed) SubscribeExpired(ctx context.Context, handler func(ctx context.Context, holdID uuid.UUID)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case id := <-f.ch:
			handler(ctx, id)
		}
	}
}
