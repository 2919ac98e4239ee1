package postgresrepo

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kirinyoku/tixflow/internal/domain"
	"github.com/kirinyoku/tixflow/internal/repository"
)

type BookingRepo struct {
	pool *pgxpool.Pool
	db   DB
}

func (r *BookingRepo) With(db DB) *BookingRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *BookingRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

// Create inserts a booking and its lines.
//
// Returns:
//   - error: repository.ErrConflict if a booking already exists for the hold.
func (r *BookingRepo) Create(ctx context.Context, b *domain.Booking) error {
	const op = "postgres.BookingRepo.Create"

	db := r.handle()

	err := db.QueryRow(ctx,
		`INSERT INTO bookings(id, buyer_id, event_id, hold_id, status, total_cents)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING created_at, updated_at`,
		b.ID, b.BuyerID, b.EventID, b.HoldID, string(b.Status), b.TotalCents,
	).Scan(&b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return wrapDBErr(op, err)
	}

	batch := &pgx.Batch{}
	for i, l := range b.Lines {
		batch.Queue(
			`INSERT INTO booking_lines(booking_id, position, seat_unit_id, price_cents)
			 VALUES ($1, $2, $3, $4)`,
			b.ID, i, l.SeatUnitID, l.PriceCents,
		)
	}
	if err := db.SendBatch(ctx, batch).Close(); err != nil {
		return wrapDBErr(op, err)
	}

	return nil
}

// Get loads a booking with its lines, row-locked when forUpdate is set.
//
// Returns:
//   - error: repository.ErrNotFound if the booking does not exist.
func (r *BookingRepo) Get(ctx context.Context, id uuid.UUID, forUpdate bool) (*domain.Booking, error) {
	const op = "postgres.BookingRepo.Get"

	q := `SELECT id, buyer_id, event_id, hold_id, status, total_cents, created_at, updated_at
	        FROM bookings
	       WHERE id = $1`
	if forUpdate {
		q += ` FOR UPDATE`
	}

	b, err := r.scanBooking(ctx, q, id)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return b, nil
}

func (r *BookingRepo) GetByHold(ctx context.Context, holdID uuid.UUID) (*domain.Booking, error) {
	const op = "postgres.BookingRepo.GetByHold"

	b, err := r.scanBooking(ctx,
		`SELECT id, buyer_id, event_id, hold_id, status, total_cents, created_at, updated_at
		   FROM bookings
		  WHERE hold_id = $1`,
		holdID,
	)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return b, nil
}

func (r *BookingRepo) scanBooking(ctx context.Context, q string, arg any) (*domain.Booking, error) {
	db := r.handle()

	var (
		b      domain.Booking
		status string
	)

	if err := db.QueryRow(ctx, q, arg).Scan(
		&b.ID,
		&b.BuyerID,
		&b.EventID,
		&b.HoldID,
		&status,
		&b.TotalCents,
		&b.CreatedAt,
		&b.UpdatedAt,
	); err != nil {
		return nil, err
	}

	b.Status = domain.BookingStatus(status)

	rows, err := db.Query(ctx,
		`SELECT seat_unit_id, price_cents
		   FROM booking_lines
		  WHERE booking_id = $1
		  ORDER BY position`,
		b.ID,
	)
	if err != nil {
		return nil, err
	}

	defer rows.Close()

	for rows.Next() {
		var l domain.BookingLine
		if err := rows.Scan(&l.SeatUnitID, &l.PriceCents); err != nil {
			return nil, err
		}
		b.Lines = append(b.Lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &b, nil
}

// SetStatus moves a booking from one status to another.
//
// Returns:
//   - error: repository.ErrConflict if the booking is no longer in status `from`.
func (r *BookingRepo) SetStatus(ctx context.Context, id uuid.UUID, from, to domain.BookingStatus) error {
	const op = "postgres.BookingRepo.SetStatus"

	tag, err := r.handle().Exec(ctx,
		`UPDATE bookings
		    SET status = $3, updated_at = now()
		  WHERE id = $1 AND status = $2`,
		id, string(from), string(to),
	)
	if err != nil {
		return wrapDBErr(op, err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, repository.ErrConflict)
	}

	return nil
}
