package postgresrepo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kirinyoku/tixflow/internal/domain"
)

// OutboxRepo stores handoff messages written in the checkout transaction.
type OutboxRepo struct {
	pool *pgxpool.Pool
	db   DB
}

func (r *OutboxRepo) With(db DB) *OutboxRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *OutboxRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

func (r *OutboxRepo) Add(ctx context.Context, msg domain.HandoffMessage) (uuid.UUID, error) {
	const op = "postgres.OutboxRepo.Add"

	id := uuid.New()
	if _, err := r.handle().Exec(ctx,
		`INSERT INTO handoff_outbox(id, booking_id, hold_id) VALUES ($1, $2, $3)`,
		id, msg.BookingID, msg.HoldID,
	); err != nil {
		return uuid.Nil, wrapDBErr(op, err)
	}

	return id, nil
}

// Pending returns unpublished entries created before olderThan, oldest first.
// Rows locked by another relay are skipped.
func (r *OutboxRepo) Pending(ctx context.Context, olderThan time.Time, limit int) ([]domain.OutboxEntry, error) {
	const op = "postgres.OutboxRepo.Pending"

	rows, err := r.handle().Query(ctx,
		`SELECT id, booking_id, hold_id, attempts, created_at
		   FROM handoff_outbox
		  WHERE published_at IS NULL AND created_at < $1
		  ORDER BY created_at
		  LIMIT $2
		  FOR UPDATE SKIP LOCKED`,
		olderThan, limit,
	)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	defer rows.Close()

	var out []domain.OutboxEntry
	for rows.Next() {
		var e domain.OutboxEntry
		if err := rows.Scan(
			&e.ID,
			&e.Message.BookingID,
			&e.Message.HoldID,
			&e.Attempts,
			&e.CreatedAt,
		); err != nil {
			return nil, wrapDBErr(op, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBErr(op, err)
	}

	return out, nil
}

func (r *OutboxRepo) MarkPublished(ctx context.Context, id uuid.UUID) error {
	const op = "postgres.OutboxRepo.MarkPublished"

	_, err := r.handle().Exec(ctx,
		`UPDATE handoff_outbox SET published_at = now() WHERE id = $1 AND published_at IS NULL`,
		id,
	)

	return wrapDBErr(op, err)
}

func (r *OutboxRepo) MarkPublishedByBooking(ctx context.Context, bookingID uuid.UUID) error {
	const op = "postgres.OutboxRepo.MarkPublishedByBooking"

	_, err := r.handle().Exec(ctx,
		`UPDATE handoff_outbox SET published_at = now() WHERE booking_id = $1 AND published_at IS NULL`,
		bookingID,
	)

	return wrapDBErr(op, err)
}

func (r *OutboxRepo) IncrementAttempts(ctx context.Context, id uuid.UUID) error {
	const op = "postgres.OutboxRepo.IncrementAttempts"

	_, err := r.handle().Exec(ctx,
		`UPDATE handoff_outbox SET attempts = attempts + 1 WHERE id = $1`,
		id,
	)

	return wrapDBErr(op, err)
}
