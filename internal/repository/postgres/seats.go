package postgresrepo

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kirinyoku/tixflow/internal/domain"
	"github.com/kirinyoku/tixflow/internal/repository"
)

const seatColumns = `su.id, su.event_id, su.seat_id, su.tier_id, pt.price_cents,
	su.status, su.hold_id, su.version, su.updated_at`

type SeatRepo struct {
	pool *pgxpool.Pool
	db   DB
}

func (r *SeatRepo) With(db DB) *SeatRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *SeatRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

// Reserve moves the given seat units from AVAILABLE to RESERVED under holdID.
// It updates either all of them or none: when fewer rows match than were
// requested, the missing ids are classified and returned in a *repository.SeatsError.
// The caller must run it inside a transaction so the partial update rolls back.
func (r *SeatRepo) Reserve(
	ctx context.Context,
	eventID int64,
	holdID uuid.UUID,
	seatIDs []int64,
) ([]domain.SeatUnit, error) {
	const op = "postgres.SeatRepo.Reserve"

	db := r.handle()

	rows, err := db.Query(ctx,
		`WITH su AS (
			UPDATE seat_units
			   SET status = 'RESERVED', hold_id = $3, version = version + 1, updated_at = now()
			 WHERE event_id = $1
			   AND id = ANY($2)
			   AND status = 'AVAILABLE'
			RETURNING id, event_id, seat_id, tier_id, status, hold_id, version, updated_at
		 )
		 SELECT `+seatColumns+`
		   FROM su
		   JOIN price_tiers pt ON pt.id = su.tier_id
		  ORDER BY su.id`,
		eventID, seatIDs, holdID,
	)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	reserved, err := collectSeats(rows)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	if len(reserved) == len(seatIDs) {
		return reserved, nil
	}

	got := make(map[int64]struct{}, len(reserved))
	for _, s := range reserved {
		got[s.ID] = struct{}{}
	}

	var missing []int64
	for _, id := range seatIDs {
		if _, ok := got[id]; !ok {
			missing = append(missing, id)
		}
	}

	return nil, fmt.Errorf("%s: %w", op, r.classifyMissing(ctx, db, eventID, missing))
}

func (r *SeatRepo) classifyMissing(ctx context.Context, db DB, eventID int64, missing []int64) error {
	rows, err := db.Query(ctx,
		`SELECT id, event_id FROM seat_units WHERE id = ANY($1)`,
		missing,
	)
	if err != nil {
		return translateDBErr(err)
	}

	defer rows.Close()

	events := make(map[int64]int64, len(missing))
	for rows.Next() {
		var id, ev int64
		if err := rows.Scan(&id, &ev); err != nil {
			return translateDBErr(err)
		}
		events[id] = ev
	}
	if err := rows.Err(); err != nil {
		return translateDBErr(err)
	}

	var notFound, mismatch []int64
	for _, id := range missing {
		ev, ok := events[id]
		switch {
		case !ok:
			notFound = append(notFound, id)
		case ev != eventID:
			mismatch = append(mismatch, id)
		}
	}

	switch {
	case len(notFound) > 0:
		return &repository.SeatsError{Err: repository.ErrNotFound, SeatIDs: notFound}
	case len(mismatch) > 0:
		return &repository.SeatsError{Err: repository.ErrSeatEventMismatch, SeatIDs: mismatch}
	default:
		return &repository.SeatsError{Err: repository.ErrSeatsUnavailable, SeatIDs: missing}
	}
}

// ByHold returns the seat units referencing holdID, locked when forUpdate is set.
func (r *SeatRepo) ByHold(ctx context.Context, holdID uuid.UUID, forUpdate bool) ([]domain.SeatUnit, error) {
	const op = "postgres.SeatRepo.ByHold"

	q := `SELECT ` + seatColumns + `
	        FROM seat_units su
	        JOIN price_tiers pt ON pt.id = su.tier_id
	       WHERE su.hold_id = $1
	       ORDER BY su.id`
	if forUpdate {
		q += ` FOR UPDATE OF su`
	}

	rows, err := r.handle().Query(ctx, q, holdID)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	seats, err := collectSeats(rows)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return seats, nil
}

func (r *SeatRepo) ByIDs(ctx context.Context, ids []int64, forUpdate bool) ([]domain.SeatUnit, error) {
	const op = "postgres.SeatRepo.ByIDs"

	q := `SELECT ` + seatColumns + `
	        FROM seat_units su
	        JOIN price_tiers pt ON pt.id = su.tier_id
	       WHERE su.id = ANY($1)
	       ORDER BY su.id`
	if forUpdate {
		q += ` FOR UPDATE OF su`
	}

	rows, err := r.handle().Query(ctx, q, ids)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	seats, err := collectSeats(rows)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return seats, nil
}

// Transition compare-and-sets each seat from its observed status and version
// to `to`, clearing the hold. Seats that moved in between yield repository.ErrStaleVersion.
func (r *SeatRepo) Transition(ctx context.Context, seats []domain.SeatUnit, to domain.SeatStatus) error {
	const op = "postgres.SeatRepo.Transition"

	if len(seats) == 0 {
		return nil
	}

	for _, s := range seats {
		if to == domain.SeatReserved || !s.Status.CanTransition(to) {
			return fmt.Errorf("%s: seat %d: illegal transition %s -> %s", op, s.ID, s.Status, to)
		}
	}

	batch := &pgx.Batch{}
	for _, s := range seats {
		batch.Queue(
			`UPDATE seat_units
			    SET status = $1, hold_id = NULL, version = version + 1, updated_at = now()
			  WHERE id = $2 AND version = $3 AND status = $4`,
			string(to), s.ID, s.Version, string(s.Status),
		)
	}

	br := r.handle().SendBatch(ctx, batch)
	defer br.Close()

	var stale []int64
	for _, s := range seats {
		tag, err := br.Exec()
		if err != nil {
			return wrapDBErr(op, err)
		}
		if tag.RowsAffected() == 0 {
			stale = append(stale, s.ID)
		}
	}

	if len(stale) > 0 {
		return fmt.Errorf("%s: %w", op, &repository.SeatsError{Err: repository.ErrStaleVersion, SeatIDs: stale})
	}

	return nil
}

// ReleaseHold frees the seats still RESERVED under holdID. Seats of a hold that
// already became a PAYMENT_COMPLETE booking are left for the confirmation worker.
func (r *SeatRepo) ReleaseHold(ctx context.Context, holdID uuid.UUID) ([]domain.SeatUnit, error) {
	const op = "postgres.SeatRepo.ReleaseHold"

	rows, err := r.handle().Query(ctx,
		`WITH su AS (
			UPDATE seat_units
			   SET status = 'AVAILABLE', hold_id = NULL, version = version + 1, updated_at = now()
			 WHERE hold_id = $1
			   AND status = 'RESERVED'
			   AND NOT EXISTS (
			       SELECT 1 FROM bookings b
			        WHERE b.hold_id = $1 AND b.status = 'PAYMENT_COMPLETE'
			   )
			RETURNING id, event_id, seat_id, tier_id, status, hold_id, version, updated_at
		 )
		 SELECT `+seatColumns+`
		   FROM su
		   JOIN price_tiers pt ON pt.id = su.tier_id
		  ORDER BY su.id`,
		holdID,
	)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	seats, err := collectSeats(rows)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return seats, nil
}

func (r *SeatRepo) HoldsOlderThan(ctx context.Context, t time.Time) ([]uuid.UUID, error) {
	const op = "postgres.SeatRepo.HoldsOlderThan"

	rows, err := r.handle().Query(ctx,
		`SELECT DISTINCT hold_id
		   FROM seat_units
		  WHERE status = 'RESERVED' AND updated_at < $1
		  LIMIT 1000`,
		t,
	)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var id pgtype.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, wrapDBErr(op, err)
		}
		if id.Valid {
			out = append(out, uuid.UUID(id.Bytes))
		}
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBErr(op, err)
	}

	return out, nil
}

// CountsByStatus counts seat units by status for an event.
// An event without seat units is reported as repository.ErrNotFound.
func (r *SeatRepo) CountsByStatus(ctx context.Context, eventID int64) (*domain.EventCounts, error) {
	const op = "postgres.SeatRepo.CountsByStatus"

	var ec domain.EventCounts
	err := r.handle().QueryRow(ctx,
		`SELECT
		 	COALESCE(SUM(CASE WHEN status = 'AVAILABLE' THEN 1 ELSE 0 END), 0),
		 	COALESCE(SUM(CASE WHEN status = 'RESERVED' THEN 1 ELSE 0 END), 0),
		 	COALESCE(SUM(CASE WHEN status = 'BOOKED' THEN 1 ELSE 0 END), 0)
		   FROM seat_units
		  WHERE event_id = $1`,
		eventID,
	).Scan(&ec.Available, &ec.Reserved, &ec.Booked)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	ec.Total = ec.Available + ec.Reserved + ec.Booked
	if ec.Total == 0 {
		return nil, fmt.Errorf("%s: %w", op, repository.ErrNotFound)
	}

	return &ec, nil
}

func collectSeats(rows pgx.Rows) ([]domain.SeatUnit, error) {
	defer rows.Close()

	var out []domain.SeatUnit
	for rows.Next() {
		var (
			s      domain.SeatUnit
			status string
			hold   pgtype.UUID
		)

		if err := rows.Scan(
			&s.ID,
			&s.EventID,
			&s.SeatID,
			&s.TierID,
			&s.PriceCents,
			&status,
			&hold,
			&s.Version,
			&s.UpdatedAt,
		); err != nil {
			return nil, err
		}

		s.Status = domain.SeatStatus(status)
		if hold.Valid {
			id := uuid.UUID(hold.Bytes)
			s.HoldID = &id
		}

		out = append(out, s)
	}

	return out, rows.Err()
}
