package uow

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/kirinyoku/tixflow/internal/repository"
	postgresrepo "github.com/kirinyoku/tixflow/internal/repository/postgres"
)

// AfterCommit is a function that runs after a successful transaction commit.
type AfterCommit func(ctx context.Context)

// Tx exposes repositories bound to one transaction.
type Tx interface {
	Seats() repository.SeatRepository
	Bookings() repository.BookingRepository
	Outbox() repository.OutboxRepository
}

// TxFunc is the body of a unit of work. It may be invoked more than once when
// the transaction is retried, so it must not have effects outside tx other
// than through after.
type TxFunc func(ctx context.Context, tx Tx, after func(AfterCommit)) error

type Runner interface {
	Do(ctx context.Context, fn TxFunc) error
}

const defaultMaxRetries = 3

// UoW represents a unit of work over the Postgres store.
type UoW struct {
	store      *postgresrepo.Store
	maxRetries int
}

func NewUoW(store *postgresrepo.Store) *UoW {
	return &UoW{store: store, maxRetries: defaultMaxRetries}
}

// Do runs fn inside the transaction. After a successful commit,
// it executes all after-commit hooks.
func (u *UoW) Do(ctx context.Context, fn TxFunc) error {
	return u.DoWithOpts(ctx, nil, fn)
}

// DoWithOpts runs fn inside a transaction with the given options, retrying
// serialization failures. After a successful commit it executes the hooks
// registered by the attempt that committed.
func (u *UoW) DoWithOpts(ctx context.Context, opts *pgx.TxOptions, fn TxFunc) error {
	for attempt := 0; ; attempt++ {
		var hooks []AfterCommit

		err := u.store.RunTx(ctx, opts, func(ctx context.Context, db postgresrepo.DB) error {
			return fn(ctx, txRepos{store: u.store, db: db}, func(h AfterCommit) {
				hooks = append(hooks, h)
			})
		})
		if err != nil {
			if attempt < u.maxRetries && postgresrepo.IsRetryable(err) && ctx.Err() == nil {
				continue
			}
			return err
		}

		for _, h := range hooks {
			h(ctx)
		}

		return nil
	}
}

type txRepos struct {
	store *postgresrepo.Store
	db    postgresrepo.DB
}

func (t txRepos) Seats() repository.SeatRepository {
	return t.store.Seats().With(t.db)
}

func (t txRepos) Bookings() repository.BookingRepository {
	return t.store.Bookings().With(t.db)
}

func (t txRepos) Outbox() repository.OutboxRepository {
	return t.store.Outbox().With(t.db)
}
