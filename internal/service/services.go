package service

import (
	"github.com/kirinyoku/tixflow/internal/repository"
	"github.com/kirinyoku/tixflow/internal/service/cancellation"
	"github.com/kirinyoku/tixflow/internal/service/checkout"
	"github.com/kirinyoku/tixflow/internal/service/confirmation"
	"github.com/kirinyoku/tixflow/internal/service/expiration"
	"github.com/kirinyoku/tixflow/internal/service/query"
	"github.com/kirinyoku/tixflow/internal/service/reservation"
	"github.com/kirinyoku/tixflow/internal/uow"
	"go.uber.org/zap"
)

type Services struct {
	Reservation  *reservation.Service
	Checkout     *checkout.Service
	Cancellation *cancellation.Service
	Query        *query.Service
	Confirmation *confirmation.Worker
	Relay        *confirmation.Relay
	Expiration   *expiration.Watcher
}

type Config struct {
	Reservation reservation.Config
	Expiration  expiration.Config
	Relay       confirmation.RelayConfig
	Query       query.Config
}

// Payments charges at checkout and refunds on cancellation.
type Payments interface {
	checkout.Payments
	cancellation.Refunder
}

// Deps are the adapters the services run against.
type Deps struct {
	UoW        uow.Runner
	Seats      repository.SeatRepository
	Bookings   repository.BookingRepository
	Holds      repository.HoldStore
	Cache      query.AvailabilityCache
	Limiter    reservation.Limiter
	Notifier   reservation.Notifier
	Subscriber expiration.Subscriber
	Publisher  checkout.Publisher
	Emitter    checkout.Emitter
	Payments   Payments
}

func NewServices(d Deps, cfg Config, logger *zap.Logger) *Services {
	return &Services{
		Reservation:  reservation.New(d.UoW, d.Holds, d.Limiter, d.Notifier, cfg.Reservation, logger),
		Checkout:     checkout.New(d.UoW, d.Holds, d.Payments, d.Publisher, d.Emitter, logger),
		Cancellation: cancellation.New(d.UoW, d.Payments, d.Emitter, d.Notifier, logger),
		Query:        query.New(d.Seats, d.Bookings, d.Cache, cfg.Query),
		Confirmation: confirmation.NewWorker(d.UoW, d.Emitter, d.Notifier, logger),
		Relay:        confirmation.NewRelay(d.UoW, d.Publisher, cfg.Relay, logger),
		Expiration:   expiration.New(d.UoW, d.Holds, d.Subscriber, d.Notifier, cfg.Expiration, logger),
	}
}
