package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kirinyoku/tixflow/internal/config"
	"github.com/kirinyoku/tixflow/internal/notify"
	"github.com/kirinyoku/tixflow/internal/payment"
	"github.com/kirinyoku/tixflow/internal/postgres"
	"github.com/kirinyoku/tixflow/internal/queue"
	redisx "github.com/kirinyoku/tixflow/internal/redis"
	postgresrepo "github.com/kirinyoku/tixflow/internal/repository/postgres"
	redisrepo "github.com/kirinyoku/tixflow/internal/repository/redis"
	"github.com/kirinyoku/tixflow/internal/service"
	"github.com/kirinyoku/tixflow/internal/service/confirmation"
	"github.com/kirinyoku/tixflow/internal/service/expiration"
	"github.com/kirinyoku/tixflow/internal/service/reservation"
	"github.com/kirinyoku/tixflow/internal/telemetry"
	httpgin "github.com/kirinyoku/tixflow/internal/transport/http/gin"
	"github.com/kirinyoku/tixflow/internal/uow"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const idempotencyTTL = 24 * time.Hour

type App struct {
	cfg        *config.Config
	logger     *zap.Logger
	httpServer *http.Server
	services   *service.Services
	consumer   *queue.Consumer

	pool      *pgxpool.Pool
	rdb       *redis.Client
	publisher *queue.Publisher
	kafka     *notify.KafkaEmitter
	tracing   func(context.Context) error
}

func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (_ *App, err error) {
	a := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.close(context.Background())
		}
	}()

	a.tracing, err = telemetry.Init(ctx, telemetry.Config{
		Enabled:        cfg.OTel.Enabled,
		ServiceName:    cfg.App.Name,
		ServiceVersion: cfg.App.Version,
		Environment:    cfg.App.Environment,
		CollectorAddr:  cfg.OTel.CollectorAddr,
		SampleRatio:    cfg.OTel.SampleRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}

	a.pool, err = postgres.New(ctx, postgres.Config{
		DSN:             cfg.Postgres.DSN(),
		ApplicationName: cfg.App.Name,
		MaxConns:        cfg.Postgres.MaxConns,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize postgres: %w", err)
	}

	store := postgresrepo.NewStore(a.pool)
	if cfg.Postgres.AutoMigrate {
		if err := store.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("failed to migrate schema: %w", err)
		}
	}

	a.rdb, err = redisx.New(ctx, redisx.Config{
		Addr:          cfg.Redis.Addr,
		Password:      cfg.Redis.Password,
		DB:            cfg.Redis.DB,
		NotifyExpired: cfg.Hold.NotifyExpired,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize redis: %w", err)
	}

	a.publisher, err = queue.NewPublisher(cfg.RabbitMQ.URL, cfg.RabbitMQ.PublishTimeout, logger.Named("publisher"))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize rabbitmq publisher: %w", err)
	}

	var emitter notify.Emitter
	if len(cfg.Kafka.Brokers) > 0 {
		a.kafka, err = notify.NewKafkaEmitter(ctx, notify.KafkaConfig{
			Brokers:  cfg.Kafka.Brokers,
			ClientID: cfg.Kafka.ClientID,
		}, logger.Named("notify"))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize kafka emitter: %w", err)
		}
		emitter = a.kafka
	} else {
		logger.Warn("no kafka brokers configured, notifications are logged only")
		emitter = notify.NewLogEmitter(logger.Named("notify"))
	}

	cache := redisrepo.New(a.rdb)
	invalidator := redisrepo.NewInvalidator(cache, redisx.NewEventsPubSub(a.rdb), logger)

	a.services = service.NewServices(service.Deps{
		UoW:        uow.NewUoW(store),
		Seats:      store.Seats(),
		Bookings:   store.Bookings(),
		Holds:      redisrepo.NewHoldStore(a.rdb),
		Cache:      cache,
		Limiter:    redisrepo.NewSlidingWindowLimiter(a.rdb, "holds", cfg.RateLimit.HoldsPerWindow, cfg.RateLimit.Window),
		Notifier:   invalidator,
		Subscriber: redisx.NewExpirySubscriber(a.rdb, logger.Named("expiry")),
		Publisher:  a.publisher,
		Emitter:    emitter,
		Payments:   payment.NewMockOracle(cfg.Payment.DeclinedMethods, logger.Named("payment")),
	}, service.Config{
		Reservation: reservation.Config{HoldTTL: cfg.Hold.TTL},
		Expiration:  expiration.Config{ReconcileGrace: cfg.Hold.ReconcileGrace},
		Relay: confirmation.RelayConfig{
			Interval: cfg.Worker.OutboxInterval,
			Delay:    cfg.Worker.OutboxDelay,
		},
	}, logger)

	if cfg.Worker.Enabled {
		a.consumer = queue.NewConsumer(queue.ConsumerConfig{
			URL:         cfg.RabbitMQ.URL,
			Concurrency: cfg.Worker.Concurrency,
			MaxAttempts: cfg.Worker.MaxAttempts,
			RetryDelay:  cfg.Worker.RetryDelay,
		}, a.publisher, a.services.Confirmation.Handle, logger.Named("consumer"))
	}

	router := httpgin.NewRouter(httpgin.API{
		Reservations:  a.services.Reservation,
		Checkouts:     a.services.Checkout,
		Cancellations: a.services.Cancellation,
		Queries:       a.services.Query,
	}, redisrepo.NewIdempotencyStore(a.rdb, idempotencyTTL), httpgin.Config{
		JWTSecret: cfg.JWT.Secret,
		JWTIssuer: cfg.JWT.Issuer,
	}, logger.Named("http"))

	a.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return a, nil
}

// Run serves HTTP and, when enabled, the confirmation consumer, the outbox
// relay and the expiration watcher until ctx is cancelled or SIGINT/SIGTERM.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	defer a.close(context.Background())

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("HTTP server listening",
			zap.String("host", a.cfg.Server.Host),
			zap.Int("port", a.cfg.Server.Port),
		)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
		return nil
	})

	if a.consumer != nil {
		g.Go(func() error {
			return a.consumer.Run(gCtx)
		})
		g.Go(func() error {
			return a.services.Relay.Run(gCtx)
		})
	}

	if a.cfg.Worker.WatcherEnabled {
		g.Go(func() error {
			return a.services.Expiration.Run(gCtx)
		})
	}

	g.Go(func() error {
		<-gCtx.Done()
		a.logger.Info("shutting down HTTP server")
		ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		return a.httpServer.Shutdown(ctx)
	})

	return g.Wait()
}

func (a *App) close(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if a.kafka != nil {
		a.kafka.Close(ctx)
	}
	if a.publisher != nil {
		a.publisher.Close()
	}
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			a.logger.Warn("redis close failed", zap.Error(err))
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if a.tracing != nil {
		if err := a.tracing(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
}
