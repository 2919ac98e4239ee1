package redisx

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

type Config struct {
	Addr     string
	Password string
	DB       int
	// NotifyExpired adds `E` and `x` to notify-keyspace-events so hold
	// expirations are pushed. Flags already set on the server are kept.
	NotifyExpired bool
}

func New(ctx context.Context, cfg Config) (*redis.Client, error) {
	const op = "redis.New"

	opts := &redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}

	client := redis.NewClient(opts)

	ctxPing, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	if _, err := client.Ping(ctxPing).Result(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%s: ping: %w", op, err)
	}

	if cfg.NotifyExpired {
		if err := enableExpiredEvents(ctxPing, client); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("%s: enable keyspace notifications: %w", op, err)
		}
	}

	return client, nil
}

const keyspaceEventsParam = "notify-keyspace-events"

func enableExpiredEvents(ctx context.Context, client *redis.Client) error {
	current, err := client.ConfigGet(ctx, keyspaceEventsParam).Result()
	if err != nil {
		return err
	}

	flags := current[keyspaceEventsParam]
	merged := mergeKeyspaceFlags(flags)
	if merged == flags {
		return nil
	}

	return client.ConfigSet(ctx, keyspaceEventsParam, merged).Err()
}

// mergeKeyspaceFlags adds keyevent (E) and expired (x) notifications to an
// existing flag set. `A` already implies x.
func mergeKeyspaceFlags(flags string) string {
	merged := flags
	if !strings.ContainsRune(merged, 'E') {
		merged += "E"
	}
	if !strings.ContainsAny(merged, "xA") {
		merged += "x"
	}

	return merged
}
