package redisrepo

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	idemLock      = "LOCK"
	idemResPrefix = "RES:"
)

// IdempotencyStore remembers the response of a command keyed by an
// Idempotency-Key header. A key is either locked (in flight) or holds a result.
type IdempotencyStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewIdempotencyStore(rdb *redis.Client, ttl time.Duration) *IdempotencyStore {
	return &IdempotencyStore{rdb: rdb, ttl: ttl}
}

func (s *IdempotencyStore) AcquireLock(ctx context.Context, key string, lockTTL time.Duration) (bool, error) {
	return s.rdb.SetNX(ctx, key, idemLock, lockTTL).Result()
}

// SaveResult stores the response status and body, replacing the lock.
func (s *IdempotencyStore) SaveResult(ctx context.Context, key string, status int, body []byte) error {
	val := idemResPrefix + statusPrefix(status) + string(body)
	return s.rdb.Set(ctx, key, val, s.ttl).Err()
}

// GetResult returns a stored response; ok is false while the key is absent or locked.
func (s *IdempotencyStore) GetResult(ctx context.Context, key string) (status int, body []byte, ok bool, err error) {
	v, err := s.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil, false, nil
	}
	if err != nil {
		return 0, nil, false, err
	}

	rest, found := strings.CutPrefix(v, idemResPrefix)
	if !found || len(rest) < 4 {
		return 0, nil, false, nil
	}

	status = parseStatus(rest[:4])
	if status == 0 {
		return 0, nil, false, nil
	}

	return status, []byte(rest[4:]), true, nil
}

func (s *IdempotencyStore) Release(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, key).Err()
}

// statusPrefix encodes an HTTP status as three digits and a separator.
func statusPrefix(status int) string {
	return fmt.Sprintf("%03d:", status)
}

func parseStatus(s string) int {
	if len(s) != 4 || s[3] != ':' {
		return 0
	}

	n, err := strconv.Atoi(s[:3])
	if err != nil || n < 100 {
		return 0
	}

	return n
}
