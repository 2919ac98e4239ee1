package redisrepo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kirinyoku/tixflow/internal/domain"
	redisx "github.com/kirinyoku/tixflow/internal/redis"
	"github.com/kirinyoku/tixflow/internal/repository"
	"github.com/redis/go-redis/v9"
)

// HoldStore keeps each hold as JSON under "Hold:<id>" with a TTL.
// Expiry of the key is what releases the hold's seats.
type HoldStore struct {
	rdb *redis.Client
}

func NewHoldStore(rdb *redis.Client) *HoldStore {
	return &HoldStore{rdb: rdb}
}

// Put stores a new hold.
//
// Returns:
//   - error: repository.ErrConflict if a hold with the same id already exists.
func (s *HoldStore) Put(ctx context.Context, hold domain.Hold, ttl time.Duration) error {
	const op = "redis.HoldStore.Put"

	b, err := json.Marshal(hold)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	ok, err := s.rdb.SetNX(ctx, redisx.KeyHold(hold.ID), b, ttl).Result()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if !ok {
		return fmt.Errorf("%s: %w", op, repository.ErrConflict)
	}

	return nil
}

// Get returns the hold.
//
// Returns:
//   - error: repository.ErrNotFound if the key expired or was deleted.
func (s *HoldStore) Get(ctx context.Context, id uuid.UUID) (*domain.Hold, error) {
	const op = "redis.HoldStore.Get"

	b, err := s.rdb.Get(ctx, redisx.KeyHold(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%s: %w", op, repository.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var h domain.Hold
	if err := json.Unmarshal(b, &h); err != nil {
		return nil, fmt.Errorf("%s: decode: %w", op, err)
	}

	return &h, nil
}

func (s *HoldStore) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	const op = "redis.HoldStore.Exists"

	n, err := s.rdb.Exists(ctx, redisx.KeyHold(id)).Result()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	return n > 0, nil
}

func (s *HoldStore) Delete(ctx context.Context, id uuid.UUID) error {
	const op = "redis.HoldStore.Delete"

	if err := s.rdb.Del(ctx, redisx.KeyHold(id)).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}
