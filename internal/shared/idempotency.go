package shared

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrIdempotencyConflict indicates a duplicate key.
var ErrIdempotencyConflict = errors.New("idempotent request already processed")

// IdempotencyGuard tracks processed request keys in Redis so bulk mutations
// are not re-executed on client retries.
type IdempotencyGuard struct {
	client *redis.Client
	ttl    time.Duration
}

// NewIdempotencyGuard constructs the guard. Keys expire after ttl.
func NewIdempotencyGuard(client *redis.Client, ttl time.Duration) *IdempotencyGuard {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &IdempotencyGuard{client: client, ttl: ttl}
}

// CheckAndSet claims the key within the given scope. Returns
// ErrIdempotencyConflict when the key was already claimed.
func (g *IdempotencyGuard) CheckAndSet(ctx context.Context, key, scope string) error {
	if g == nil || g.client == nil {
		return errors.New("idempotency guard not initialised")
	}
	if key == "" {
		return errors.New("idempotency key required")
	}
	if scope == "" {
		return errors.New("idempotency scope required")
	}
	ok, err := g.client.SetNX(ctx, g.redisKey(key, scope), time.Now().UTC().Format(time.RFC3339), g.ttl).Result()
	if err != nil {
		return fmt.Errorf("idempotency: claim key: %w", err)
	}
	if !ok {
		return ErrIdempotencyConflict
	}
	return nil
}

// Release removes a claimed key, typically used to roll back failed processing.
func (g *IdempotencyGuard) Release(ctx context.Context, key, scope string) error {
	if g == nil || g.client == nil {
		return nil
	}
	if key == "" {
		return errors.New("idempotency key required")
	}
	return g.client.Del(ctx, g.redisKey(key, scope)).Err()
}

func (g *IdempotencyGuard) redisKey(key, scope string) string {
	return "lattice:idem:" + scope + ":" + key
}
