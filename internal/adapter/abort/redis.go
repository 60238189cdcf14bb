package abort

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/zeroatsteel/zero-agent/internal/domain"
)

const keyPrefix = "abort:"

// Redis keeps flags in Redis so a cancel request can land on any replica.
// Entries expire after ttl in case a run dies without releasing its flag.
type Redis struct {
	rdb redis.Cmdable
	ttl time.Duration
}

// NewRedis builds a Redis-backed registry. A non-positive ttl defaults to 30 minutes.
func NewRedis(rdb redis.Cmdable, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Redis{rdb: rdb, ttl: ttl}
}

func key(sessionID string) string { return keyPrefix + sessionID }

// Register records sessionID with the flag cleared.
func (r *Redis) Register(ctx context.Context, sessionID string) error {
	if err := r.rdb.Set(ctx, key(sessionID), "0", r.ttl).Err(); err != nil {
		return fmt.Errorf("op=abort.register: %w", err)
	}
	return nil
}

// Cancel sets the flag only if the session is registered.
func (r *Redis) Cancel(ctx context.Context, sessionID string) error {
	err := r.rdb.SetArgs(ctx, key(sessionID), "1", redis.SetArgs{Mode: "XX", KeepTTL: true}).Err()
	if errors.Is(err, redis.Nil) {
		return fmt.Errorf("op=abort.cancel: %w", domain.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("op=abort.cancel: %w", err)
	}
	return nil
}

// Cancelled reports whether a cancel was requested for sessionID.
func (r *Redis) Cancelled(ctx context.Context, sessionID string) (bool, error) {
	v, err := r.rdb.Get(ctx, key(sessionID)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("op=abort.cancelled: %w", err)
	}
	return v == "1", nil
}

// Release deletes the flag.
func (r *Redis) Release(ctx context.Context, sessionID string) error {
	if err := r.rdb.Del(ctx, key(sessionID)).Err(); err != nil {
		return fmt.Errorf("op=abort.release: %w", err)
	}
	return nil
}
