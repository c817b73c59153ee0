package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const claimedValue = "true"

// Redis keeps claims as Redis keys written with SET NX EX.
type Redis struct {
	client    redis.Cmdable
	keyPrefix string
}

type RedisOption func(*Redis)

// WithKeyPrefix namespaces every key as <prefix>:<key>.
func WithKeyPrefix(prefix string) RedisOption {
	return func(r *Redis) {
		r.keyPrefix = prefix
	}
}

func NewRedis(client redis.Cmdable, opts ...RedisOption) *Redis {
	r := &Redis{client: client}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Redis) prefixedKey(key string) string {
	if r.keyPrefix == "" {
		return key
	}
	return r.keyPrefix + ":" + key
}

// Claim marks key as processed for ttl. It reports false when the key was
// already claimed.
func (r *Redis) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, r.prefixedKey(key), claimedValue, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", key, err)
	}
	return ok, nil
}

func (r *Redis) IsClaimed(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, r.prefixedKey(key)).Result()
	if err != nil {
		return false, fmt.Errorf("check claim %s: %w", key, err)
	}
	return n > 0, nil
}
