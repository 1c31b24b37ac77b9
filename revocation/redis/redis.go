// Package redis provides a revocation list shared between instances through
// Redis. Each revoked id is a key that expires when the revocation lapses.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ggoodman/mcp-resource-gate/revocation"
)

// Config contains configuration options for the Redis store.
type Config struct {
	// Client is the Redis client instance.
	Client redis.UniversalClient

	// KeyPrefix is the prefix for all Redis keys.
	// Default: "authgate:revoked:"
	KeyPrefix string
}

// Store implements revocation.Store using Redis.
type Store struct {
	client    redis.UniversalClient
	keyPrefix string
}

var _ revocation.Store = (*Store)(nil)

// New creates a Redis-backed store.
func New(config Config) (*Store, error) {
	if config.Client == nil {
		return nil, fmt.Errorf("redis client is required")
	}

	// Apply defaults
	if config.KeyPrefix == "" {
		config.KeyPrefix = "authgate:revoked:"
	}

	return &Store{
		client:    config.Client,
		keyPrefix: config.KeyPrefix,
	}, nil
}

// Revoke implements revocation.Store. The key carries an absolute expiry so
// it disappears when the revocation lapses. Redis expires at whole seconds,
// so until is rounded up.
func (s *Store) Revoke(ctx context.Context, jti string, until time.Time) error {
	if jti == "" {
		return revocation.ErrEmptyTokenID
	}
	if !until.After(time.Now()) {
		return nil
	}
	if until.Nanosecond() != 0 {
		until = until.Truncate(time.Second).Add(time.Second)
	}
	key := s.keyPrefix + jti
	if err := s.client.SetArgs(ctx, key, 1, redis.SetArgs{ExpireAt: until}).Err(); err != nil {
		return fmt.Errorf("failed to revoke %s: %w", jti, err)
	}
	return nil
}

// IsRevoked implements revocation.Store.
func (s *Store) IsRevoked(ctx context.Context, jti string) (bool, error) {
	if jti == "" {
		return false, nil
	}
	n, err := s.client.Exists(ctx, s.keyPrefix+jti).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check revocation of %s: %w", jti, err)
	}
	return n > 0, nil
}

// Close is a no-op since the client lifecycle is managed by the caller.
func (s *Store) Close() error {
	return nil
}
