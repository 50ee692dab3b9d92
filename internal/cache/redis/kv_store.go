package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/crowdsignal/internal/domain"
)

// KVStore implements domain.KeyValueStore as plain Redis strings without TTL.
//
// Key schema:
//
//	{prefix}kv:{key} - string value
type KVStore struct {
	c *Client
}

// NewKVStore creates a KVStore in c's namespace.
func NewKVStore(c *Client) *KVStore {
	return &KVStore{c: c}
}

func (s *KVStore) key(k string) string { return s.c.Key("kv:" + k) }

// Get returns the value stored under key, or domain.ErrNotFound.
func (s *KVStore) Get(ctx context.Context, key string) (string, error) {
	val, err := s.c.rdb.Get(ctx, s.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", domain.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("redis: get %s: %w", key, err)
	}
	return val, nil
}

// Set stores value under key with no expiry.
func (s *KVStore) Set(ctx context.Context, key, value string) error {
	if err := s.c.rdb.Set(ctx, s.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("redis: set %s: %w", key, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.KeyValueStore = (*KVStore)(nil)
