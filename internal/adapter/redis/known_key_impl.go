package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/user/pncp-ingest/internal/repository"
)

const knownKeyPrefix = "pncp:known:"

// KnownKeyRepoImpl implements repository.KnownKeyCache with one TTL'd key per external key.
type KnownKeyRepoImpl struct {
	client *redis.Client
}

var _ repository.KnownKeyCache = (*KnownKeyRepoImpl)(nil)

// NewClient opens a Redis client from connection settings.
func NewClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
}

// NewKnownKeyRepo creates a new instance of KnownKeyRepoImpl.
func NewKnownKeyRepo(client *redis.Client) *KnownKeyRepoImpl {
	return &KnownKeyRepoImpl{client: client}
}

func knownKey(externalKey string) string {
	return knownKeyPrefix + externalKey
}

// FilterKnown checks all keys in one pipelined round trip.
func (r *KnownKeyRepoImpl) FilterKnown(ctx context.Context, keys []string) (map[string]struct{}, error) {
	known := make(map[string]struct{})
	if len(keys) == 0 {
		return known, nil
	}

	pipe := r.client.Pipeline()
	cmds := make([]*redis.IntCmd, len(keys))
	for i, k := range keys {
		cmds[i] = pipe.Exists(ctx, knownKey(k))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("filter known keys: %w", err)
	}
	for i, cmd := range cmds {
		if cmd.Val() == 1 {
			known[keys[i]] = struct{}{}
		}
	}
	return known, nil
}

// MarkKnown sets every key with the given expiry. SETEX keeps each write atomic.
func (r *KnownKeyRepoImpl) MarkKnown(ctx context.Context, keys []string, ttl time.Duration) error {
	if len(keys) == 0 {
		return nil
	}
	pipe := r.client.Pipeline()
	for _, k := range keys {
		pipe.SetEx(ctx, knownKey(k), "1", ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("mark known keys: %w", err)
	}
	return nil
}

func (r *KnownKeyRepoImpl) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
