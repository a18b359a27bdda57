package repository

import (
	"context"
	"time"
)

// KnownKeyCache is a fast pre-filter of external keys already handed to the store. It may forget
// keys; the store remains the authority.
type KnownKeyCache interface {
	// FilterKnown returns the subset of keys present in the cache.
	FilterKnown(ctx context.Context, keys []string) (map[string]struct{}, error)
	// MarkKnown remembers keys for ttl.
	MarkKnown(ctx context.Context, keys []string, ttl time.Duration) error
	Ping(ctx context.Context) error
}
