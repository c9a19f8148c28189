package resolutioncache

import (
	"context"
	"time"
)

// Store persists cached payloads and per-tag versions.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// GetMulti returns one slot per key; misses are nil.
	GetMulti(ctx context.Context, keys []string) ([][]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Versions returns the current version of each tag, in order. Tags that
	// were never bumped are at version 0.
	Versions(ctx context.Context, tags []string) ([]int64, error)
	// Bump increments the version of every tag.
	Bump(ctx context.Context, tags []string) error
}
