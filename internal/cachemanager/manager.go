// Package cachemanager provides typed in-memory caches with per-entry TTLs.
package cachemanager

import (
	"context"
	"time"
)

// CacheManager stores values of type V under string keys.
type CacheManager[V any] interface {
	Get(ctx context.Context, key string) (V, bool)
	Set(ctx context.Context, key string, value V, ttl time.Duration)
	Delete(ctx context.Context, keys ...string)
	Flush(ctx context.Context)
}
