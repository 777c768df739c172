package cachemanager

import (
	"context"
	"time"
)

// ReadThroughCache loads values with fn on a cache miss and stores them.
// Errors from fn are returned and never cached.
type ReadThroughCache[V any, I any] struct {
	cache CacheManager[V]
	fn    func(ctx context.Context, input I) (V, error)
}

func NewReadThroughCache[V any, I any](
	cache CacheManager[V],
	fn func(ctx context.Context, input I) (V, error),
) *ReadThroughCache[V, I] {
	return &ReadThroughCache[V, I]{
		cache: cache,
		fn:    fn,
	}
}

// Get returns the cached value for key, or loads it from input.
func (r *ReadThroughCache[V, I]) Get(ctx context.Context, key string, input I, ttl time.Duration) (V, error) {
	if value, ok := r.cache.Get(ctx, key); ok {
		return value, nil
	}

	value, err := r.fn(ctx, input)
	if err != nil {
		return value, err
	}

	r.cache.Set(ctx, key, value, ttl)
	return value, nil
}
