package cache

import (
	"context"
	"time"
)

// Cache stores values by key for a bounded time. Implementations must be safe
// for concurrent use.
type Cache[T any] interface {
	// Get returns the value stored for key and whether it was present.
	Get(ctx context.Context, key string) (T, bool, error)

	Set(ctx context.Context, key string, value T) error

	Invalidate(ctx context.Context, key string) error

	Close() error
}

// DeadlineFunc reports the latest time a value may be served from a cache. A
// zero time means the value imposes no limit of its own.
type DeadlineFunc[T any] func(value T) time.Time
