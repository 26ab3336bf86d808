package cache

import (
	"context"
	"time"

	"github.com/maypok86/otter/v2"
	"github.com/maypok86/otter/v2/stats"
)

// Memory is an in-process cache backed by otter. Entries expire ttl after they
// are written, or earlier when a deadline function is supplied and reports an
// earlier time for the value.
type Memory[T any] struct {
	cache    *otter.Cache[string, T]
	ttl      time.Duration
	deadline DeadlineFunc[T]
	now      func() time.Time
	counter  *stats.Counter
}

type MemoryOption[T any] func(*Memory[T])

// WithDeadline bounds each entry's lifetime by the time reported for its value.
func WithDeadline[T any](deadline DeadlineFunc[T]) MemoryOption[T] {
	return func(m *Memory[T]) {
		m.deadline = deadline
	}
}

func NewMemory[T any](ttl time.Duration, maxSize int, opts ...MemoryOption[T]) (*Memory[T], error) {
	m := &Memory[T]{
		ttl:     ttl,
		now:     time.Now,
		counter: stats.NewCounter(),
	}
	for _, opt := range opts {
		opt(m)
	}

	c, err := otter.New(&otter.Options[string, T]{
		MaximumSize:   maxSize,
		StatsRecorder: m.counter,
		ExpiryCalculator: otter.ExpiryWritingFunc(func(entry otter.Entry[string, T]) time.Duration {
			return m.lifetime(entry.Value)
		}),
	})
	if err != nil {
		return nil, err
	}
	m.cache = c

	return m, nil
}

func (m *Memory[T]) Get(_ context.Context, key string) (T, bool, error) {
	value, ok := m.cache.GetIfPresent(key)
	return value, ok, nil
}

// Set stores value under key. A value whose deadline has already passed is not
// stored, and any previous entry for key is removed.
func (m *Memory[T]) Set(_ context.Context, key string, value T) error {
	if m.lifetime(value) <= 0 {
		m.cache.Invalidate(key)
		return nil
	}

	m.cache.Set(key, value)
	return nil
}

func (m *Memory[T]) Invalidate(_ context.Context, key string) error {
	m.cache.Invalidate(key)
	return nil
}

func (m *Memory[T]) Close() error {
	m.cache.InvalidateAll()
	return nil
}

// Stats returns a snapshot of the hit, miss and eviction counts.
func (m *Memory[T]) Stats() stats.Stats {
	return m.counter.Snapshot()
}

func (m *Memory[T]) lifetime(value T) time.Duration {
	d := m.ttl
	if m.deadline == nil {
		return d
	}

	limit := m.deadline(value)
	if limit.IsZero() {
		return d
	}

	if until := limit.Sub(m.now()); until < d {
		d = until
	}
	return d
}
