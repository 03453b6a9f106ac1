// Package cache is a small TTL cache for upstream feeds. Concurrent misses
// for the same key share one load, and the last good value is served when a
// reload fails.
package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// ErrNoValue is returned by Peek-style lookups with nothing cached.
var ErrNoValue = errors.New("cache: no value")

type Options struct {
	TTL time.Duration

	// ServeStaleOnError returns the last good value, however old, when the
	// loader fails.
	ServeStaleOnError bool

	// MaxEntries bounds the cache with FIFO eviction. Zero is unbounded.
	MaxEntries int
}

// Hooks report cache outcomes; nil hooks are skipped.
type Hooks struct {
	OnHit   func(key string)
	OnMiss  func(key string)
	OnStale func(key string, err error)
}

type entry[T any] struct {
	value     T
	expiresAt time.Time
}

// Cache maps string keys to values of type T.
type Cache[T any] struct {
	mu    sync.RWMutex
	items map[string]*entry[T]
	order []string
	opts  Options
	hooks Hooks
	sf    singleflight.Group
	now   func() time.Time
}

func New[T any](opts Options, hooks Hooks) *Cache[T] {
	return &Cache[T]{
		items: make(map[string]*entry[T]),
		opts:  opts,
		hooks: hooks,
		now:   time.Now,
	}
}

// Loader fetches a fresh value for key.
type Loader[T any] func(ctx context.Context, key string) (T, error)

// Get returns the cached value for key, loading it when missing or expired.
// stale reports that a failed load fell back to an expired value.
func (c *Cache[T]) Get(ctx context.Context, key string, load Loader[T]) (value T, stale bool, err error) {
	c.mu.RLock()
	e, ok := c.items[key]
	c.mu.RUnlock()
	if ok && c.now().Before(e.expiresAt) {
		if c.hooks.OnHit != nil {
			c.hooks.OnHit(key)
		}
		return e.value, false, nil
	}

	if c.hooks.OnMiss != nil {
		c.hooks.OnMiss(key)
	}
	v, err, _ := c.sf.Do(key, func() (interface{}, error) {
		val, err := load(ctx, key)
		if err != nil {
			return nil, err
		}
		c.Set(key, val)
		return val, nil
	})
	if err == nil {
		return v.(T), false, nil
	}

	if ok && c.opts.ServeStaleOnError {
		if c.hooks.OnStale != nil {
			c.hooks.OnStale(key, err)
		}
		return e.value, true, nil
	}
	var zero T
	return zero, false, err
}

// Set stores value under key with the configured TTL.
func (c *Cache[T]) Set(key string, value T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.items[key]; !exists {
		c.order = append(c.order, key)
	}
	c.items[key] = &entry[T]{value: value, expiresAt: c.now().Add(c.opts.TTL)}
	c.evictIfNeeded()
}

// Peek returns the cached value without loading, expired or not.
func (c *Cache[T]) Peek(key string) (T, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if e, ok := c.items[key]; ok {
		return e.value, nil
	}
	var zero T
	return zero, ErrNoValue
}

// Invalidate expires key without dropping its fallback value.
func (c *Cache[T]) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.items[key]; ok {
		e.expiresAt = time.Time{}
	}
}

func (c *Cache[T]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
	c.removeFromOrder(key)
}

func (c *Cache[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

func (c *Cache[T]) removeFromOrder(key string) {
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}

func (c *Cache[T]) evictIfNeeded() {
	if c.opts.MaxEntries <= 0 {
		return
	}
	for len(c.items) > c.opts.MaxEntries && len(c.order) > 0 {
		victim := c.order[0]
		c.order = c.order[1:]
		delete(c.items, victim)
	}
}
