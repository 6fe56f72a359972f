// Package snapshot provides a small TTL cache for expensive, pull-based reads
// such as status queries and full log scans. Staleness is always visible to
// the caller through the entry age.
package snapshot

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const loadKey = "load"

// Entry is a cached value together with when it was produced.
type Entry[T any] struct {
	Value     T
	FetchedAt time.Time
	Age       time.Duration
	// Cached is true when Value was served without calling the loader.
	Cached bool
}

// Cache holds the latest value of one loader. Loads are single-writer:
// concurrent misses share one call. Readers never block on a load while a
// fresh value is present.
type Cache[T any] struct {
	ttl time.Duration
	now func() time.Time

	mu        sync.RWMutex
	value     T
	fetchedAt time.Time
	valid     bool
	// gen changes on every Invalidate; a load started under an older
	// generation does not store its result.
	gen uint64

	group singleflight.Group
}

// Option configures a Cache.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// New returns a cache whose values expire after ttl. A ttl <= 0 disables
// caching: every Get calls the loader.
func New[T any](ttl time.Duration, opts ...Option) *Cache[T] {
	o := options{now: time.Now}
	for _, fn := range opts {
		fn(&o)
	}
	return &Cache[T]{ttl: ttl, now: o.now}
}

// Invalidate drops the cached value so the next Get reloads. A load already
// in flight still answers its own callers, but later callers start a new load
// and the older result is never stored.
func (c *Cache[T]) Invalidate() {
	c.mu.Lock()
	c.valid = false
	var zero T
	c.value = zero
	c.gen++
	c.group.Forget(loadKey)
	c.mu.Unlock()
}

// Get returns the cached value while it is younger than the TTL, otherwise it
// runs load. Load errors are returned and never cached.
func (c *Cache[T]) Get(ctx context.Context, load func(context.Context) (T, error)) (Entry[T], error) {
	if e, ok := c.fresh(); ok {
		return e, nil
	}
	ch := c.group.DoChan(loadKey, func() (any, error) {
		if e, ok := c.fresh(); ok {
			return e, nil
		}
		c.mu.RLock()
		gen := c.gen
		c.mu.RUnlock()
		// The load outlives any single waiter's cancellation.
		v, err := load(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		at := c.now()
		c.mu.Lock()
		if c.gen == gen {
			c.value, c.fetchedAt, c.valid = v, at, true
		}
		c.mu.Unlock()
		return Entry[T]{Value: v, FetchedAt: at}, nil
	})
	select {
	case <-ctx.Done():
		var zero Entry[T]
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			var zero Entry[T]
			return zero, res.Err
		}
		e := res.Val.(Entry[T])
		if res.Shared {
			e.Age = c.now().Sub(e.FetchedAt)
		}
		return e, nil
	}
}

// age reports how old the stored value is, false when nothing is stored.
func (c *Cache[T]) age() (time.Duration, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.valid {
		return 0, false
	}
	return c.now().Sub(c.fetchedAt), true
}

func (c *Cache[T]) fresh() (Entry[T], bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.valid || c.ttl <= 0 {
		return Entry[T]{}, false
	}
	age := c.now().Sub(c.fetchedAt)
	if age >= c.ttl {
		return Entry[T]{}, false
	}
	return Entry[T]{Value: c.value, FetchedAt: c.fetchedAt, Age: age, Cached: true}, true
}
