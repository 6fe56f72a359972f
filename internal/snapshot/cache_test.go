package snapshot

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.t = f.t.Add(d)
	f.mu.Unlock()
}

func newClock() *fakeClock { return &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)} }

func TestCacheServesFreshValue(t *testing.T) {
	clk := newClock()
	c := New[int](5*time.Second, WithClock(clk.Now))
	var calls int
	load := func(context.Context) (int, error) { calls++; return calls, nil }

	_, ok := c.age()
	assert.False(t, ok, "age must be unknown before first load")

	e, err := c.Get(context.Background(), load)
	require.NoError(t, err)
	assert.Equal(t, 1, e.Value)
	assert.False(t, e.Cached)
	assert.Equal(t, time.Duration(0), e.Age)

	clk.Advance(2 * time.Second)
	e, err = c.Get(context.Background(), load)
	require.NoError(t, err)
	assert.Equal(t, 1, e.Value)
	assert.True(t, e.Cached)
	assert.Equal(t, 2*time.Second, e.Age)

	age, ok := c.age()
	assert.True(t, ok)
	assert.Equal(t, 2*time.Second, age)

	clk.Advance(3 * time.Second)
	e, err = c.Get(context.Background(), load)
	require.NoError(t, err)
	assert.Equal(t, 2, e.Value, "expired entry must reload")
	assert.False(t, e.Cached)
}

func TestCacheErrorsAreNotCached(t *testing.T) {
	clk := newClock()
	c := New[string](time.Minute, WithClock(clk.Now))
	boom := errors.New("boom")
	_, err := c.Get(context.Background(), func(context.Context) (string, error) { return "", boom })
	require.ErrorIs(t, err, boom)
	_, ok := c.age()
	assert.False(t, ok)

	e, err := c.Get(context.Background(), func(context.Context) (string, error) { return "ok", nil })
	require.NoError(t, err)
	assert.Equal(t, "ok", e.Value)
}

func TestCacheInvalidate(t *testing.T) {
	c := New[int](time.Hour)
	n := 0
	load := func(context.Context) (int, error) { n++; return n, nil }
	_, _ = c.Get(context.Background(), load)
	c.Invalidate()
	_, ok := c.age()
	assert.False(t, ok)
	e, _ := c.Get(context.Background(), load)
	assert.Equal(t, 2, e.Value)
}

func TestCacheZeroTTLAlwaysLoads(t *testing.T) {
	c := New[int](0)
	n := 0
	load := func(context.Context) (int, error) { n++; return n, nil }
	_, _ = c.Get(context.Background(), load)
	e, _ := c.Get(context.Background(), load)
	assert.Equal(t, 2, e.Value)
	assert.False(t, e.Cached)
	_, ok := c.age()
	assert.True(t, ok)
}

func TestCacheSingleWriter(t *testing.T) {
	c := New[int](time.Minute)
	var calls atomic.Int32
	release := make(chan struct{})
	load := func(context.Context) (int, error) {
		calls.Add(1)
		<-release
		return 7, nil
	}

	var wg sync.WaitGroup
	results := make([]int, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			e, err := c.Get(context.Background(), load)
			if err == nil {
				results[i] = e.Value
			}
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, v := range results {
		assert.Equal(t, 7, v)
	}
}

func TestCacheCallerCancellation(t *testing.T) {
	c := New[int](time.Minute)
	release := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Get(ctx, func(context.Context) (int, error) {
		<-release
		return 1, nil
	})
	require.ErrorIs(t, err, context.Canceled)
	close(release)
}

func TestCacheInvalidateDuringLoad(t *testing.T) {
	c := New[string](time.Hour)
	started := make(chan struct{})
	release := make(chan struct{})
	stale := func(context.Context) (string, error) {
		close(started)
		<-release
		return "before", nil
	}
	fresh := func(context.Context) (string, error) { return "after", nil }

	done := make(chan Entry[string], 1)
	go func() {
		e, _ := c.Get(context.Background(), stale)
		done <- e
	}()
	<-started

	c.Invalidate()
	e, err := c.Get(context.Background(), fresh)
	require.NoError(t, err)
	assert.Equal(t, "after", e.Value, "a Get after Invalidate must not join the older load")

	close(release)
	assert.Equal(t, "before", (<-done).Value)

	e, err = c.Get(context.Background(), fresh)
	require.NoError(t, err)
	assert.Equal(t, "after", e.Value)
	assert.True(t, e.Cached, "the older load must not overwrite the newer value")
}
