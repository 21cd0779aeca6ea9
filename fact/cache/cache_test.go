package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/factgraph/errors"
)

type item struct{ name string }

func loader(calls *atomic.Int32, value *item) LoadFunc[*item] {
	return func(context.Context) (*item, bool, error) {
		calls.Add(1)
		if value == nil {
			return nil, false, nil
		}
		return &item{name: value.name}, true, nil
	}
}

func TestCache(t *testing.T) {
	tests := []struct {
		name string
		fn   func(t *testing.T)
	}{
		{"HitReturnsSameInstance", testHitReturnsSameInstance},
		{"InvalidateForcesReload", testInvalidateForcesReload},
		{"MissingKeyNotCached", testMissingKeyNotCached},
		{"LoadErrorNotCached", testLoadErrorNotCached},
		{"DisabledCachePassesThrough", testDisabledCachePassesThrough},
		{"MaxEntriesEvictsOldest", testMaxEntriesEvictsOldest},
		{"InvalidateAll", testInvalidateAll},
		{"ConcurrentMissesShareLoad", testConcurrentMissesShareLoad},
		{"StaleLoadDoesNotRepopulate", testStaleLoadDoesNotRepopulate},
		{"CancelledCallerDoesNotFailSharedLoad", testCancelledCallerDoesNotFailSharedLoad},
	}
	for _, tt := range tests {
		t.Run(tt.name, tt.fn)
	}
}

func testHitReturnsSameInstance(t *testing.T) {
	c := New[string, *item](0, true)
	var calls atomic.Int32
	load := loader(&calls, &item{name: "a"})

	v1, found, err := c.Get(context.Background(), "a", load)
	require.NoError(t, err)
	require.True(t, found)
	v2, _, _ := c.Get(context.Background(), "a", load)

	assert.Same(t, v1, v2)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, Stats{Hits: 1, Misses: 1, Entries: 1}, c.Stats())
}

func testInvalidateForcesReload(t *testing.T) {
	c := New[string, *item](0, true)
	var calls atomic.Int32
	load := loader(&calls, &item{name: "a"})

	v1, _, _ := c.Get(context.Background(), "a", load)
	c.Invalidate("a")
	v2, _, _ := c.Get(context.Background(), "a", load)

	assert.NotSame(t, v1, v2)
	assert.Equal(t, int32(2), calls.Load())
}

func testMissingKeyNotCached(t *testing.T) {
	c := New[string, *item](0, true)
	var calls atomic.Int32
	load := loader(&calls, nil)

	v, found, err := c.Get(context.Background(), "missing", load)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, v)

	c.Get(context.Background(), "missing", load)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, 0, c.Len())
}

func testLoadErrorNotCached(t *testing.T) {
	c := New[string, *item](0, true)
	_, _, err := c.Get(context.Background(), "x", func(context.Context) (*item, bool, error) { return nil, false, errors.New("boom") })
	require.Error(t, err)
	assert.Equal(t, 0, c.Len())
}

func testDisabledCachePassesThrough(t *testing.T) {
	c := New[string, *item](0, false)
	var calls atomic.Int32
	load := loader(&calls, &item{name: "a"})

	v1, _, _ := c.Get(context.Background(), "a", load)
	v2, _, _ := c.Get(context.Background(), "a", load)
	assert.NotSame(t, v1, v2)
	assert.Equal(t, int32(2), calls.Load())
}

func testMaxEntriesEvictsOldest(t *testing.T) {
	c := New[string, *item](2, true)
	var calls atomic.Int32

	c.Get(context.Background(), "a", loader(&calls, &item{name: "a"}))
	c.Get(context.Background(), "b", loader(&calls, &item{name: "b"}))
	c.Get(context.Background(), "c", loader(&calls, &item{name: "c"}))

	assert.Equal(t, 2, c.Len())

	calls.Store(0)
	c.Get(context.Background(), "b", loader(&calls, &item{name: "b"}))
	c.Get(context.Background(), "c", loader(&calls, &item{name: "c"}))
	assert.Equal(t, int32(0), calls.Load(), "b and c should still be cached")

	c.Get(context.Background(), "a", loader(&calls, &item{name: "a"}))
	assert.Equal(t, int32(1), calls.Load(), "a should have been evicted")
}

func testInvalidateAll(t *testing.T) {
	c := New[string, *item](0, true)
	var calls atomic.Int32
	c.Get(context.Background(), "a", loader(&calls, &item{name: "a"}))
	c.Get(context.Background(), "b", loader(&calls, &item{name: "b"}))

	c.InvalidateAll()
	assert.Equal(t, 0, c.Len())
}

func testConcurrentMissesShareLoad(t *testing.T) {
	c := New[string, *item](0, true)
	var calls atomic.Int32
	release := make(chan struct{})

	load := func(context.Context) (*item, bool, error) {
		calls.Add(1)
		<-release
		return &item{name: "slow"}, true, nil
	}

	var wg sync.WaitGroup
	results := make([]*item, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _, _ = c.Get(context.Background(), "slow", load)
		}(i)
	}

	// Let every goroutine reach the flight before releasing the loader.
	for c.Stats().Misses < int64(len(results)) {
	}
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, r := range results {
		assert.Same(t, results[0], r)
	}
}

func testStaleLoadDoesNotRepopulate(t *testing.T) {
	c := New[string, *item](0, true)
	started := make(chan struct{})
	release := make(chan struct{})

	done := make(chan *item)
	go func() {
		v, _, _ := c.Get(context.Background(), "k", func(context.Context) (*item, bool, error) {
			close(started)
			<-release
			return &item{name: "stale"}, true, nil
		})
		done <- v
	}()

	<-started
	c.Invalidate("k")
	close(release)
	stale := <-done
	assert.Equal(t, "stale", stale.name)

	var calls atomic.Int32
	fresh, _, _ := c.Get(context.Background(), "k", loader(&calls, &item{name: "fresh"}))
	assert.Equal(t, "fresh", fresh.name)
	assert.Equal(t, int32(1), calls.Load())
}

func testCancelledCallerDoesNotFailSharedLoad(t *testing.T) {
	c := New[string, *item](0, true)
	started := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32

	load := func(ctx context.Context) (*item, bool, error) {
		calls.Add(1)
		close(started)
		<-release
		if err := ctx.Err(); err != nil {
			return nil, false, err
		}
		return &item{name: "shared"}, true, nil
	}

	first, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, _, err := c.Get(first, "k", load)
		firstErr <- err
	}()
	<-started

	joined := make(chan *item, 1)
	go func() {
		v, _, err := c.Get(context.Background(), "k", load)
		assert.NoError(t, err)
		joined <- v
	}()
	for c.Stats().Misses < 2 {
	}

	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	close(release)
	v := <-joined
	require.NotNil(t, v)
	assert.Equal(t, "shared", v.name)
	assert.Equal(t, int32(1), calls.Load())

	cached, found, err := c.Get(context.Background(), "k", load)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Same(t, v, cached)
}
