package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func withClock(c *fakeClock) func(o *Options) {
	return func(o *Options) { o.Clock = c.Now }
}

func TestBounded_GetSet(t *testing.T) {
	c := NewBounded[string](10, time.Minute)
	c.Set("q1", "v1")

	v, ok := c.Get("q1")
	require.True(t, ok)
	assert.Equal(t, "v1", v)

	_, ok = c.Get("missing")
	assert.False(t, ok)

	st := c.Stats()
	assert.Equal(t, int64(1), st.Hits)
	assert.Equal(t, int64(1), st.Misses)
	assert.Equal(t, 50.0, st.HitRate)
	assert.Equal(t, 10, st.MaxSize)
	assert.Equal(t, int64(60), st.TTLSeconds)
}

func TestBounded_TTLExpiresOnRead(t *testing.T) {
	clock := newFakeClock()
	c := NewBounded[string](10, time.Minute, withClock(clock))

	c.Set("q1", "v1")
	v, ok := c.Get("q1")
	require.True(t, ok)
	assert.Equal(t, "v1", v)

	clock.Advance(time.Minute)
	_, ok = c.Get("q1")
	assert.True(t, ok, "entry exactly at ttl is still visible")

	clock.Advance(time.Second)
	_, ok = c.Get("q1")
	assert.False(t, ok)
	assert.Equal(t, int64(1), c.Stats().Misses)
	assert.Equal(t, 0, c.Len(), "expired entry is removed on access")
}

func TestBounded_EvictsOldestWrite(t *testing.T) {
	clock := newFakeClock()
	c := NewBounded[int](3, time.Hour, withClock(clock))

	for i, k := range []string{"a", "b", "c"} {
		c.Set(k, i)
		clock.Advance(time.Second)
	}

	// Reads do not refresh the timestamp.
	_, _ = c.Get("a")
	c.Set("d", 3)

	_, ok := c.Peek("a")
	assert.False(t, ok, "oldest write must be evicted")
	for _, k := range []string{"b", "c", "d"} {
		_, ok := c.Peek(k)
		assert.True(t, ok, k)
	}
	assert.Equal(t, 3, c.Len())
}

func TestBounded_OverwriteRefreshesTimestamp(t *testing.T) {
	clock := newFakeClock()
	c := NewBounded[int](2, time.Hour, withClock(clock))

	c.Set("a", 1)
	clock.Advance(time.Second)
	c.Set("b", 2)
	clock.Advance(time.Second)
	c.Set("a", 10)
	clock.Advance(time.Second)
	c.Set("c", 3)

	_, ok := c.Peek("b")
	assert.False(t, ok)
	v, ok := c.Peek("a")
	require.True(t, ok)
	assert.Equal(t, 10, v)
}

func TestBounded_OverwriteFullCacheDoesNotEvict(t *testing.T) {
	c := NewBounded[int](2, time.Hour)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("b", 3)
	assert.Equal(t, 2, c.Len())
	_, ok := c.Peek("a")
	assert.True(t, ok)
}

func TestBounded_DeleteAndClear(t *testing.T) {
	c := NewBounded[int](5, time.Hour)
	c.Set("a", 1)
	_, _ = c.Get("a")
	_, _ = c.Get("x")

	assert.True(t, c.Delete("a"))
	assert.False(t, c.Delete("a"))

	c.Set("b", 2)
	c.Clear()
	st := c.Stats()
	assert.Equal(t, Stats{MaxSize: 5, TTLSeconds: 3600}, st)
}

func TestBounded_Defaults(t *testing.T) {
	c := NewBounded[int](0, 0)
	st := c.Stats()
	assert.Equal(t, DefaultMaxSize, st.MaxSize)
	assert.Equal(t, int64(DefaultTTL/time.Second), st.TTLSeconds)
}

func TestBounded_ConcurrentAccess(t *testing.T) {
	c := NewBounded[int](50, time.Hour)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				k := fmt.Sprintf("k%d", (w*200+i)%120)
				c.Set(k, i)
				_, _ = c.Get(k)
			}
		}(w)
	}
	wg.Wait()
	assert.LessOrEqual(t, c.Len(), 50)
}
