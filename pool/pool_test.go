package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeConn struct {
	id     int64
	closed atomic.Bool
	stale  atomic.Bool
}

func (c *fakeConn) Close() error {
	c.closed.Store(true)
	return nil
}

type fakeFactory struct {
	next   atomic.Int64
	fail   atomic.Bool
	opened atomic.Int64
}

func (f *fakeFactory) open(context.Context) (*fakeConn, error) {
	if f.fail.Load() {
		return nil, errors.New("backend down")
	}
	f.opened.Add(1)
	return &fakeConn{id: f.next.Add(1)}, nil
}

func pingFake(_ context.Context, c *fakeConn) error {
	if c.stale.Load() {
		return errors.New("stale")
	}
	return nil
}

func newFakePool(t *testing.T, f *fakeFactory, max int, timeout time.Duration) *Pool[*fakeConn] {
	t.Helper()
	p := New(context.Background(), f.open, func(o *Options[*fakeConn]) {
		o.Name = "test"
		o.MaxSize = max
		o.AcquireTimeout = timeout
		o.Ping = pingFake
	})
	t.Cleanup(p.CloseAll)
	return p
}

func TestPool_PrewarmsOneConnection(t *testing.T) {
	f := &fakeFactory{}
	p := newFakePool(t, f, 3, time.Second)

	st := p.Stats()
	assert.Equal(t, Stats{Name: "test", Total: 1, Available: 1, InUse: 0, MaxSize: 3}, st)

	c, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), c.id, "pre-warmed connection is handed out first")
	assert.Equal(t, int64(1), f.opened.Load())
	p.Release(c)
}

func TestPool_PrewarmFailureStartsCold(t *testing.T) {
	f := &fakeFactory{}
	f.fail.Store(true)
	p := newFakePool(t, f, 2, time.Second)
	assert.Equal(t, 0, p.Stats().Total)

	f.fail.Store(false)
	c, err := p.Acquire(context.Background())
	require.NoError(t, err)
	p.Release(c)
	assert.Equal(t, 1, p.Stats().Total)
}

func TestPool_CapacityBlocksExtraCaller(t *testing.T) {
	f := &fakeFactory{}
	p := newFakePool(t, f, 2, 2*time.Second)

	c1, err := p.Acquire(context.Background())
	require.NoError(t, err)
	c2, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, p.Stats().InUse)

	got := make(chan *fakeConn, 1)
	go func() {
		c, err := p.Acquire(context.Background())
		if err == nil {
			got <- c
		}
		close(got)
	}()

	select {
	case <-got:
		t.Fatal("third acquire must block while the pool is at capacity")
	case <-time.After(50 * time.Millisecond):
	}

	p.Release(c1)
	c3, ok := <-got
	require.True(t, ok)
	assert.Same(t, c1, c3)
	assert.LessOrEqual(t, p.Stats().Total, 2)

	p.Release(c2)
	p.Release(c3)
}

func TestPool_ConcurrentAcquireNeverExceedsMax(t *testing.T) {
	f := &fakeFactory{}
	p := newFakePool(t, f, 3, 5*time.Second)

	var inUse, peak atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := p.With(context.Background(), nil, func(context.Context, *fakeConn) error {
				n := inUse.Add(1)
				for {
					old := peak.Load()
					if n <= old || peak.CompareAndSwap(old, n) {
						break
					}
				}
				time.Sleep(2 * time.Millisecond)
				inUse.Add(-1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int64(3))
	assert.LessOrEqual(t, f.opened.Load(), int64(3))
	assert.Equal(t, 0, p.Stats().InUse)
}

func TestPool_ExhaustedAfterTimeout(t *testing.T) {
	f := &fakeFactory{}
	p := newFakePool(t, f, 1, 20*time.Millisecond)

	c, err := p.Acquire(context.Background())
	require.NoError(t, err)
	defer p.Release(c)

	_, err = p.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrPoolExhausted)
}

func TestPool_ContextCancelWhileWaiting(t *testing.T) {
	f := &fakeFactory{}
	p := newFakePool(t, f, 1, time.Minute)

	c, err := p.Acquire(context.Background())
	require.NoError(t, err)
	defer p.Release(c)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = p.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPool_DiscardFreesSlotForWaiter(t *testing.T) {
	f := &fakeFactory{}
	p := newFakePool(t, f, 1, 2*time.Second)

	c, err := p.Acquire(context.Background())
	require.NoError(t, err)

	done := make(chan *fakeConn)
	go func() {
		c, _ := p.Acquire(context.Background())
		done <- c
	}()
	time.Sleep(20 * time.Millisecond)

	p.Discard(c)
	assert.True(t, c.closed.Load())

	replacement := <-done
	require.NotNil(t, replacement)
	assert.NotSame(t, c, replacement)
	assert.Equal(t, 1, p.Stats().Total)
	p.Release(replacement)
}

func TestPool_StaleIdleConnectionIsReplaced(t *testing.T) {
	f := &fakeFactory{}
	p := newFakePool(t, f, 2, time.Second)

	c, err := p.Acquire(context.Background())
	require.NoError(t, err)
	c.stale.Store(true)
	p.Release(c)

	fresh, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.NotSame(t, c, fresh)
	assert.True(t, c.closed.Load())
	p.Release(fresh)
	assert.Equal(t, 1, p.Stats().Total)
}

func TestPool_WithDiscardsBrokenConnection(t *testing.T) {
	f := &fakeFactory{}
	p := newFakePool(t, f, 2, time.Second)

	broken := errors.New("communication link failure")
	var used *fakeConn
	err := p.With(context.Background(), func(err error) bool { return errors.Is(err, broken) },
		func(_ context.Context, c *fakeConn) error {
			used = c
			return broken
		})
	assert.ErrorIs(t, err, broken)
	assert.True(t, used.closed.Load())
	assert.Equal(t, 0, p.Stats().Total)

	err = p.With(context.Background(), nil, func(context.Context, *fakeConn) error {
		return errors.New("syntax error")
	})
	assert.Error(t, err)
	assert.Equal(t, Stats{Name: "test", Total: 1, Available: 1, MaxSize: 2}, p.Stats())
}

func TestPool_WithReleasesOnPanic(t *testing.T) {
	f := &fakeFactory{}
	p := newFakePool(t, f, 1, 50*time.Millisecond)

	assert.Panics(t, func() {
		_ = p.With(context.Background(), nil, func(context.Context, *fakeConn) error { panic("boom") })
	})
	c, err := p.Acquire(context.Background())
	require.NoError(t, err, "slot must be freed after a panic")
	p.Release(c)
}

func TestPool_CloseAll(t *testing.T) {
	f := &fakeFactory{}
	p := newFakePool(t, f, 2, time.Second)

	out, err := p.Acquire(context.Background())
	require.NoError(t, err)
	idle, err := p.Acquire(context.Background())
	require.NoError(t, err)
	p.Release(idle)

	p.CloseAll()
	assert.True(t, idle.closed.Load())
	_, err = p.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrPoolClosed)

	p.Release(out)
	assert.True(t, out.closed.Load())
	assert.Equal(t, 0, p.Stats().Total)
}

func TestPool_HealthCheck(t *testing.T) {
	f := &fakeFactory{}
	p := newFakePool(t, f, 1, time.Second)
	require.NoError(t, p.HealthCheck(context.Background()))

	failing := New(context.Background(), f.open, func(o *Options[*fakeConn]) {
		o.Health = func(context.Context, *fakeConn) error { return errors.New("down") }
	})
	defer failing.CloseAll()
	assert.Error(t, failing.HealthCheck(context.Background()))
	assert.Equal(t, 0, failing.Stats().Total)
}
