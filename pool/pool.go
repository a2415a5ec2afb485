// Package pool implements a bounded connection pool with one pre-warmed
// connection, bounded acquire waits and explicit discard of broken handles.
package pool

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/Lina-go/backend-delfos-sub000/core"
	"github.com/Lina-go/backend-delfos-sub000/logging"
)

// DefaultAcquireTimeout bounds how long Acquire waits for a release.
const DefaultAcquireTimeout = 30 * time.Second

var (
	// ErrPoolExhausted is returned when no connection became available in time.
	ErrPoolExhausted = core.NewError(core.KindResourceExhausted, "connection pool exhausted", nil)
	// ErrPoolClosed is returned by Acquire after CloseAll.
	ErrPoolClosed = core.NewError(core.KindResourceExhausted, "connection pool closed", nil)
)

// Conn is an opaque backend connection handle.
type Conn interface {
	Close() error
}

// Factory opens a new connection.
type Factory[C Conn] func(ctx context.Context) (C, error)

// Checker verifies that a connection is usable.
type Checker[C Conn] func(ctx context.Context, c C) error

// Stats is a point-in-time view of pool occupancy.
type Stats struct {
	Name      string `json:"name"`
	Total     int    `json:"total"`
	Available int    `json:"available"`
	InUse     int    `json:"in_use"`
	MaxSize   int    `json:"max_size"`
}

// Options configures a Pool.
type Options[C Conn] struct {
	Name           string
	MaxSize        int
	AcquireTimeout time.Duration
	// Ping is run on idle connections before handing them out. Failing
	// connections are discarded and Acquire tries again.
	Ping Checker[C]
	// Health is run by HealthCheck. Defaults to Ping.
	Health Checker[C]
	Logger logging.Logger
}

// Pool hands out at most MaxSize connections. Idle connections wait in a
// bounded queue; created counts every open connection, idle or checked out.
type Pool[C Conn] struct {
	opts    Options[C]
	factory Factory[C]
	idle    chan C
	freed   chan struct{}
	created atomic.Int64
	closed  atomic.Bool
}

// New creates a pool and pre-warms one connection. A pre-warm failure is
// logged and the pool starts cold.
func New[C Conn](ctx context.Context, factory Factory[C], optFns ...func(o *Options[C])) *Pool[C] {
	opts := Options[C]{
		Name:           "default",
		MaxSize:        5,
		AcquireTimeout: DefaultAcquireTimeout,
		Logger:         logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxSize <= 0 {
		opts.MaxSize = 1
	}
	if opts.Health == nil {
		opts.Health = opts.Ping
	}

	p := &Pool[C]{
		opts:    opts,
		factory: factory,
		idle:    make(chan C, opts.MaxSize),
		freed:   make(chan struct{}, opts.MaxSize),
	}
	p.prewarm(ctx)
	return p
}

func (p *Pool[C]) prewarm(ctx context.Context) {
	if !p.reserve() {
		return
	}
	c, err := p.factory(ctx)
	if err != nil {
		p.created.Add(-1)
		p.opts.Logger.Warn("Pool pre-warm failed", "pool", p.opts.Name, "error", err)
		return
	}
	p.idle <- c
	p.opts.Logger.Debug("Pool pre-warmed", "pool", p.opts.Name)
}

// reserve claims a creation slot if created < MaxSize.
func (p *Pool[C]) reserve() bool {
	for {
		n := p.created.Load()
		if n >= int64(p.opts.MaxSize) {
			return false
		}
		if p.created.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

func (p *Pool[C]) unreserve() {
	p.created.Add(-1)
	select {
	case p.freed <- struct{}{}:
	default:
	}
}

// Acquire returns an idle connection, opens a new one while below MaxSize, or
// waits up to AcquireTimeout for a release before failing with
// ErrPoolExhausted. The caller must hand the connection back with Release or
// Discard.
func (p *Pool[C]) Acquire(ctx context.Context) (C, error) {
	var zero C
	if p.closed.Load() {
		return zero, ErrPoolClosed
	}

	var expired <-chan time.Time
	if p.opts.AcquireTimeout > 0 {
		t := time.NewTimer(p.opts.AcquireTimeout)
		defer t.Stop()
		expired = t.C
	}

	for {
		select {
		case c := <-p.idle:
			if p.usable(ctx, c) {
				return c, nil
			}
			continue
		default:
		}

		if p.reserve() {
			c, err := p.factory(ctx)
			if err != nil {
				p.unreserve()
				return zero, fmt.Errorf("open %s connection: %w", p.opts.Name, err)
			}
			return c, nil
		}

		select {
		case c := <-p.idle:
			if p.usable(ctx, c) {
				return c, nil
			}
		case <-p.freed:
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-expired:
			p.opts.Logger.Warn("Pool exhausted", "pool", p.opts.Name, "max_size", p.opts.MaxSize)
			return zero, ErrPoolExhausted
		}
		if p.closed.Load() {
			return zero, ErrPoolClosed
		}
	}
}

// usable pings an idle connection and discards it on failure.
func (p *Pool[C]) usable(ctx context.Context, c C) bool {
	if p.opts.Ping == nil {
		return true
	}
	if err := p.opts.Ping(ctx, c); err != nil {
		p.opts.Logger.Debug("Discarding stale connection", "pool", p.opts.Name, "error", err)
		p.Discard(c)
		return false
	}
	return true
}

// Release returns a healthy connection to the idle queue. If the queue is
// full or the pool is closed the connection is closed instead.
func (p *Pool[C]) Release(c C) {
	if p.closed.Load() {
		p.Discard(c)
		return
	}
	select {
	case p.idle <- c:
	default:
		p.Discard(c)
	}
}

// Discard closes a connection known to be broken and frees its slot.
func (p *Pool[C]) Discard(c C) {
	if err := c.Close(); err != nil {
		p.opts.Logger.Debug("Error closing connection", "pool", p.opts.Name, "error", err)
	}
	p.unreserve()
}

// CloseAll drains and closes every idle connection. Checked-out connections
// are closed when they are released.
func (p *Pool[C]) CloseAll() {
	p.closed.Store(true)
	for {
		select {
		case c := <-p.idle:
			p.Discard(c)
		default:
			return
		}
	}
}

// HealthCheck acquires a connection, runs the health checker on it and
// releases it, discarding it if the check fails.
func (p *Pool[C]) HealthCheck(ctx context.Context) error {
	c, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	if p.opts.Health != nil {
		if err := p.opts.Health(ctx, c); err != nil {
			p.Discard(c)
			return fmt.Errorf("%s health check: %w", p.opts.Name, err)
		}
	}
	p.Release(c)
	return nil
}

// Stats returns the current pool occupancy.
func (p *Pool[C]) Stats() Stats {
	total := int(p.created.Load())
	available := len(p.idle)
	inUse := total - available
	if inUse < 0 {
		inUse = 0
	}
	return Stats{Name: p.opts.Name, Total: total, Available: available, InUse: inUse, MaxSize: p.opts.MaxSize}
}

// Name returns the pool name.
func (p *Pool[C]) Name() string { return p.opts.Name }

// With acquires a connection, runs fn and returns the connection. If fn
// returns an error for which broken reports true the connection is discarded
// instead of released. The connection is handed back on every exit path,
// including panics and context cancellation.
func (p *Pool[C]) With(ctx context.Context, broken func(error) bool, fn func(ctx context.Context, c C) error) (err error) {
	c, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	released := false
	defer func() {
		if released {
			return
		}
		if r := recover(); r != nil {
			p.Discard(c)
			panic(r)
		}
	}()

	err = fn(ctx, c)
	released = true
	if err != nil && broken != nil && broken(err) {
		p.Discard(c)
		return err
	}
	p.Release(c)
	return err
}
