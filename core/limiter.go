package core

import (
	"context"
	"time"
)

// ConcurrencyLimiter bounds the number of in-flight calls to a shared
// collaborator across all requests of the process.
// If max <= 0 the limiter admits every caller.
type ConcurrencyLimiter struct {
	slots   chan struct{}
	timeout time.Duration
}

// NewConcurrencyLimiter creates a limiter with max slots. A positive
// waitTimeout bounds how long Acquire blocks before returning ErrGateTimeout.
func NewConcurrencyLimiter(max int, waitTimeout time.Duration) *ConcurrencyLimiter {
	l := &ConcurrencyLimiter{timeout: waitTimeout}
	if max > 0 {
		l.slots = make(chan struct{}, max)
	}
	return l
}

// Acquire blocks until a slot is free, ctx is done or the wait timeout elapses.
func (l *ConcurrencyLimiter) Acquire(ctx context.Context) error {
	if l == nil || l.slots == nil {
		return nil
	}
	select {
	case l.slots <- struct{}{}:
		return nil
	default:
	}

	var expired <-chan time.Time
	if l.timeout > 0 {
		t := time.NewTimer(l.timeout)
		defer t.Stop()
		expired = t.C
	}

	select {
	case l.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-expired:
		return ErrGateTimeout
	}
}

// Release frees a slot previously obtained with Acquire.
func (l *ConcurrencyLimiter) Release() {
	if l == nil || l.slots == nil {
		return
	}
	select {
	case <-l.slots:
	default:
	}
}

// Do runs fn while holding a slot. The slot is released on every exit path.
func (l *ConcurrencyLimiter) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := l.Acquire(ctx); err != nil {
		return err
	}
	defer l.Release()
	return fn(ctx)
}

// InFlight returns the number of currently held slots.
func (l *ConcurrencyLimiter) InFlight() int {
	if l == nil || l.slots == nil {
		return 0
	}
	return len(l.slots)
}

// Capacity returns the maximum number of slots, or -1 when unlimited.
func (l *ConcurrencyLimiter) Capacity() int {
	if l == nil || l.slots == nil {
		return -1
	}
	return cap(l.slots)
}
