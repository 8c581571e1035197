// Package throttle paces all outbound RPC traffic. One Throttle instance is
// shared by every component that talks to the execution client or the price
// source, so the aggregate call rate stays below the configured ceiling no
// matter how many workers are issuing calls concurrently.
package throttle

import (
	"context"
	"sync"
	"time"
)

// Throttle serializes timing decisions behind a single mutex and a
// time-since-last-call gate. Callers invoke Wait before each outbound call.
type Throttle struct {
	mu       sync.Mutex
	interval time.Duration
	last     time.Time

	// now and sleep are swappable for tests.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Throttle enforcing at most one call per interval. A zero or
// negative interval disables pacing.
func New(interval time.Duration) *Throttle {
	return &Throttle{
		interval: interval,
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

// Wait blocks until the next call slot is available or the context is
// cancelled. The slot is reserved before sleeping, so concurrent waiters are
// serialized rather than released in a burst.
func (t *Throttle) Wait(ctx context.Context) error {
	if t.interval <= 0 {
		return ctx.Err()
	}

	t.mu.Lock()
	now := t.now()
	next := t.last.Add(t.interval)
	if next.Before(now) {
		next = now
	}
	t.last = next
	t.mu.Unlock()

	if wait := next.Sub(now); wait > 0 {
		return t.sleep(ctx, wait)
	}
	return ctx.Err()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
