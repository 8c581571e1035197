package feed

import (
	"sync"
	"time"
)

// Dedup drops wallet signals that repeat within a time-to-live window. Signal
// producers redeliver on reconnect, so the feed must tolerate replays. Safe
// for concurrent use.
type Dedup struct {
	mu   sync.Mutex
	seen map[string]time.Time // signal id -> first seen
	ttl  time.Duration
}

// NewDedup creates a Dedup with the given replay window.
func NewDedup(ttl time.Duration) *Dedup {
	return &Dedup{
		seen: make(map[string]time.Time),
		ttl:  ttl,
	}
}

// Seen reports whether id was observed inside the window, recording it when
// not.
func (d *Dedup) Seen(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	if at, ok := d.seen[id]; ok && now.Sub(at) < d.ttl {
		return true
	}
	d.seen[id] = now
	return false
}

// Sweep drops expired entries so the set does not grow without bound.
func (d *Dedup) Sweep() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	for id, at := range d.seen {
		if now.Sub(at) >= d.ttl {
			delete(d.seen, id)
		}
	}
}
