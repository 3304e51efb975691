package host

import (
	"sync"
	"time"
)

// Dedup remembers delivered envelope ids for a time-to-live window so that
// redelivered envelopes are applied once. It is safe for concurrent use.
type Dedup struct {
	seen map[string]time.Time // envelope id -> commit time
	ttl  time.Duration
	now  func() time.Time
	mu   sync.Mutex
}

// NewDedup creates a Dedup that remembers ids for ttl.
func NewDedup(ttl time.Duration) *Dedup {
	return &Dedup{
		seen: make(map[string]time.Time),
		ttl:  ttl,
		now:  time.Now,
	}
}

// Seen reports whether id was marked within the TTL window.
func (d *Dedup) Seen(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	ts, ok := d.seen[id]
	return ok && d.now().Sub(ts) < d.ttl
}

// Mark records id as applied.
func (d *Dedup) Mark(id string) {
	d.mu.Lock()
	d.seen[id] = d.now()
	d.mu.Unlock()
}

// Cleanup removes expired entries. Call it periodically.
func (d *Dedup) Cleanup() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	removed := 0
	for id, ts := range d.seen {
		if now.Sub(ts) >= d.ttl {
			delete(d.seen, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of remembered ids.
func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
