package executor

import (
	"sync"
	"time"
)

// Dedup remembers signal ids for a time-to-live window so the same external
// signal is not attempted twice. It is safe for concurrent use.
type Dedup struct {
	seen map[string]time.Time // signal id -> first seen
	ttl  time.Duration
	now  func() time.Time
	mu   sync.Mutex
}

// NewDedup creates a Dedup that treats an id as a duplicate for ttl after it
// was first seen.
func NewDedup(ttl time.Duration) *Dedup {
	return &Dedup{
		seen: make(map[string]time.Time),
		ttl:  ttl,
		now:  time.Now,
	}
}

// Seen reports whether id was recorded within the TTL. An unseen or expired
// id is recorded and false is returned. Empty ids are never duplicates.
func (d *Dedup) Seen(id string) bool {
	if id == "" {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if first, ok := d.seen[id]; ok && now.Sub(first) < d.ttl {
		return true
	}
	d.seen[id] = now
	return false
}

// Forget drops id so a later Seen returns false.
func (d *Dedup) Forget(id string) {
	d.mu.Lock()
	delete(d.seen, id)
	d.mu.Unlock()
}

// Cleanup removes expired entries and returns how many remain. Call it
// periodically to bound memory.
func (d *Dedup) Cleanup() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for id, ts := range d.seen {
		if now.Sub(ts) >= d.ttl {
			delete(d.seen, id)
		}
	}
	return len(d.seen)
}
