package reminders

import (
	"context"
	"sync"
	"time"
)

// MemoryDeduper is a process-local Deduper used when no Redis is configured.
type MemoryDeduper struct {
	mu      sync.Mutex
	expires map[string]time.Time
	now     func() time.Time
}

// NewMemoryDeduper creates an empty MemoryDeduper.
func NewMemoryDeduper() *MemoryDeduper {
	return &MemoryDeduper{
		expires: make(map[string]time.Time),
		now:     time.Now,
	}
}

// Acquire implements Deduper.
func (d *MemoryDeduper) Acquire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	d.evict(now)

	if _, ok := d.expires[key]; ok {
		return false, nil
	}
	d.expires[key] = now.Add(ttl)
	return true, nil
}

// Release implements Deduper.
func (d *MemoryDeduper) Release(_ context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.expires, key)
	return nil
}

// Len returns the number of live keys.
func (d *MemoryDeduper) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.evict(d.now())
	return len(d.expires)
}

func (d *MemoryDeduper) evict(now time.Time) {
	for key, exp := range d.expires {
		if !now.Before(exp) {
			delete(d.expires, key)
		}
	}
}
