// store.go defines the CounterStore interface the limiter is built on, plus the
// in-process MemoryStore implementation. The store contract is deliberately
// narrow: an atomic increment, a non-mutating read, and a reset. All window
// rollover and limit comparison lives in the limiter so every store behaves
// identically.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Counter is the state of one (actor, action) window as seen by a store.
type Counter struct {
	Count       int64
	WindowStart time.Time
}

// CounterStore persists per-key request counters with a fixed window.
//
// Incr must be atomic: when two concurrent calls race on the same key, both
// must observe distinct post-increment counts. Get never mutates. A key whose
// window has elapsed behaves as absent.
type CounterStore interface {
	// Incr increments the counter for key, creating it with the given window
	// on first use or after the previous window elapsed. It returns the
	// post-increment counter state.
	Incr(ctx context.Context, key string, window time.Duration) (Counter, error)

	// Get returns the current count without mutating the counter. A missing
	// or expired key returns 0 and no error.
	Get(ctx context.Context, key string) (int64, error)

	// Reset removes the counter for key immediately.
	Reset(ctx context.Context, key string) error
}

// memoryEntry is one live counter plus its configured window.
type memoryEntry struct {
	count       int64
	windowStart time.Time
	window      time.Duration
}

func (e *memoryEntry) expired(now time.Time) bool {
	return now.Sub(e.windowStart) >= e.window
}

// MemoryStore is a mutex-guarded in-process CounterStore. It is the default for
// single-instance deployments and for tests; multi-instance deployments should
// use RedisStore so all instances share one set of counters.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	now     func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*memoryEntry),
		now:     time.Now,
	}
}

// Incr implements CounterStore.
func (s *MemoryStore) Incr(_ context.Context, key string, window time.Duration) (Counter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	entry, ok := s.entries[key]
	if !ok || entry.expired(now) {
		entry = &memoryEntry{windowStart: now, window: window}
		s.entries[key] = entry
	}
	entry.count++

	return Counter{Count: entry.count, WindowStart: entry.windowStart}, nil
}

// Get implements CounterStore.
func (s *MemoryStore) Get(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok || entry.expired(s.now()) {
		return 0, nil
	}
	return entry.count, nil
}

// Reset implements CounterStore.
func (s *MemoryStore) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, key)
	return nil
}

// Prune drops expired entries so long-running processes do not accumulate
// counters for every actor ever seen. Called periodically by the cleanup job.
func (s *MemoryStore) Prune() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for key, entry := range s.entries {
		if entry.expired(now) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}
