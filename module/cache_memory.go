package module

import (
	"context"
	"sync"
	"time"

	"github.com/juju/clock"
)

type memoryEntry struct {
	value   string
	expires time.Time
}

// MemoryCache is a process-local DescribeCache with TTL expiry. Expired
// entries are dropped lazily on read and when the entry limit is reached.
type MemoryCache struct {
	mu         sync.Mutex
	entries    map[string]memoryEntry
	clock      clock.Clock
	maxEntries int
	defaultTTL time.Duration
}

var _ DescribeCache = (*MemoryCache)(nil)

// NewMemoryCache creates a MemoryCache. maxEntries <= 0 means unbounded; a
// nil clock uses the wall clock.
func NewMemoryCache(maxEntries int, defaultTTL time.Duration, c clock.Clock) *MemoryCache {
	if c == nil {
		c = clock.WallClock
	}
	return &MemoryCache{
		entries:    make(map[string]memoryEntry),
		clock:      c,
		maxEntries: maxEntries,
		defaultTTL: defaultTTL,
	}
}

// Get returns ErrCacheMiss when the key is absent or expired.
func (m *MemoryCache) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return "", ErrCacheMiss
	}
	if !e.expires.IsZero() && !m.clock.Now().Before(e.expires) {
		delete(m.entries, key)
		return "", ErrCacheMiss
	}
	return e.value, nil
}

// Set stores a value. A zero ttl uses the default; if that is also zero the
// entry never expires.
func (m *MemoryCache) Set(_ context.Context, key, value string, ttl time.Duration) error {
	if ttl == 0 {
		ttl = m.defaultTTL
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.entries[key]; !exists && m.maxEntries > 0 && len(m.entries) >= m.maxEntries {
		m.evict()
	}
	e := memoryEntry{value: value}
	if ttl > 0 {
		e.expires = m.clock.Now().Add(ttl)
	}
	m.entries[key] = e
	return nil
}

// Delete removes a key.
func (m *MemoryCache) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

// Len returns the number of stored entries, expired or not.
func (m *MemoryCache) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// evict drops expired entries, then the entry closest to expiry if the
// cache is still full. Callers hold the lock.
func (m *MemoryCache) evict() {
	now := m.clock.Now()
	for k, e := range m.entries {
		if !e.expires.IsZero() && !now.Before(e.expires) {
			delete(m.entries, k)
		}
	}
	if len(m.entries) < m.maxEntries {
		return
	}
	var victim string
	var soonest time.Time
	for k, e := range m.entries {
		if victim == "" || (!e.expires.IsZero() && (soonest.IsZero() || e.expires.Before(soonest))) {
			victim, soonest = k, e.expires
		}
	}
	delete(m.entries, victim)
}
