// Package cache provides the in-process credential cache.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/systmms/credgate/internal/secure"
)

// DefaultTTL is used when a Memory cache is created with a non-positive TTL.
const DefaultTTL = 5 * time.Minute

type entry struct {
	value     *secure.Buffer
	expiresAt time.Time
}

// Memory is a TTL cache keyed by (workspace, provider, secret). Values are
// sealed in secure buffers and are never written to disk.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]*entry
	ttl     time.Duration
	now     func() time.Time
}

// Option configures a Memory cache.
type Option func(*Memory)

// WithClock overrides the time source (for testing).
func WithClock(now func() time.Time) Option {
	return func(m *Memory) {
		m.now = now
	}
}

// NewMemory creates a cache whose entries expire after ttl.
func NewMemory(ttl time.Duration, opts ...Option) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	m := &Memory{
		entries: make(map[string]*entry),
		ttl:     ttl,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Key joins the cache key parts. Workspace and provider ids never contain NUL.
func Key(workspaceID, provider, secretName string) string {
	return workspaceID + "\x00" + provider + "\x00" + secretName
}

// Get returns the cached value if present and not expired.
func (m *Memory) Get(_ context.Context, workspaceID, provider, secretName string) (string, bool, error) {
	key := Key(workspaceID, provider, secretName)

	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()

	if !ok {
		return "", false, nil
	}
	if !m.now().Before(e.expiresAt) {
		m.evict(key, e)
		return "", false, nil
	}

	value, err := e.value.Reveal()
	if err != nil {
		// Destroyed by a concurrent Invalidate.
		return "", false, nil
	}
	return value, true, nil
}

// Set stores value for the configured TTL, replacing any previous entry.
func (m *Memory) Set(_ context.Context, workspaceID, provider, secretName, value string) error {
	key := Key(workspaceID, provider, secretName)
	e := &entry{
		value:     secure.NewBufferFromString(value),
		expiresAt: m.now().Add(m.ttl),
	}

	m.mu.Lock()
	old := m.entries[key]
	m.entries[key] = e
	m.mu.Unlock()

	if old != nil {
		old.value.Destroy()
	}
	return nil
}

// Invalidate removes one entry.
func (m *Memory) Invalidate(_ context.Context, workspaceID, provider, secretName string) error {
	key := Key(workspaceID, provider, secretName)

	m.mu.Lock()
	e, ok := m.entries[key]
	delete(m.entries, key)
	m.mu.Unlock()

	if ok {
		e.value.Destroy()
	}
	return nil
}

// Purge drops expired entries and returns how many were removed.
func (m *Memory) Purge() int {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for key, e := range m.entries {
		if !now.Before(e.expiresAt) {
			e.value.Destroy()
			delete(m.entries, key)
			n++
		}
	}
	return n
}

// Len returns the number of entries, including expired ones not yet purged.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func (m *Memory) evict(key string, e *entry) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Only remove the entry we saw; a concurrent Set may have replaced it.
	if cur, ok := m.entries[key]; ok && cur == e {
		delete(m.entries, key)
		e.value.Destroy()
	}
}
