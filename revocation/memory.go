// Package revocation provides RevocationStore backends for the auth
// revocation registry.
package revocation

import (
	"context"
	"sync"
	"time"
)

// Memory keeps entries in process. Expired entries are invisible to Exists
// and removed by Sweep.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]time.Time
	now     func() time.Time
}

// NewMemory returns an empty in-memory store.
func NewMemory(clock ...func() time.Time) *Memory {
	m := &Memory{
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
	if len(clock) > 0 && clock[0] != nil {
		m.now = clock[0]
	}
	return m
}

func (m *Memory) Put(ctx context.Context, key string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ttl <= 0 {
		return nil
	}

	m.mu.Lock()
	m.entries[key] = m.now().Add(ttl)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	m.mu.RLock()
	expiresAt, ok := m.entries[key]
	m.mu.RUnlock()

	return ok && m.now().Before(expiresAt), nil
}

func (m *Memory) Sweep(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	now := m.now()
	removed := 0

	m.mu.Lock()
	defer m.mu.Unlock()
	for key, expiresAt := range m.entries {
		if !now.Before(expiresAt) {
			delete(m.entries, key)
			removed++
		}
	}
	return removed, nil
}

// Len reports the number of stored entries, expired or not.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
