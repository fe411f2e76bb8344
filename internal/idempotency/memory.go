package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests, with an injectable
// clock for TTL expiry.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]time.Time // correlation id → expiry
	Now     func() time.Time
}

// NewMemoryStore creates an empty in-memory store on the real clock.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]time.Time),
		Now:     time.Now,
	}
}

// IsDuplicate implements Store.
func (m *MemoryStore) IsDuplicate(ctx context.Context, correlationID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	expiry, ok := m.entries[correlationID]
	return ok && m.Now().Before(expiry), nil
}

// Record implements Store.
func (m *MemoryStore) Record(ctx context.Context, correlationID string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[correlationID] = m.Now().Add(ttl)
	return nil
}

// CheckAndRecord implements Store.
func (m *MemoryStore) CheckAndRecord(ctx context.Context, correlationID string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	expiry, ok := m.entries[correlationID]
	seen := ok && m.Now().Before(expiry)
	if !seen {
		m.entries[correlationID] = m.Now().Add(ttl)
	}
	return seen, nil
}
