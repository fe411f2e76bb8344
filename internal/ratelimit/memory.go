package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryLimiter is an in-process fixed-window Limiter. Single-process
// only; used in tests and as a last-resort fallback when no shared
// backend is configured.
type MemoryLimiter struct {
	mu     sync.Mutex
	counts map[string]int

	// Err, when set, is surfaced alongside the fail-open allow.
	Err error
	Now func() time.Time
}

// NewMemoryLimiter creates an empty in-process limiter.
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{
		counts: make(map[string]int),
		Now:    time.Now,
	}
}

// Allow implements Limiter.
func (l *MemoryLimiter) Allow(ctx context.Context, sender string, limit int, window time.Duration) (bool, error) {
	if l.Err != nil {
		return true, l.Err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	key := fmt.Sprintf("%s:%d", sender, windowStart(l.Now(), window))
	l.counts[key]++
	return l.counts[key] <= limit, nil
}
