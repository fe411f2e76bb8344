// Package queue provides the message-queue capability: per-app envelope
// delivery, outbound request consumption, and the DLQ.
package queue

import (
	"context"
	"sync"
	"time"
)

// Message is one received queue record.
type Message struct {
	ID            string
	Body          string
	ReceiptHandle string
}

// Queue is the queue fabric capability. Send and Delete are retriable
// on transient failure; Exists maps a missing queue to (false, nil).
type Queue interface {
	Send(ctx context.Context, queueURL, body string) (string, error)
	SendBatch(ctx context.Context, queueURL string, bodies []string) ([]string, error)
	SendDelayed(ctx context.Context, queueURL, body string, delay time.Duration) (string, error)
	Receive(ctx context.Context, queueURL string, max int32, wait time.Duration) ([]Message, error)
	Delete(ctx context.Context, queueURL, receiptHandle string) error
	Exists(ctx context.Context, queueURL string) (bool, error)
}

// existsCacheTTL bounds how long a positive queue lookup is trusted.
const existsCacheTTL = 5 * time.Minute

// CachedExists wraps a Queue and memoizes positive Exists lookups, so
// per-record routing does not hit the queue API on every email.
// Negative results are never cached.
type CachedExists struct {
	Queue

	mu    sync.Mutex
	cache map[string]time.Time
	now   func() time.Time
}

// NewCachedExists wraps q with an exists cache.
func NewCachedExists(q Queue) *CachedExists {
	return &CachedExists{
		Queue: q,
		cache: make(map[string]time.Time),
		now:   time.Now,
	}
}

// Exists implements Queue with memoized positive lookups.
func (c *CachedExists) Exists(ctx context.Context, queueURL string) (bool, error) {
	c.mu.Lock()
	if expiry, ok := c.cache[queueURL]; ok && c.now().Before(expiry) {
		c.mu.Unlock()
		return true, nil
	}
	c.mu.Unlock()

	ok, err := c.Queue.Exists(ctx, queueURL)
	if err != nil || !ok {
		return ok, err
	}

	c.mu.Lock()
	c.cache[queueURL] = c.now().Add(existsCacheTTL)
	c.mu.Unlock()
	return true, nil
}
