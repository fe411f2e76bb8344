// Package idempotency enforces at-most-once outbound delivery per
// correlation id through a TTL-capable key-value store.
package idempotency

import (
	"context"
	"time"
)

// DefaultTTL is how long a correlation id blocks duplicate sends.
const DefaultTTL = 24 * time.Hour

// Store records correlation ids with a TTL. A record past its expiry
// behaves as absent.
type Store interface {
	IsDuplicate(ctx context.Context, correlationID string) (bool, error)
	Record(ctx context.Context, correlationID string, ttl time.Duration) error
	// CheckAndRecord records the id and returns its previous presence.
	CheckAndRecord(ctx context.Context, correlationID string, ttl time.Duration) (bool, error)
}
