// Package ratelimit bounds how many inbound emails a single sender can
// produce per fixed window. Backends share the window arithmetic; the
// counter store is DynamoDB or Redis by configuration.
package ratelimit

import (
	"context"
	"time"
)

// ttlBuffer keeps counter records alive past the window end so late
// arrivals still see them.
const ttlBuffer = time.Hour

// Limiter is the sender rate-limit capability. Allow atomically counts
// the sender in the current window and reports whether the count is
// within the limit.
type Limiter interface {
	Allow(ctx context.Context, sender string, limit int, window time.Duration) (bool, error)
}

// windowStart aligns now on the window boundary.
func windowStart(now time.Time, window time.Duration) int64 {
	secs := int64(window / time.Second)
	if secs <= 0 {
		secs = 1
	}
	return (now.Unix() / secs) * secs
}

// windowTTL is the expiry for a window's counter record.
func windowTTL(now time.Time, window time.Duration) int64 {
	return windowStart(now, window) + int64(window/time.Second) + int64(ttlBuffer/time.Second)
}
