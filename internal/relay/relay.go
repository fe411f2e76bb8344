// Package relay provides the outbound SMTP relay capability: raw sends,
// sender identity verification, and quota queries.
package relay

import "context"

// MaxRawMessageBytes is the relay's hard cap on a composed message.
const MaxRawMessageBytes = 10 * 1024 * 1024

// Quota is the relay's sending allowance.
type Quota struct {
	Max24HourSend   float64
	MaxSendRate     float64
	SentLast24Hours float64
}

// Exhausted reports whether the 24-hour allowance is spent. A zero
// Max24HourSend means the account is unthrottled.
func (q Quota) Exhausted() bool {
	return q.Max24HourSend > 0 && q.SentLast24Hours >= q.Max24HourSend
}

// Relay is the outbound relay capability. SendRaw is retriable on
// transient failure.
type Relay interface {
	SendRaw(ctx context.Context, from string, recipients []string, raw []byte) (string, error)
	VerifySender(ctx context.Context, address string) (bool, error)
	GetQuota(ctx context.Context) (Quota, error)
}
