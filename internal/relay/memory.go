package relay

import (
	"context"
	"fmt"
	"sync"

	"github.com/ignite/mailflow/internal/errs"
)

// SentMessage records one relay submission for test assertions.
type SentMessage struct {
	From       string
	Recipients []string
	Raw        []byte
}

// MemoryRelay is an in-memory Relay for tests.
type MemoryRelay struct {
	mu   sync.Mutex
	Sent []SentMessage

	VerifiedSenders map[string]bool
	QuotaValue      Quota
	// FailSends forces the next N sends to fail with a retriable
	// relay error.
	FailSends int
}

// NewMemoryRelay creates a relay that verifies every sender and has an
// open quota.
func NewMemoryRelay() *MemoryRelay {
	return &MemoryRelay{
		VerifiedSenders: map[string]bool{},
		QuotaValue:      Quota{Max24HourSend: 0},
	}
}

// SendRaw implements Relay.
func (r *MemoryRelay) SendRaw(ctx context.Context, from string, recipients []string, raw []byte) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailSends > 0 {
		r.FailSends--
		return "", errs.New(errs.Relay, "simulated relay failure")
	}
	if len(raw) > MaxRawMessageBytes {
		return "", errs.New(errs.Validation, "raw message too large")
	}
	r.Sent = append(r.Sent, SentMessage{From: from, Recipients: recipients, Raw: raw})
	return fmt.Sprintf("relay-%d", len(r.Sent)), nil
}

// VerifySender implements Relay. An empty VerifiedSenders map verifies
// everyone.
func (r *MemoryRelay) VerifySender(ctx context.Context, address string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.VerifiedSenders) == 0 {
		return true, nil
	}
	return r.VerifiedSenders[address], nil
}

// GetQuota implements Relay.
func (r *MemoryRelay) GetQuota(ctx context.Context) (Quota, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.QuotaValue, nil
}

// SentCount returns the number of accepted sends.
func (r *MemoryRelay) SentCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Sent)
}
