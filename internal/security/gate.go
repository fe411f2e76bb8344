// Package security implements the pre-parse gate applied to every
// inbound record: size cap, gateway verdict policy, and the sender
// domain allowlist.
package security

import (
	"strings"

	"github.com/ignite/mailflow/internal/config"
	"github.com/ignite/mailflow/internal/errs"
	"github.com/ignite/mailflow/internal/events"
	"github.com/ignite/mailflow/internal/pkg/logger"
)

// MaxEmailSizeBytes is the hard cap on a raw inbound message.
const MaxEmailSizeBytes = 40 * 1024 * 1024

// Gate evaluates inbound security policy. The decision is pure; the
// caller owns metrics and the DLQ.
type Gate struct {
	cfg config.SecurityConfig
}

// NewGate builds a gate from the security config block.
func NewGate(cfg config.SecurityConfig) *Gate {
	return &Gate{cfg: cfg}
}

// CheckSize rejects raw messages over the size cap. Zero means the size
// is not yet known.
func (g *Gate) CheckSize(size int64) error {
	if size > MaxEmailSizeBytes {
		return errs.New(errs.Validation, "email size %d exceeds limit %d", size, MaxEmailSizeBytes)
	}
	return nil
}

// CheckVerdicts applies the gateway verdict policy. A failed spam
// verdict is logged but does not reject; it surfaces in envelope
// metadata instead. Records arriving via the direct storage path carry
// no verdicts, so the SPF/DKIM/DMARC requirements apply only to
// gateway records; a gateway record missing a required verdict is
// rejected.
func (g *Gate) CheckVerdicts(v events.Verdicts, fromGateway bool) error {
	if fromGateway {
		if g.cfg.RequireSPF && !v.SPF.Passed() {
			return errs.New(errs.Validation, "spf verification required but did not pass")
		}
		if g.cfg.RequireDKIM && !v.DKIM.Passed() {
			return errs.New(errs.Validation, "dkim verification required but did not pass")
		}
		if g.cfg.RequireDMARC && !v.DMARC.Passed() {
			return errs.New(errs.Validation, "dmarc verification required but did not pass")
		}
	}
	if v.Virus != nil && !v.Virus.Passed() {
		return errs.New(errs.Validation, "virus verdict %s", v.Virus.Status)
	}
	if v.Spam.Failed() {
		logger.Warn("spam verdict failed, continuing", "verdict", v.Spam.Status)
	}
	return nil
}

// CheckSender enforces the sender domain allowlist. An empty allowlist
// permits all domains. Comparison is case-insensitive; a sender with no
// domain is rejected.
func (g *Gate) CheckSender(sender string) error {
	if len(g.cfg.AllowedSenderDomains) == 0 {
		return nil
	}
	at := strings.LastIndex(sender, "@")
	if at < 0 || at == len(sender)-1 {
		return errs.New(errs.Validation, "sender address has no domain")
	}
	domain := strings.ToLower(sender[at+1:])
	for _, allowed := range g.cfg.AllowedSenderDomains {
		if strings.EqualFold(allowed, domain) {
			return nil
		}
	}
	return errs.New(errs.Validation, "sender domain %s not in allowlist", domain)
}
