package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EnvelopeVersion is the schema version stamped on every queue message.
const EnvelopeVersion = "1.0"

// EnvelopeSource identifies this system as the producer of inbound
// envelopes.
const EnvelopeSource = "mailflow"

// InboundMetadata describes the routing decision and security context
// of one inbound envelope.
type InboundMetadata struct {
	RoutingKey   string  `json:"routing_key"`
	Domain       string  `json:"domain"`
	SpamScore    float64 `json:"spam_score"`
	DKIMVerified bool    `json:"dkim_verified"`
	SPFVerified  bool    `json:"spf_verified"`
}

// InboundEnvelope is the normalized JSON value published to per-app
// queues. One parsed email produces one envelope per resolved route,
// each with a distinct RoutingKey.
type InboundEnvelope struct {
	Version   string          `json:"version"`
	MessageID string          `json:"message_id"`
	Timestamp time.Time       `json:"timestamp"`
	Source    string          `json:"source"`
	Email     Email           `json:"email"`
	Metadata  InboundMetadata `json:"metadata"`
}

// NewInboundEnvelope stamps a fresh envelope around a parsed email.
func NewInboundEnvelope(email Email, meta InboundMetadata) InboundEnvelope {
	return InboundEnvelope{
		Version:   EnvelopeVersion,
		MessageID: fmt.Sprintf("mailflow-%s", uuid.NewString()),
		Timestamp: time.Now().UTC(),
		Source:    EnvelopeSource,
		Email:     email,
		Metadata:  meta,
	}
}

// Priority orders outbound sends. Unknown values parse as normal.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// UnmarshalJSON tolerates unknown priorities by mapping them to normal.
func (p *Priority) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch Priority(s) {
	case PriorityHigh, PriorityNormal, PriorityLow:
		*p = Priority(s)
	default:
		*p = PriorityNormal
	}
	return nil
}

// OutboundAttachment references attachment bytes already resident in
// the object store.
type OutboundAttachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	S3Bucket    string `json:"s3_bucket"`
	S3Key       string `json:"s3_key"`
}

// OutboundEmail is the message content of an OutboundRequest.
type OutboundEmail struct {
	From        EmailAddress         `json:"from"`
	To          []EmailAddress       `json:"to"`
	Cc          []EmailAddress       `json:"cc,omitempty"`
	Bcc         []EmailAddress       `json:"bcc,omitempty"`
	ReplyTo     *EmailAddress        `json:"reply_to,omitempty"`
	Subject     string               `json:"subject"`
	Body        EmailBody            `json:"body"`
	Headers     EmailHeaders         `json:"headers"`
	Attachments []OutboundAttachment `json:"attachments,omitempty"`
}

// OutboundOptions carries delivery preferences. Only immediate dispatch
// is honored by the dispatcher; ScheduledSendTime is re-queued.
type OutboundOptions struct {
	Priority          Priority   `json:"priority"`
	ScheduledSendTime *time.Time `json:"scheduled_send_time,omitempty"`
	TrackOpens        bool       `json:"track_opens"`
	TrackClicks       bool       `json:"track_clicks"`
}

// OutboundRequest is the JSON value consumed from the outbound queue.
// CorrelationID is the caller-supplied idempotency key.
type OutboundRequest struct {
	Version       string          `json:"version"`
	CorrelationID string          `json:"correlation_id"`
	Timestamp     time.Time       `json:"timestamp"`
	Source        string          `json:"source"`
	Email         OutboundEmail   `json:"email"`
	Options       OutboundOptions `json:"options"`
}

// AllRecipients collects to, cc, and bcc addresses in order. These are
// the envelope recipients handed to the relay; bcc never appears in the
// composed headers.
func (e OutboundEmail) AllRecipients() []string {
	out := make([]string, 0, len(e.To)+len(e.Cc)+len(e.Bcc))
	for _, a := range e.To {
		out = append(out, a.Address)
	}
	for _, a := range e.Cc {
		out = append(out, a.Address)
	}
	for _, a := range e.Bcc {
		out = append(out, a.Address)
	}
	return out
}
