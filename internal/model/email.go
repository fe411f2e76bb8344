// Package model holds the wire types exchanged over the queues and the
// canonical in-memory form of a parsed email.
package model

import "time"

// EmailAddress is a mailbox with an optional display name.
// Equality across the system is by Address only.
type EmailAddress struct {
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
}

// Domain returns the lowercased domain part of the address, or "" when
// the address is malformed.
func (a EmailAddress) Domain() string {
	for i := len(a.Address) - 1; i >= 0; i-- {
		if a.Address[i] == '@' {
			if i == len(a.Address)-1 {
				return ""
			}
			return lower(a.Address[i+1:])
		}
	}
	return ""
}

func lower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// EmailBody carries the text and HTML alternatives of a message body.
type EmailBody struct {
	Text string `json:"text,omitempty"`
	HTML string `json:"html,omitempty"`
}

// EmailHeaders carries threading and pass-through headers.
type EmailHeaders struct {
	InReplyTo  string            `json:"in_reply_to,omitempty"`
	References []string          `json:"references,omitempty"`
	Custom     map[string]string `json:"custom,omitempty"`
}

// AttachmentStatus is the outcome of materializing one attachment.
type AttachmentStatus string

const (
	AttachmentAvailable AttachmentStatus = "available"
	AttachmentFailed    AttachmentStatus = "failed"
)

// Attachment is the materialized form of an inbound attachment after it
// has been validated, hashed, and re-homed in the object store.
// Available implies ChecksumMD5, bucket, key, and presigned URL are set;
// Failed implies Error is set.
type Attachment struct {
	Filename               string           `json:"filename"`
	SanitizedFilename      string           `json:"sanitizedFilename"`
	ContentType            string           `json:"contentType"`
	Size                   int64            `json:"size"`
	S3Bucket               string           `json:"s3Bucket,omitempty"`
	S3Key                  string           `json:"s3Key,omitempty"`
	PresignedURL           string           `json:"presignedUrl,omitempty"`
	PresignedURLExpiration *time.Time       `json:"presignedUrlExpiration,omitempty"`
	ChecksumMD5            string           `json:"checksumMd5,omitempty"`
	Status                 AttachmentStatus `json:"status"`
	Error                  string           `json:"error,omitempty"`
}

// AttachmentBlob is a transient in-memory attachment produced by the
// parser. Never serialized; consumed by the materializer.
type AttachmentBlob struct {
	Filename            string
	DeclaredContentType string
	Data                []byte
}

// Email is the canonical parsed form of an RFC 5322 message.
type Email struct {
	MessageID   string         `json:"message_id"`
	From        EmailAddress   `json:"from"`
	To          []EmailAddress `json:"to"`
	Cc          []EmailAddress `json:"cc,omitempty"`
	Bcc         []EmailAddress `json:"bcc,omitempty"`
	ReplyTo     *EmailAddress  `json:"reply_to,omitempty"`
	Subject     string         `json:"subject"`
	Body        EmailBody      `json:"body"`
	Headers     EmailHeaders   `json:"headers"`
	Attachments []Attachment   `json:"attachments"`
	ReceivedAt  time.Time      `json:"received_at"`

	// Blobs holds raw attachment bytes between parse and
	// materialization. Excluded from every envelope.
	Blobs []AttachmentBlob `json:"-"`
}
