// Package email implements the MIME boundary: decoding raw RFC 5322
// bytes into the canonical Email value and composing outbound messages
// back into raw bytes.
package email

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"github.com/ignite/mailflow/internal/errs"
	"github.com/ignite/mailflow/internal/model"
	"github.com/ignite/mailflow/internal/pkg/logger"
)

// Parser decodes raw RFC 5322 bytes.
type Parser struct{}

// NewParser creates a parser.
func NewParser() *Parser {
	return &Parser{}
}

// Parse decodes a raw message into an Email. Address headers are
// tolerant: malformed lists yield empty slices rather than failing the
// whole message. Attachment bytes land in Email.Blobs for the
// materializer.
func (p *Parser) Parse(raw []byte) (*model.Email, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return nil, errs.Wrap(errs.EmailParsing, err, "reading message")
	}

	h := mr.Header
	email := &model.Email{
		MessageID:  messageID(h),
		From:       firstAddress(h, "From"),
		To:         addressList(h, "To"),
		Cc:         addressList(h, "Cc"),
		Bcc:        addressList(h, "Bcc"),
		ReceivedAt: time.Now().UTC(),
	}
	if subject, err := h.Subject(); err == nil {
		email.Subject = subject
	}
	if replyTo := addressList(h, "Reply-To"); len(replyTo) > 0 {
		email.ReplyTo = &replyTo[0]
	}
	if ids, err := h.MsgIDList("In-Reply-To"); err == nil && len(ids) > 0 {
		email.Headers.InReplyTo = ids[0]
	}
	if refs, err := h.MsgIDList("References"); err == nil {
		email.Headers.References = refs
	}

	inlineImages := 0
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			// Keep whatever decoded so far instead of failing the message
			logger.Warn("stopping on undecodable part", "message_id", email.MessageID, "error", err.Error())
			break
		}

		switch ph := part.Header.(type) {
		case *mail.InlineHeader:
			p.collectInline(email, ph, part.Body, &inlineImages)
		case *mail.AttachmentHeader:
			p.collectAttachment(email, ph, part.Body, &inlineImages)
		}
	}

	return email, nil
}

// collectInline fills the first text/plain and text/html bodies and
// captures inline images carried with a Content-ID.
func (p *Parser) collectInline(email *model.Email, h *mail.InlineHeader, body io.Reader, inlineImages *int) {
	contentType, _, err := h.ContentType()
	if err != nil {
		contentType = "text/plain"
	}

	switch {
	case contentType == "text/plain" && email.Body.Text == "":
		data, _ := io.ReadAll(body)
		email.Body.Text = string(data)
	case contentType == "text/html" && email.Body.HTML == "":
		data, _ := io.ReadAll(body)
		email.Body.HTML = string(data)
	case strings.HasPrefix(contentType, "image/"):
		data, _ := io.ReadAll(body)
		email.Blobs = append(email.Blobs, model.AttachmentBlob{
			Filename:            inlineFilename(h.Get("Content-Id"), inlineImages),
			DeclaredContentType: contentType,
			Data:                data,
		})
	}
}

// collectAttachment captures parts declared as attachments. A part
// without a filename is kept only when it is an inline image.
func (p *Parser) collectAttachment(email *model.Email, h *mail.AttachmentHeader, body io.Reader, inlineImages *int) {
	contentType, _, err := h.ContentType()
	if err != nil {
		contentType = "application/octet-stream"
	}

	filename, _ := h.Filename()
	if filename == "" {
		if !strings.HasPrefix(contentType, "image/") {
			return
		}
		filename = inlineFilename(h.Get("Content-Id"), inlineImages)
	}

	data, _ := io.ReadAll(body)
	email.Blobs = append(email.Blobs, model.AttachmentBlob{
		Filename:            filename,
		DeclaredContentType: contentType,
		Data:                data,
	})
}

// messageID returns the Message-ID header with brackets stripped, or a
// synthetic id when absent.
func messageID(h mail.Header) string {
	if id, err := h.MessageID(); err == nil && id != "" {
		return id
	}
	return fmt.Sprintf("generated-%d", time.Now().Unix())
}

// inlineFilename synthesizes a name for an inline image from its
// Content-ID, or a counter when no Content-ID is present.
func inlineFilename(contentID string, counter *int) string {
	cid := strings.Trim(strings.TrimSpace(contentID), "<>")
	if cid != "" {
		return fmt.Sprintf("inline-%s.dat", cid)
	}
	*counter++
	return fmt.Sprintf("inline-image-%d.dat", *counter)
}

func firstAddress(h mail.Header, key string) model.EmailAddress {
	list := addressList(h, key)
	if len(list) == 0 {
		return model.EmailAddress{}
	}
	return list[0]
}

func addressList(h mail.Header, key string) []model.EmailAddress {
	addrs, err := h.AddressList(key)
	if err != nil || len(addrs) == 0 {
		return nil
	}
	out := make([]model.EmailAddress, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, model.EmailAddress{Address: a.Address, Name: a.Name})
	}
	return out
}
