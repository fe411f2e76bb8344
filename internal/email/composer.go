package email

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/google/uuid"

	"github.com/ignite/mailflow/internal/errs"
	"github.com/ignite/mailflow/internal/model"
	"github.com/ignite/mailflow/internal/pkg/retry"
	"github.com/ignite/mailflow/internal/storage"
)

// MaxOutboundAttachments caps the attachment count on one outbound
// message.
const MaxOutboundAttachments = 50

// maxAttachmentPayloadBytes caps the summed attachment bytes so the
// composed message stays inside the relay's raw-message limit.
const maxAttachmentPayloadBytes = 10 << 20

// Composer builds raw RFC 5322 bytes from an outbound email, hydrating
// attachment bytes from the object store.
type Composer struct {
	store    storage.ObjectStore
	retryCfg retry.Config
}

// NewComposer creates a composer.
func NewComposer(store storage.ObjectStore, retryCfg retry.Config) *Composer {
	return &Composer{store: store, retryCfg: retryCfg}
}

// Compose renders the message. Bcc recipients stay out of the headers;
// they travel only as envelope recipients. The body structure follows
// the content: multipart/mixed when attachments are present,
// multipart/alternative for text plus HTML, a single part otherwise.
func (c *Composer) Compose(ctx context.Context, email *model.OutboundEmail) ([]byte, error) {
	if len(email.Attachments) > MaxOutboundAttachments {
		return nil, errs.New(errs.Validation, "too many attachments: %d exceeds %d", len(email.Attachments), MaxOutboundAttachments)
	}

	payloads, err := c.hydrate(ctx, email.Attachments)
	if err != nil {
		return nil, err
	}

	h, err := buildHeader(email)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if len(email.Attachments) > 0 {
		err = writeMixed(&buf, h, email, payloads)
	} else if email.Body.Text != "" && email.Body.HTML != "" {
		err = writeAlternative(&buf, h, email)
	} else {
		err = writeSingle(&buf, h, email)
	}
	if err != nil {
		return nil, errs.Wrap(errs.EmailParsing, err, "writing message")
	}
	return buf.Bytes(), nil
}

// hydrate fetches attachment bytes from the object store and enforces
// the payload cap.
func (c *Composer) hydrate(ctx context.Context, atts []model.OutboundAttachment) ([][]byte, error) {
	if len(atts) == 0 {
		return nil, nil
	}

	payloads := make([][]byte, len(atts))
	var total int64
	for i, att := range atts {
		data, err := retry.Do(ctx, c.retryCfg, "attachment fetch", func(ctx context.Context) ([]byte, error) {
			return c.store.Download(ctx, att.S3Bucket, att.S3Key)
		})
		if err != nil {
			return nil, errs.Wrap(errs.Storage, err, "fetching attachment %q", att.Filename)
		}
		payloads[i] = data
		total += int64(len(data))
	}
	if total > maxAttachmentPayloadBytes {
		return nil, errs.New(errs.Validation, "attachment payload %d bytes exceeds %d byte limit", total, maxAttachmentPayloadBytes)
	}
	return payloads, nil
}

func buildHeader(email *model.OutboundEmail) (mail.Header, error) {
	var h mail.Header
	h.SetDate(time.Now().UTC())
	h.SetAddressList("From", toMailAddresses([]model.EmailAddress{email.From}))
	h.SetAddressList("To", toMailAddresses(email.To))
	if len(email.Cc) > 0 {
		h.SetAddressList("Cc", toMailAddresses(email.Cc))
	}
	if email.ReplyTo != nil {
		h.SetAddressList("Reply-To", toMailAddresses([]model.EmailAddress{*email.ReplyTo}))
	}
	h.SetSubject(email.Subject)
	h.SetMessageID(generateMessageID(email.From))

	if id := stripBrackets(email.Headers.InReplyTo); id != "" {
		h.SetMsgIDList("In-Reply-To", []string{id})
	}
	if len(email.Headers.References) > 0 {
		refs := make([]string, 0, len(email.Headers.References))
		for _, r := range email.Headers.References {
			if id := stripBrackets(r); id != "" {
				refs = append(refs, id)
			}
		}
		h.SetMsgIDList("References", refs)
	}
	for k, v := range email.Headers.Custom {
		h.Set(k, v)
	}
	return h, nil
}

func writeMixed(buf *bytes.Buffer, h mail.Header, email *model.OutboundEmail, payloads [][]byte) error {
	w, err := mail.CreateWriter(buf, h)
	if err != nil {
		return err
	}

	if err := writeBodies(w, email); err != nil {
		return err
	}

	for i, att := range email.Attachments {
		var ah mail.AttachmentHeader
		ah.SetFilename(att.Filename)
		ah.SetContentType(att.ContentType, nil)
		aw, err := w.CreateAttachment(ah)
		if err != nil {
			return err
		}
		if _, err := aw.Write(payloads[i]); err != nil {
			return err
		}
		if err := aw.Close(); err != nil {
			return err
		}
	}
	return w.Close()
}

// writeBodies emits the inline section of a mixed message: an
// alternative container when both bodies exist, a single part
// otherwise.
func writeBodies(w *mail.Writer, email *model.OutboundEmail) error {
	if email.Body.Text != "" && email.Body.HTML != "" {
		iw, err := w.CreateInline()
		if err != nil {
			return err
		}
		if err := writeInlinePart(iw, "text/plain", email.Body.Text); err != nil {
			return err
		}
		if err := writeInlinePart(iw, "text/html", email.Body.HTML); err != nil {
			return err
		}
		return iw.Close()
	}

	contentType, body := singleBody(email)
	var ih mail.InlineHeader
	ih.SetContentType(contentType, map[string]string{"charset": "utf-8"})
	pw, err := w.CreateSingleInline(ih)
	if err != nil {
		return err
	}
	if _, err := io.WriteString(pw, body); err != nil {
		return err
	}
	return pw.Close()
}

func writeAlternative(buf *bytes.Buffer, h mail.Header, email *model.OutboundEmail) error {
	w, err := mail.CreateInlineWriter(buf, h)
	if err != nil {
		return err
	}
	if err := writeInlinePart(w, "text/plain", email.Body.Text); err != nil {
		return err
	}
	if err := writeInlinePart(w, "text/html", email.Body.HTML); err != nil {
		return err
	}
	return w.Close()
}

func writeSingle(buf *bytes.Buffer, h mail.Header, email *model.OutboundEmail) error {
	contentType, body := singleBody(email)
	h.SetContentType(contentType, map[string]string{"charset": "utf-8"})
	w, err := mail.CreateSingleInlineWriter(buf, h)
	if err != nil {
		return err
	}
	if _, err := io.WriteString(w, body); err != nil {
		return err
	}
	return w.Close()
}

func writeInlinePart(w *mail.InlineWriter, contentType, body string) error {
	var ih mail.InlineHeader
	ih.SetContentType(contentType, map[string]string{"charset": "utf-8"})
	pw, err := w.CreatePart(ih)
	if err != nil {
		return err
	}
	if _, err := io.WriteString(pw, body); err != nil {
		return err
	}
	return pw.Close()
}

// singleBody picks the one body present, defaulting to an empty
// text/plain part.
func singleBody(email *model.OutboundEmail) (contentType, body string) {
	if email.Body.HTML != "" && email.Body.Text == "" {
		return "text/html", email.Body.HTML
	}
	return "text/plain", email.Body.Text
}

func generateMessageID(from model.EmailAddress) string {
	domain := from.Domain()
	if domain == "" {
		domain = "mailflow.local"
	}
	return fmt.Sprintf("%s@%s", uuid.NewString(), domain)
}

func stripBrackets(id string) string {
	return strings.Trim(strings.TrimSpace(id), "<>")
}

func toMailAddresses(addrs []model.EmailAddress) []*mail.Address {
	out := make([]*mail.Address, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, &mail.Address{Name: a.Name, Address: a.Address})
	}
	return out
}
