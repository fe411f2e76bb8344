package email

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/mailflow/internal/errs"
	"github.com/ignite/mailflow/internal/model"
	"github.com/ignite/mailflow/internal/pkg/retry"
	"github.com/ignite/mailflow/internal/storage"
)

func fastRetry() retry.Config {
	return retry.Config{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, JitterFactor: 0.1}
}

func outboundFixture() *model.OutboundEmail {
	return &model.OutboundEmail{
		From:    model.EmailAddress{Address: "noreply@acme.com", Name: "Acme"},
		To:      []model.EmailAddress{{Address: "user@example.com"}},
		Subject: "Your receipt",
		Body:    model.EmailBody{Text: "plain version", HTML: "<p>html version</p>"},
	}
}

func TestComposeAlternative(t *testing.T) {
	c := NewComposer(storage.NewMemoryStore(), fastRetry())

	raw, err := c.Compose(context.Background(), outboundFixture())
	require.NoError(t, err)

	msg := string(raw)
	assert.Contains(t, msg, "multipart/alternative")
	assert.Contains(t, msg, "Subject: Your receipt")
	assert.Contains(t, msg, "user@example.com")

	parsed, err := NewParser().Parse(raw)
	require.NoError(t, err)
	assert.Contains(t, parsed.Body.Text, "plain version")
	assert.Contains(t, parsed.Body.HTML, "html version")
	assert.NotEmpty(t, parsed.MessageID)
	assert.True(t, strings.HasSuffix(parsed.MessageID, "@acme.com"), "got %q", parsed.MessageID)
}

func TestComposeSinglePart(t *testing.T) {
	c := NewComposer(storage.NewMemoryStore(), fastRetry())
	email := outboundFixture()
	email.Body = model.EmailBody{Text: "only text"}

	raw, err := c.Compose(context.Background(), email)
	require.NoError(t, err)

	msg := string(raw)
	assert.NotContains(t, msg, "multipart/")
	assert.Contains(t, msg, "text/plain")

	parsed, err := NewParser().Parse(raw)
	require.NoError(t, err)
	assert.Contains(t, parsed.Body.Text, "only text")
}

func TestComposeHTMLOnly(t *testing.T) {
	c := NewComposer(storage.NewMemoryStore(), fastRetry())
	email := outboundFixture()
	email.Body = model.EmailBody{HTML: "<b>bold</b>"}

	raw, err := c.Compose(context.Background(), email)
	require.NoError(t, err)

	parsed, err := NewParser().Parse(raw)
	require.NoError(t, err)
	assert.Contains(t, parsed.Body.HTML, "<b>bold</b>")
	assert.Empty(t, parsed.Body.Text)
}

func TestComposeWithAttachment(t *testing.T) {
	store := storage.NewMemoryStore()
	store.Put("attachments", "out/report.pdf", []byte("%PDF-1.4 content"))
	c := NewComposer(store, fastRetry())

	email := outboundFixture()
	email.Attachments = []model.OutboundAttachment{{
		Filename:    "report.pdf",
		ContentType: "application/pdf",
		S3Bucket:    "attachments",
		S3Key:       "out/report.pdf",
	}}

	raw, err := c.Compose(context.Background(), email)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "multipart/mixed")

	parsed, err := NewParser().Parse(raw)
	require.NoError(t, err)
	assert.Contains(t, parsed.Body.Text, "plain version")
	assert.Contains(t, parsed.Body.HTML, "html version")
	require.Len(t, parsed.Blobs, 1)
	assert.Equal(t, "report.pdf", parsed.Blobs[0].Filename)
	assert.Equal(t, []byte("%PDF-1.4 content"), parsed.Blobs[0].Data)
}

func TestComposeThreadingHeaders(t *testing.T) {
	c := NewComposer(storage.NewMemoryStore(), fastRetry())
	email := outboundFixture()
	email.Headers = model.EmailHeaders{
		InReplyTo:  "m1@x",
		References: []string{"r1@x", "r2@x"},
	}

	raw, err := c.Compose(context.Background(), email)
	require.NoError(t, err)

	msg := string(raw)
	assert.Contains(t, msg, "In-Reply-To: <m1@x>")
	assert.Contains(t, msg, "References: <r1@x> <r2@x>")
}

func TestComposeBccStaysOutOfHeaders(t *testing.T) {
	c := NewComposer(storage.NewMemoryStore(), fastRetry())
	email := outboundFixture()
	email.Bcc = []model.EmailAddress{{Address: "hidden@example.com"}}

	raw, err := c.Compose(context.Background(), email)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "hidden@example.com")
}

func TestComposeCustomHeaders(t *testing.T) {
	c := NewComposer(storage.NewMemoryStore(), fastRetry())
	email := outboundFixture()
	email.Headers.Custom = map[string]string{"X-Campaign": "spring-2026"}

	raw, err := c.Compose(context.Background(), email)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "X-Campaign: spring-2026")
}

func TestComposeAttachmentFetchExhaustsRetries(t *testing.T) {
	store := storage.NewMemoryStore()
	store.FailDownloads = 10
	c := NewComposer(store, fastRetry())

	email := outboundFixture()
	email.Attachments = []model.OutboundAttachment{{
		Filename: "report.pdf", ContentType: "application/pdf",
		S3Bucket: "attachments", S3Key: "missing",
	}}

	_, err := c.Compose(context.Background(), email)
	require.Error(t, err)
	assert.Equal(t, errs.Storage, errs.KindOf(err))
	assert.True(t, errs.IsRetriable(err))
}

func TestComposeRejectsOversizedPayload(t *testing.T) {
	store := storage.NewMemoryStore()
	store.Put("attachments", "big.bin", bytes.Repeat([]byte{0xAB}, maxAttachmentPayloadBytes+1))
	c := NewComposer(store, fastRetry())

	email := outboundFixture()
	email.Attachments = []model.OutboundAttachment{{
		Filename: "big.bin", ContentType: "application/pdf",
		S3Bucket: "attachments", S3Key: "big.bin",
	}}

	_, err := c.Compose(context.Background(), email)
	require.Error(t, err)
	assert.Equal(t, errs.Validation, errs.KindOf(err))
	assert.False(t, errs.IsRetriable(err))
}

func TestComposeRejectsTooManyAttachments(t *testing.T) {
	c := NewComposer(storage.NewMemoryStore(), fastRetry())
	email := outboundFixture()
	for i := 0; i <= MaxOutboundAttachments; i++ {
		email.Attachments = append(email.Attachments, model.OutboundAttachment{
			Filename: "f.txt", ContentType: "text/plain",
			S3Bucket: "attachments", S3Key: "f.txt",
		})
	}

	_, err := c.Compose(context.Background(), email)
	require.Error(t, err)
	assert.Equal(t, errs.Validation, errs.KindOf(err))
}
