package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/mailflow/internal/config"
	"github.com/ignite/mailflow/internal/metrics"
	"github.com/ignite/mailflow/internal/model"
	"github.com/ignite/mailflow/internal/pkg/retry"
	"github.com/ignite/mailflow/internal/queue"
	"github.com/ignite/mailflow/internal/ratelimit"
	"github.com/ignite/mailflow/internal/storage"
)

type inboundFixture struct {
	handler  *Inbound
	store    *storage.MemoryStore
	queues   *queue.MemoryQueue
	limiter  *ratelimit.MemoryLimiter
	recorder *metrics.Capture
	cfg      *config.Config
}

func newInboundFixture(t *testing.T) *inboundFixture {
	t.Helper()
	cfg := &config.Config{
		Routing: config.RoutingConfig{
			Routes: map[string]config.Route{
				"billing": {QueueURL: "q://billing", Enabled: true},
			},
			DefaultQueueURL: "q://default",
			RawEmailsBucket: "raw-emails",
		},
		Security: config.SecurityConfig{MaxEmailsPerSenderPerHour: 100},
		Attachments: config.AttachmentsConfig{
			Bucket:              "attachments",
			PresignedTTLSeconds: 3600,
			MaxSizeBytes:        1 << 20,
		},
		RateLimit: config.RateLimitConfig{WindowSeconds: 3600},
		Queues:    config.QueuesConfig{DLQURL: "q://dlq"},
	}

	store := storage.NewMemoryStore()
	queues := queue.NewMemoryQueue()
	queues.Create("q://billing")
	queues.Create("q://default")
	queues.Create("q://dlq")
	limiter := ratelimit.NewMemoryLimiter()
	recorder := metrics.NewCapture()
	retryCfg := retry.Config{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, JitterFactor: 0.1}

	h := NewInbound(InboundDeps{
		Config:   cfg,
		Store:    store,
		Queues:   queues,
		Limiter:  limiter,
		DLQ:      NewDLQ(queues, "q://dlq", recorder),
		Recorder: recorder,
		Retry:    retryCfg,
	})
	return &inboundFixture{handler: h, store: store, queues: queues, limiter: limiter, recorder: recorder, cfg: cfg}
}

func gatewayEvent(messageID, source, key string) string {
	return fmt.Sprintf(`{
		"Records": [{
			"eventSource": "aws:ses",
			"ses": {
				"mail": {"messageId": %q, "source": %q},
				"receipt": {
					"spfVerdict": {"status": "PASS"},
					"dkimVerdict": {"status": "PASS"},
					"spamVerdict": {"status": "PASS"},
					"virusVerdict": {"status": "PASS"},
					"action": {"type": "S3", "bucketName": "raw-emails", "objectKey": %q}
				}
			}
		}]
	}`, messageID, source, key)
}

func rawLines(lines ...string) []byte {
	return []byte(strings.Join(lines, "\r\n") + "\r\n")
}

func rawEmail(to string) []byte {
	return rawLines(
		"Message-ID: <msg1@mail.acme.com>",
		"From: Alice <alice@acme.com>",
		"To: "+to,
		"Subject: March invoice",
		"Content-Type: text/plain; charset=utf-8",
		"",
		"invoice body",
	)
}

func (f *inboundFixture) dlqBodies(t *testing.T) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, body := range f.queues.Messages("q://dlq") {
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(body), &m))
		out = append(out, m)
	}
	return out
}

func TestInboundDispatchesToAppQueue(t *testing.T) {
	f := newInboundFixture(t)
	f.store.Put("raw-emails", "mail/msg1", rawEmail("_billing@inbox.acme.com"))

	err := f.handler.Handle(context.Background(), gatewayEvent("msg1", "alice@acme.com", "mail/msg1"))
	require.NoError(t, err)

	assert.Empty(t, f.queues.Messages("q://dlq"))
	bodies := f.queues.Messages("q://billing")
	require.Len(t, bodies, 1)

	var env model.InboundEnvelope
	require.NoError(t, json.Unmarshal([]byte(bodies[0]), &env))
	assert.Equal(t, "1.0", env.Version)
	assert.True(t, strings.HasPrefix(env.MessageID, "mailflow-"))
	assert.Equal(t, "mailflow", env.Source)
	assert.Equal(t, "billing", env.Metadata.RoutingKey)
	assert.Equal(t, "inbox.acme.com", env.Metadata.Domain)
	assert.True(t, env.Metadata.SPFVerified)
	assert.True(t, env.Metadata.DKIMVerified)
	assert.Equal(t, "alice@acme.com", env.Email.From.Address)
	assert.Equal(t, "March invoice", env.Email.Subject)
	assert.NotNil(t, env.Email.Attachments)

	assert.Equal(t, float64(1), f.recorder.CountOf(metrics.MetricInboundProcessed))
	assert.Equal(t, "billing", f.recorder.DimsOf(metrics.MetricRoutingDecisions)["App"])
}

func TestInboundMaterializesAttachments(t *testing.T) {
	f := newInboundFixture(t)
	raw := rawLines(
		"Message-ID: <msg2@mail.acme.com>",
		"From: alice@acme.com",
		"To: _billing@inbox.acme.com",
		"Subject: report attached",
		`Content-Type: multipart/mixed; boundary="BB"`,
		"",
		"--BB",
		"Content-Type: text/plain",
		"",
		"see attached",
		"--BB",
		"Content-Type: application/pdf",
		`Content-Disposition: attachment; filename="report.pdf"`,
		"Content-Transfer-Encoding: base64",
		"",
		"JVBERi0xLjQ=",
		"--BB--",
	)
	f.store.Put("raw-emails", "mail/msg2", raw)

	err := f.handler.Handle(context.Background(), gatewayEvent("msg2", "alice@acme.com", "mail/msg2"))
	require.NoError(t, err)

	bodies := f.queues.Messages("q://billing")
	require.Len(t, bodies, 1)

	var env model.InboundEnvelope
	require.NoError(t, json.Unmarshal([]byte(bodies[0]), &env))
	require.Len(t, env.Email.Attachments, 1)

	att := env.Email.Attachments[0]
	assert.Equal(t, model.AttachmentAvailable, att.Status)
	assert.Equal(t, "report.pdf", att.SanitizedFilename)
	assert.NotEmpty(t, att.ChecksumMD5)
	assert.NotEmpty(t, att.PresignedURL)
	assert.True(t, f.store.Has("attachments", att.S3Key))
	assert.Equal(t, float64(1), f.recorder.CountOf(metrics.MetricAttachmentsProcessed))
}

func TestInboundMissingObjectDeadLetters(t *testing.T) {
	f := newInboundFixture(t)

	err := f.handler.Handle(context.Background(), gatewayEvent("gone", "alice@acme.com", "mail/gone"))
	require.NoError(t, err)

	assert.Empty(t, f.queues.Messages("q://billing"))
	letters := f.dlqBodies(t)
	require.Len(t, letters, 1)
	assert.Equal(t, "retriable", letters[0]["errorType"])
	assert.Equal(t, "inbound", letters[0]["handler"])
	assert.Equal(t, "mail/gone", letters[0]["context"].(map[string]any)["key"])
}

func TestInboundUnknownAppFallsToDefault(t *testing.T) {
	f := newInboundFixture(t)
	f.store.Put("raw-emails", "mail/msg3", rawEmail("_unknownapp@inbox.acme.com"))

	err := f.handler.Handle(context.Background(), gatewayEvent("msg3", "alice@acme.com", "mail/msg3"))
	require.NoError(t, err)

	bodies := f.queues.Messages("q://default")
	require.Len(t, bodies, 1)

	var env model.InboundEnvelope
	require.NoError(t, json.Unmarshal([]byte(bodies[0]), &env))
	assert.Equal(t, "default", env.Metadata.RoutingKey)
}

func TestInboundMissingQueueDeadLetters(t *testing.T) {
	f := newInboundFixture(t)
	f.cfg.Routing.Routes["billing"] = config.Route{QueueURL: "q://nowhere", Enabled: true}
	f.store.Put("raw-emails", "mail/msg4", rawEmail("_billing@inbox.acme.com"))

	err := f.handler.Handle(context.Background(), gatewayEvent("msg4", "alice@acme.com", "mail/msg4"))
	require.NoError(t, err)

	letters := f.dlqBodies(t)
	require.Len(t, letters, 1)
	assert.Equal(t, "permanent", letters[0]["errorType"])
	assert.Empty(t, f.queues.Messages("q://nowhere"))
}

func TestInboundVerdictPolicyDeadLetters(t *testing.T) {
	f := newInboundFixture(t)
	f.cfg.Security.RequireSPF = true
	// Rebuild so the gate sees the stricter policy
	f.handler = NewInbound(InboundDeps{
		Config:  f.cfg,
		Store:   f.store,
		Queues:  f.queues,
		Limiter: f.limiter,
		DLQ:     NewDLQ(f.queues, "q://dlq", f.recorder),
		Retry:   retry.Config{MaxRetries: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, JitterFactor: 0},
	})

	event := strings.Replace(
		gatewayEvent("msg5", "alice@acme.com", "mail/msg5"),
		`"spfVerdict": {"status": "PASS"}`,
		`"spfVerdict": {"status": "FAIL"}`, 1)

	err := f.handler.Handle(context.Background(), event)
	require.NoError(t, err)

	letters := f.dlqBodies(t)
	require.Len(t, letters, 1)
	assert.Equal(t, "permanent", letters[0]["errorType"])
	assert.Contains(t, letters[0]["error"], "spf")
}

func TestInboundRateLimitDeadLetters(t *testing.T) {
	f := newInboundFixture(t)
	f.cfg.Security.MaxEmailsPerSenderPerHour = 1
	f.store.Put("raw-emails", "mail/msg6", rawEmail("_billing@inbox.acme.com"))

	ctx := context.Background()
	require.NoError(t, f.handler.Handle(ctx, gatewayEvent("msg6", "alice@acme.com", "mail/msg6")))
	require.NoError(t, f.handler.Handle(ctx, gatewayEvent("msg6", "alice@acme.com", "mail/msg6")))

	assert.Len(t, f.queues.Messages("q://billing"), 1)
	letters := f.dlqBodies(t)
	require.Len(t, letters, 1)
	assert.Equal(t, "permanent", letters[0]["errorType"])
	// Sender address is redacted in the dead letter
	assert.NotContains(t, letters[0]["error"], "alice@acme.com")
	assert.Contains(t, letters[0]["error"], "***@acme.com")
}

func TestInboundMalformedEventDeadLetters(t *testing.T) {
	f := newInboundFixture(t)

	err := f.handler.Handle(context.Background(), "not json at all")
	require.NoError(t, err)

	letters := f.dlqBodies(t)
	require.Len(t, letters, 1)
	assert.Equal(t, "permanent", letters[0]["errorType"])
}

func TestInboundStorageEventPath(t *testing.T) {
	f := newInboundFixture(t)
	f.store.Put("raw-emails", "incoming/direct-mail", rawEmail("_billing@inbox.acme.com"))

	event := `{
		"Records": [{
			"eventSource": "aws:s3",
			"s3": {
				"bucket": {"name": "raw-emails"},
				"object": {"key": "incoming/direct-mail", "size": 512}
			}
		}]
	}`

	err := f.handler.Handle(context.Background(), event)
	require.NoError(t, err)

	assert.Empty(t, f.queues.Messages("q://dlq"))
	require.Len(t, f.queues.Messages("q://billing"), 1)
}

func TestInboundStorageEventPassesStrictVerdictPolicy(t *testing.T) {
	f := newInboundFixture(t)
	f.cfg.Security.RequireSPF = true
	f.cfg.Security.RequireDKIM = true
	// Rebuild so the gate sees the stricter policy
	f.handler = NewInbound(InboundDeps{
		Config:  f.cfg,
		Store:   f.store,
		Queues:  f.queues,
		Limiter: f.limiter,
		DLQ:     NewDLQ(f.queues, "q://dlq", f.recorder),
		Retry:   retry.Config{MaxRetries: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, JitterFactor: 0},
	})
	f.store.Put("raw-emails", "incoming/direct-strict", rawEmail("_billing@inbox.acme.com"))

	// Storage notifications carry no verdicts; the requirements apply
	// to gateway records only
	event := `{
		"Records": [{
			"eventSource": "aws:s3",
			"s3": {
				"bucket": {"name": "raw-emails"},
				"object": {"key": "incoming/direct-strict", "size": 512}
			}
		}]
	}`

	err := f.handler.Handle(context.Background(), event)
	require.NoError(t, err)

	assert.Empty(t, f.queues.Messages("q://dlq"))
	require.Len(t, f.queues.Messages("q://billing"), 1)
}

func TestInboundGatewayMissingVerdictsStillRejected(t *testing.T) {
	f := newInboundFixture(t)
	f.cfg.Security.RequireSPF = true
	f.handler = NewInbound(InboundDeps{
		Config:  f.cfg,
		Store:   f.store,
		Queues:  f.queues,
		Limiter: f.limiter,
		DLQ:     NewDLQ(f.queues, "q://dlq", f.recorder),
		Retry:   retry.Config{MaxRetries: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, JitterFactor: 0},
	})

	event := `{
		"Records": [{
			"eventSource": "aws:ses",
			"ses": {
				"mail": {"messageId": "bare", "source": "alice@acme.com"},
				"receipt": {"action": {"bucketName": "raw-emails", "objectKey": "mail/bare"}}
			}
		}]
	}`

	err := f.handler.Handle(context.Background(), event)
	require.NoError(t, err)

	letters := f.dlqBodies(t)
	require.Len(t, letters, 1)
	assert.Equal(t, "permanent", letters[0]["errorType"])
	assert.Contains(t, letters[0]["error"], "spf")
}

func TestInboundBatchContinuesPastFailure(t *testing.T) {
	f := newInboundFixture(t)
	f.store.Put("raw-emails", "mail/good", rawEmail("_billing@inbox.acme.com"))

	event := fmt.Sprintf(`{
		"Records": [
			{
				"eventSource": "aws:ses",
				"ses": {
					"mail": {"messageId": "bad", "source": "alice@acme.com"},
					"receipt": {"action": {"bucketName": "raw-emails", "objectKey": "mail/missing"}}
				}
			},
			{
				"eventSource": "aws:ses",
				"ses": {
					"mail": {"messageId": "good", "source": "alice@acme.com"},
					"receipt": {"action": {"bucketName": "raw-emails", "objectKey": %q}}
				}
			}
		]
	}`, "mail/good")

	err := f.handler.Handle(context.Background(), event)
	require.NoError(t, err)

	assert.Len(t, f.dlqBodies(t), 1)
	assert.Len(t, f.queues.Messages("q://billing"), 1)
}
