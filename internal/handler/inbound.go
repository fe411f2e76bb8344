package handler

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/ignite/mailflow/internal/attachments"
	"github.com/ignite/mailflow/internal/config"
	"github.com/ignite/mailflow/internal/email"
	"github.com/ignite/mailflow/internal/errs"
	"github.com/ignite/mailflow/internal/events"
	"github.com/ignite/mailflow/internal/metrics"
	"github.com/ignite/mailflow/internal/model"
	"github.com/ignite/mailflow/internal/pkg/logger"
	"github.com/ignite/mailflow/internal/pkg/retry"
	"github.com/ignite/mailflow/internal/queue"
	"github.com/ignite/mailflow/internal/ratelimit"
	"github.com/ignite/mailflow/internal/routing"
	"github.com/ignite/mailflow/internal/security"
	"github.com/ignite/mailflow/internal/storage"
)

const handlerInbound = "inbound"

// InboundDeps wires the inbound dispatcher.
type InboundDeps struct {
	Config   *config.Config
	Store    storage.ObjectStore
	Queues   queue.Queue
	Limiter  ratelimit.Limiter
	DLQ      *DLQ
	Recorder metrics.Recorder
	Retry    retry.Config
}

// Inbound dispatches ingress notifications: fetch the raw mail, gate
// it, parse it, materialize attachments, route, and fan out envelopes
// to per-app queues. Failed records are dead-lettered individually;
// one bad record never blocks its batch.
type Inbound struct {
	cfg       *config.Config
	store     storage.ObjectStore
	queues    queue.Queue
	gate      *security.Gate
	parser    *email.Parser
	limiter   ratelimit.Limiter
	processor *attachments.Processor
	resolver  *routing.Resolver
	dlq       *DLQ
	recorder  metrics.Recorder
	retryCfg  retry.Config
}

// NewInbound creates the inbound dispatcher.
func NewInbound(d InboundDeps) *Inbound {
	if d.Recorder == nil {
		d.Recorder = metrics.Noop{}
	}
	return &Inbound{
		cfg:       d.Config,
		store:     d.Store,
		queues:    d.Queues,
		gate:      security.NewGate(d.Config.Security),
		parser:    email.NewParser(),
		limiter:   d.Limiter,
		processor: attachments.NewProcessor(d.Store, d.Config.Attachments, d.Retry),
		resolver:  routing.NewResolver(d.Config.Routing),
		dlq:       d.DLQ,
		recorder:  d.Recorder,
		retryCfg:  d.Retry,
	}
}

// Handle processes one ingress notification body. Failures are
// dead-lettered per record; the notification itself is always consumed.
func (h *Inbound) Handle(ctx context.Context, body string) error {
	records, err := events.Parse([]byte(body), h.cfg.Routing.RawEmailsBucket)
	if err != nil {
		h.dlq.Publish(ctx, handlerInbound, err, map[string]string{
			"body_bytes": strconv.Itoa(len(body)),
		})
		return nil
	}

	for _, rec := range records {
		start := time.Now()
		h.recorder.Count(ctx, metrics.MetricInboundReceived, 1, nil)

		if err := h.handleRecord(ctx, rec); err != nil {
			h.dlq.Publish(ctx, handlerInbound, err, map[string]string{
				"bucket": rec.Bucket,
				"key":    rec.Key,
			})
			continue
		}

		h.recorder.Count(ctx, metrics.MetricInboundProcessed, 1, nil)
		h.recorder.Duration(ctx, metrics.MetricInboundDuration, time.Since(start), nil)
	}
	return nil
}

func (h *Inbound) handleRecord(ctx context.Context, rec events.MailRecord) error {
	if err := h.gate.CheckSize(rec.Size); err != nil {
		return err
	}
	if err := h.gate.CheckVerdicts(rec.Verdicts, rec.FromGateway); err != nil {
		return err
	}

	raw, err := retry.Do(ctx, h.retryCfg, "raw mail download", func(ctx context.Context) ([]byte, error) {
		return h.store.Download(ctx, rec.Bucket, rec.Key)
	})
	if err != nil {
		return err
	}
	if err := h.gate.CheckSize(int64(len(raw))); err != nil {
		return err
	}

	parsed, err := h.parser.Parse(raw)
	if err != nil {
		return err
	}

	sender := rec.Source
	if sender == "" {
		sender = parsed.From.Address
	}
	if err := h.gate.CheckSender(sender); err != nil {
		return err
	}

	limit := h.cfg.Security.MaxEmailsPerSenderPerHour
	allowed, err := h.limiter.Allow(ctx, sender, limit, h.cfg.RateLimit.Window())
	if err != nil {
		logger.Warn("rate limit check errored, allowing", "sender", sender, "error", err.Error())
	} else if !allowed {
		return errs.New(errs.RateLimit, "sender %s exceeded %d emails per window", logger.RedactEmail(sender), limit)
	}

	atts, err := h.processor.Process(ctx, parsed.MessageID, parsed.Blobs)
	if err != nil {
		return err
	}
	parsed.Attachments = atts
	if parsed.Attachments == nil {
		parsed.Attachments = []model.Attachment{}
	}
	if len(atts) > 0 {
		h.recorder.Count(ctx, metrics.MetricAttachmentsProcessed, float64(len(atts)), nil)
	}

	dests, err := h.resolver.Resolve(parsed)
	if err != nil {
		return err
	}

	for _, dest := range dests {
		ok, err := h.queues.Exists(ctx, dest.QueueURL)
		if err != nil {
			return errs.Wrap(errs.Queue, err, "checking queue for app %s", dest.App)
		}
		if !ok {
			return errs.New(errs.Routing, "queue for app %s does not exist", dest.App)
		}
	}

	for _, dest := range dests {
		env := model.NewInboundEnvelope(*parsed, model.InboundMetadata{
			RoutingKey:   dest.App,
			Domain:       dest.Domain,
			DKIMVerified: rec.Verdicts.DKIM.Passed(),
			SPFVerified:  rec.Verdicts.SPF.Passed(),
		})
		body, err := json.Marshal(env)
		if err != nil {
			return errs.Wrap(errs.Platform, err, "encoding envelope for app %s", dest.App)
		}

		_, err = retry.Do(ctx, h.retryCfg, "envelope send", func(ctx context.Context) (string, error) {
			return h.queues.Send(ctx, dest.QueueURL, string(body))
		})
		if err != nil {
			return err
		}

		h.recorder.Count(ctx, metrics.MetricRoutingDecisions, 1, map[string]string{"App": dest.App})
		logger.Info("envelope dispatched",
			"message_id", parsed.MessageID,
			"app", dest.App,
			"attachments", len(parsed.Attachments))
	}
	return nil
}
