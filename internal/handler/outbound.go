package handler

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ignite/mailflow/internal/config"
	"github.com/ignite/mailflow/internal/email"
	"github.com/ignite/mailflow/internal/errs"
	"github.com/ignite/mailflow/internal/idempotency"
	"github.com/ignite/mailflow/internal/metrics"
	"github.com/ignite/mailflow/internal/model"
	"github.com/ignite/mailflow/internal/pkg/logger"
	"github.com/ignite/mailflow/internal/pkg/retry"
	"github.com/ignite/mailflow/internal/queue"
	"github.com/ignite/mailflow/internal/relay"
	"github.com/ignite/mailflow/internal/storage"
)

const handlerOutbound = "outbound"

// maxRequeueDelay is the queue fabric's cap on delayed delivery.
const maxRequeueDelay = 900 * time.Second

// OutboundDeps wires the outbound dispatcher.
type OutboundDeps struct {
	Config   *config.Config
	Store    storage.ObjectStore
	Queues   queue.Queue
	Relay    relay.Relay
	Idem     idempotency.Store
	DLQ      *DLQ
	Recorder metrics.Recorder
	Retry    retry.Config
}

// Outbound dispatches send requests from the outbound queue: validate,
// dedupe by correlation id, verify the sender identity, check quota,
// compose, and hand the raw message to the relay. Every terminal
// outcome consumes the queue message; failures go to the DLQ rather
// than back onto the queue.
type Outbound struct {
	cfg      *config.Config
	queues   queue.Queue
	relay    relay.Relay
	idem     idempotency.Store
	composer *email.Composer
	dlq      *DLQ
	recorder metrics.Recorder
	retryCfg retry.Config
}

// NewOutbound creates the outbound dispatcher.
func NewOutbound(d OutboundDeps) *Outbound {
	if d.Recorder == nil {
		d.Recorder = metrics.Noop{}
	}
	return &Outbound{
		cfg:      d.Config,
		queues:   d.Queues,
		relay:    d.Relay,
		idem:     d.Idem,
		composer: email.NewComposer(d.Store, d.Retry),
		dlq:      d.DLQ,
		recorder: d.Recorder,
		retryCfg: d.Retry,
	}
}

// Handle processes one outbound queue message to a terminal outcome.
func (h *Outbound) Handle(ctx context.Context, msg queue.Message) error {
	start := time.Now()

	var req model.OutboundRequest
	if err := json.Unmarshal([]byte(msg.Body), &req); err != nil {
		h.fail(ctx, msg, errs.Wrap(errs.Validation, err, "decoding outbound request"), map[string]string{
			"queue_message_id": msg.ID,
		})
		return nil
	}
	errCtx := map[string]string{"correlation_id": req.CorrelationID}

	if err := req.Validate(); err != nil {
		h.fail(ctx, msg, err, errCtx)
		return nil
	}

	dup, err := h.idem.IsDuplicate(ctx, req.CorrelationID)
	if err != nil {
		// Prefer a possible duplicate send over a dropped email
		logger.Warn("idempotency check failed, continuing", "correlation_id", req.CorrelationID, "error", err.Error())
	}
	if dup {
		logger.Info("skipping duplicate send", "correlation_id", req.CorrelationID)
		h.deleteMessage(ctx, msg)
		return nil
	}

	if t := req.Options.ScheduledSendTime; t != nil {
		if delay := time.Until(*t); delay > 0 {
			h.requeue(ctx, msg, req.CorrelationID, delay)
			return nil
		}
	}

	from := req.Email.From.Address
	verified, err := h.relay.VerifySender(ctx, from)
	if err != nil {
		h.fail(ctx, msg, err, errCtx)
		return nil
	}
	if !verified {
		h.fail(ctx, msg, errs.New(errs.Validation, "sender %s is not a verified identity", logger.RedactEmail(from)), errCtx)
		return nil
	}

	quota, err := h.relay.GetQuota(ctx)
	if err != nil {
		h.fail(ctx, msg, err, errCtx)
		return nil
	}
	if quota.Exhausted() {
		h.fail(ctx, msg, errs.New(errs.Relay, "send quota exhausted: %.0f of %.0f used", quota.SentLast24Hours, quota.Max24HourSend), errCtx)
		return nil
	}

	raw, err := h.composer.Compose(ctx, &req.Email)
	if err != nil {
		h.fail(ctx, msg, err, errCtx)
		return nil
	}

	providerID, err := retry.Do(ctx, h.retryCfg, "raw send", func(ctx context.Context) (string, error) {
		return h.relay.SendRaw(ctx, from, req.Email.AllRecipients(), raw)
	})
	if err != nil {
		h.fail(ctx, msg, err, errCtx)
		return nil
	}

	if err := h.idem.Record(ctx, req.CorrelationID, h.idempotencyTTL()); err != nil {
		// The send already happened; a lost record only risks a duplicate
		logger.Warn("recording correlation id failed", "correlation_id", req.CorrelationID, "error", err.Error())
	}

	h.deleteMessage(ctx, msg)
	h.recorder.Count(ctx, metrics.MetricOutboundSent, 1, nil)
	h.recorder.Duration(ctx, metrics.MetricOutboundDuration, time.Since(start), nil)
	logger.Info("outbound email sent",
		"correlation_id", req.CorrelationID,
		"provider_message_id", providerID,
		"recipients", len(req.Email.AllRecipients()))
	return nil
}

// requeue pushes a scheduled send back with a delay, bounded by the
// queue fabric's cap. Far-future sends hop the queue repeatedly.
func (h *Outbound) requeue(ctx context.Context, msg queue.Message, correlationID string, delay time.Duration) {
	if delay > maxRequeueDelay {
		delay = maxRequeueDelay
	}
	_, err := h.queues.SendDelayed(ctx, h.cfg.Queues.OutboundURL, msg.Body, delay)
	if err != nil {
		// Leave the original message for redelivery
		logger.Error("requeueing scheduled send", "correlation_id", correlationID, "error", err.Error())
		return
	}
	logger.Info("deferred scheduled send", "correlation_id", correlationID, "delay_seconds", int(delay.Seconds()))
	h.deleteMessage(ctx, msg)
}

func (h *Outbound) fail(ctx context.Context, msg queue.Message, cause error, errCtx map[string]string) {
	h.dlq.Publish(ctx, handlerOutbound, cause, errCtx)
	h.deleteMessage(ctx, msg)
}

func (h *Outbound) deleteMessage(ctx context.Context, msg queue.Message) {
	if err := h.queues.Delete(ctx, h.cfg.Queues.OutboundURL, msg.ReceiptHandle); err != nil {
		logger.Warn("deleting outbound message", "queue_message_id", msg.ID, "error", err.Error())
	}
}

func (h *Outbound) idempotencyTTL() time.Duration {
	if ttl := h.cfg.Idempotency.TTL(); ttl > 0 {
		return ttl
	}
	return idempotency.DefaultTTL
}
