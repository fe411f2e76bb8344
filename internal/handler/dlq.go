// Package handler contains the two pipeline dispatchers and the
// dead-letter publisher they share.
package handler

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ignite/mailflow/internal/errs"
	"github.com/ignite/mailflow/internal/metrics"
	"github.com/ignite/mailflow/internal/pkg/logger"
	"github.com/ignite/mailflow/internal/queue"
)

// Error classes stamped on dead letters.
const (
	errorTypeRetriable = "retriable"
	errorTypePermanent = "permanent"
)

// dlqEnvelope is the JSON value published to the dead-letter queue.
// The error string is redacted before publication.
type dlqEnvelope struct {
	Error     string            `json:"error"`
	ErrorType string            `json:"errorType"`
	Handler   string            `json:"handler"`
	Context   map[string]string `json:"context"`
	Timestamp string            `json:"timestamp"`
}

// DLQ publishes failed work to the dead-letter queue. Publication
// failures are logged and swallowed; a broken DLQ must not take the
// pipelines down with it.
type DLQ struct {
	queue    queue.Queue
	url      string
	recorder metrics.Recorder
}

// NewDLQ creates a dead-letter publisher. An empty url disables
// publication; failures are then only logged and counted.
func NewDLQ(q queue.Queue, url string, recorder metrics.Recorder) *DLQ {
	return &DLQ{queue: q, url: url, recorder: recorder}
}

// Publish dead-letters one failure with its handler name and context.
func (d *DLQ) Publish(ctx context.Context, handlerName string, cause error, errCtx map[string]string) {
	errorType := errorTypePermanent
	if errs.IsRetriable(cause) {
		errorType = errorTypeRetriable
	}

	d.recorder.Count(ctx, metrics.MetricErrors, 1, map[string]string{
		"ErrorType": errs.KindOf(cause).String(),
		"Handler":   handlerName,
	})

	logger.Error("dead-lettering failed work",
		"handler", handlerName,
		"error_type", errorType,
		"error", logger.RedactAll(cause.Error()))

	if d.url == "" {
		return
	}

	body, err := json.Marshal(dlqEnvelope{
		Error:     logger.RedactAll(cause.Error()),
		ErrorType: errorType,
		Handler:   handlerName,
		Context:   errCtx,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		logger.Error("marshaling dead letter", "error", err.Error())
		return
	}

	if _, err := d.queue.Send(ctx, d.url, string(body)); err != nil {
		logger.Error("publishing dead letter", "error", err.Error())
		return
	}
	d.recorder.Count(ctx, metrics.MetricDLQMessages, 1, map[string]string{"Handler": handlerName})
}
