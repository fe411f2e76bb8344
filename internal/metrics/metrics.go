// Package metrics provides the operational metrics sink. Emission
// failures never propagate into the pipelines.
package metrics

import (
	"context"
	"sync"
	"time"
)

// Standard metric names emitted by the dispatchers.
const (
	MetricInboundReceived      = "InboundEmailsReceived"
	MetricInboundProcessed     = "InboundEmailsProcessed"
	MetricOutboundSent         = "OutboundEmailsSent"
	MetricAttachmentsProcessed = "AttachmentsProcessed"
	MetricRoutingDecisions     = "RoutingDecisions"
	MetricErrors               = "Errors"
	MetricDLQMessages          = "DLQMessages"
	MetricInboundDuration      = "InboundProcessingTime"
	MetricOutboundDuration     = "OutboundProcessingTime"
)

// Recorder is the metrics capability.
type Recorder interface {
	Count(ctx context.Context, name string, value float64, dims map[string]string)
	Duration(ctx context.Context, name string, d time.Duration, dims map[string]string)
}

// Noop discards all metrics.
type Noop struct{}

// Count implements Recorder.
func (Noop) Count(ctx context.Context, name string, value float64, dims map[string]string) {}

// Duration implements Recorder.
func (Noop) Duration(ctx context.Context, name string, d time.Duration, dims map[string]string) {}

// Sample is one recorded metric, kept by Capture for assertions.
type Sample struct {
	Name  string
	Value float64
	Dims  map[string]string
}

// Capture retains every sample in memory. Test double.
type Capture struct {
	mu      sync.Mutex
	Samples []Sample
}

// NewCapture creates an empty capture recorder.
func NewCapture() *Capture {
	return &Capture{}
}

// Count implements Recorder.
func (c *Capture) Count(ctx context.Context, name string, value float64, dims map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Samples = append(c.Samples, Sample{Name: name, Value: value, Dims: dims})
}

// Duration implements Recorder.
func (c *Capture) Duration(ctx context.Context, name string, d time.Duration, dims map[string]string) {
	c.Count(ctx, name, float64(d.Milliseconds()), dims)
}

// CountOf sums the values recorded under a name.
func (c *Capture) CountOf(name string) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var total float64
	for _, s := range c.Samples {
		if s.Name == name {
			total += s.Value
		}
	}
	return total
}

// DimsOf returns the dimensions of the first sample under a name.
func (c *Capture) DimsOf(name string) map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.Samples {
		if s.Name == name {
			return s.Dims
		}
	}
	return nil
}
