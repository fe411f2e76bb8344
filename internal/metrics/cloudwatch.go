package metrics

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"github.com/ignite/mailflow/internal/pkg/logger"
)

// cloudwatchBatchMax is the API limit on datums per PutMetricData call.
const cloudwatchBatchMax = 20

// CloudWatch emits metrics to a CloudWatch namespace. Datums are
// buffered and flushed in batches; a failed flush is logged and
// dropped, never surfaced to the pipelines.
type CloudWatch struct {
	client    *cloudwatch.Client
	namespace string

	buf  chan types.MetricDatum
	done chan struct{}
}

// NewCloudWatch creates a recorder that flushes every interval.
func NewCloudWatch(awsCfg aws.Config, namespace string, interval time.Duration) *CloudWatch {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	cw := &CloudWatch{
		client:    cloudwatch.NewFromConfig(awsCfg),
		namespace: namespace,
		buf:       make(chan types.MetricDatum, 1024),
		done:      make(chan struct{}),
	}
	go cw.flushLoop(interval)
	return cw
}

// Count implements Recorder.
func (cw *CloudWatch) Count(ctx context.Context, name string, value float64, dims map[string]string) {
	cw.enqueue(datum(name, value, types.StandardUnitCount, dims))
}

// Duration implements Recorder.
func (cw *CloudWatch) Duration(ctx context.Context, name string, d time.Duration, dims map[string]string) {
	cw.enqueue(datum(name, float64(d.Milliseconds()), types.StandardUnitMilliseconds, dims))
}

// Close stops the flush loop after draining the buffer.
func (cw *CloudWatch) Close() {
	close(cw.done)
}

func (cw *CloudWatch) enqueue(d types.MetricDatum) {
	select {
	case cw.buf <- d:
	default:
		// Full buffer: drop rather than block the pipeline
	}
}

func (cw *CloudWatch) flushLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cw.flush()
		case <-cw.done:
			cw.flush()
			return
		}
	}
}

func (cw *CloudWatch) flush() {
	var batch []types.MetricDatum
	for {
		select {
		case d := <-cw.buf:
			batch = append(batch, d)
			if len(batch) == cloudwatchBatchMax {
				cw.put(batch)
				batch = nil
			}
		default:
			if len(batch) > 0 {
				cw.put(batch)
			}
			return
		}
	}
}

func (cw *CloudWatch) put(batch []types.MetricDatum) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := cw.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(cw.namespace),
		MetricData: batch,
	})
	if err != nil {
		logger.Warn("metric flush failed", "count", len(batch), "error", err.Error())
	}
}

func datum(name string, value float64, unit types.StandardUnit, dims map[string]string) types.MetricDatum {
	d := types.MetricDatum{
		MetricName: aws.String(name),
		Value:      aws.Float64(value),
		Unit:       unit,
		Timestamp:  aws.Time(time.Now().UTC()),
	}
	for k, v := range dims {
		d.Dimensions = append(d.Dimensions, types.Dimension{
			Name:  aws.String(k),
			Value: aws.String(v),
		})
	}
	return d
}
