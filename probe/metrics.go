// Package probe holds the monitoring inputs for traffic shifts: the
// metrics probe that samples telemetry and the active health checker.
package probe

import (
	"context"
	"log"
	"time"

	"github.com/shiftsmith/shiftsmith/cloud"
	"github.com/shiftsmith/shiftsmith/models"
)

// MetricsProbe pulls point-in-time error-rate, latency, and request-count
// samples for a blue/green environment pair from the cloud telemetry source.
type MetricsProbe struct {
	client  cloud.ControlClient
	window  time.Duration
	timeout time.Duration
}

// NewMetricsProbe creates a probe. window is the trailing interval each
// sample covers (typically 5 minutes); timeout bounds each telemetry call.
func NewMetricsProbe(client cloud.ControlClient, window, timeout time.Duration) *MetricsProbe {
	if window <= 0 {
		window = 5 * time.Minute
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &MetricsProbe{client: client, window: window, timeout: timeout}
}

// Sample queries telemetry for both environments and returns a fully
// populated sample. A telemetry failure does not fail the shift: the sample
// comes back zero-valued with NoData set, so the monitoring loop can tell
// "no data" apart from "genuinely zero errors".
func (p *MetricsProbe) Sample(ctx context.Context, old, new *models.Environment, oldWeight, newWeight int) models.TrafficMetrics {
	sample := models.TrafficMetrics{
		Timestamp:   time.Now(),
		BlueWeight:  oldWeight,
		GreenWeight: newWeight,
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var total int64
	if old != nil {
		errRate, latency, requests, err := p.sampleTarget(ctx, old.TargetGroupARN)
		if err != nil {
			log.Printf("Metrics probe failed for %s: %v", old.Name, err)
			sample.NoData = true
			return sample
		}
		sample.BlueErrorRate = errRate
		sample.BlueLatencyMs = latency
		total += requests
	}

	errRate, latency, requests, err := p.sampleTarget(ctx, new.TargetGroupARN)
	if err != nil {
		log.Printf("Metrics probe failed for %s: %v", new.Name, err)
		return models.TrafficMetrics{
			Timestamp:   sample.Timestamp,
			BlueWeight:  oldWeight,
			GreenWeight: newWeight,
			NoData:      true,
		}
	}
	sample.GreenErrorRate = errRate
	sample.GreenLatencyMs = latency
	sample.TotalRequests = total + requests

	return sample
}

// sampleTarget returns (errorRate, latencyMs, requestCount) for one target
// group. Error rate is 0 when the target saw no requests.
func (p *MetricsProbe) sampleTarget(ctx context.Context, targetGroupARN string) (float64, float64, int64, error) {
	requests, err := p.client.GetMetricSum(ctx, targetGroupARN, cloud.MetricRequestCount, p.window)
	if err != nil {
		return 0, 0, 0, err
	}

	errors, err := p.client.GetMetricSum(ctx, targetGroupARN, cloud.MetricErrorCount, p.window)
	if err != nil {
		return 0, 0, 0, err
	}

	latencySec, err := p.client.GetMetricAverage(ctx, targetGroupARN, cloud.MetricLatency, p.window)
	if err != nil {
		return 0, 0, 0, err
	}

	var errorRate float64
	if requests > 0 {
		errorRate = errors / requests
	}

	return errorRate, latencySec * 1000, int64(requests), nil
}
