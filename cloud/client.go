// Package cloud abstracts the cloud control plane the orchestrator drives:
// weighted load-balancer routing, telemetry queries, and active probes.
package cloud

import (
	"context"
	"time"
)

// Metric names the telemetry series the control plane cares about.
type Metric string

const (
	MetricRequestCount Metric = "RequestCount"
	MetricErrorCount   Metric = "HTTPCode_Target_5XX_Count"
	MetricLatency      Metric = "TargetResponseTime"
)

// ControlClient is the narrow surface the traffic manager needs from a
// cloud provider. All calls are request/response; every implementation
// must honor the context deadline.
type ControlClient interface {
	// SetWeights points the listener's forward action at the given
	// target groups with the given weights.
	SetWeights(ctx context.Context, listenerARN string, weights map[string]int32) error

	// GetMetricSum returns the sum of a metric over the trailing window
	// for one target group.
	GetMetricSum(ctx context.Context, targetGroupARN string, metric Metric, window time.Duration) (float64, error)

	// GetMetricAverage returns the average of a metric over the trailing
	// window for one target group.
	GetMetricAverage(ctx context.Context, targetGroupARN string, metric Metric, window time.Duration) (float64, error)

	// Probe performs one HTTP GET against a health URL and returns the
	// status code.
	Probe(ctx context.Context, healthURL string) (int, error)
}
