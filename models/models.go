package models

import "time"

// Environment is one deployable slot ("blue" or "green") fronted by its own
// load balancer target. Immutable once constructed; the traffic manager
// references environments but never mutates them.
type Environment struct {
	Name           string `json:"name" yaml:"name"`
	ListenerARN    string `json:"listener_arn" yaml:"listener_arn"`
	TargetGroupARN string `json:"target_group_arn" yaml:"target_group_arn"`
	HealthCheckURL string `json:"health_check_url,omitempty" yaml:"health_check_url,omitempty"`
}

// TrafficMetrics is a single timestamped sample taken during a shift.
// BlueWeight and GreenWeight always sum to 100.
type TrafficMetrics struct {
	Timestamp      time.Time `json:"timestamp" yaml:"timestamp"`
	BlueWeight     int       `json:"blue_weight" yaml:"blue_weight"`
	GreenWeight    int       `json:"green_weight" yaml:"green_weight"`
	BlueErrorRate  float64   `json:"blue_error_rate" yaml:"blue_error_rate"`
	GreenErrorRate float64   `json:"green_error_rate" yaml:"green_error_rate"`
	BlueLatencyMs  float64   `json:"blue_latency_ms" yaml:"blue_latency_ms"`
	GreenLatencyMs float64   `json:"green_latency_ms" yaml:"green_latency_ms"`
	TotalRequests  int64     `json:"total_requests" yaml:"total_requests"`
	// NoData marks a sample produced while the telemetry source was
	// unreachable. Zero error rates on such a sample mean "unknown",
	// not "healthy".
	NoData bool `json:"no_data,omitempty" yaml:"no_data,omitempty"`
}

// Distribution describes where traffic ended up after a shift.
type Distribution string

const (
	DistributionAllOld Distribution = "ALL_OLD"
	DistributionAllNew Distribution = "ALL_NEW"
	DistributionMixed  Distribution = "MIXED"
)

// ShiftStrategy selects how traffic is migrated.
type ShiftStrategy string

const (
	StrategyImmediate ShiftStrategy = "immediate"
	StrategyGradual   ShiftStrategy = "gradual"
	StrategyCanary    ShiftStrategy = "canary"
)

// TrafficShiftResult is the outcome of one shift operation. Created once
// when the shift finishes and never mutated afterwards.
type TrafficShiftResult struct {
	ShiftID           string           `json:"shift_id" yaml:"shift_id"`
	Strategy          ShiftStrategy    `json:"strategy" yaml:"strategy"`
	Success           bool             `json:"success" yaml:"success"`
	FinalDistribution Distribution     `json:"final_distribution" yaml:"final_distribution"`
	Duration          time.Duration    `json:"duration" yaml:"duration"`
	RollbackPerformed bool             `json:"rollback_performed" yaml:"rollback_performed"`
	ErrorMessage      string           `json:"error_message,omitempty" yaml:"error_message,omitempty"`
	MetricsHistory    []TrafficMetrics `json:"metrics_history,omitempty" yaml:"metrics_history,omitempty"`
	StartedAt         time.Time        `json:"started_at" yaml:"started_at"`
	CompletedAt       time.Time        `json:"completed_at" yaml:"completed_at"`
}

// ShiftState is the lifecycle state of a tracked shift.
type ShiftState string

const (
	ShiftRunning   ShiftState = "running"
	ShiftCompleted ShiftState = "completed"
	ShiftCancelled ShiftState = "cancelled"
)

// ShiftStatus is what callers see when polling a shift by ID.
type ShiftStatus struct {
	ShiftID   string              `json:"shift_id" yaml:"shift_id"`
	State     ShiftState          `json:"state" yaml:"state"`
	Strategy  ShiftStrategy       `json:"strategy" yaml:"strategy"`
	OldEnv    string              `json:"old_env,omitempty" yaml:"old_env,omitempty"`
	NewEnv    string              `json:"new_env" yaml:"new_env"`
	StartedAt time.Time           `json:"started_at" yaml:"started_at"`
	Result    *TrafficShiftResult `json:"result,omitempty" yaml:"result,omitempty"`
}
