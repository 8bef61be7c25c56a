// Package traffic orchestrates weighted traffic migration between two
// environments with continuous monitoring and automatic rollback.
package traffic

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/shiftsmith/shiftsmith/cloud"
	"github.com/shiftsmith/shiftsmith/models"
	"github.com/shiftsmith/shiftsmith/reliability"
)

// MetricsSampler supplies point-in-time traffic samples during monitoring.
type MetricsSampler interface {
	Sample(ctx context.Context, old, new *models.Environment, oldWeight, newWeight int) models.TrafficMetrics
}

// HealthGate answers whether an environment is currently healthy. Used as
// a go/no-go gate at shift start and completion, not as a stream.
type HealthGate interface {
	IsHealthy(ctx context.Context, env *models.Environment) bool
}

// Config holds the thresholds and pacing of traffic shifts.
type Config struct {
	ErrorRateThreshold float64
	LatencyThresholdMs float64
	WeightSteps        []int
	SettleDelay        time.Duration
	MonitorWindow      time.Duration
	PollInterval       time.Duration
	CanaryPercent      int
	CanaryWindow       time.Duration
}

// DefaultConfig returns the default shift pacing.
func DefaultConfig() Config {
	return Config{
		ErrorRateThreshold: 0.05,
		LatencyThresholdMs: 5000,
		WeightSteps:        []int{10, 25, 50, 75, 100},
		SettleDelay:        30 * time.Second,
		MonitorWindow:      2 * time.Minute,
		PollInterval:       15 * time.Second,
		CanaryPercent:      5,
		CanaryWindow:       10 * time.Minute,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.ErrorRateThreshold <= 0 {
		c.ErrorRateThreshold = d.ErrorRateThreshold
	}
	if c.LatencyThresholdMs <= 0 {
		c.LatencyThresholdMs = d.LatencyThresholdMs
	}
	if len(c.WeightSteps) == 0 {
		c.WeightSteps = d.WeightSteps
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = d.SettleDelay
	}
	if c.MonitorWindow <= 0 {
		c.MonitorWindow = d.MonitorWindow
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.CanaryPercent <= 0 {
		c.CanaryPercent = d.CanaryPercent
	}
	if c.CanaryWindow <= 0 {
		c.CanaryWindow = d.CanaryWindow
	}
}

// Manager performs immediate, gradual, and canary traffic shifts. Within
// one shift, steps run strictly sequentially; shifts on independent
// environment pairs share nothing and proceed in parallel.
type Manager struct {
	client   cloud.ControlClient
	sampler  MetricsSampler
	health   HealthGate
	breakers *reliability.BreakerSet
	retrier  reliability.Retrier
	config   Config
}

// NewManager creates a traffic manager.
func NewManager(client cloud.ControlClient, sampler MetricsSampler, health HealthGate, breakers *reliability.BreakerSet, retrier reliability.Retrier, config Config) *Manager {
	config.applyDefaults()
	return &Manager{
		client:   client,
		sampler:  sampler,
		health:   health,
		breakers: breakers,
		retrier:  retrier,
		config:   config,
	}
}

// setWeights applies one weight change through the circuit breaker and the
// retrier. The breaker rejects immediately while the load-balancer API is
// known to be failing; the retrier absorbs transient errors underneath.
func (m *Manager) setWeights(ctx context.Context, old, new *models.Environment, oldWeight, newWeight int) error {
	weights := map[string]int32{new.TargetGroupARN: int32(newWeight)}
	listenerARN := new.ListenerARN
	if old != nil {
		weights[old.TargetGroupARN] = int32(oldWeight)
		listenerARN = old.ListenerARN
	}

	breaker := m.breakers.Get("elbv2:set-weights")
	return breaker.Call(func() error {
		return m.retrier.Do(ctx, func(ctx context.Context) error {
			return m.client.SetWeights(ctx, listenerARN, weights)
		})
	})
}

// Rollback forces weights back to old=100/new=0. It is idempotent: the
// cloud API treats re-applying the same weights as a no-op.
func (m *Manager) Rollback(ctx context.Context, old, new *models.Environment) error {
	if old == nil {
		return fmt.Errorf("no old environment to roll back to")
	}
	log.Printf("Rolling back traffic: %s=100, %s=0", old.Name, new.Name)
	return m.setWeights(ctx, old, new, 100, 0)
}

// tryRollback attempts a best-effort rollback and reports whether it
// succeeded. A rollback failure is logged, never propagated over the
// original error.
func (m *Manager) tryRollback(ctx context.Context, old, new *models.Environment) bool {
	if old == nil {
		return false
	}
	// A cancelled shift must still be able to roll back.
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), 2*time.Minute)
		defer cancel()
	}
	if err := m.Rollback(ctx, old, new); err != nil {
		log.Printf("Rollback failed: %v", err)
		return false
	}
	return true
}

// ImmediateSwitch cuts all traffic to the new environment in one weight
// change, then gates on a single health check. Unhealthy with an old
// environment present rolls back; unhealthy on a first deployment fails
// without rollback because there is nothing to roll back to.
func (m *Manager) ImmediateSwitch(ctx context.Context, old, new *models.Environment) (*models.TrafficShiftResult, error) {
	started := time.Now()
	result := &models.TrafficShiftResult{
		Strategy:  models.StrategyImmediate,
		StartedAt: started,
	}

	log.Printf("Immediate switch to %s", new.Name)

	if err := m.setWeights(ctx, old, new, 0, 100); err != nil {
		result.RollbackPerformed = m.tryRollback(ctx, old, new)
		return m.finish(result, distribution(result.RollbackPerformed, old == nil), err)
	}

	if err := reliability.Sleep(ctx, m.config.SettleDelay); err != nil {
		result.RollbackPerformed = m.tryRollback(ctx, old, new)
		return m.finish(result, distribution(result.RollbackPerformed, old == nil),
			&ShiftAbortedError{Reason: "cancelled during settle", RollbackPerformed: result.RollbackPerformed, Err: err})
	}

	if !m.health.IsHealthy(ctx, new) {
		err := fmt.Errorf("environment %s failed health check after switch", new.Name)
		if old != nil {
			result.RollbackPerformed = m.tryRollback(ctx, old, new)
			return m.finish(result, distribution(result.RollbackPerformed, false), err)
		}
		// First deployment: nothing to roll back to.
		return m.finish(result, models.DistributionAllNew, err)
	}

	result.Success = true
	return m.finish(result, models.DistributionAllNew, nil)
}

// GradualShift walks the weight schedule, monitoring after each step and
// rolling back on the first regression. Success requires every step and a
// final health check to pass.
func (m *Manager) GradualShift(ctx context.Context, old, new *models.Environment) (*models.TrafficShiftResult, error) {
	started := time.Now()
	result := &models.TrafficShiftResult{
		Strategy:  models.StrategyGradual,
		StartedAt: started,
	}

	for _, weight := range m.config.WeightSteps {
		log.Printf("Gradual shift: %s=%d, %s=%d", old.Name, 100-weight, new.Name, weight)

		if err := m.setWeights(ctx, old, new, 100-weight, weight); err != nil {
			result.RollbackPerformed = m.tryRollback(ctx, old, new)
			return m.finish(result, distribution(result.RollbackPerformed, false), err)
		}

		if err := reliability.Sleep(ctx, m.config.SettleDelay); err != nil {
			result.RollbackPerformed = m.tryRollback(ctx, old, new)
			return m.finish(result, distribution(result.RollbackPerformed, false),
				&ShiftAbortedError{Reason: "cancelled during settle", RollbackPerformed: result.RollbackPerformed, Err: err})
		}

		samples, verdict, err := m.monitor(ctx, old, new, weight, m.config.MonitorWindow)
		result.MetricsHistory = append(result.MetricsHistory, samples...)

		if err != nil {
			result.RollbackPerformed = m.tryRollback(ctx, old, new)
			return m.finish(result, distribution(result.RollbackPerformed, false),
				&ShiftAbortedError{Reason: "cancelled during monitoring", RollbackPerformed: result.RollbackPerformed, Err: err})
		}
		if verdict != "" {
			result.RollbackPerformed = m.tryRollback(ctx, old, new)
			return m.finish(result, distribution(result.RollbackPerformed, false),
				fmt.Errorf("monitoring at %d%% detected regression: %s", weight, verdict))
		}
	}

	if !m.health.IsHealthy(ctx, new) {
		result.RollbackPerformed = m.tryRollback(ctx, old, new)
		return m.finish(result, distribution(result.RollbackPerformed, false),
			fmt.Errorf("environment %s failed final health check", new.Name))
	}

	result.Success = true
	return m.finish(result, models.DistributionAllNew, nil)
}

// Canary holds a small traffic percentage for an extended window before
// delegating to GradualShift. Metric histories and durations of both
// phases merge into one result.
func (m *Manager) Canary(ctx context.Context, old, new *models.Environment, canaryPercent int) (*models.TrafficShiftResult, error) {
	if canaryPercent <= 0 || canaryPercent >= 100 {
		canaryPercent = m.config.CanaryPercent
	}

	started := time.Now()
	result := &models.TrafficShiftResult{
		Strategy:  models.StrategyCanary,
		StartedAt: started,
	}

	log.Printf("Canary: sending %d%% of traffic to %s for %s", canaryPercent, new.Name, m.config.CanaryWindow)

	if err := m.setWeights(ctx, old, new, 100-canaryPercent, canaryPercent); err != nil {
		result.RollbackPerformed = m.tryRollback(ctx, old, new)
		return m.finish(result, distribution(result.RollbackPerformed, false), err)
	}

	if err := reliability.Sleep(ctx, m.config.SettleDelay); err != nil {
		result.RollbackPerformed = m.tryRollback(ctx, old, new)
		return m.finish(result, distribution(result.RollbackPerformed, false),
			&ShiftAbortedError{Reason: "cancelled during settle", RollbackPerformed: result.RollbackPerformed, Err: err})
	}

	samples, verdict, err := m.monitor(ctx, old, new, canaryPercent, m.config.CanaryWindow)
	result.MetricsHistory = append(result.MetricsHistory, samples...)

	if err != nil {
		result.RollbackPerformed = m.tryRollback(ctx, old, new)
		return m.finish(result, distribution(result.RollbackPerformed, false),
			&ShiftAbortedError{Reason: "cancelled during canary", RollbackPerformed: result.RollbackPerformed, Err: err})
	}
	if verdict != "" {
		result.RollbackPerformed = m.tryRollback(ctx, old, new)
		return m.finish(result, distribution(result.RollbackPerformed, false),
			fmt.Errorf("canary at %d%% detected regression: %s", canaryPercent, verdict))
	}

	log.Printf("Canary passed, continuing with gradual shift to %s", new.Name)

	gradual, err := m.GradualShift(ctx, old, new)

	// Merge both phases into a single canary result.
	result.Success = gradual.Success
	result.RollbackPerformed = gradual.RollbackPerformed
	result.ErrorMessage = gradual.ErrorMessage
	result.MetricsHistory = append(result.MetricsHistory, gradual.MetricsHistory...)
	result.FinalDistribution = gradual.FinalDistribution
	result.CompletedAt = time.Now()
	result.Duration = result.CompletedAt.Sub(result.StartedAt)
	return result, err
}

// monitor polls the metrics sampler until the window elapses or a stop
// condition fires. It returns the collected samples regardless of outcome
// (for audit), plus a non-empty verdict when rollback is required.
// Samples flagged NoData never trip a stop condition: an unreachable
// telemetry source is not evidence of a bad deployment.
func (m *Manager) monitor(ctx context.Context, old, new *models.Environment, newWeight int, window time.Duration) ([]models.TrafficMetrics, string, error) {
	var samples []models.TrafficMetrics
	deadline := time.Now().Add(window)

	for {
		sample := m.sampler.Sample(ctx, old, new, 100-newWeight, newWeight)
		samples = append(samples, sample)

		if !sample.NoData {
			if sample.GreenErrorRate > m.config.ErrorRateThreshold {
				return samples, fmt.Sprintf("error rate %.4f exceeds threshold %.4f", sample.GreenErrorRate, m.config.ErrorRateThreshold), nil
			}
			if sample.GreenLatencyMs > m.config.LatencyThresholdMs {
				return samples, fmt.Sprintf("latency %.0fms exceeds threshold %.0fms", sample.GreenLatencyMs, m.config.LatencyThresholdMs), nil
			}
		}

		if !time.Now().Add(m.config.PollInterval).Before(deadline) {
			return samples, "", nil
		}
		if err := reliability.Sleep(ctx, m.config.PollInterval); err != nil {
			return samples, "", err
		}
	}
}

// finish stamps the result and folds the error into it.
func (m *Manager) finish(result *models.TrafficShiftResult, dist models.Distribution, err error) (*models.TrafficShiftResult, error) {
	result.FinalDistribution = dist
	result.CompletedAt = time.Now()
	result.Duration = result.CompletedAt.Sub(result.StartedAt)
	if err != nil {
		result.Success = false
		result.ErrorMessage = err.Error()

		var aborted *ShiftAbortedError
		if !errors.As(err, &aborted) {
			err = &ShiftAbortedError{
				Reason:            "shift failed",
				RollbackPerformed: result.RollbackPerformed,
				Err:               err,
			}
		}
		return result, err
	}
	return result, nil
}

// distribution maps a rollback outcome onto the final traffic state.
func distribution(rolledBack, firstDeployment bool) models.Distribution {
	if rolledBack {
		return models.DistributionAllOld
	}
	if firstDeployment {
		return models.DistributionAllNew
	}
	return models.DistributionMixed
}
