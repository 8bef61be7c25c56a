package probe

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/shiftsmith/shiftsmith/cloud"
	"github.com/shiftsmith/shiftsmith/models"
)

// HealthChecker performs single active probes against an environment's
// health endpoint. It is a go/no-go gate at shift start and completion,
// not a continuous stream; the monitoring loop uses MetricsProbe instead.
type HealthChecker struct {
	client  cloud.ControlClient
	timeout time.Duration
}

// NewHealthChecker creates a checker with the given per-probe timeout.
func NewHealthChecker(client cloud.ControlClient, timeout time.Duration) *HealthChecker {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HealthChecker{client: client, timeout: timeout}
}

// IsHealthy probes the environment's health URL once. An environment
// without a health URL is treated as healthy; there is nothing to probe.
func (h *HealthChecker) IsHealthy(ctx context.Context, env *models.Environment) bool {
	if env.HealthCheckURL == "" {
		return true
	}

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	code, err := h.client.Probe(ctx, env.HealthCheckURL)
	if err != nil {
		log.Printf("Health probe for %s failed: %v", env.Name, err)
		return false
	}

	return code >= http.StatusOK && code < http.StatusMultipleChoices
}
