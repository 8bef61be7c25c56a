package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shiftsmith/shiftsmith/cloud"
	"github.com/shiftsmith/shiftsmith/configstore"
	"github.com/shiftsmith/shiftsmith/dependency"
	"github.com/shiftsmith/shiftsmith/discovery"
	"github.com/shiftsmith/shiftsmith/models"
	"github.com/shiftsmith/shiftsmith/reliability"
	"github.com/shiftsmith/shiftsmith/traffic"
)

// fakeCloud is a no-failure cloud control plane for pipeline tests.
type fakeCloud struct{}

func (fakeCloud) SetWeights(ctx context.Context, listenerARN string, weights map[string]int32) error {
	return nil
}

func (fakeCloud) GetMetricSum(ctx context.Context, targetGroupARN string, metric cloud.Metric, window time.Duration) (float64, error) {
	return 0, nil
}

func (fakeCloud) GetMetricAverage(ctx context.Context, targetGroupARN string, metric cloud.Metric, window time.Duration) (float64, error) {
	return 0, nil
}

func (fakeCloud) Probe(ctx context.Context, healthURL string) (int, error) {
	return 200, nil
}

type healthySampler struct{}

func (healthySampler) Sample(ctx context.Context, old, new *models.Environment, oldWeight, newWeight int) models.TrafficMetrics {
	return models.TrafficMetrics{Timestamp: time.Now(), BlueWeight: oldWeight, GreenWeight: newWeight}
}

type alwaysHealthy struct{}

func (alwaysHealthy) IsHealthy(ctx context.Context, env *models.Environment) bool { return true }

// fakeArtifacts knows a fixed set of repository:tag pairs.
type fakeArtifacts struct {
	known map[string]bool
}

func (f *fakeArtifacts) TagExists(ctx context.Context, repository, tag string) (bool, error) {
	return f.known[repository+":"+tag], nil
}

func newTestOrchestrator(artifacts *fakeArtifacts) *Orchestrator {
	retrier := reliability.Retrier{MaxAttempts: 1}
	deps := dependency.NewManager(discovery.NewRegistry(), nil, configstore.NewMemoryStore(), fakeCloud{}, retrier)
	shifts := traffic.NewManager(fakeCloud{}, healthySampler{}, alwaysHealthy{},
		reliability.NewBreakerSet(reliability.DefaultBreakerConfig()), retrier,
		traffic.Config{
			WeightSteps:   []int{50, 100},
			SettleDelay:   time.Millisecond,
			MonitorWindow: time.Millisecond,
			PollInterval:  time.Millisecond,
			CanaryWindow:  time.Millisecond,
		})

	if artifacts == nil {
		return New(nil, deps, shifts, nil)
	}
	return New(artifacts, deps, shifts, nil)
}

func deployRequest() DeployRequest {
	return DeployRequest{
		DeploymentID: "deploy-1",
		Strategy:     models.StrategyGradual,
		Components: []models.ComponentDeclaration{
			{
				Name: "api",
				Type: models.DependencyAPI,
				Dependencies: []models.ComponentDependency{
					{
						Name:             "database",
						Type:             models.DependencyDatabase,
						Required:         true,
						ConnectionString: "postgres://db.internal:5432/app",
					},
				},
			},
		},
		Artifacts: []Artifact{
			{Component: "api", Repository: "ghcr.io/acme/api", Tag: "v1.2.0"},
		},
		OldEnv: &models.Environment{
			Name:           "blue",
			ListenerARN:    "arn:aws:elasticloadbalancing:eu-west-1:123456789012:listener/app/web/abc/def",
			TargetGroupARN: "arn:aws:elasticloadbalancing:eu-west-1:123456789012:targetgroup/blue/111",
		},
		NewEnv: &models.Environment{
			Name:           "green",
			ListenerARN:    "arn:aws:elasticloadbalancing:eu-west-1:123456789012:listener/app/web/abc/def",
			TargetGroupARN: "arn:aws:elasticloadbalancing:eu-west-1:123456789012:targetgroup/green/222",
		},
	}
}

func TestDeployFullPipeline(t *testing.T) {
	o := newTestOrchestrator(&fakeArtifacts{known: map[string]bool{
		"ghcr.io/acme/api:v1.2.0": true,
	}})

	result, err := o.Deploy(context.Background(), deployRequest())
	require.NoError(t, err)

	assert.Equal(t, "deploy-1", result.DeploymentID)
	require.NotNil(t, result.Shift)
	assert.True(t, result.Shift.Success)
	assert.Equal(t, models.DistributionAllNew, result.Shift.FinalDistribution)

	require.Contains(t, result.Config, "api")
	assert.Equal(t, "postgres://db.internal:5432/app", result.Config["api"]["DATABASE_DATABASE_URL"])
}

func TestDeployAbortsOnMissingArtifact(t *testing.T) {
	o := newTestOrchestrator(&fakeArtifacts{known: map[string]bool{}})

	result, err := o.Deploy(context.Background(), deployRequest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
	// The traffic phase never ran.
	assert.Nil(t, result.Shift)
}

func TestDeployAbortsOnUnresolvableGraph(t *testing.T) {
	o := newTestOrchestrator(nil)

	req := deployRequest()
	req.Components[0].Dependencies[0].ConnectionString = ""

	result, err := o.Deploy(context.Background(), req)
	require.Error(t, err)
	assert.Nil(t, result.Shift)
}

func TestDeployUnknownStrategy(t *testing.T) {
	o := newTestOrchestrator(nil)

	req := deployRequest()
	req.Strategy = "big-bang"

	_, err := o.Deploy(context.Background(), req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown shift strategy")
}
