package dependency

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shiftsmith/shiftsmith/cloud"
	"github.com/shiftsmith/shiftsmith/configstore"
	"github.com/shiftsmith/shiftsmith/discovery"
	"github.com/shiftsmith/shiftsmith/models"
	"github.com/shiftsmith/shiftsmith/reliability"
)

// fakeProber answers health probes with a fixed status per URL substring.
type fakeProber struct {
	failFor map[string]bool
}

func (p *fakeProber) SetWeights(ctx context.Context, listenerARN string, weights map[string]int32) error {
	return nil
}

func (p *fakeProber) GetMetricSum(ctx context.Context, targetGroupARN string, metric cloud.Metric, window time.Duration) (float64, error) {
	return 0, nil
}

func (p *fakeProber) GetMetricAverage(ctx context.Context, targetGroupARN string, metric cloud.Metric, window time.Duration) (float64, error) {
	return 0, nil
}

func (p *fakeProber) Probe(ctx context.Context, healthURL string) (int, error) {
	for substr, fail := range p.failFor {
		if fail && strings.Contains(healthURL, substr) {
			return 503, nil
		}
	}
	return 200, nil
}

// fakeDiscovery is an external discovery client backed by a map.
type fakeDiscovery struct {
	endpoints map[string]models.ServiceEndpoint
	lookups   int
	err       error
	failures  int
}

func (d *fakeDiscovery) Lookup(ctx context.Context, name string) (models.ServiceEndpoint, bool, error) {
	d.lookups++
	if d.failures > 0 {
		d.failures--
		return models.ServiceEndpoint{}, false, errors.New("discovery unavailable")
	}
	if d.err != nil {
		return models.ServiceEndpoint{}, false, d.err
	}
	ep, ok := d.endpoints[name]
	return ep, ok, nil
}

func (d *fakeDiscovery) Register(ctx context.Context, name string, endpoint models.ServiceEndpoint) error {
	if d.endpoints == nil {
		d.endpoints = make(map[string]models.ServiceEndpoint)
	}
	d.endpoints[name] = endpoint
	return nil
}

func newTestManager(external discovery.Client) (*Manager, *configstore.MemoryStore) {
	store := configstore.NewMemoryStore()
	retrier := reliability.Retrier{MaxAttempts: 2, BaseDelay: time.Millisecond, Exponential: true}
	m := NewManager(discovery.NewRegistry(), external, store, &fakeProber{}, retrier)
	return m, store
}

func webShopComponents() []models.ComponentDeclaration {
	return []models.ComponentDeclaration{
		{
			Name: "frontend",
			Type: models.DependencyFrontend,
			DependsOn: []string{
				"api",
			},
			Dependencies: []models.ComponentDependency{
				{Name: "api", Type: models.DependencyAPI, Required: true},
			},
		},
		{
			Name: "api",
			Type: models.DependencyAPI,
			DependsOn: []string{
				"database",
			},
			Dependencies: []models.ComponentDependency{
				{
					Name:             "database",
					Type:             models.DependencyDatabase,
					Required:         true,
					ConnectionString: "postgres://db.internal:5432/shop",
				},
				{
					Name:     "cache",
					Type:     models.DependencyCache,
					Required: false,
				},
			},
		},
		{
			Name: "database",
			Type: models.DependencyDatabase,
			Dependencies: []models.ComponentDependency{
				{
					Name:             "database",
					Type:             models.DependencyDatabase,
					Required:         true,
					ConnectionString: "postgres://db.internal:5432/shop",
					Config:           map[string]string{"port": "5432", "protocol": "tcp"},
				},
			},
		},
	}
}

func TestCreateGraphBuildsEdges(t *testing.T) {
	m, _ := newTestManager(nil)

	graph, err := m.CreateGraph("deploy-1", webShopComponents())
	require.NoError(t, err)

	assert.Equal(t, "deploy-1", graph.DeploymentID)
	assert.Len(t, graph.Components, 3)
	assert.Equal(t, []string{"api"}, graph.Edges["frontend"])
	assert.Equal(t, []string{"database"}, graph.Edges["api"])
	assert.Equal(t, models.ResolutionPending, graph.ResolutionStatus)

	// Every dependency starts out pending with its owner recorded.
	for _, dep := range graph.Components["api"] {
		assert.Equal(t, "api", dep.OwnerComponent)
		assert.Equal(t, models.DependencyPending, dep.Status)
	}
}

func TestCreateGraphPrefixShim(t *testing.T) {
	m, _ := newTestManager(nil)

	// No explicit DependsOn; the edge comes from the "api-orders" prefix.
	graph, err := m.CreateGraph("deploy-1", []models.ComponentDeclaration{
		{Name: "api", Type: models.DependencyAPI},
		{
			Name: "frontend",
			Type: models.DependencyFrontend,
			Dependencies: []models.ComponentDependency{
				{Name: "api-orders", Type: models.DependencyAPI, Required: true},
			},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"api"}, graph.Edges["frontend"])
}

func TestCreateGraphExactNameDependencyNoEdge(t *testing.T) {
	m, _ := newTestManager(nil)

	// The api component declares a dependency named exactly like the
	// frontend component. That is a coincidence of naming, not a
	// reference, so no edge comes out of the shim. With such an edge the
	// explicit frontend -> api dependency would fabricate a cycle.
	graph, err := m.CreateGraph("deploy-1", []models.ComponentDeclaration{
		{
			Name:      "frontend",
			Type:      models.DependencyFrontend,
			DependsOn: []string{"api"},
		},
		{
			Name: "api",
			Type: models.DependencyAPI,
			Dependencies: []models.ComponentDependency{
				{Name: "frontend", Type: models.DependencyService, Required: false},
			},
		},
	})
	require.NoError(t, err)
	assert.Empty(t, graph.Edges["api"])
	assert.Equal(t, []string{"api"}, graph.Edges["frontend"])
}

func TestCreateGraphRejectsCycle(t *testing.T) {
	m, _ := newTestManager(nil)

	_, err := m.CreateGraph("deploy-1", []models.ComponentDeclaration{
		{Name: "a", DependsOn: []string{"b"}},
		{Name: "b", DependsOn: []string{"c"}},
		{Name: "c", DependsOn: []string{"a"}},
	})

	var circular *CircularDependencyError
	require.ErrorAs(t, err, &circular)
	assert.Len(t, circular.Cycle, 4) // a -> b -> c -> a

	// A rejected graph leaves nothing behind.
	_, ok := m.Graph("deploy-1")
	assert.False(t, ok)
}

func TestCreateGraphIgnoresSelfAndDuplicateEdges(t *testing.T) {
	m, _ := newTestManager(nil)

	graph, err := m.CreateGraph("deploy-1", []models.ComponentDeclaration{
		{Name: "api", DependsOn: []string{"api", "db", "db"}},
		{Name: "db"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"db"}, graph.Edges["api"])
}

func TestResolveAllTopologicalOrder(t *testing.T) {
	external := &fakeDiscovery{endpoints: map[string]models.ServiceEndpoint{
		"api":   {Name: "api", URL: "http://api.internal", Port: 8080, Protocol: "http"},
		"cache": {Name: "cache", URL: "redis://cache.internal", Port: 6379, Protocol: "tcp"},
	}}
	m, _ := newTestManager(external)

	_, err := m.CreateGraph("deploy-1", webShopComponents())
	require.NoError(t, err)

	require.NoError(t, m.ResolveAll(context.Background(), "deploy-1"))

	graph, _ := m.Graph("deploy-1")
	assert.Equal(t, models.ResolutionResolved, graph.ResolutionStatus)
	assert.Contains(t, graph.ResolvedDependencies, "database")
	assert.Contains(t, graph.ResolvedDependencies, "api")
	assert.Contains(t, graph.ResolvedDependencies, "cache")

	for _, component := range []string{"frontend", "api", "database"} {
		for _, dep := range graph.Components[component] {
			assert.Equal(t, models.DependencyResolved, dep.Status, "%s/%s", component, dep.Name)
			assert.NotNil(t, dep.ResolvedEndpoint)
		}
	}
}

func TestResolveAllSynthesizesFromConnectionString(t *testing.T) {
	m, _ := newTestManager(nil)

	_, err := m.CreateGraph("deploy-1", []models.ComponentDeclaration{
		{
			Name: "worker",
			Dependencies: []models.ComponentDependency{
				{
					Name:             "queue",
					Type:             models.DependencyQueue,
					Required:         true,
					ConnectionString: "amqp://mq.internal:5672",
					Config:           map[string]string{"port": "5672", "protocol": "amqp"},
				},
			},
		},
	})
	require.NoError(t, err)
	require.NoError(t, m.ResolveAll(context.Background(), "deploy-1"))

	graph, _ := m.Graph("deploy-1")
	ep := graph.ResolvedDependencies["queue"]
	assert.Equal(t, "amqp://mq.internal:5672", ep.URL)
	assert.Equal(t, 5672, ep.Port)
	assert.Equal(t, "amqp", ep.Protocol)
}

func TestResolveAllRequiredDependencyAborts(t *testing.T) {
	m, _ := newTestManager(nil)

	_, err := m.CreateGraph("deploy-1", []models.ComponentDeclaration{
		{
			Name: "api",
			Dependencies: []models.ComponentDependency{
				{Name: "missing-db", Type: models.DependencyDatabase, Required: true},
			},
		},
	})
	require.NoError(t, err)

	err = m.ResolveAll(context.Background(), "deploy-1")
	var unresolved *RequiredDependencyUnresolvedError
	require.ErrorAs(t, err, &unresolved)
	assert.Equal(t, "api", unresolved.Component)
	assert.Equal(t, "missing-db", unresolved.Dependency)

	graph, _ := m.Graph("deploy-1")
	assert.Equal(t, models.ResolutionFailed, graph.ResolutionStatus)
}

func TestResolveAllOptionalDependencyContinues(t *testing.T) {
	m, _ := newTestManager(nil)

	_, err := m.CreateGraph("deploy-1", []models.ComponentDeclaration{
		{
			Name: "api",
			Dependencies: []models.ComponentDependency{
				{Name: "metrics-sidecar", Type: models.DependencyService, Required: false},
				{
					Name:             "database",
					Type:             models.DependencyDatabase,
					Required:         true,
					ConnectionString: "postgres://db:5432/app",
				},
			},
		},
	})
	require.NoError(t, err)
	require.NoError(t, m.ResolveAll(context.Background(), "deploy-1"))

	graph, _ := m.Graph("deploy-1")
	assert.Equal(t, models.ResolutionResolved, graph.ResolutionStatus)
	assert.NotContains(t, graph.ResolvedDependencies, "metrics-sidecar")

	for _, dep := range graph.Components["api"] {
		if dep.Name == "metrics-sidecar" {
			assert.Equal(t, models.DependencyFailed, dep.Status)
		}
	}
}

func TestResolveAllRetriesExternalDiscovery(t *testing.T) {
	external := &fakeDiscovery{
		endpoints: map[string]models.ServiceEndpoint{
			"api": {Name: "api", URL: "http://api.internal"},
		},
		failures: 1, // first lookup fails, retry succeeds
	}
	m, _ := newTestManager(external)

	_, err := m.CreateGraph("deploy-1", []models.ComponentDeclaration{
		{
			Name: "frontend",
			Dependencies: []models.ComponentDependency{
				{Name: "api", Type: models.DependencyAPI, Required: true},
			},
		},
	})
	require.NoError(t, err)
	require.NoError(t, m.ResolveAll(context.Background(), "deploy-1"))
	assert.Equal(t, 2, external.lookups)
}

func TestResolveAllUnknownDeployment(t *testing.T) {
	m, _ := newTestManager(nil)
	err := m.ResolveAll(context.Background(), "nope")
	assert.Error(t, err)
}

func TestInjectConfiguration(t *testing.T) {
	external := &fakeDiscovery{endpoints: map[string]models.ServiceEndpoint{
		"api":   {Name: "api", URL: "http://api.internal", Port: 8080},
		"cache": {Name: "cache", URL: "redis://cache.internal"},
	}}
	m, store := newTestManager(external)

	_, err := m.CreateGraph("deploy-1", webShopComponents())
	require.NoError(t, err)
	require.NoError(t, m.ResolveAll(context.Background(), "deploy-1"))

	cfg, err := m.InjectConfiguration(context.Background(), "deploy-1", "api")
	require.NoError(t, err)

	assert.Equal(t, "postgres://db.internal:5432/shop", cfg["DATABASE_DATABASE_URL"])
	assert.Equal(t, "postgres://db.internal:5432/shop", cfg["DATABASE_DATABASE_CONNECTION_STRING"])

	// Every emitted key is persisted under deployment/component/key.
	for key, value := range cfg {
		stored, ok := store.Get("deploy-1/api/" + key)
		require.True(t, ok, "missing %s", key)
		assert.Equal(t, value, stored)
	}
}

func TestInjectConfigurationSkipsUnresolved(t *testing.T) {
	m, store := newTestManager(nil)

	_, err := m.CreateGraph("deploy-1", []models.ComponentDeclaration{
		{
			Name: "api",
			Dependencies: []models.ComponentDependency{
				{Name: "cache", Type: models.DependencyCache, Required: false},
			},
		},
	})
	require.NoError(t, err)
	require.NoError(t, m.ResolveAll(context.Background(), "deploy-1"))

	cfg, err := m.InjectConfiguration(context.Background(), "deploy-1", "api")
	require.NoError(t, err)
	assert.Empty(t, cfg)
	assert.Equal(t, 0, store.Len())
}

func TestInjectConfigurationUnknownComponent(t *testing.T) {
	m, _ := newTestManager(nil)
	_, err := m.CreateGraph("deploy-1", webShopComponents())
	require.NoError(t, err)

	_, err = m.InjectConfiguration(context.Background(), "deploy-1", "nope")
	assert.Error(t, err)
}

func TestRegisterServiceUpdatesGraph(t *testing.T) {
	m, _ := newTestManager(nil)

	_, err := m.CreateGraph("deploy-1", webShopComponents())
	require.NoError(t, err)

	ep := models.ServiceEndpoint{Name: "api", URL: "http://api-green.internal", Port: 8080}
	assert.True(t, m.RegisterService("deploy-1", ep))

	graph, _ := m.Graph("deploy-1")
	assert.Equal(t, ep, graph.ResolvedDependencies["api"])

	// Without an active graph the endpoint only lands in the registry.
	assert.False(t, m.RegisterService("deploy-2", ep))
}

func TestUpdateDependencyReinjects(t *testing.T) {
	external := &fakeDiscovery{endpoints: map[string]models.ServiceEndpoint{
		"api":   {Name: "api", URL: "http://api-blue.internal", Port: 8080},
		"cache": {Name: "cache", URL: "redis://cache.internal"},
	}}
	m, store := newTestManager(external)

	_, err := m.CreateGraph("deploy-1", webShopComponents())
	require.NoError(t, err)
	require.NoError(t, m.ResolveAll(context.Background(), "deploy-1"))
	_, err = m.InjectConfiguration(context.Background(), "deploy-1", "frontend")
	require.NoError(t, err)

	moved := models.ServiceEndpoint{Name: "api", URL: "http://api-green.internal", Port: 8080, Protocol: "http"}
	require.NoError(t, m.UpdateDependency(context.Background(), "deploy-1", "frontend", "api", moved))

	// The store reflects the new endpoint after re-injection.
	stored, ok := store.Get("deploy-1/frontend/API_API_URL")
	require.True(t, ok)
	assert.Equal(t, "http://api-green.internal", stored)

	graph, _ := m.Graph("deploy-1")
	assert.Equal(t, moved, graph.ResolvedDependencies["api"])
}

func TestUpdateDependencyUnknownDependency(t *testing.T) {
	m, _ := newTestManager(nil)
	_, err := m.CreateGraph("deploy-1", webShopComponents())
	require.NoError(t, err)

	err = m.UpdateDependency(context.Background(), "deploy-1", "frontend", "nope", models.ServiceEndpoint{})
	assert.Error(t, err)
}

func TestMonitorHealth(t *testing.T) {
	external := &fakeDiscovery{endpoints: map[string]models.ServiceEndpoint{
		"api":   {Name: "api", URL: "http://api.internal", HealthCheckPath: "/health"},
		"cache": {Name: "cache", URL: "http://cache.internal", HealthCheckPath: "/ping"},
	}}
	store := configstore.NewMemoryStore()
	prober := &fakeProber{failFor: map[string]bool{"cache.internal": true}}
	retrier := reliability.Retrier{MaxAttempts: 1}
	m := NewManager(discovery.NewRegistry(), external, store, prober, retrier)

	_, err := m.CreateGraph("deploy-1", webShopComponents())
	require.NoError(t, err)
	require.NoError(t, m.ResolveAll(context.Background(), "deploy-1"))

	report, err := m.MonitorHealth(context.Background(), "deploy-1")
	require.NoError(t, err)

	assert.Equal(t, "deploy-1", report.DeploymentID)
	// Components come back in sorted order.
	require.Len(t, report.Components, 3)
	assert.Equal(t, "api", report.Components[0].Component)
	assert.Equal(t, "database", report.Components[1].Component)
	assert.Equal(t, "frontend", report.Components[2].Component)

	// The cache dependency fails its probe, but it is optional, so the
	// deployment stays healthy.
	assert.True(t, report.Healthy)
	for _, dep := range report.Components[0].Dependencies {
		if dep.Name == "cache" {
			assert.False(t, dep.Healthy)
			assert.Contains(t, dep.Error, "503")
		}
	}
}

func TestMonitorHealthRequiredFailureUnhealthy(t *testing.T) {
	external := &fakeDiscovery{endpoints: map[string]models.ServiceEndpoint{
		"api": {Name: "api", URL: "http://api.internal", HealthCheckPath: "/health"},
	}}
	store := configstore.NewMemoryStore()
	prober := &fakeProber{failFor: map[string]bool{"api.internal": true}}
	m := NewManager(discovery.NewRegistry(), external, store, prober, reliability.Retrier{MaxAttempts: 1})

	_, err := m.CreateGraph("deploy-1", []models.ComponentDeclaration{
		{
			Name: "frontend",
			Dependencies: []models.ComponentDependency{
				{Name: "api", Type: models.DependencyAPI, Required: true},
			},
		},
	})
	require.NoError(t, err)
	require.NoError(t, m.ResolveAll(context.Background(), "deploy-1"))

	report, err := m.MonitorHealth(context.Background(), "deploy-1")
	require.NoError(t, err)
	assert.False(t, report.Healthy)
	assert.False(t, report.Components[0].Healthy)
}

func TestConcurrentResolveInjectMonitor(t *testing.T) {
	external := &fakeDiscovery{endpoints: map[string]models.ServiceEndpoint{
		"api":   {Name: "api", URL: "http://api.internal", Port: 8080},
		"cache": {Name: "cache", URL: "redis://cache.internal"},
	}}
	m, _ := newTestManager(external)

	_, err := m.CreateGraph("deploy-1", webShopComponents())
	require.NoError(t, err)
	require.NoError(t, m.ResolveAll(context.Background(), "deploy-1"))

	// Resolution, injection, and health monitoring all mutate or read
	// per-dependency state; the per-deployment lock serializes them.
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(3)
		go func() {
			defer wg.Done()
			assert.NoError(t, m.ResolveAll(context.Background(), "deploy-1"))
		}()
		go func() {
			defer wg.Done()
			_, err := m.InjectConfiguration(context.Background(), "deploy-1", "api")
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := m.MonitorHealth(context.Background(), "deploy-1")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
}

func TestOperationsAfterDiscard(t *testing.T) {
	m, _ := newTestManager(nil)
	_, err := m.CreateGraph("deploy-1", webShopComponents())
	require.NoError(t, err)
	m.DiscardGraph("deploy-1")

	assert.Error(t, m.ResolveAll(context.Background(), "deploy-1"))

	_, err = m.InjectConfiguration(context.Background(), "deploy-1", "api")
	assert.Error(t, err)

	_, err = m.MonitorHealth(context.Background(), "deploy-1")
	assert.Error(t, err)

	assert.False(t, m.RegisterService("deploy-1", models.ServiceEndpoint{Name: "api"}))
	assert.Error(t, m.UpdateDependency(context.Background(), "deploy-1", "frontend", "api", models.ServiceEndpoint{}))
}

func TestDiscardGraph(t *testing.T) {
	m, _ := newTestManager(nil)
	_, err := m.CreateGraph("deploy-1", webShopComponents())
	require.NoError(t, err)

	m.DiscardGraph("deploy-1")
	_, ok := m.Graph("deploy-1")
	assert.False(t, ok)
}
