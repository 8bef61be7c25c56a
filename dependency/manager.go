// Package dependency builds per-deployment dependency graphs, resolves
// them in safe order, and injects resolved endpoints as configuration.
package dependency

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/shiftsmith/shiftsmith/cloud"
	"github.com/shiftsmith/shiftsmith/configstore"
	"github.com/shiftsmith/shiftsmith/discovery"
	"github.com/shiftsmith/shiftsmith/models"
	"github.com/shiftsmith/shiftsmith/reliability"
)

// Manager owns the dependency graphs of active deployments. Graphs for
// independent deployments are resolved fully in parallel; operations on
// one deployment's graph are serialized by a per-deployment lock.
type Manager struct {
	registry *discovery.Registry
	external discovery.Client
	store    configstore.Store
	prober   cloud.ControlClient
	retrier  reliability.Retrier

	healthTimeout time.Duration

	mu     sync.RWMutex
	graphs map[string]*models.DependencyGraph
	locks  map[string]*sync.Mutex
}

// NewManager creates a dependency manager. external may be nil when no
// outside discovery system is configured; resolution then falls back to
// declared endpoint configuration.
func NewManager(registry *discovery.Registry, external discovery.Client, store configstore.Store, prober cloud.ControlClient, retrier reliability.Retrier) *Manager {
	return &Manager{
		registry:      registry,
		external:      external,
		store:         store,
		prober:        prober,
		retrier:       retrier,
		healthTimeout: 10 * time.Second,
		graphs:        make(map[string]*models.DependencyGraph),
		locks:         make(map[string]*sync.Mutex),
	}
}

// CreateGraph derives a dependency graph from component declarations and
// validates it is acyclic. Edges come from each declaration's explicit
// DependsOn list, plus a name-prefix compatibility shim for declarations
// that still rely on naming conventions (a dependency named
// "api-orders" creates an edge to a component named "api"). A cycle is a
// hard failure and leaves no partially-built graph behind.
func (m *Manager) CreateGraph(deploymentID string, decls []models.ComponentDeclaration) (*models.DependencyGraph, error) {
	components := make(map[string][]*models.ComponentDependency, len(decls))
	edges := make(map[string][]string, len(decls))

	names := make([]string, 0, len(decls))
	for _, decl := range decls {
		names = append(names, decl.Name)
	}

	for _, decl := range decls {
		deps := make([]*models.ComponentDependency, 0, len(decl.Dependencies))
		for i := range decl.Dependencies {
			dep := decl.Dependencies[i]
			dep.OwnerComponent = decl.Name
			dep.Status = models.DependencyPending
			deps = append(deps, &dep)
		}
		components[decl.Name] = deps

		seen := make(map[string]bool)
		for _, target := range decl.DependsOn {
			if target != decl.Name && !seen[target] {
				seen[target] = true
				edges[decl.Name] = append(edges[decl.Name], target)
			}
		}

		// Compatibility shim: infer edges from dependency name prefixes.
		for _, dep := range deps {
			if target, ok := prefixTarget(dep.Name, names); ok && target != decl.Name && !seen[target] {
				seen[target] = true
				edges[decl.Name] = append(edges[decl.Name], target)
			}
		}
	}

	if cycle := findCycle(components, edges); cycle != nil {
		return nil, &CircularDependencyError{Cycle: cycle}
	}

	graph := &models.DependencyGraph{
		DeploymentID:         deploymentID,
		Components:           components,
		Edges:                edges,
		ResolvedDependencies: make(map[string]models.ServiceEndpoint),
		ResolutionStatus:     models.ResolutionPending,
		LastUpdated:          time.Now(),
	}

	m.mu.Lock()
	m.graphs[deploymentID] = graph
	m.locks[deploymentID] = &sync.Mutex{}
	m.mu.Unlock()

	return graph, nil
}

// Graph returns the active graph for a deployment, if any.
func (m *Manager) Graph(deploymentID string) (*models.DependencyGraph, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.graphs[deploymentID]
	return g, ok
}

// DiscardGraph drops a deployment's graph at teardown. Resolution state is
// a cache of the most recent resolution, not authoritative configuration,
// so nothing is persisted.
func (m *Manager) DiscardGraph(deploymentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.graphs, deploymentID)
	delete(m.locks, deploymentID)
}

func (m *Manager) lockFor(deploymentID string) (*sync.Mutex, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.locks[deploymentID]
	return l, ok
}

// ResolveAll resolves every dependency of every component in topological
// order: a component's dependencies are never required before the
// components providing them have been resolved. A required dependency that
// resolves neither via discovery nor via declared configuration aborts the
// whole call.
func (m *Manager) ResolveAll(ctx context.Context, deploymentID string) error {
	graph, ok := m.Graph(deploymentID)
	if !ok {
		return fmt.Errorf("no dependency graph for deployment %s", deploymentID)
	}
	// The graph can be discarded between the lookup and here.
	lock, ok := m.lockFor(deploymentID)
	if !ok {
		return fmt.Errorf("no dependency graph for deployment %s", deploymentID)
	}
	lock.Lock()
	defer lock.Unlock()

	order, err := resolutionOrder(graph)
	if err != nil {
		graph.ResolutionStatus = models.ResolutionFailed
		return err
	}

	log.Printf("Resolving deployment %s in order: %s", deploymentID, strings.Join(order, ", "))

	for _, component := range order {
		for _, dep := range graph.Components[component] {
			if err := m.resolveDependency(ctx, graph, dep); err != nil {
				graph.ResolutionStatus = models.ResolutionFailed
				graph.LastUpdated = time.Now()
				return err
			}
		}
	}

	graph.ResolutionStatus = models.ResolutionResolved
	graph.LastUpdated = time.Now()
	return nil
}

// resolveDependency resolves one dependency: in-process registry first,
// then this deployment's already-resolved map, then external discovery,
// and finally an endpoint synthesized from declared configuration.
func (m *Manager) resolveDependency(ctx context.Context, graph *models.DependencyGraph, dep *models.ComponentDependency) error {
	endpoint, found, err := m.discover(ctx, graph, dep.Name)
	if err != nil {
		log.Printf("Discovery error for %s: %v", dep.Name, err)
	}

	if !found {
		endpoint, found = synthesizeEndpoint(dep)
	}

	if !found {
		dep.Status = models.DependencyFailed
		dep.ErrorMessage = "not found in registry, discovery, or declared configuration"
		if dep.Required {
			return &RequiredDependencyUnresolvedError{
				Component:  dep.OwnerComponent,
				Dependency: dep.Name,
				Reason:     dep.ErrorMessage,
			}
		}
		log.Printf("Optional dependency %s of %s left unresolved", dep.Name, dep.OwnerComponent)
		return nil
	}

	dep.ResolvedEndpoint = &endpoint
	dep.Status = models.DependencyResolved
	dep.ErrorMessage = ""

	graph.ResolvedDependencies[dep.Name] = endpoint
	m.registry.Register(endpoint)

	return nil
}

// discover looks a name up in the registry, the graph's resolved map, and
// the external discovery system, in that order.
func (m *Manager) discover(ctx context.Context, graph *models.DependencyGraph, name string) (models.ServiceEndpoint, bool, error) {
	if ep, ok := m.registry.Lookup(name); ok {
		return ep, true, nil
	}
	if ep, ok := graph.ResolvedDependencies[name]; ok {
		return ep, true, nil
	}
	if m.external == nil {
		return models.ServiceEndpoint{}, false, nil
	}

	var (
		ep    models.ServiceEndpoint
		found bool
	)
	err := m.retrier.Do(ctx, func(ctx context.Context) error {
		var lookupErr error
		ep, found, lookupErr = m.external.Lookup(ctx, name)
		return lookupErr
	})
	if err != nil {
		return models.ServiceEndpoint{}, false, err
	}
	return ep, found, nil
}

// synthesizeEndpoint builds an endpoint from a dependency's declared
// connection string or custom configuration, when discovery found nothing.
func synthesizeEndpoint(dep *models.ComponentDependency) (models.ServiceEndpoint, bool) {
	url := dep.Config["url"]
	if url == "" {
		url = dep.ConnectionString
	}
	if url == "" {
		return models.ServiceEndpoint{}, false
	}

	port := 0
	fmt.Sscanf(dep.Config["port"], "%d", &port)

	protocol := dep.Config["protocol"]
	if protocol == "" {
		protocol = "http"
	}

	return models.ServiceEndpoint{
		Name:            dep.Name,
		URL:             url,
		Port:            port,
		Protocol:        protocol,
		HealthCheckPath: dep.Config["health_check_path"],
		Version:         dep.Config["version"],
	}, true
}

// InjectConfiguration emits the key/value configuration for every resolved
// dependency of one component, persists each entry through the
// configuration store, and returns the full map. This is the only way a
// component learns where its dependencies live.
func (m *Manager) InjectConfiguration(ctx context.Context, deploymentID, component string) (map[string]string, error) {
	graph, ok := m.Graph(deploymentID)
	if !ok {
		return nil, fmt.Errorf("no dependency graph for deployment %s", deploymentID)
	}
	lock, ok := m.lockFor(deploymentID)
	if !ok {
		return nil, fmt.Errorf("no dependency graph for deployment %s", deploymentID)
	}
	lock.Lock()
	defer lock.Unlock()

	return m.injectConfiguration(ctx, graph, deploymentID, component)
}

// injectConfiguration is InjectConfiguration without the per-deployment
// lock, for callers that already hold it.
func (m *Manager) injectConfiguration(ctx context.Context, graph *models.DependencyGraph, deploymentID, component string) (map[string]string, error) {
	deps, ok := graph.Components[component]
	if !ok {
		return nil, fmt.Errorf("component %s not found in deployment %s", component, deploymentID)
	}

	config := make(map[string]string)
	for _, dep := range deps {
		if dep.Status != models.DependencyResolved || dep.ResolvedEndpoint == nil {
			continue
		}

		prefix := fmt.Sprintf("%s_%s", dep.Type, configKey(dep.Name))
		ep := dep.ResolvedEndpoint

		config[prefix+"_URL"] = ep.URL
		if ep.Port > 0 {
			config[prefix+"_PORT"] = fmt.Sprintf("%d", ep.Port)
		}
		if ep.Protocol != "" {
			config[prefix+"_PROTOCOL"] = ep.Protocol
		}
		if ep.HealthCheckPath != "" {
			config[prefix+"_HEALTH_PATH"] = ep.HealthCheckPath
		}
		if dep.ConnectionString != "" {
			config[prefix+"_CONNECTION_STRING"] = dep.ConnectionString
		}
		for k, v := range dep.Config {
			config[prefix+"_"+configKey(k)] = v
		}
	}

	for key, value := range config {
		path := fmt.Sprintf("%s/%s/%s", deploymentID, component, key)
		if err := m.store.Put(ctx, path, value); err != nil {
			return nil, fmt.Errorf("failed to persist %s: %w", path, err)
		}
	}

	return config, nil
}

// RegisterService writes an endpoint to the process-wide registry and, if
// the deployment has an active graph, into its resolved map as well. Last
// write wins. Returns whether the deployment had an active graph.
func (m *Manager) RegisterService(deploymentID string, endpoint models.ServiceEndpoint) bool {
	m.registry.Register(endpoint)

	graph, ok := m.Graph(deploymentID)
	if !ok {
		return false
	}

	lock, ok := m.lockFor(deploymentID)
	if !ok {
		return false
	}
	lock.Lock()
	defer lock.Unlock()

	graph.ResolvedDependencies[endpoint.Name] = endpoint
	graph.LastUpdated = time.Now()
	return true
}

// MonitorHealth performs one health-check round over every resolved
// dependency and aggregates the results. A failed check on a required
// dependency marks its component unhealthy, which marks the deployment
// unhealthy. This is a point-in-time report; callers decide cadence.
func (m *Manager) MonitorHealth(ctx context.Context, deploymentID string) (models.DeploymentHealthReport, error) {
	graph, ok := m.Graph(deploymentID)
	if !ok {
		return models.DeploymentHealthReport{}, fmt.Errorf("no dependency graph for deployment %s", deploymentID)
	}
	lock, ok := m.lockFor(deploymentID)
	if !ok {
		return models.DeploymentHealthReport{}, fmt.Errorf("no dependency graph for deployment %s", deploymentID)
	}
	lock.Lock()
	defer lock.Unlock()

	report := models.DeploymentHealthReport{
		DeploymentID: deploymentID,
		Healthy:      true,
		CheckedAt:    time.Now(),
	}

	names := make([]string, 0, len(graph.Components))
	for name := range graph.Components {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, component := range names {
		ch := models.ComponentHealth{Component: component, Healthy: true}

		g, gctx := errgroup.WithContext(ctx)
		results := make([]models.DependencyHealth, len(graph.Components[component]))

		for i, dep := range graph.Components[component] {
			if dep.Status != models.DependencyResolved || dep.ResolvedEndpoint == nil {
				continue
			}
			i, dep := i, dep
			g.Go(func() error {
				results[i] = m.checkDependency(gctx, dep)
				return nil
			})
		}
		g.Wait()

		for i, dep := range graph.Components[component] {
			if results[i].Name == "" {
				continue
			}
			ch.Dependencies = append(ch.Dependencies, results[i])
			if !results[i].Healthy && dep.Required {
				ch.Healthy = false
			}
		}

		if !ch.Healthy {
			report.Healthy = false
		}
		report.Components = append(report.Components, ch)
	}

	return report, nil
}

// checkDependency probes one dependency's health endpoint.
func (m *Manager) checkDependency(ctx context.Context, dep *models.ComponentDependency) models.DependencyHealth {
	now := time.Now()
	dep.LastHealthCheck = &now

	health := models.DependencyHealth{
		Name:      dep.Name,
		Required:  dep.Required,
		CheckedAt: now,
	}

	url := dep.ResolvedEndpoint.URL + dep.ResolvedEndpoint.HealthCheckPath

	ctx, cancel := context.WithTimeout(ctx, m.healthTimeout)
	defer cancel()

	code, err := m.prober.Probe(ctx, url)
	if err != nil {
		health.Error = err.Error()
		return health
	}
	if code < http.StatusOK || code >= http.StatusMultipleChoices {
		health.Error = fmt.Sprintf("health check returned status %d", code)
		return health
	}

	health.Healthy = true
	return health
}

// UpdateDependency atomically swaps a dependency's endpoint and re-injects
// the owning component's configuration so downstream config stays
// consistent. This is how a dependency can move (e.g. after a failover)
// without tearing down the graph.
func (m *Manager) UpdateDependency(ctx context.Context, deploymentID, component, dependencyName string, newEndpoint models.ServiceEndpoint) error {
	graph, ok := m.Graph(deploymentID)
	if !ok {
		return fmt.Errorf("no dependency graph for deployment %s", deploymentID)
	}

	lock, ok := m.lockFor(deploymentID)
	if !ok {
		return fmt.Errorf("no dependency graph for deployment %s", deploymentID)
	}
	lock.Lock()
	defer lock.Unlock()

	var target *models.ComponentDependency
	for _, dep := range graph.Components[component] {
		if dep.Name == dependencyName {
			target = dep
			break
		}
	}
	if target == nil {
		return fmt.Errorf("dependency %s not found on component %s", dependencyName, component)
	}

	target.Status = models.DependencyUpdating
	target.ResolvedEndpoint = &newEndpoint
	target.Status = models.DependencyResolved
	target.ErrorMessage = ""

	graph.ResolvedDependencies[dependencyName] = newEndpoint
	graph.LastUpdated = time.Now()
	m.registry.Register(newEndpoint)

	if _, err := m.injectConfiguration(ctx, graph, deploymentID, component); err != nil {
		return fmt.Errorf("endpoint updated but re-injection failed: %w", err)
	}

	return nil
}

// configKey normalizes a name into an environment-variable style key.
func configKey(name string) string {
	key := strings.ToUpper(name)
	key = strings.NewReplacer("-", "_", ".", "_", "/", "_", " ", "_").Replace(key)
	return key
}
