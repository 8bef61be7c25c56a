package models

import "time"

// DependencyType classifies what kind of resource a component needs.
type DependencyType string

const (
	DependencyDatabase DependencyType = "DATABASE"
	DependencyAPI      DependencyType = "API"
	DependencyFrontend DependencyType = "FRONTEND"
	DependencyCache    DependencyType = "CACHE"
	DependencyQueue    DependencyType = "QUEUE"
	DependencyStorage  DependencyType = "STORAGE"
	DependencyService  DependencyType = "SERVICE"
)

// DependencyStatus is the resolution state of one dependency.
type DependencyStatus string

const (
	DependencyPending  DependencyStatus = "PENDING"
	DependencyResolved DependencyStatus = "RESOLVED"
	DependencyFailed   DependencyStatus = "FAILED"
	DependencyUpdating DependencyStatus = "UPDATING"
)

// ServiceEndpoint is a discovered or declared network target. Immutable
// value object; registered endpoints replace earlier ones by name.
type ServiceEndpoint struct {
	Name            string `json:"name" yaml:"name"`
	URL             string `json:"url" yaml:"url"`
	Port            int    `json:"port" yaml:"port"`
	Protocol        string `json:"protocol" yaml:"protocol"`
	HealthCheckPath string `json:"health_check_path,omitempty" yaml:"health_check_path,omitempty"`
	Version         string `json:"version,omitempty" yaml:"version,omitempty"`
}

// ComponentDependency is a named requirement of one component on another
// resource. Mutated in place by the resolver and by health monitoring.
type ComponentDependency struct {
	Name             string            `json:"name" yaml:"name"`
	Type             DependencyType    `json:"type" yaml:"type"`
	OwnerComponent   string            `json:"owner_component" yaml:"owner_component,omitempty"`
	Required         bool              `json:"required" yaml:"required"`
	ResolvedEndpoint *ServiceEndpoint  `json:"resolved_endpoint,omitempty" yaml:"resolved_endpoint,omitempty"`
	ConnectionString string            `json:"connection_string,omitempty" yaml:"connection_string,omitempty"`
	Config           map[string]string `json:"config,omitempty" yaml:"config,omitempty"`
	Status           DependencyStatus  `json:"status" yaml:"status,omitempty"`
	LastHealthCheck  *time.Time        `json:"last_health_check,omitempty" yaml:"last_health_check,omitempty"`
	ErrorMessage     string            `json:"error_message,omitempty" yaml:"error_message,omitempty"`
}

// ComponentDeclaration is the per-component input to graph construction.
// DependsOn is the explicit edge list; Dependencies lists the concrete
// resources the component needs.
type ComponentDeclaration struct {
	Name         string                `json:"name" yaml:"name"`
	Type         DependencyType        `json:"type" yaml:"type"`
	DependsOn    []string              `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
	Dependencies []ComponentDependency `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
}

// ResolutionStatus is the overall state of a graph's resolution.
type ResolutionStatus string

const (
	ResolutionPending  ResolutionStatus = "pending"
	ResolutionResolved ResolutionStatus = "resolved"
	ResolutionFailed   ResolutionStatus = "failed"
)

// DependencyGraph holds a deployment's components, their dependencies, and
// everything resolved so far. It lives for the deployment's duration and is
// discarded afterwards; resolution state is a cache, not authoritative
// configuration.
type DependencyGraph struct {
	DeploymentID         string                           `json:"deployment_id"`
	Components           map[string][]*ComponentDependency `json:"components"`
	Edges                map[string][]string              `json:"edges"`
	ResolvedDependencies map[string]ServiceEndpoint       `json:"resolved_dependencies"`
	ResolutionStatus     ResolutionStatus                 `json:"resolution_status"`
	LastUpdated          time.Time                        `json:"last_updated"`
}

// DependencyHealth is the point-in-time health of one dependency.
type DependencyHealth struct {
	Name      string    `json:"name" yaml:"name"`
	Healthy   bool      `json:"healthy" yaml:"healthy"`
	Required  bool      `json:"required" yaml:"required"`
	CheckedAt time.Time `json:"checked_at" yaml:"checked_at"`
	Error     string    `json:"error,omitempty" yaml:"error,omitempty"`
}

// ComponentHealth aggregates dependency health for one component.
type ComponentHealth struct {
	Component    string             `json:"component" yaml:"component"`
	Healthy      bool               `json:"healthy" yaml:"healthy"`
	Dependencies []DependencyHealth `json:"dependencies" yaml:"dependencies"`
}

// DeploymentHealthReport is the aggregate produced by MonitorHealth.
type DeploymentHealthReport struct {
	DeploymentID string            `json:"deployment_id" yaml:"deployment_id"`
	Healthy      bool              `json:"healthy" yaml:"healthy"`
	Components   []ComponentHealth `json:"components" yaml:"components"`
	CheckedAt    time.Time         `json:"checked_at" yaml:"checked_at"`
}
