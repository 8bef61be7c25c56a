package models

import "time"

// StartShiftRequest starts a traffic shift between two environments.
// OldEnv is optional for first deployments (nothing to shift away from).
type StartShiftRequest struct {
	Strategy      ShiftStrategy `json:"strategy" yaml:"strategy" binding:"required"`
	OldEnv        *Environment  `json:"old_env,omitempty" yaml:"old_env,omitempty"`
	NewEnv        *Environment  `json:"new_env" yaml:"new_env" binding:"required"`
	CanaryPercent int           `json:"canary_percent,omitempty" yaml:"canary_percent,omitempty"`
	TriggeredBy   string        `json:"triggered_by,omitempty" yaml:"triggered_by,omitempty"`
}

// StartShiftResponse acknowledges an accepted shift.
type StartShiftResponse struct {
	ShiftID   string        `json:"shift_id"`
	Strategy  ShiftStrategy `json:"strategy"`
	State     ShiftState    `json:"state"`
	StartedAt time.Time     `json:"started_at"`
}

// RollbackRequest sends all traffic back to the old environment.
type RollbackRequest struct {
	OldEnv *Environment `json:"old_env" yaml:"old_env" binding:"required"`
	NewEnv *Environment `json:"new_env" yaml:"new_env" binding:"required"`
}

// ResolveRequest builds and resolves a dependency graph for a deployment.
type ResolveRequest struct {
	Components []ComponentDeclaration `json:"components" yaml:"components" binding:"required"`
}

// ResolveResponse reports the outcome of a resolution.
type ResolveResponse struct {
	DeploymentID string           `json:"deployment_id" yaml:"deployment_id"`
	Status       ResolutionStatus `json:"status" yaml:"status"`
	Resolved     int              `json:"resolved" yaml:"resolved"`
	ResolvedAt   time.Time        `json:"resolved_at" yaml:"resolved_at"`
}

// InjectResponse carries the configuration emitted for one component.
type InjectResponse struct {
	DeploymentID string            `json:"deployment_id" yaml:"deployment_id"`
	Component    string            `json:"component" yaml:"component"`
	Config       map[string]string `json:"config" yaml:"config"`
}

// RegisterServiceRequest registers a service endpoint for a deployment.
type RegisterServiceRequest struct {
	Endpoint ServiceEndpoint `json:"endpoint" binding:"required"`
}

// HealthResponse is the daemon's own health report.
type HealthResponse struct {
	Status             string `json:"status"`
	Version            string `json:"version"`
	DatabaseAccessible bool   `json:"database_accessible"`
}

// ErrorResponse is the uniform error body returned by the API.
type ErrorResponse struct {
	Error   string    `json:"error"`
	Details string    `json:"details,omitempty"`
	Time    time.Time `json:"time"`
}
