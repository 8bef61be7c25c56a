// Package orchestrator sequences a full deployment: artifact preflight,
// dependency resolution, configuration injection, traffic shift, and
// finalization.
package orchestrator

import (
	"context"
	"fmt"
	"log"

	"github.com/shiftsmith/shiftsmith/db"
	"github.com/shiftsmith/shiftsmith/dependency"
	"github.com/shiftsmith/shiftsmith/models"
	"github.com/shiftsmith/shiftsmith/registry"
	"github.com/shiftsmith/shiftsmith/traffic"
)

// Artifact identifies one already-built component image.
type Artifact struct {
	Component  string `json:"component" yaml:"component"`
	Repository string `json:"repository" yaml:"repository"`
	Tag        string `json:"tag" yaml:"tag"`
}

// DeployRequest describes one deployment end to end.
type DeployRequest struct {
	DeploymentID  string                        `json:"deployment_id" yaml:"deployment_id"`
	Components    []models.ComponentDeclaration `json:"components" yaml:"components"`
	Artifacts     []Artifact                    `json:"artifacts,omitempty" yaml:"artifacts,omitempty"`
	Strategy      models.ShiftStrategy          `json:"strategy" yaml:"strategy"`
	OldEnv        *models.Environment           `json:"old_env,omitempty" yaml:"old_env,omitempty"`
	NewEnv        *models.Environment           `json:"new_env" yaml:"new_env"`
	CanaryPercent int                           `json:"canary_percent,omitempty" yaml:"canary_percent,omitempty"`
	TriggeredBy   string                        `json:"triggered_by,omitempty" yaml:"triggered_by,omitempty"`
}

// DeployResult is the outcome of a full deployment.
type DeployResult struct {
	DeploymentID string                     `json:"deployment_id"`
	Shift        *models.TrafficShiftResult `json:"shift,omitempty"`
	Config       map[string]map[string]string `json:"config,omitempty"`
}

// Orchestrator is a consumer of the core: it owns no shift or resolution
// logic of its own, only the sequencing between them.
type Orchestrator struct {
	artifacts    registry.ArtifactChecker
	dependencies *dependency.Manager
	shifts       *traffic.Manager
	database     *db.Database
}

// New creates an orchestrator. artifacts may be nil to skip preflight.
func New(artifacts registry.ArtifactChecker, dependencies *dependency.Manager, shifts *traffic.Manager, database *db.Database) *Orchestrator {
	return &Orchestrator{
		artifacts:    artifacts,
		dependencies: dependencies,
		shifts:       shifts,
		database:     database,
	}
}

// Deploy runs the deployment pipeline. Failures abort in order: a missing
// artifact or an unresolvable graph never reaches the traffic phase, and a
// failed shift carries its rollback state through to the caller.
func (o *Orchestrator) Deploy(ctx context.Context, req DeployRequest) (*DeployResult, error) {
	result := &DeployResult{DeploymentID: req.DeploymentID}

	if o.artifacts != nil {
		for _, artifact := range req.Artifacts {
			exists, err := o.artifacts.TagExists(ctx, artifact.Repository, artifact.Tag)
			if err != nil {
				return result, fmt.Errorf("artifact preflight for %s failed: %w", artifact.Component, err)
			}
			if !exists {
				return result, fmt.Errorf("artifact %s:%s for component %s not found", artifact.Repository, artifact.Tag, artifact.Component)
			}
		}
	}

	if _, err := o.dependencies.CreateGraph(req.DeploymentID, req.Components); err != nil {
		return result, err
	}
	if err := o.dependencies.ResolveAll(ctx, req.DeploymentID); err != nil {
		return result, err
	}

	result.Config = make(map[string]map[string]string, len(req.Components))
	for _, decl := range req.Components {
		cfg, err := o.dependencies.InjectConfiguration(ctx, req.DeploymentID, decl.Name)
		if err != nil {
			return result, err
		}
		result.Config[decl.Name] = cfg
	}

	shift, err := o.runShift(ctx, req)
	result.Shift = shift
	if shift != nil && o.database != nil {
		oldName := ""
		if req.OldEnv != nil {
			oldName = req.OldEnv.Name
		}
		if saveErr := o.database.SaveShift(shift, oldName, req.NewEnv.Name, req.TriggeredBy); saveErr != nil {
			log.Printf("Failed to persist shift %s: %v", shift.ShiftID, saveErr)
		}
	}
	if err != nil {
		return result, err
	}

	log.Printf("Deployment %s finalized: traffic on %s", req.DeploymentID, req.NewEnv.Name)
	return result, nil
}

func (o *Orchestrator) runShift(ctx context.Context, req DeployRequest) (*models.TrafficShiftResult, error) {
	switch req.Strategy {
	case models.StrategyImmediate:
		return o.shifts.ImmediateSwitch(ctx, req.OldEnv, req.NewEnv)
	case models.StrategyGradual:
		return o.shifts.GradualShift(ctx, req.OldEnv, req.NewEnv)
	case models.StrategyCanary:
		return o.shifts.Canary(ctx, req.OldEnv, req.NewEnv, req.CanaryPercent)
	default:
		return nil, fmt.Errorf("unknown shift strategy %q", req.Strategy)
	}
}
