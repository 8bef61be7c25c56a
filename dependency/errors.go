package dependency

import (
	"fmt"
	"strings"
)

// CircularDependencyError means the component declarations form a cycle.
// This is a configuration defect, never retried.
type CircularDependencyError struct {
	Cycle []string
}

// Error implements the error interface
func (e *CircularDependencyError) Error() string {
	return fmt.Sprintf("circular dependency detected: %s", strings.Join(e.Cycle, " -> "))
}

// UnresolvableGraphError means topological ordering could not cover every
// component. CreateGraph already rejects cycles, so hitting this indicates
// an inconsistent graph; like cycles, it is fatal and not retryable.
type UnresolvableGraphError struct {
	Ordered    int
	Components int
}

// Error implements the error interface
func (e *UnresolvableGraphError) Error() string {
	return fmt.Sprintf("unresolvable dependency graph: ordered %d of %d components", e.Ordered, e.Components)
}

// RequiredDependencyUnresolvedError aborts resolution for a deployment.
// Partial resolution is never left standing as "resolved enough".
type RequiredDependencyUnresolvedError struct {
	Component  string
	Dependency string
	Reason     string
}

// Error implements the error interface
func (e *RequiredDependencyUnresolvedError) Error() string {
	msg := fmt.Sprintf("required dependency %s of component %s could not be resolved", e.Dependency, e.Component)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}
