package engine

import (
	"encoding/json"
	"time"
)

// DeploymentUnit is one independently provisionable bundle of resource
// specifications. Units are constructed once per run from configuration and
// are immutable thereafter.
type DeploymentUnit struct {
	// Name uniquely identifies the unit across the whole deployment.
	Name string `json:"name"`

	// Location tells the provisioning driver where to materialize this unit
	// (a work directory or remote workspace reference). The orchestrator
	// never interprets it.
	Location string `json:"location"`

	// Dependencies lists unit names that must successfully complete before
	// this unit may start.
	Dependencies []string `json:"dependencies,omitempty"`

	// ResourceSpecs are provider-specific payloads passed through unmodified.
	ResourceSpecs []ResourceSpec `json:"resource_specs,omitempty"`

	// Tags are merged into the unit's runtime configuration.
	Tags map[string]string `json:"tags,omitempty"`

	// CredentialRef optionally names a role or identity to assume before
	// operating on this unit.
	CredentialRef string `json:"credential_ref,omitempty"`
}

// ResourceSpec is an opaque, provider-specific resource payload.
type ResourceSpec struct {
	// Type is the provider resource type (e.g., "aws:ec2:Vpc").
	Type string `json:"type"`

	// Name is the resource name within the unit.
	Name string `json:"name"`

	// Config is the provider-specific configuration, passed through as-is.
	Config json.RawMessage `json:"config,omitempty"`

	// Region is the provider region, if regional.
	Region string `json:"region,omitempty"`
}

// Operation is the provisioning operation applied to a unit during a run.
type Operation string

const (
	// OperationApply creates or updates a unit's resources.
	OperationApply Operation = "apply"

	// OperationDestroy tears down a unit's resources.
	OperationDestroy Operation = "destroy"

	// OperationPreview computes the changes an apply would make.
	OperationPreview Operation = "preview"

	// OperationRefresh reconciles recorded state with real resources.
	OperationRefresh Operation = "refresh"
)

// RunState is the orchestrator's position in its per-run state machine.
type RunState string

const (
	// RunStateValidating is the pre-flight phase: unit list and credential checks.
	RunStateValidating RunState = "validating"

	// RunStateResolving is the dependency resolution phase.
	RunStateResolving RunState = "resolving"

	// RunStateExecuting is the group execution phase.
	RunStateExecuting RunState = "executing"

	// RunStateCompleted means every issued unit settled and no abort occurred.
	RunStateCompleted RunState = "completed"

	// RunStateRolledBack means a failure triggered rollback of prior successes.
	RunStateRolledBack RunState = "rolled_back"

	// RunStateAborted means execution stopped before all groups were issued.
	RunStateAborted RunState = "aborted"
)

// DeploymentResult is the outcome of one unit's operation.
type DeploymentResult struct {
	// UnitName is the deployment unit this result belongs to.
	UnitName string `json:"unit_name"`

	// Operation is the provisioning operation that produced this result.
	Operation Operation `json:"operation"`

	// Success indicates whether the operation succeeded.
	Success bool `json:"success"`

	// Outputs are the unit's stack outputs. Present only on a successful apply.
	Outputs map[string]string `json:"outputs,omitempty"`

	// ChangeSummary describes pending changes. Present only for previews.
	ChangeSummary *ChangeSummary `json:"change_summary,omitempty"`

	// Error is the final classified error. Present only on failure.
	Error *DeploymentError `json:"error,omitempty"`

	// StartedAt is when the unit's operation was first attempted.
	StartedAt time.Time `json:"started_at"`

	// CompletedAt is when the unit's operation settled.
	CompletedAt time.Time `json:"completed_at"`

	// Duration is the total wall-clock time including retries and backoff.
	Duration time.Duration `json:"duration"`

	// Retries is the number of retry attempts made after the first attempt.
	Retries int `json:"retries"`
}

// ChangeSummary aggregates the changes a preview reports for one unit.
type ChangeSummary struct {
	// Create is the number of resources that would be created.
	Create int `json:"create"`

	// Update is the number of resources that would be updated.
	Update int `json:"update"`

	// Delete is the number of resources that would be deleted.
	Delete int `json:"delete"`

	// Same is the number of resources left untouched.
	Same int `json:"same"`
}

// RollbackResult records the outcome of destroying one previously-successful
// unit during rollback. Rollback outcomes never overwrite the original
// DeploymentResult success flags.
type RollbackResult struct {
	// UnitName is the unit that was rolled back.
	UnitName string `json:"unit_name"`

	// Success indicates whether the destroy succeeded.
	Success bool `json:"success"`

	// Error is the destroy error, if any. Rollback errors are recorded,
	// never escalated.
	Error *DeploymentError `json:"error,omitempty"`

	// Duration is how long the destroy took.
	Duration time.Duration `json:"duration"`
}

// DeploymentSummary is the whole-run outcome returned by DeployAll,
// DestroyAll, and PreviewAll regardless of how far execution progressed.
type DeploymentSummary struct {
	// RunID uniquely identifies this orchestration run.
	RunID string `json:"run_id"`

	// Operation is the run-level operation (apply, destroy, preview).
	Operation Operation `json:"operation"`

	// State is the terminal run state (completed, rolled_back, aborted).
	State RunState `json:"state"`

	// TotalUnits is the number of units in the resolved unit set.
	TotalUnits int `json:"total_units"`

	// SuccessfulUnits is the number of units whose operation succeeded.
	SuccessfulUnits int `json:"successful_units"`

	// FailedUnits is the number of units whose operation failed.
	FailedUnits int `json:"failed_units"`

	// Results holds every per-unit outcome obtained before termination,
	// in completion order.
	Results []DeploymentResult `json:"results"`

	// Rollback holds rollback outcomes when RollbackOnFailure triggered,
	// in rollback execution order (reverse completion order).
	Rollback []RollbackResult `json:"rollback,omitempty"`

	// StartedAt is when the run began.
	StartedAt time.Time `json:"started_at"`

	// Duration is the total run duration.
	Duration time.Duration `json:"duration"`
}

// ResultFor returns the result for the named unit, or nil if the unit never
// produced one (for example, a group after the run aborted).
func (s *DeploymentSummary) ResultFor(name string) *DeploymentResult {
	for i := range s.Results {
		if s.Results[i].UnitName == name {
			return &s.Results[i]
		}
	}
	return nil
}

// DeployOptions controls a single orchestration run.
type DeployOptions struct {
	// Parallel executes units within a group concurrently. Default true.
	Parallel bool `json:"parallel"`

	// ContinueOnFailure proceeds to later groups after a group had failures.
	// Default true. Later units may then operate against a dependency that
	// never completed; this is a deliberate policy flag.
	ContinueOnFailure bool `json:"continue_on_failure"`

	// RollbackOnFailure destroys all previously-successful units, in reverse
	// completion order, when a group has failures. Default false.
	RollbackOnFailure bool `json:"rollback_on_failure"`

	// DryRun substitutes preview for apply while keeping the same group
	// structure and pre-flight validation.
	DryRun bool `json:"dry_run"`

	// Refresh runs the provisioning driver's refresh before each apply.
	Refresh bool `json:"refresh"`

	// MaxParallel caps concurrent units within a group. Zero means no cap
	// beyond the group size.
	MaxParallel int `json:"max_parallel,omitempty"`

	// Recovery configures the per-unit retry policy.
	Recovery RecoveryOptions `json:"recovery"`
}

// DefaultDeployOptions returns the documented option defaults.
func DefaultDeployOptions() DeployOptions {
	return DeployOptions{
		Parallel:          true,
		ContinueOnFailure: true,
		RollbackOnFailure: false,
		Recovery:          DefaultRecoveryOptions(),
	}
}
