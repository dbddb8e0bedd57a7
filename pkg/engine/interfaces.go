package engine

import (
	"context"
	"time"
)

// Provisioner is the single-unit provisioning primitive. One driver serves
// all units; the unit's Location selects where the driver operates. The
// orchestrator treats all four operations as opaque remote calls.
type Provisioner interface {
	// Apply creates or updates the unit's resources and returns its outputs.
	Apply(ctx context.Context, unit DeploymentUnit) (map[string]string, error)

	// Destroy tears down the unit's resources.
	Destroy(ctx context.Context, unit DeploymentUnit) error

	// Preview computes the changes an apply would make without performing them.
	Preview(ctx context.Context, unit DeploymentUnit) (*ChangeSummary, error)

	// Refresh reconciles the unit's recorded state with real resources.
	Refresh(ctx context.Context, unit DeploymentUnit) error
}

// CredentialValidator validates a credential reference before any group
// executes. The orchestrator calls it once per unique reference.
type CredentialValidator interface {
	// Validate returns nil if the referenced credential can be assumed.
	Validate(ctx context.Context, credentialRef string) error
}

// RunStore persists run and per-unit outcomes. All methods are optional for
// correctness: a nil store disables persistence.
type RunStore interface {
	// CreateRun records the start of an orchestration run.
	CreateRun(ctx context.Context, runID, project string, operation Operation, totalUnits int) error

	// FinishRun records the terminal state of a run.
	FinishRun(ctx context.Context, summary *DeploymentSummary) error

	// SaveResult records one unit's outcome as it settles.
	SaveResult(ctx context.Context, runID string, result *DeploymentResult) error

	// SaveRollback records one rollback outcome.
	SaveRollback(ctx context.Context, runID string, result *RollbackResult) error
}

// EventType identifies orchestration lifecycle events.
type EventType string

const (
	EventTypeRunStarted    EventType = "run.started"
	EventTypeRunCompleted  EventType = "run.completed"
	EventTypeRunAborted    EventType = "run.aborted"
	EventTypeGroupStarted  EventType = "group.started"
	EventTypeGroupSettled  EventType = "group.settled"
	EventTypeUnitStarted   EventType = "unit.started"
	EventTypeUnitSucceeded EventType = "unit.succeeded"
	EventTypeUnitFailed    EventType = "unit.failed"
	EventTypeUnitRetrying  EventType = "unit.retrying"
	EventTypeRollbackStart EventType = "rollback.started"
	EventTypeRollbackDone  EventType = "rollback.finished"
)

// Event is a timeline event emitted during a run.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Type is the event type.
	Type EventType `json:"type"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// RunID is the run this event belongs to.
	RunID string `json:"run_id"`

	// UnitName is the deployment unit, if applicable.
	UnitName string `json:"unit_name,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Level is the log level (info, warning, error).
	Level string `json:"level"`
}

// EventPublisher publishes orchestration events to subscribers. A nil
// publisher disables events.
type EventPublisher interface {
	// Publish publishes an event.
	Publish(ctx context.Context, event *Event) error
}

// MetricsRecorder receives orchestration measurements. A nil recorder
// disables metrics.
type MetricsRecorder interface {
	// RecordRunStarted marks the start of a run.
	RecordRunStarted(operation string)

	// RecordRunCompleted records a run's terminal state and duration.
	RecordRunCompleted(operation, state string, duration time.Duration)

	// RecordUnitExecution records one unit outcome.
	RecordUnitExecution(operation, status string, duration time.Duration, retries int)

	// RecordRollback records one rollback destroy outcome.
	RecordRollback(success bool, duration time.Duration)
}
