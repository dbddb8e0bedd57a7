package stores

import (
	"context"
	"time"

	"github.com/stackherd/stackherd/pkg/engine"
)

// Run is one orchestration run row.
type Run struct {
	ID              string     `json:"id"`
	Project         string     `json:"project"`
	Operation       string     `json:"operation"`
	State           string     `json:"state"`
	TotalUnits      int        `json:"total_units"`
	SuccessfulUnits int        `json:"successful_units"`
	FailedUnits     int        `json:"failed_units"`
	StartedAt       time.Time  `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	DurationMS      int64      `json:"duration_ms"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// UnitResult is one per-unit outcome row.
type UnitResult struct {
	ID            int64     `json:"id"`
	RunID         string    `json:"run_id"`
	UnitName      string    `json:"unit_name"`
	Operation     string    `json:"operation"`
	Success       bool      `json:"success"`
	Outputs       *string   `json:"outputs,omitempty"`        // JSON blob
	ChangeSummary *string   `json:"change_summary,omitempty"` // JSON blob
	Error         *string   `json:"error,omitempty"`
	ErrorCode     *string   `json:"error_code,omitempty"`
	Retries       int       `json:"retries"`
	StartedAt     time.Time `json:"started_at"`
	CompletedAt   time.Time `json:"completed_at"`
	DurationMS    int64     `json:"duration_ms"`
}

// Rollback is one rollback destroy outcome row.
type Rollback struct {
	ID         int64     `json:"id"`
	RunID      string    `json:"run_id"`
	UnitName   string    `json:"unit_name"`
	Success    bool      `json:"success"`
	Error      *string   `json:"error,omitempty"`
	DurationMS int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// EventRecord is one persisted timeline event row.
type EventRecord struct {
	ID        int64     `json:"id"`
	EventID   string    `json:"event_id"`
	RunID     string    `json:"run_id"`
	Type      string    `json:"type"`
	UnitName  *string   `json:"unit_name,omitempty"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Store is the persistence surface consumed by the CLI. It embeds the
// engine's RunStore and EventPublisher and adds the history query side.
type Store interface {
	engine.RunStore
	engine.EventPublisher

	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// History queries
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, limit, offset int) ([]*Run, error)
	ListResults(ctx context.Context, runID string) ([]*UnitResult, error)
	ListRollbacks(ctx context.Context, runID string) ([]*Rollback, error)
	ListEvents(ctx context.Context, runID string, limit, offset int) ([]*EventRecord, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
