package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"

	"github.com/stackherd/stackherd/pkg/engine"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db   *sql.DB
	path string
	cfg  Config
}

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	return &SQLiteStore{
		path: cfg.Path,
		cfg:  cfg,
	}, nil
}

// Init initializes the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	// Foreign keys are a connection-level setting.
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// CreateRun records the start of an orchestration run.
func (s *SQLiteStore) CreateRun(ctx context.Context, runID, project string, operation engine.Operation, totalUnits int) error {
	query := `
		INSERT INTO runs (id, project, operation, state, total_units, started_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	now := time.Now()
	_, err := s.db.ExecContext(ctx, query,
		runID,
		project,
		string(operation),
		string(engine.RunStateExecuting),
		totalUnits,
		now,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}

	return nil
}

// FinishRun records the terminal state of a run.
func (s *SQLiteStore) FinishRun(ctx context.Context, summary *engine.DeploymentSummary) error {
	query := `
		UPDATE runs
		SET state = ?, successful_units = ?, failed_units = ?, completed_at = ?, duration_ms = ?, updated_at = ?
		WHERE id = ?
	`

	now := time.Now()
	result, err := s.db.ExecContext(ctx, query,
		string(summary.State),
		summary.SuccessfulUnits,
		summary.FailedUnits,
		now,
		summary.Duration.Milliseconds(),
		now,
		summary.RunID,
	)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("run not found: %s", summary.RunID)
	}

	return nil
}

// SaveResult records one unit's outcome as it settles.
func (s *SQLiteStore) SaveResult(ctx context.Context, runID string, result *engine.DeploymentResult) error {
	query := `
		INSERT INTO unit_results (run_id, unit_name, operation, success, outputs, change_summary, error, error_code, retries, started_at, completed_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	outputs, err := encodeJSON(result.Outputs)
	if err != nil {
		return fmt.Errorf("failed to encode outputs: %w", err)
	}
	changes, err := encodeJSON(result.ChangeSummary)
	if err != nil {
		return fmt.Errorf("failed to encode change summary: %w", err)
	}

	var errMsg, errCode *string
	if result.Error != nil {
		msg := result.Error.Error()
		errMsg = &msg
		if result.Error.Code != "" {
			code := result.Error.Code
			errCode = &code
		}
	}

	_, err = s.db.ExecContext(ctx, query,
		runID,
		result.UnitName,
		string(result.Operation),
		result.Success,
		outputs,
		changes,
		errMsg,
		errCode,
		result.Retries,
		result.StartedAt,
		result.CompletedAt,
		result.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("failed to save unit result: %w", err)
	}

	return nil
}

// SaveRollback records one rollback outcome.
func (s *SQLiteStore) SaveRollback(ctx context.Context, runID string, result *engine.RollbackResult) error {
	query := `
		INSERT INTO rollbacks (run_id, unit_name, success, error, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	var errMsg *string
	if result.Error != nil {
		msg := result.Error.Error()
		errMsg = &msg
	}

	_, err := s.db.ExecContext(ctx, query,
		runID,
		result.UnitName,
		result.Success,
		errMsg,
		result.Duration.Milliseconds(),
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to save rollback: %w", err)
	}

	return nil
}

// Publish persists a timeline event, implementing engine.EventPublisher.
func (s *SQLiteStore) Publish(ctx context.Context, event *engine.Event) error {
	query := `
		INSERT INTO events (event_id, run_id, type, unit_name, level, message, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	var unitName *string
	if event.UnitName != "" {
		unitName = &event.UnitName
	}

	_, err := s.db.ExecContext(ctx, query,
		event.ID,
		event.RunID,
		string(event.Type),
		unitName,
		event.Level,
		event.Message,
		event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to persist event: %w", err)
	}

	return nil
}

// GetRun retrieves a run by ID
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	query := `
		SELECT id, project, operation, state, total_units, successful_units, failed_units, started_at, completed_at, duration_ms, created_at, updated_at
		FROM runs
		WHERE id = ?
	`

	run := &Run{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&run.ID,
		&run.Project,
		&run.Operation,
		&run.State,
		&run.TotalUnits,
		&run.SuccessfulUnits,
		&run.FailedUnits,
		&run.StartedAt,
		&run.CompletedAt,
		&run.DurationMS,
		&run.CreatedAt,
		&run.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return run, nil
}

// ListRuns lists runs newest-first with pagination
func (s *SQLiteStore) ListRuns(ctx context.Context, limit, offset int) ([]*Run, error) {
	query := `
		SELECT id, project, operation, state, total_units, successful_units, failed_units, started_at, completed_at, duration_ms, created_at, updated_at
		FROM runs
		ORDER BY started_at DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []*Run{}
	for rows.Next() {
		run := &Run{}
		err := rows.Scan(
			&run.ID,
			&run.Project,
			&run.Operation,
			&run.State,
			&run.TotalUnits,
			&run.SuccessfulUnits,
			&run.FailedUnits,
			&run.StartedAt,
			&run.CompletedAt,
			&run.DurationMS,
			&run.CreatedAt,
			&run.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}

	return runs, rows.Err()
}

// ListResults lists a run's unit results in completion order
func (s *SQLiteStore) ListResults(ctx context.Context, runID string) ([]*UnitResult, error) {
	query := `
		SELECT id, run_id, unit_name, operation, success, outputs, change_summary, error, error_code, retries, started_at, completed_at, duration_ms
		FROM unit_results
		WHERE run_id = ?
		ORDER BY id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list unit results: %w", err)
	}
	defer rows.Close()

	results := []*UnitResult{}
	for rows.Next() {
		result := &UnitResult{}
		err := rows.Scan(
			&result.ID,
			&result.RunID,
			&result.UnitName,
			&result.Operation,
			&result.Success,
			&result.Outputs,
			&result.ChangeSummary,
			&result.Error,
			&result.ErrorCode,
			&result.Retries,
			&result.StartedAt,
			&result.CompletedAt,
			&result.DurationMS,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan unit result: %w", err)
		}
		results = append(results, result)
	}

	return results, rows.Err()
}

// ListRollbacks lists a run's rollback outcomes in execution order
func (s *SQLiteStore) ListRollbacks(ctx context.Context, runID string) ([]*Rollback, error) {
	query := `
		SELECT id, run_id, unit_name, success, error, duration_ms, created_at
		FROM rollbacks
		WHERE run_id = ?
		ORDER BY id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rollbacks: %w", err)
	}
	defer rows.Close()

	rollbacks := []*Rollback{}
	for rows.Next() {
		rb := &Rollback{}
		err := rows.Scan(
			&rb.ID,
			&rb.RunID,
			&rb.UnitName,
			&rb.Success,
			&rb.Error,
			&rb.DurationMS,
			&rb.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rollback: %w", err)
		}
		rollbacks = append(rollbacks, rb)
	}

	return rollbacks, rows.Err()
}

// ListEvents lists a run's timeline events oldest-first
func (s *SQLiteStore) ListEvents(ctx context.Context, runID string, limit, offset int) ([]*EventRecord, error) {
	query := `
		SELECT id, event_id, run_id, type, unit_name, level, message, timestamp
		FROM events
		WHERE run_id = ?
		ORDER BY id ASC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, runID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	events := []*EventRecord{}
	for rows.Next() {
		event := &EventRecord{}
		err := rows.Scan(
			&event.ID,
			&event.EventID,
			&event.RunID,
			&event.Type,
			&event.UnitName,
			&event.Level,
			&event.Message,
			&event.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, event)
	}

	return events, rows.Err()
}

// HealthCheck verifies the database is reachable
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return s.db.PingContext(ctx)
}

// encodeJSON renders a value as a nullable JSON column. Nil values and nil
// maps produce NULL rather than the string "null".
func encodeJSON(v interface{}) (*string, error) {
	switch value := v.(type) {
	case nil:
		return nil, nil
	case map[string]string:
		if value == nil {
			return nil, nil
		}
	case *engine.ChangeSummary:
		if value == nil {
			return nil, nil
		}
	}

	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	encoded := string(data)
	return &encoded, nil
}
