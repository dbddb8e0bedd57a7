package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Orchestrator executes a set of deployment units in dependency order,
// running independent units concurrently, retrying transient failures, and
// rolling back partially-successful deployments when configured to.
//
// Unit-level failures never surface as returned errors; they become
// DeploymentResult entries. Only configuration-level errors (duplicate name,
// missing dependency, cycle) and pre-flight failures (credentials, policy)
// are returned as errors, always with zero units executed.
type Orchestrator struct {
	provisioner Provisioner
	credentials CredentialValidator
	store       RunStore
	events      EventPublisher
	metrics     MetricsRecorder
	logger      zerolog.Logger
	project     string
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithCredentialValidator installs a pre-flight credential validator.
func WithCredentialValidator(v CredentialValidator) Option {
	return func(o *Orchestrator) { o.credentials = v }
}

// WithRunStore installs a run persistence store.
func WithRunStore(s RunStore) Option {
	return func(o *Orchestrator) { o.store = s }
}

// WithEventPublisher installs an event publisher.
func WithEventPublisher(p EventPublisher) Option {
	return func(o *Orchestrator) { o.events = p }
}

// WithMetrics installs a metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithLogger sets the orchestrator's logger.
func WithLogger(l zerolog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithProject names the project recorded with each persisted run.
func WithProject(project string) Option {
	return func(o *Orchestrator) { o.project = project }
}

// NewOrchestrator creates an orchestrator around a provisioning driver.
func NewOrchestrator(p Provisioner, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		provisioner: p,
		logger:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// DeployAll deploys every unit, group by group. It always returns a summary
// reflecting every unit result obtained before termination.
func (o *Orchestrator) DeployAll(ctx context.Context, units []DeploymentUnit, opts DeployOptions) (*DeploymentSummary, error) {
	op := OperationApply
	if opts.DryRun {
		op = OperationPreview
	}
	return o.run(ctx, units, opts, op, false)
}

// DestroyAll destroys every unit using the same grouping logic, executed in
// reverse group order so dependents are torn down before their dependencies.
func (o *Orchestrator) DestroyAll(ctx context.Context, units []DeploymentUnit, opts DeployOptions) (*DeploymentSummary, error) {
	op := OperationDestroy
	if opts.DryRun {
		op = OperationPreview
	}
	return o.run(ctx, units, opts, op, true)
}

// PreviewAll runs the dry-run variant of DeployAll: identical group
// structure and pre-flight validation, with preview substituted for apply.
func (o *Orchestrator) PreviewAll(ctx context.Context, units []DeploymentUnit, opts DeployOptions) (*DeploymentSummary, error) {
	opts.DryRun = true
	return o.DeployAll(ctx, units, opts)
}

// completion records one successful unit in completion order, for rollback.
type completion struct {
	unit        DeploymentUnit
	completedAt time.Time
}

func (o *Orchestrator) run(ctx context.Context, units []DeploymentUnit, opts DeployOptions, op Operation, reverse bool) (*DeploymentSummary, error) {
	runID := uuid.New().String()
	log := o.logger.With().Str("run_id", runID).Str("operation", string(op)).Logger()

	summary := &DeploymentSummary{
		RunID:      runID,
		Operation:  op,
		State:      RunStateValidating,
		TotalUnits: len(units),
		Results:    make([]DeploymentResult, 0, len(units)),
		StartedAt:  time.Now(),
	}

	// Pre-flight: every required credential reference, deduplicated across
	// units, validated before touching any unit.
	if err := o.validateCredentials(ctx, units, log); err != nil {
		return nil, err
	}

	summary.State = RunStateResolving
	resolver := NewResolver()
	groups, err := resolver.Resolve(units)
	if err != nil {
		log.Error().Err(err).Msg("Dependency resolution failed")
		return nil, err
	}

	if reverse {
		for i, j := 0, len(groups)-1; i < j; i, j = i+1, j-1 {
			groups[i], groups[j] = groups[j], groups[i]
		}
	}

	if o.store != nil {
		if err := o.store.CreateRun(ctx, runID, o.project, op, len(units)); err != nil {
			log.Warn().Err(err).Msg("Failed to persist run start")
		}
	}
	if o.metrics != nil {
		o.metrics.RecordRunStarted(string(op))
	}
	o.publish(ctx, runID, "", EventTypeRunStarted,
		fmt.Sprintf("Run started: %d units in %d groups", len(units), len(groups)), "info")
	log.Info().Int("units", len(units)).Int("groups", len(groups)).Msg("Run started")

	summary.State = RunStateExecuting
	var completions []completion

	for i, group := range groups {
		if len(group) == 0 {
			continue
		}

		o.publish(ctx, runID, "", EventTypeGroupStarted,
			fmt.Sprintf("Executing group %d (%d units)", i, len(group)), "info")
		log.Debug().Int("group", i).Int("units", len(group)).Msg("Executing group")

		results := o.executeGroup(ctx, runID, group, op, opts, &completions, log)
		summary.Results = append(summary.Results, results...)

		failed := 0
		for _, r := range results {
			if !r.Success {
				failed++
			}
		}

		o.publish(ctx, runID, "", EventTypeGroupSettled,
			fmt.Sprintf("Group %d settled: %d failed of %d", i, failed, len(results)), "info")

		if failed == 0 {
			continue
		}

		if opts.RollbackOnFailure {
			o.rollback(ctx, runID, completions, summary, log)
			summary.State = RunStateRolledBack
			break
		}
		if !opts.ContinueOnFailure {
			// Later groups may depend on a failed unit; halt rather than
			// deploy units whose dependencies are unsatisfied.
			log.Warn().Int("group", i).Msg("Halting run after group failures")
			summary.State = RunStateAborted
			break
		}
		// ContinueOnFailure: proceed to later groups even though a
		// dependency failed. Deliberate policy choice.
	}

	if summary.State == RunStateExecuting {
		summary.State = RunStateCompleted
	}

	for _, r := range summary.Results {
		if r.Success {
			summary.SuccessfulUnits++
		} else {
			summary.FailedUnits++
		}
	}
	summary.Duration = time.Since(summary.StartedAt)

	o.finishRun(ctx, runID, summary, log)
	return summary, nil
}

// validateCredentials validates each unique credential reference once.
// Any failure aborts the entire run before any provisioning begins.
func (o *Orchestrator) validateCredentials(ctx context.Context, units []DeploymentUnit, log zerolog.Logger) error {
	if o.credentials == nil {
		return nil
	}

	seen := make(map[string]bool)
	for _, unit := range units {
		ref := unit.CredentialRef
		if ref == "" || seen[ref] {
			continue
		}
		seen[ref] = true

		if err := o.credentials.Validate(ctx, ref); err != nil {
			log.Error().Err(err).Str("credential_ref", ref).Msg("Credential validation failed")
			return NewPermanentError(fmt.Sprintf("credential validation failed for %q", ref), err).
				WithCode(ErrCodeCredential)
		}
		log.Debug().Str("credential_ref", ref).Msg("Credential validated")
	}

	return nil
}

// executeGroup runs one group to settlement and returns its results in
// completion order. Successful units are appended to completions.
func (o *Orchestrator) executeGroup(
	ctx context.Context,
	runID string,
	group []DeploymentUnit,
	op Operation,
	opts DeployOptions,
	completions *[]completion,
	log zerolog.Logger,
) []DeploymentResult {
	// A parallel group launches every unit and waits for all of them to
	// settle regardless of individual outcome. ContinueOnFailure governs the
	// sequential path and the cross-group decision, not in-flight units.
	if opts.Parallel && len(group) > 1 {
		return o.executeGroupParallel(ctx, runID, group, op, opts, completions, log)
	}

	results := make([]DeploymentResult, 0, len(group))
	for _, unit := range group {
		result := o.executeUnit(ctx, runID, unit, op, opts, log)
		results = append(results, result)
		if result.Success {
			*completions = append(*completions, completion{unit: unit, completedAt: result.CompletedAt})
		} else if !opts.ContinueOnFailure {
			// Stop issuing further units in the group.
			break
		}
	}
	return results
}

func (o *Orchestrator) executeGroupParallel(
	ctx context.Context,
	runID string,
	group []DeploymentUnit,
	op Operation,
	opts DeployOptions,
	completions *[]completion,
	log zerolog.Logger,
) []DeploymentResult {
	workers := len(group)
	if opts.MaxParallel > 0 && opts.MaxParallel < workers {
		workers = opts.MaxParallel
	}

	queue := make(chan DeploymentUnit, len(group))
	for _, unit := range group {
		queue <- unit
	}
	close(queue)

	var (
		mu      sync.Mutex
		results = make([]DeploymentResult, 0, len(group))
		wg      sync.WaitGroup
	)

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for unit := range queue {
				result := o.executeUnit(ctx, runID, unit, op, opts, log)

				// The summary is append-only and partitioned by unit name;
				// writers never contend on the same entry.
				mu.Lock()
				results = append(results, result)
				if result.Success {
					*completions = append(*completions, completion{unit: unit, completedAt: result.CompletedAt})
				}
				mu.Unlock()
			}
		}()
	}

	wg.Wait()
	return results
}

// executeUnit runs one unit's operation through the recovery wrapper and
// builds its DeploymentResult.
func (o *Orchestrator) executeUnit(
	ctx context.Context,
	runID string,
	unit DeploymentUnit,
	op Operation,
	opts DeployOptions,
	log zerolog.Logger,
) DeploymentResult {
	ulog := log.With().Str("unit", unit.Name).Logger()
	ulog.Info().Str("location", unit.Location).Msg("Unit started")
	o.publish(ctx, runID, unit.Name, EventTypeUnitStarted,
		fmt.Sprintf("Started %s of %s", op, unit.Name), "info")

	result := DeploymentResult{
		UnitName:  unit.Name,
		Operation: op,
		StartedAt: time.Now(),
	}

	var (
		outputs map[string]string
		changes *ChangeSummary
	)

	operation := func(ctx context.Context) error {
		var err error
		switch op {
		case OperationApply:
			if opts.Refresh {
				if err = o.provisioner.Refresh(ctx, unit); err != nil {
					return err
				}
			}
			outputs, err = o.provisioner.Apply(ctx, unit)
		case OperationDestroy:
			err = o.provisioner.Destroy(ctx, unit)
		case OperationPreview:
			changes, err = o.provisioner.Preview(ctx, unit)
		default:
			err = NewPermanentError(fmt.Sprintf("unsupported operation: %s", op), nil).
				WithCode(ErrCodeInternal)
		}
		return err
	}

	recovery := opts.Recovery
	recovery.OnRetry = func(attempt int, err error) {
		ulog.Warn().Err(err).Int("attempt", attempt).Msg("Retrying after failure")
		o.publish(ctx, runID, unit.Name, EventTypeUnitRetrying,
			fmt.Sprintf("Retrying %s after failure (attempt %d)", unit.Name, attempt), "warning")
	}

	rec := ExecuteWithRecovery(ctx, operation, recovery)

	result.CompletedAt = time.Now()
	result.Duration = result.CompletedAt.Sub(result.StartedAt)
	result.Retries = rec.Retries()

	if rec.Err != nil {
		result.Success = false
		result.Error = o.classify(rec.Err, unit.Name, op)
		ulog.Error().Err(rec.Err).Int("retries", result.Retries).Msg("Unit failed")
		o.publish(ctx, runID, unit.Name, EventTypeUnitFailed,
			fmt.Sprintf("Failed %s of %s: %v", op, unit.Name, rec.Err), "error")
	} else {
		result.Success = true
		result.Outputs = outputs
		result.ChangeSummary = changes
		ulog.Info().Dur("duration", result.Duration).Int("retries", result.Retries).Msg("Unit succeeded")
		o.publish(ctx, runID, unit.Name, EventTypeUnitSucceeded,
			fmt.Sprintf("Completed %s of %s", op, unit.Name), "info")
	}

	if o.metrics != nil {
		status := "succeeded"
		if !result.Success {
			status = "failed"
		}
		o.metrics.RecordUnitExecution(string(op), status, result.Duration, result.Retries)
	}
	if o.store != nil {
		if err := o.store.SaveResult(ctx, runID, &result); err != nil {
			ulog.Warn().Err(err).Msg("Failed to persist unit result")
		}
	}

	return result
}

// rollback destroys each previously-successful unit in reverse completion
// order. Rollback is best-effort and exhaustive: a failure on one unit is
// logged and does not block the remaining units.
func (o *Orchestrator) rollback(
	ctx context.Context,
	runID string,
	completions []completion,
	summary *DeploymentSummary,
	log zerolog.Logger,
) {
	log.Warn().Int("units", len(completions)).Msg("Rolling back previously successful units")
	o.publish(ctx, runID, "", EventTypeRollbackStart,
		fmt.Sprintf("Rolling back %d units", len(completions)), "warning")

	for i := len(completions) - 1; i >= 0; i-- {
		unit := completions[i].unit
		started := time.Now()

		rec := ExecuteWithRecovery(ctx, func(ctx context.Context) error {
			return o.provisioner.Destroy(ctx, unit)
		}, RecoveryOptions{Strategy: StrategyContinue})

		rb := RollbackResult{
			UnitName: unit.Name,
			Success:  rec.Err == nil,
			Duration: time.Since(started),
		}
		if rec.Err != nil {
			rb.Error = o.classify(rec.Err, unit.Name, OperationDestroy).WithCode(ErrCodeRollback)
			log.Error().Err(rec.Err).Str("unit", unit.Name).Msg("Rollback destroy failed")
		} else {
			log.Info().Str("unit", unit.Name).Msg("Rollback destroy succeeded")
		}

		summary.Rollback = append(summary.Rollback, rb)
		if o.metrics != nil {
			o.metrics.RecordRollback(rb.Success, rb.Duration)
		}
		if o.store != nil {
			if err := o.store.SaveRollback(ctx, runID, &rb); err != nil {
				log.Warn().Err(err).Str("unit", unit.Name).Msg("Failed to persist rollback result")
			}
		}
	}

	o.publish(ctx, runID, "", EventTypeRollbackDone,
		fmt.Sprintf("Rollback finished for %d units", len(completions)), "warning")
}

// classify converts any error into a classified DeploymentError.
func (o *Orchestrator) classify(err error, unit string, op Operation) *DeploymentError {
	var derr *DeploymentError
	if errors.As(err, &derr) {
		return derr
	}
	return NewPermanentError("provisioning failed", err).
		WithCode(ErrCodeProvisioner).
		WithUnit(unit).
		WithOperation(string(op))
}

func (o *Orchestrator) finishRun(ctx context.Context, runID string, summary *DeploymentSummary, log zerolog.Logger) {
	if o.metrics != nil {
		o.metrics.RecordRunCompleted(string(summary.Operation), string(summary.State), summary.Duration)
	}

	eventType := EventTypeRunCompleted
	level := "info"
	if summary.State != RunStateCompleted {
		eventType = EventTypeRunAborted
		level = "error"
	}
	o.publish(ctx, runID, "", eventType,
		fmt.Sprintf("Run %s: %d succeeded, %d failed of %d",
			summary.State, summary.SuccessfulUnits, summary.FailedUnits, summary.TotalUnits), level)

	log.Info().
		Str("state", string(summary.State)).
		Int("succeeded", summary.SuccessfulUnits).
		Int("failed", summary.FailedUnits).
		Dur("duration", summary.Duration).
		Msg("Run finished")

	if o.store != nil {
		if err := o.store.FinishRun(ctx, summary); err != nil {
			log.Warn().Err(err).Msg("Failed to persist run completion")
		}
	}
}

func (o *Orchestrator) publish(ctx context.Context, runID, unitName string, eventType EventType, message, level string) {
	if o.events == nil {
		return
	}

	event := &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now(),
		RunID:     runID,
		UnitName:  unitName,
		Message:   message,
		Level:     level,
	}

	if err := o.events.Publish(ctx, event); err != nil {
		o.logger.Debug().Err(err).Str("event_type", string(eventType)).Msg("Event publish failed")
	}
}
