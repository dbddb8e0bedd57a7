package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
)

// fakeProvisioner scripts per-unit behavior and records call order.
type fakeProvisioner struct {
	mu sync.Mutex

	// applyErrs returns an error for the named unit on apply; transientUntil
	// makes the first N apply attempts fail transiently.
	applyErrs      map[string]error
	transientUntil map[string]int

	applyCalls   []string
	destroyCalls []string
	previewCalls []string
	refreshCalls []string

	attempts map[string]int
}

func newFakeProvisioner() *fakeProvisioner {
	return &fakeProvisioner{
		applyErrs:      make(map[string]error),
		transientUntil: make(map[string]int),
		attempts:       make(map[string]int),
	}
}

func (f *fakeProvisioner) Apply(_ context.Context, unit DeploymentUnit) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.applyCalls = append(f.applyCalls, unit.Name)
	f.attempts[unit.Name]++

	if until := f.transientUntil[unit.Name]; until > 0 && f.attempts[unit.Name] <= until {
		return nil, NewTransientError("service unavailable", nil)
	}
	if err := f.applyErrs[unit.Name]; err != nil {
		return nil, err
	}
	return map[string]string{"arn": "arn:fake:" + unit.Name}, nil
}

func (f *fakeProvisioner) Destroy(_ context.Context, unit DeploymentUnit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroyCalls = append(f.destroyCalls, unit.Name)
	return nil
}

func (f *fakeProvisioner) Preview(_ context.Context, unit DeploymentUnit) (*ChangeSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.previewCalls = append(f.previewCalls, unit.Name)
	return &ChangeSummary{Create: 2}, nil
}

func (f *fakeProvisioner) Refresh(_ context.Context, unit DeploymentUnit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshCalls = append(f.refreshCalls, unit.Name)
	return nil
}

func (f *fakeProvisioner) applied() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.applyCalls...)
}

func (f *fakeProvisioner) destroyed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.destroyCalls...)
}

// fakeValidator records which refs were validated.
type fakeValidator struct {
	mu     sync.Mutex
	calls  []string
	failOn string
}

func (v *fakeValidator) Validate(_ context.Context, ref string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls = append(v.calls, ref)
	if ref == v.failOn {
		return errors.New("assume role denied")
	}
	return nil
}

func diamond() []DeploymentUnit {
	return []DeploymentUnit{
		unit("A"),
		unit("B", "A"),
		unit("C", "A"),
		unit("D", "B", "C"),
	}
}

func testOptions() DeployOptions {
	opts := DefaultDeployOptions()
	opts.Recovery = fastRetry(0)
	return opts
}

func indexOf(calls []string, name string) int {
	for i, c := range calls {
		if c == name {
			return i
		}
	}
	return -1
}

func TestOrchestrator_DeployAll_DiamondOrdering(t *testing.T) {
	prov := newFakeProvisioner()
	orch := NewOrchestrator(prov)

	summary, err := orch.DeployAll(context.Background(), diamond(), testOptions())
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if summary.State != RunStateCompleted {
		t.Errorf("Expected completed state, got %s", summary.State)
	}
	if summary.SuccessfulUnits != 4 || summary.FailedUnits != 0 {
		t.Errorf("Expected 4 successes and 0 failures, got %d/%d",
			summary.SuccessfulUnits, summary.FailedUnits)
	}

	applied := prov.applied()
	if len(applied) != 4 {
		t.Fatalf("Expected 4 applies, got %d: %v", len(applied), applied)
	}
	a, b, c, d := indexOf(applied, "A"), indexOf(applied, "B"), indexOf(applied, "C"), indexOf(applied, "D")
	if a > b || a > c {
		t.Errorf("A must apply before B and C, order: %v", applied)
	}
	if d < b || d < c {
		t.Errorf("D must apply after B and C, order: %v", applied)
	}
}

func TestOrchestrator_DeployAll_SequentialWhenParallelDisabled(t *testing.T) {
	prov := newFakeProvisioner()
	orch := NewOrchestrator(prov)

	opts := testOptions()
	opts.Parallel = false

	summary, err := orch.DeployAll(context.Background(), diamond(), opts)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if summary.SuccessfulUnits != 4 {
		t.Errorf("Expected 4 successes, got %d", summary.SuccessfulUnits)
	}
}

func TestOrchestrator_DeployAll_HaltsAfterGroupFailure(t *testing.T) {
	prov := newFakeProvisioner()
	prov.applyErrs["B"] = NewPermanentError("invalid configuration", nil)
	orch := NewOrchestrator(prov)

	opts := testOptions()
	opts.ContinueOnFailure = false

	summary, err := orch.DeployAll(context.Background(), diamond(), opts)
	if err != nil {
		t.Fatalf("Unit failures must not surface as errors, got: %v", err)
	}

	if summary.State != RunStateAborted {
		t.Errorf("Expected aborted state, got %s", summary.State)
	}
	if r := summary.ResultFor("A"); r == nil || !r.Success {
		t.Error("Expected A to be recorded successful")
	}
	if r := summary.ResultFor("B"); r == nil || r.Success {
		t.Error("Expected B to be recorded failed")
	}
	if r := summary.ResultFor("C"); r == nil || !r.Success {
		t.Error("Expected C to settle successfully alongside failing B")
	}
	if summary.ResultFor("D") != nil {
		t.Error("Expected D to be absent from results after halt")
	}
	if idx := indexOf(prov.applied(), "D"); idx != -1 {
		t.Error("Expected D never to be applied")
	}
}

func TestOrchestrator_DeployAll_ContinueOnFailureProceedsToLaterGroups(t *testing.T) {
	prov := newFakeProvisioner()
	prov.applyErrs["B"] = NewPermanentError("permission denied", nil)
	orch := NewOrchestrator(prov)

	summary, err := orch.DeployAll(context.Background(), diamond(), testOptions())
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	// Deliberate policy: later groups run even though a dependency failed.
	if summary.ResultFor("D") == nil {
		t.Error("Expected D to be attempted under continue_on_failure")
	}
	if summary.State != RunStateCompleted {
		t.Errorf("Expected completed state, got %s", summary.State)
	}
	if summary.FailedUnits != 1 || summary.SuccessfulUnits != 3 {
		t.Errorf("Expected 1 failed / 3 successful, got %d/%d",
			summary.FailedUnits, summary.SuccessfulUnits)
	}
}

func TestOrchestrator_DeployAll_RollbackReverseCompletionOrder(t *testing.T) {
	prov := newFakeProvisioner()
	prov.applyErrs["B"] = NewPermanentError("already exists", nil)
	orch := NewOrchestrator(prov)

	opts := testOptions()
	opts.ContinueOnFailure = false
	opts.RollbackOnFailure = true
	// Sequential keeps completion order deterministic for the assertion.
	opts.Parallel = false

	units := []DeploymentUnit{
		unit("A"),
		unit("C", "A"),
		unit("B", "C"),
	}

	summary, err := orch.DeployAll(context.Background(), units, opts)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if summary.State != RunStateRolledBack {
		t.Errorf("Expected rolled_back state, got %s", summary.State)
	}

	destroyed := prov.destroyed()
	if len(destroyed) != 2 {
		t.Fatalf("Expected 2 rollback destroys, got %v", destroyed)
	}
	if destroyed[0] != "C" || destroyed[1] != "A" {
		t.Errorf("Expected rollback order [C A], got %v", destroyed)
	}

	// Rollback outcomes are recorded separately; original success flags stand.
	if r := summary.ResultFor("A"); r == nil || !r.Success {
		t.Error("Expected A still marked successful after rollback")
	}
	if r := summary.ResultFor("C"); r == nil || !r.Success {
		t.Error("Expected C still marked successful after rollback")
	}
	if len(summary.Rollback) != 2 {
		t.Fatalf("Expected 2 rollback records, got %d", len(summary.Rollback))
	}
	if summary.Rollback[0].UnitName != "C" || summary.Rollback[1].UnitName != "A" {
		t.Errorf("Expected rollback records [C A], got %v", summary.Rollback)
	}
}

func TestOrchestrator_DeployAll_CredentialPreflightAborts(t *testing.T) {
	prov := newFakeProvisioner()
	validator := &fakeValidator{failOn: "role/deployer"}
	orch := NewOrchestrator(prov, WithCredentialValidator(validator))

	units := []DeploymentUnit{unit("A")}
	units[0].CredentialRef = "role/deployer"

	_, err := orch.DeployAll(context.Background(), units, testOptions())
	if err == nil {
		t.Fatal("Expected credential error, got nil")
	}

	var derr *DeploymentError
	if !errors.As(err, &derr) || derr.Code != ErrCodeCredential {
		t.Errorf("Expected credential-coded error, got: %v", err)
	}
	if len(prov.applied()) != 0 {
		t.Error("Expected zero units executed after pre-flight failure")
	}
}

func TestOrchestrator_DeployAll_CredentialsDeduplicated(t *testing.T) {
	prov := newFakeProvisioner()
	validator := &fakeValidator{}
	orch := NewOrchestrator(prov, WithCredentialValidator(validator))

	units := diamond()
	for i := range units {
		units[i].CredentialRef = "role/shared"
	}

	if _, err := orch.DeployAll(context.Background(), units, testOptions()); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(validator.calls) != 1 {
		t.Errorf("Expected 1 validation for shared ref, got %d", len(validator.calls))
	}
}

func TestOrchestrator_DeployAll_CycleReturnsErrorWithoutExecution(t *testing.T) {
	prov := newFakeProvisioner()
	orch := NewOrchestrator(prov)

	units := []DeploymentUnit{unit("A", "B"), unit("B", "A")}
	_, err := orch.DeployAll(context.Background(), units, testOptions())

	var cycleErr *CycleError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("Expected CycleError, got %T: %v", err, err)
	}
	if len(prov.applied()) != 0 {
		t.Error("Expected zero applies for cyclic unit set")
	}
}

func TestOrchestrator_DeployAll_RetriesTransientFailures(t *testing.T) {
	prov := newFakeProvisioner()
	prov.transientUntil["A"] = 2
	orch := NewOrchestrator(prov)

	opts := testOptions()
	opts.Recovery = fastRetry(3)

	summary, err := orch.DeployAll(context.Background(), []DeploymentUnit{unit("A")}, opts)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	result := summary.ResultFor("A")
	if result == nil || !result.Success {
		t.Fatal("Expected A to eventually succeed")
	}
	if result.Retries != 2 {
		t.Errorf("Expected 2 retries recorded, got %d", result.Retries)
	}
}

func TestOrchestrator_DestroyAll_ReverseGroupOrder(t *testing.T) {
	prov := newFakeProvisioner()
	orch := NewOrchestrator(prov)

	summary, err := orch.DestroyAll(context.Background(), diamond(), testOptions())
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if summary.Operation != OperationDestroy {
		t.Errorf("Expected destroy operation, got %s", summary.Operation)
	}

	destroyed := prov.destroyed()
	if len(destroyed) != 4 {
		t.Fatalf("Expected 4 destroys, got %v", destroyed)
	}
	a, b, c, d := indexOf(destroyed, "A"), indexOf(destroyed, "B"), indexOf(destroyed, "C"), indexOf(destroyed, "D")
	if d > b || d > c {
		t.Errorf("D must destroy before B and C, order: %v", destroyed)
	}
	if a < b || a < c {
		t.Errorf("A must destroy after B and C, order: %v", destroyed)
	}
}

func TestOrchestrator_PreviewAll_InvokesPreviewOnly(t *testing.T) {
	prov := newFakeProvisioner()
	orch := NewOrchestrator(prov)

	summary, err := orch.PreviewAll(context.Background(), diamond(), testOptions())
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if len(prov.applied()) != 0 {
		t.Error("Expected no applies during preview")
	}
	if len(prov.previewCalls) != 4 {
		t.Errorf("Expected 4 previews, got %d", len(prov.previewCalls))
	}

	result := summary.ResultFor("A")
	if result == nil {
		t.Fatal("Expected result for A")
	}
	if result.Outputs != nil {
		t.Error("Expected no outputs on preview results")
	}
	if result.ChangeSummary == nil || result.ChangeSummary.Create != 2 {
		t.Errorf("Expected change summary with 2 creates, got %+v", result.ChangeSummary)
	}
}

func TestOrchestrator_DeployAll_RefreshBeforeApply(t *testing.T) {
	prov := newFakeProvisioner()
	orch := NewOrchestrator(prov)

	opts := testOptions()
	opts.Refresh = true

	if _, err := orch.DeployAll(context.Background(), []DeploymentUnit{unit("A")}, opts); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(prov.refreshCalls) != 1 {
		t.Errorf("Expected 1 refresh call, got %d", len(prov.refreshCalls))
	}
}

func TestOrchestrator_DeployAll_MaxParallelCapsWorkers(t *testing.T) {
	prov := newFakeProvisioner()
	orch := NewOrchestrator(prov)

	opts := testOptions()
	opts.MaxParallel = 1

	units := []DeploymentUnit{unit("A"), unit("B"), unit("C")}
	summary, err := orch.DeployAll(context.Background(), units, opts)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if summary.SuccessfulUnits != 3 {
		t.Errorf("Expected 3 successes, got %d", summary.SuccessfulUnits)
	}
}

func TestOrchestrator_DeployAll_SummaryDurations(t *testing.T) {
	prov := newFakeProvisioner()
	orch := NewOrchestrator(prov)

	summary, err := orch.DeployAll(context.Background(), []DeploymentUnit{unit("A")}, testOptions())
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if summary.RunID == "" {
		t.Error("Expected a run ID")
	}
	if summary.Duration <= 0 {
		t.Error("Expected positive run duration")
	}
	result := summary.ResultFor("A")
	if result.CompletedAt.Before(result.StartedAt) {
		t.Error("Expected completion at or after start")
	}
}
