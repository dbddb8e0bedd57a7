package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/stackherd/stackherd/pkg/config"
	"github.com/stackherd/stackherd/pkg/engine"
	"github.com/stackherd/stackherd/pkg/policy"
	"github.com/stackherd/stackherd/pkg/provisioner"
	"github.com/stackherd/stackherd/pkg/stores"
	"github.com/stackherd/stackherd/pkg/telemetry"
)

// loadUnits loads the manifest and converts it into deployment units.
func loadUnits() (*config.Manifest, []engine.DeploymentUnit, error) {
	manifest, err := config.Load(manifestPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load manifest: %w", err)
	}

	units, err := manifest.DeploymentUnits()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build deployment units: %w", err)
	}

	return manifest, units, nil
}

// openStore opens, initializes, and migrates the run history database.
func openStore(ctx context.Context) (*stores.SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	store, err := stores.NewSQLiteStore(stores.Config{Path: dbPath})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

// newPolicyEngine builds the policy engine with built-ins plus any policy
// paths given on the command line.
func newPolicyEngine(ctx context.Context) (*policy.Engine, error) {
	eng, err := policy.NewEngine(log.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create policy engine: %w", err)
	}
	if len(policyPaths) > 0 {
		if err := eng.LoadPolicies(ctx, policyPaths); err != nil {
			return nil, err
		}
	}
	return eng, nil
}

// enforcePolicies evaluates all policies against the unit set and returns an
// error when a blocking violation is found. Warnings are printed but do not
// block the run.
func enforcePolicies(ctx context.Context, eng *policy.Engine, manifest *config.Manifest, units []engine.DeploymentUnit, operation engine.Operation, dryRun bool) error {
	result, err := eng.EvaluateUnits(ctx, units, &policy.Context{
		Project:     manifest.Project,
		Environment: manifest.Environment,
		Operation:   string(operation),
		DryRun:      dryRun,
	})
	if err != nil {
		return fmt.Errorf("policy evaluation failed: %w", err)
	}

	for _, warning := range result.Warnings {
		log.Warn().Msg(warning)
	}
	for _, v := range result.Violations {
		entry := log.Warn()
		if v.Severity == policy.SeverityError || v.Severity == policy.SeverityCritical {
			entry = log.Error()
		}
		entry.
			Str("policy", v.Policy).
			Str("unit", v.Unit).
			Str("severity", string(v.Severity)).
			Msg(v.Message)
	}

	if !result.Allowed {
		return fmt.Errorf("run blocked by %d policy violation(s)", len(result.Violations))
	}
	return nil
}

// newTelemetry builds the run telemetry. Metrics are served only when a
// listen address is given.
func newTelemetry(manifest *config.Manifest, metricsAddr string) (*telemetry.Telemetry, error) {
	cfg := telemetry.DefaultConfig()
	cfg.Environment = manifest.Environment
	cfg.Logging.Output = "stderr"
	cfg.Tracing.Enabled = false
	cfg.Metrics.Enabled = metricsAddr != ""
	cfg.Metrics.ListenAddress = metricsAddr
	cfg.Events.EnableAsync = false

	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
		cfg.Tracing.Enabled = true
		cfg.Tracing.Exporter = "otlp"
		cfg.Tracing.Endpoint = endpoint
	}

	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	return tel, nil
}

// orchestrationFlags are the execution flags shared by deploy, destroy, and
// preview.
type orchestrationFlags struct {
	parallel          bool
	maxParallel       int
	continueOnFailure bool
	rollbackOnFailure bool
	dryRun            bool
	refresh           bool
	strategy          string
	maxRetries        int
	retryDelay        time.Duration
	metricsAddr       string
}

func (f *orchestrationFlags) deployOptions() engine.DeployOptions {
	opts := engine.DefaultDeployOptions()
	opts.Parallel = f.parallel
	opts.MaxParallel = f.maxParallel
	opts.ContinueOnFailure = f.continueOnFailure
	opts.RollbackOnFailure = f.rollbackOnFailure
	opts.DryRun = f.dryRun
	opts.Refresh = f.refresh
	opts.Recovery.Strategy = engine.RecoveryStrategy(f.strategy)
	opts.Recovery.MaxRetries = f.maxRetries
	opts.Recovery.RetryDelay = f.retryDelay
	return opts
}

// runOrchestration wires the full pipeline and executes one run.
func runOrchestration(ctx context.Context, operation engine.Operation, flags *orchestrationFlags) error {
	manifest, units, err := loadUnits()
	if err != nil {
		return err
	}

	polEng, err := newPolicyEngine(ctx)
	if err != nil {
		return err
	}
	if err := enforcePolicies(ctx, polEng, manifest, units, operation, flags.dryRun); err != nil {
		return err
	}

	store, err := openStore(ctx)
	if err != nil {
		return fmt.Errorf("failed to open run store: %w", err)
	}
	defer func() { _ = store.Close() }()

	tel, err := newTelemetry(manifest, flags.metricsAddr)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tel.Shutdown(shutdownCtx)
	}()

	if flags.metricsAddr != "" {
		if err := tel.StartMetricsServer(); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
	}

	// Persist every run event alongside the live subscribers
	tel.Events.Subscribe(func(event engine.Event) {
		if err := store.Publish(context.Background(), &event); err != nil {
			log.Warn().Err(err).Str("event", string(event.Type)).Msg("Failed to persist event")
		}
	}, nil)
	if verbose {
		tel.Events.Subscribe(func(event engine.Event) {
			log.Debug().
				Str("type", string(event.Type)).
				Str("unit", event.UnitName).
				Msg(event.Message)
		}, nil)
	}

	cache := provisioner.NewProviderCache()
	driver := provisioner.NewPulumi(
		provisioner.WithLogger(log.Logger),
		provisioner.WithProviderCache(cache),
	)
	validator := provisioner.NewExecValidator(
		provisioner.WithValidatorLogger(log.Logger),
	)

	orch := engine.NewOrchestrator(driver,
		engine.WithProject(manifest.Project),
		engine.WithLogger(log.Logger),
		engine.WithCredentialValidator(validator),
		engine.WithRunStore(store),
		engine.WithEventPublisher(tel.Events),
		engine.WithMetrics(tel.Metrics),
	)

	opts := flags.deployOptions()

	var summary *engine.DeploymentSummary
	switch operation {
	case engine.OperationDestroy:
		summary, err = orch.DestroyAll(ctx, units, opts)
	case engine.OperationPreview:
		summary, err = orch.PreviewAll(ctx, units, opts)
	default:
		summary, err = orch.DeployAll(ctx, units, opts)
	}
	if err != nil {
		return err
	}

	if err := printSummary(summary); err != nil {
		return err
	}
	return summaryError(summary)
}

// printSummary renders the run summary as JSON or human-readable text.
func printSummary(summary *engine.DeploymentSummary) error {
	if jsonOutput {
		data, err := json.MarshalIndent(summary, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode summary: %w", err)
		}
		fmt.Println(string(data))
		return nil
	}

	fmt.Printf("Run %s: %s (%s)\n", summary.RunID, summary.State, summary.Operation)
	fmt.Printf("  Units: %d total, %d succeeded, %d failed\n",
		summary.TotalUnits, summary.SuccessfulUnits, summary.FailedUnits)
	fmt.Printf("  Duration: %s\n", summary.Duration.Round(time.Millisecond))

	for _, result := range summary.Results {
		status := "ok"
		if !result.Success {
			status = "failed"
		}
		fmt.Printf("  - %s: %s (%s", result.UnitName, status, result.Duration.Round(time.Millisecond))
		if result.Retries > 0 {
			fmt.Printf(", %d retries", result.Retries)
		}
		fmt.Print(")")
		if result.Error != nil {
			fmt.Printf(" %s", result.Error.Message)
		}
		if result.ChangeSummary != nil {
			fmt.Printf(" +%d ~%d -%d =%d",
				result.ChangeSummary.Create, result.ChangeSummary.Update,
				result.ChangeSummary.Delete, result.ChangeSummary.Same)
		}
		fmt.Println()
	}

	for _, rb := range summary.Rollback {
		status := "rolled back"
		if !rb.Success {
			status = "rollback failed"
		}
		fmt.Printf("  - %s: %s (%s)\n", rb.UnitName, status, rb.Duration.Round(time.Millisecond))
	}

	return nil
}

// summaryError maps a summary with failures to a non-zero exit.
func summaryError(summary *engine.DeploymentSummary) error {
	if summary.FailedUnits > 0 || summary.State == engine.RunStateAborted {
		return fmt.Errorf("run %s finished in state %s with %d failed unit(s)",
			summary.RunID, summary.State, summary.FailedUnits)
	}
	return nil
}
