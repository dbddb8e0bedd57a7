package telemetry_test

import (
	"context"
	"fmt"

	"github.com/stackherd/stackherd/pkg/engine"
	"github.com/stackherd/stackherd/pkg/telemetry"
)

// Example_basicSetup demonstrates basic telemetry setup.
func Example_basicSetup() {
	// Create configuration
	cfg := telemetry.DefaultConfig()
	cfg.ServiceName = "stackherd"
	cfg.ServiceVersion = "1.0.0"

	// Initialize telemetry
	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		panic(err)
	}
	defer tel.Shutdown(context.Background())

	// Start metrics server (non-blocking)
	if err := tel.StartMetricsServer(); err != nil {
		panic(err)
	}

	// Add telemetry to context
	ctx := tel.WithContext(context.Background())

	// Use telemetry
	logger := telemetry.FromContext(ctx)
	logger.Info("Application started")

	// Output can vary, so we don't specify output for this example
}

// Example_structuredLogging demonstrates structured logging features.
func Example_structuredLogging() {
	cfg := telemetry.DevelopmentConfig()
	cfg.Logging.Output = "stdout"

	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	// Component-specific logger
	logger := tel.Logger.NewComponentLogger("engine")

	// Add run context fields
	logger = logger.WithRunID("run-123").WithUnit("network")

	// Log at different levels
	logger.Debug("Starting unit provisioning")
	logger.Info("Unit applied successfully")

	// Log with error
	err := fmt.Errorf("network timeout")
	logger.WithError(err).Error("Failed to reach state backend")

	// Output varies, no output specified
}

// Example_eventBus demonstrates subscribing to orchestration events.
func Example_eventBus() {
	cfg := telemetry.DefaultConfig()
	cfg.Events.EnableAsync = false

	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	// Subscribe to failures only
	tel.Events.Subscribe(func(event engine.Event) {
		fmt.Printf("%s: %s\n", event.Type, event.Message)
	}, telemetry.FilterByType(engine.EventTypeUnitFailed))

	_ = tel.Events.Publish(context.Background(), &engine.Event{
		Type:     engine.EventTypeUnitFailed,
		RunID:    "run-123",
		UnitName: "database",
		Message:  "unit database failed",
		Level:    telemetry.EventLevelError,
	})

	// Output: unit.failed: unit database failed
}

// Example_unitTracing demonstrates per-unit tracing.
func Example_unitTracing() {
	cfg := telemetry.DevelopmentConfig()
	cfg.Tracing.Exporter = "none"

	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())

	ctx, span := tel.Tracer.StartUnitSpan(ctx, "network", "apply")
	defer span.End()

	err := telemetry.RecordProvisionerOperation(ctx, "network", "apply", func(ctx context.Context) error {
		// Drive the provisioner here.
		return nil
	})
	if err != nil {
		telemetry.RecordError(span, err)
	}

	// Output varies, no output specified
}
