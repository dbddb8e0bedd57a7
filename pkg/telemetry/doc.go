// Package telemetry provides observability instrumentation for stackherd.
//
// The telemetry package integrates structured logging (zerolog), distributed
// tracing (OpenTelemetry), metrics (Prometheus), and an event bus into a
// unified system for monitoring deployment runs.
//
// # Architecture
//
// The telemetry system is built on four pillars:
//
//  1. Structured Logging - Context-aware logging with zerolog
//  2. Distributed Tracing - OpenTelemetry traces with multiple exporters
//  3. Metrics Collection - Prometheus metrics for operational insights
//  4. Event Bus - Buffered fan-out of orchestration events
//
// # Usage
//
// Initialize telemetry at application startup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceName = "stackherd"
//	cfg.ServiceVersion = "1.0.0"
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
//	// Start metrics server
//	if err := tel.StartMetricsServer(); err != nil {
//	    log.Fatal(err)
//	}
//
// Add telemetry to context:
//
//	ctx = tel.WithContext(ctx)
//
// # Structured Logging
//
// The logger provides component-specific logging with automatic context propagation:
//
//	logger := tel.Logger.NewComponentLogger("engine")
//	logger = logger.WithRunID("run-123").WithUnit("network")
//	logger.Info("Starting unit provisioning")
//	logger.WithError(err).Error("Provisioning failed")
//
// Log levels: trace, debug, info, warn, error, fatal
//
// # Distributed Tracing
//
// Tracing provides visibility into run flow and per-unit timing:
//
//	ctx, span := tel.Tracer.StartUnitSpan(ctx, "network", "apply")
//	defer span.End()
//
//	if err != nil {
//	    telemetry.RecordError(span, err)
//	}
//
// Supported exporters: OTLP (production), Stdout (development)
//
// # Metrics
//
// Prometheus metrics track orchestration behavior. The Metrics type
// implements engine.MetricsRecorder, so wiring it into the orchestrator is
// one functional option:
//
//	tel.Metrics.RecordRunStarted("apply")
//	tel.Metrics.RecordRunCompleted("apply", "completed", duration)
//	tel.Metrics.RecordUnitExecution("apply", "success", duration, retries)
//	tel.Metrics.RecordRollback(true, duration)
//
// Metrics are exposed via HTTP at /metrics (default: :9090/metrics)
//
// # Event Bus
//
// The bus implements engine.EventPublisher and fans orchestration events out
// to subscribers:
//
//	tel.Events.Subscribe(func(event engine.Event) {
//	    fmt.Printf("Event: %s - %s\n", event.Type, event.Message)
//	}, telemetry.FilterByLevel("warning"))
//
// Event filters: FilterByLevel, FilterByType, FilterByRunID, FilterByUnit
//
// # Configuration
//
// The package provides pre-configured setups for different environments:
//
//	// Development (verbose logging, stdout traces, full sampling)
//	cfg := telemetry.DevelopmentConfig()
//
//	// Production (JSON logs, OTLP traces, 10% sampling)
//	cfg := telemetry.ProductionConfig()
//
// # Graceful Shutdown
//
// Always shut down telemetry gracefully to flush pending data:
//
//	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
//	defer cancel()
//
//	if err := tel.Shutdown(ctx); err != nil {
//	    log.Printf("Telemetry shutdown error: %v", err)
//	}
//
// # Common Metrics
//
// Key metrics exposed:
//
//   - stackherd_runs_started_total{operation}
//   - stackherd_runs_completed_total{operation,state}
//   - stackherd_run_duration_seconds{operation,state}
//   - stackherd_units_executed_total{operation,status}
//   - stackherd_unit_duration_seconds{operation,status}
//   - stackherd_unit_retries{operation}
//   - stackherd_rollbacks_total{status}
//   - stackherd_errors_by_class_total{class}
//   - stackherd_active_runs
//
// # Security Considerations
//
//   - Never log sensitive data (credentials, keys, tokens)
//   - Use secure connections (TLS) for trace exporters in production
//   - Limit metrics endpoint access via network policies
package telemetry
