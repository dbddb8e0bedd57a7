package telemetry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stackherd/stackherd/pkg/engine"
)

func syncBusConfig() EventsConfig {
	return EventsConfig{
		Enabled:     true,
		BufferSize:  16,
		EnableAsync: false,
	}
}

func TestEventBus_DeliversToSubscribers(t *testing.T) {
	bus, err := NewEventBus(syncBusConfig())
	if err != nil {
		t.Fatalf("Failed to create bus: %v", err)
	}

	var got []engine.Event
	bus.Subscribe(func(event engine.Event) {
		got = append(got, event)
	}, nil)

	event := &engine.Event{Type: engine.EventTypeRunStarted, RunID: "run-1", Message: "run started", Level: EventLevelInfo}
	if err := bus.Publish(context.Background(), event); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if len(got) != 1 {
		t.Fatalf("Expected 1 delivered event, got %d", len(got))
	}
	if got[0].ID == "" {
		t.Fatal("Expected bus to assign an event ID")
	}
	if got[0].Timestamp.IsZero() {
		t.Fatal("Expected bus to assign a timestamp")
	}
}

func TestEventBus_SubscriberFilter(t *testing.T) {
	bus, err := NewEventBus(syncBusConfig())
	if err != nil {
		t.Fatalf("Failed to create bus: %v", err)
	}

	var failures int
	bus.Subscribe(func(event engine.Event) {
		failures++
	}, FilterByType(engine.EventTypeUnitFailed))

	ctx := context.Background()
	_ = bus.Publish(ctx, &engine.Event{Type: engine.EventTypeUnitStarted, Level: EventLevelInfo})
	_ = bus.Publish(ctx, &engine.Event{Type: engine.EventTypeUnitFailed, Level: EventLevelError})
	_ = bus.Publish(ctx, &engine.Event{Type: engine.EventTypeUnitSucceeded, Level: EventLevelInfo})

	if failures != 1 {
		t.Fatalf("Expected 1 filtered delivery, got %d", failures)
	}
}

func TestEventBus_GlobalFilter(t *testing.T) {
	bus, err := NewEventBus(syncBusConfig())
	if err != nil {
		t.Fatalf("Failed to create bus: %v", err)
	}
	bus.AddFilter(FilterByLevel(EventLevelWarning))

	var delivered int
	bus.Subscribe(func(event engine.Event) {
		delivered++
	}, nil)

	ctx := context.Background()
	_ = bus.Publish(ctx, &engine.Event{Type: engine.EventTypeUnitStarted, Level: EventLevelInfo})
	_ = bus.Publish(ctx, &engine.Event{Type: engine.EventTypeUnitFailed, Level: EventLevelError})

	if delivered != 1 {
		t.Fatalf("Expected info event filtered out, got %d deliveries", delivered)
	}
}

func TestEventBus_DisabledIsNoop(t *testing.T) {
	bus, err := NewEventBus(EventsConfig{Enabled: false})
	if err != nil {
		t.Fatalf("Failed to create bus: %v", err)
	}

	if err := bus.Publish(context.Background(), &engine.Event{Type: engine.EventTypeRunStarted}); err != nil {
		t.Fatalf("Expected disabled bus to accept events, got %v", err)
	}
	if err := bus.Shutdown(context.Background()); err != nil {
		t.Fatalf("Expected no-op shutdown, got %v", err)
	}
}

func TestEventBus_AsyncDeliveryAndShutdown(t *testing.T) {
	bus, err := NewEventBus(EventsConfig{
		Enabled:     true,
		BufferSize:  16,
		EnableAsync: true,
	})
	if err != nil {
		t.Fatalf("Failed to create bus: %v", err)
	}

	var mu sync.Mutex
	var delivered int
	bus.Subscribe(func(event engine.Event) {
		mu.Lock()
		delivered++
		mu.Unlock()
	}, nil)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := bus.Publish(ctx, &engine.Event{Type: engine.EventTypeUnitStarted, Level: EventLevelInfo}); err != nil {
			t.Fatalf("Expected publish to succeed, got %v", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := bus.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Expected clean shutdown, got %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if delivered != 5 {
		t.Fatalf("Expected 5 deliveries before shutdown, got %d", delivered)
	}
}

func TestFilterByRunID(t *testing.T) {
	filter := FilterByRunID("run-1")
	if !filter(engine.Event{RunID: "run-1"}) {
		t.Fatal("Expected matching run to pass")
	}
	if filter(engine.Event{RunID: "run-2"}) {
		t.Fatal("Expected other run to be filtered")
	}
}

func TestMetrics_DisabledIsNoop(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: false})
	if err != nil {
		t.Fatalf("Failed to create metrics: %v", err)
	}

	// None of these should panic without a registry.
	m.RecordRunStarted("apply")
	m.RecordRunCompleted("apply", "completed", time.Second)
	m.RecordUnitExecution("apply", "success", time.Second, 1)
	m.RecordRollback(false, time.Second)
	m.RecordError("transient", "TIMEOUT")
}
