package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stackherd/stackherd/pkg/engine"
)

// EventLevel constants for event severity.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber is a function that handles events.
type EventSubscriber func(event engine.Event)

// EventFilter determines if an event should be processed.
type EventFilter func(event engine.Event) bool

// EventBus fans orchestration events out to subscribers. It implements
// engine.EventPublisher so the orchestrator can emit without knowing who
// listens.
type EventBus struct {
	config      EventsConfig
	buffer      chan engine.Event
	subscribers []subscriberEntry
	filters     []EventFilter
	wg          sync.WaitGroup
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventBus creates a new event bus with the given configuration.
func NewEventBus(cfg EventsConfig) (*EventBus, error) {
	if !cfg.Enabled {
		return &EventBus{config: cfg}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())

	bus := &EventBus{
		config:      cfg,
		buffer:      make(chan engine.Event, cfg.BufferSize),
		subscribers: make([]subscriberEntry, 0),
		filters:     make([]EventFilter, 0),
		ctx:         ctx,
		cancel:      cancel,
	}

	// Start the event processing goroutine
	if cfg.EnableAsync {
		bus.wg.Add(1)
		go bus.processEvents()
	}

	return bus, nil
}

// Publish publishes an event to all subscribers.
func (b *EventBus) Publish(_ context.Context, event *engine.Event) error {
	if !b.config.Enabled {
		return nil
	}

	// Set ID and timestamp if not already set
	ev := *event
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	// Apply global filters
	b.mu.RLock()
	for _, filter := range b.filters {
		if !filter(ev) {
			b.mu.RUnlock()
			return nil // Event filtered out
		}
	}
	b.mu.RUnlock()

	// Send to buffer if async, otherwise deliver immediately
	if b.config.EnableAsync {
		select {
		case b.buffer <- ev:
			return nil
		case <-b.ctx.Done():
			return fmt.Errorf("event bus stopped")
		default:
			// Buffer full, drop event
			return fmt.Errorf("event buffer full, event dropped")
		}
	}

	b.deliverEvent(ev)
	return nil
}

// Subscribe adds a new event subscriber.
func (b *EventBus) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.subscribers = append(b.subscribers, subscriberEntry{
		subscriber: subscriber,
		filter:     filter,
	})
}

// AddFilter adds a global event filter.
func (b *EventBus) AddFilter(filter EventFilter) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.filters = append(b.filters, filter)
}

// processEvents processes events from the buffer asynchronously.
func (b *EventBus) processEvents() {
	defer b.wg.Done()

	for {
		select {
		case event := <-b.buffer:
			b.deliverEvent(event)

		case <-b.ctx.Done():
			// Drain remaining events before shutting down
			for {
				select {
				case event := <-b.buffer:
					b.deliverEvent(event)
				default:
					return
				}
			}
		}
	}
}

// deliverEvent delivers an event to all subscribers. Subscribers run inline;
// slow consumers should hand off to their own goroutines.
func (b *EventBus) deliverEvent(event engine.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, entry := range b.subscribers {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		entry.subscriber(event)
	}
}

// Shutdown gracefully shuts down the event bus.
func (b *EventBus) Shutdown(ctx context.Context) error {
	if !b.config.Enabled {
		return nil
	}

	// Signal shutdown
	b.cancel()

	// Wait for processing to complete with timeout
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event bus shutdown timeout")
	}
}

// Common event filters.

// FilterByLevel creates a filter that only allows events of a specific level or higher.
func FilterByLevel(minLevel string) EventFilter {
	levels := map[string]int{
		EventLevelInfo:    0,
		EventLevelWarning: 1,
		EventLevelError:   2,
	}

	minLevelValue := levels[minLevel]

	return func(event engine.Event) bool {
		return levels[event.Level] >= minLevelValue
	}
}

// FilterByType creates a filter that only allows events of specific types.
func FilterByType(types ...engine.EventType) EventFilter {
	typeSet := make(map[engine.EventType]bool)
	for _, t := range types {
		typeSet[t] = true
	}

	return func(event engine.Event) bool {
		return typeSet[event.Type]
	}
}

// FilterByRunID creates a filter that only allows events for a specific run.
func FilterByRunID(runID string) EventFilter {
	return func(event engine.Event) bool {
		return event.RunID == runID
	}
}

// FilterByUnit creates a filter that only allows events for a specific unit.
func FilterByUnit(unit string) EventFilter {
	return func(event engine.Event) bool {
		return event.UnitName == unit
	}
}
