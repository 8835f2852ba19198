package emit

import "sync"

// BufferedEmitter implements Emitter by storing events in memory.
//
// This emitter captures all events and provides query capabilities for
// run history analysis. Events are organized by run ID for efficient
// retrieval and filtering. It is the queue-decoupled notification path:
// the step loop only appends; delivery to humans happens whenever a
// consumer drains the buffer.
//
// Features:
//   - Thread-safe concurrent access
//   - Query by run ID with optional filtering
//   - Filter by step ID, event kind, attempt range
//   - Clear events by run ID or all events
//
// Use cases:
//   - Development, debugging, and tests
//   - Chat frontends that poll for new lifecycle events
//   - Post-run analysis
//
// Warning: This emitter stores all events in memory. For long-running
// deployments with high event volume, drain with Clear or use a
// persistent backend.
type BufferedEmitter struct {
	mu     sync.RWMutex
	events map[string][]Event // runID -> events
}

// HistoryFilter specifies criteria for filtering run history.
//
// All filter fields are optional. When multiple fields are set, they
// are combined with AND logic (all conditions must match).
type HistoryFilter struct {
	StepID     string // Filter by step ID (empty = no filter)
	Kind       Kind   // Filter by event kind (empty = no filter)
	MinAttempt *int   // Minimum attempt number (nil = no filter)
	MaxAttempt *int   // Maximum attempt number (nil = no filter)
}

// NewBufferedEmitter creates a new BufferedEmitter.
//
// Returns a BufferedEmitter that stores all events in memory and
// provides query capabilities. Safe for concurrent use.
func NewBufferedEmitter() *BufferedEmitter {
	return &BufferedEmitter{
		events: make(map[string][]Event),
	}
}

// Emit stores an event in the buffer.
//
// Events are organized by run ID. This method is thread-safe and can
// be called concurrently from multiple run loops.
func (b *BufferedEmitter) Emit(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.events[event.RunID] = append(b.events[event.RunID], event)
}

// GetHistory retrieves all events for a specific run ID.
//
// Returns events in the order they were emitted. Returns an empty
// slice if no events exist for the given run ID.
//
// This method is thread-safe and returns a copy of the events to
// prevent concurrent modification issues.
func (b *BufferedEmitter) GetHistory(runID string) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	events := b.events[runID]
	if events == nil {
		return []Event{}
	}

	result := make([]Event, len(events))
	copy(result, events)
	return result
}

// GetHistoryWithFilter retrieves filtered events for a specific run ID.
//
// Applies the provided filter criteria to select matching events. All
// filter conditions must match for an event to be included (AND logic).
//
// Returns events in the order they were emitted. Returns an empty
// slice if no events match the filter.
func (b *BufferedEmitter) GetHistoryWithFilter(runID string, filter HistoryFilter) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	events := b.events[runID]
	if events == nil {
		return []Event{}
	}

	if filter.StepID == "" && filter.Kind == "" && filter.MinAttempt == nil && filter.MaxAttempt == nil {
		result := make([]Event, len(events))
		copy(result, events)
		return result
	}

	var result []Event
	for _, event := range events {
		if !matchesFilter(event, filter) {
			continue
		}
		result = append(result, event)
	}

	if result == nil {
		return []Event{}
	}
	return result
}

// matchesFilter checks if an event matches the filter criteria.
func matchesFilter(event Event, filter HistoryFilter) bool {
	if filter.StepID != "" && event.StepID != filter.StepID {
		return false
	}
	if filter.Kind != "" && event.Kind != filter.Kind {
		return false
	}
	if filter.MinAttempt != nil && event.Attempt < *filter.MinAttempt {
		return false
	}
	if filter.MaxAttempt != nil && event.Attempt > *filter.MaxAttempt {
		return false
	}
	return true
}

// Clear removes stored events.
//
// If runID is non-empty, clears only events for that specific run.
// If runID is empty, clears all stored events across all runs.
func (b *BufferedEmitter) Clear(runID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if runID == "" {
		b.events = make(map[string][]Event)
	} else {
		delete(b.events, runID)
	}
}
