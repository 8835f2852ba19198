package store

import (
	"context"
	"sync"
)

// MemStore is an in-memory implementation of Store[S].
//
// It keeps run records and checkpoint logs in maps guarded by a single
// RWMutex. Designed for:
//   - Testing and development
//   - Single-process workflows where durability isn't required
//
// Data is lost when the process terminates. For durable storage use
// SQLiteStore, MySQLStore, or RedisStore.
//
// MemStore is thread-safe and supports concurrent access.
type MemStore[S any] struct {
	mu          sync.RWMutex
	runs        map[string]Run[S]
	checkpoints map[string][]Checkpoint // runID -> log, creation order
}

// NewMemStore creates an empty in-memory store.
func NewMemStore[S any]() *MemStore[S] {
	return &MemStore[S]{
		runs:        make(map[string]Run[S]),
		checkpoints: make(map[string][]Checkpoint),
	}
}

// SaveRun inserts or replaces the run record.
func (m *MemStore[S]) SaveRun(_ context.Context, run Run[S]) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.runs[run.ID] = run
	return nil
}

// GetRun retrieves a run record by ID.
func (m *MemStore[S]) GetRun(_ context.Context, runID string) (Run[S], error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	run, exists := m.runs[runID]
	if !exists {
		var zero Run[S]
		return zero, ErrNotFound
	}
	return run, nil
}

// AppendCheckpoint appends a checkpoint to the run's log.
func (m *MemStore[S]) AppendCheckpoint(_ context.Context, runID string, cp Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.checkpoints[runID] = append(m.checkpoints[runID], cp)
	return nil
}

// ListCheckpoints returns the run's checkpoint log in creation order.
//
// Returns a copy to prevent external modification of the log.
func (m *MemStore[S]) ListCheckpoints(_ context.Context, runID string) ([]Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	log := m.checkpoints[runID]
	result := make([]Checkpoint, len(log))
	copy(result, log)
	return result, nil
}

// LatestForStep returns the most recently appended checkpoint for a step.
func (m *MemStore[S]) LatestForStep(_ context.Context, runID, stepID string) (Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	log := m.checkpoints[runID]
	for i := len(log) - 1; i >= 0; i-- {
		if log[i].StepID == stepID {
			return log[i], nil
		}
	}

	var zero Checkpoint
	return zero, ErrNotFound
}
