// Package store provides durable persistence for workflow runs and
// their append-only checkpoint logs.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a requested run or checkpoint does not exist.
var ErrNotFound = errors.New("not found")

// Store persists workflow runs and checkpoints.
//
// The runtime treats AppendCheckpoint as a synchronous durability
// barrier: once it returns nil, the checkpoint must be durable and
// visible to subsequent reads. The runtime never advances to the next
// step before the current step's checkpoint append has returned, so a
// crash between steps can neither lose completed work nor cause it to
// be re-executed.
//
// Implementations can use:
//   - In-memory storage (for testing, see memory.go)
//   - Embedded databases (SQLite, see sqlite.go)
//   - Relational databases (MySQL, see mysql.go)
//   - Key-value stores (Redis, see redis.go)
//
// All methods must be safe for concurrent use across different run IDs.
// Within one run ID the engine guarantees a single writer, so
// implementations need no per-run write coordination beyond their own
// internal consistency.
//
// Type parameter S is the workflow state type to persist; it must be
// JSON-serializable for the durable backends.
type Store[S any] interface {
	// SaveRun inserts or replaces the run record.
	SaveRun(ctx context.Context, run Run[S]) error

	// GetRun retrieves a run record by ID.
	// Returns ErrNotFound if the ID is unknown.
	GetRun(ctx context.Context, runID string) (Run[S], error)

	// AppendCheckpoint appends a checkpoint to the run's log.
	// Appends never overwrite: every call adds a new record, even for
	// a step ID that already has checkpoints.
	AppendCheckpoint(ctx context.Context, runID string, cp Checkpoint) error

	// ListCheckpoints returns the run's checkpoint log in creation
	// order. An empty log is not an error.
	ListCheckpoints(ctx context.Context, runID string) ([]Checkpoint, error)

	// LatestForStep returns the most recently appended checkpoint for
	// the given step. Returns ErrNotFound if the step has none.
	LatestForStep(ctx context.Context, runID, stepID string) (Checkpoint, error)
}
