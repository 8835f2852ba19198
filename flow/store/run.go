package store

import "time"

// Status is the lifecycle state of a workflow run.
//
// Status values are persisted as strings so that stored runs remain
// readable across engine versions and storage backends.
type Status string

const (
	// StatusPending means the run has been created but its execution
	// loop has not started its first step yet.
	StatusPending Status = "PENDING"

	// StatusInProgress means an execution loop is (or was, before a
	// crash) driving the run through its steps.
	StatusInProgress Status = "IN_PROGRESS"

	// StatusCompleted means every step finished successfully.
	// Terminal: the run record is immutable from here on.
	StatusCompleted Status = "COMPLETED"

	// StatusFailed means a step failed permanently or exhausted its
	// retry budget. Recoverable via an explicit resume.
	StatusFailed Status = "FAILED"

	// StatusCancelled means the run was cancelled by the caller.
	// Terminal: the run record is immutable from here on.
	StatusCancelled Status = "CANCELLED"
)

// Terminal reports whether the status permits no further transitions.
// FAILED is not terminal because a resume moves it back to IN_PROGRESS.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// CanTransitionTo reports whether moving from s to next is a legal
// status transition:
//
//	PENDING     -> IN_PROGRESS | CANCELLED
//	IN_PROGRESS -> IN_PROGRESS (resume) | COMPLETED | FAILED | CANCELLED
//	FAILED      -> IN_PROGRESS (resume) | CANCELLED
//
// COMPLETED and CANCELLED permit nothing. Attempting an illegal
// transition is a programming error in the caller, not an expected
// runtime condition.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusInProgress || next == StatusCancelled
	case StatusInProgress:
		return next == StatusInProgress || next == StatusCompleted ||
			next == StatusFailed || next == StatusCancelled
	case StatusFailed:
		return next == StatusInProgress || next == StatusCancelled
	default:
		return false
	}
}

// Run is the persisted record of one workflow execution.
//
// A Run is created once by Start, mutated only by the single execution
// loop that owns it (plus an explicit Cancel), and becomes immutable
// once Status is terminal.
//
// Type parameter S is the workflow's state type. Input holds the
// payload the run was started with and never changes; State holds the
// latest merged execution state and is refreshed after each successful
// step. On resume, execution state is reconstructed from Input plus the
// SUCCESS checkpoints, so a stale State (crash between a checkpoint
// append and the run update) is never trusted.
type Run[S any] struct {
	// ID uniquely identifies this run. Assigned at creation, immutable.
	ID string `json:"id"`

	// Type names the workflow definition this run executes. Immutable.
	Type string `json:"type"`

	// Status is the current lifecycle state.
	Status Status `json:"status"`

	// CurrentStepID is the step the loop is about to execute or is
	// executing. Persisted before each step starts.
	CurrentStepID string `json:"current_step_id,omitempty"`

	// Input is the payload passed to Start. Immutable.
	Input S `json:"input"`

	// State is the merged execution state after the most recently
	// checkpointed step.
	State S `json:"state"`

	// CreatedAt is when the run record was first persisted.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is bumped on every state transition and step advance.
	UpdatedAt time.Time `json:"updated_at"`
}
