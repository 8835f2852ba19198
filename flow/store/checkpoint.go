package store

import (
	"encoding/json"
	"time"
)

// CheckpointStatus records the outcome of one executor attempt.
type CheckpointStatus string

const (
	// CheckpointSuccess marks a step as done. A step whose latest
	// checkpoint is SUCCESS is never re-executed on resume.
	CheckpointSuccess CheckpointStatus = "SUCCESS"

	// CheckpointFailure records one failed executor attempt. Every
	// failed attempt appends a FAILURE record, whether the step is
	// about to be retried or has failed for good; a step whose latest
	// checkpoint is FAILURE is re-executed on resume.
	CheckpointFailure CheckpointStatus = "FAILURE"
)

// Checkpoint is an immutable record of one step attempt outcome.
//
// Checkpoints for a run are append-only and ordered by creation; they
// are never mutated or deleted by the engine. The latest checkpoint for
// a step decides whether the step counts as done.
type Checkpoint struct {
	// StepID identifies the step this checkpoint belongs to.
	StepID string `json:"step_id"`

	// ExecutorID identifies which executor produced the outcome.
	ExecutorID string `json:"executor_id"`

	// Status is SUCCESS or FAILURE.
	Status CheckpointStatus `json:"status"`

	// Data is the JSON-encoded state delta the step produced.
	// Present only on SUCCESS; replayed through the reducer on resume.
	Data json.RawMessage `json:"data,omitempty"`

	// Error carries failure detail. Present only on FAILURE.
	Error *ErrorDetail `json:"error,omitempty"`

	// Timestamp is when the checkpoint was created.
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail is the failure payload recorded on a FAILURE checkpoint.
// It preserves enough structure to answer "which step, which error,
// how many attempts" without re-running anything.
type ErrorDetail struct {
	// Class is the classifier verdict: "transient", "permanent", or
	// "critical". Stored as a string to keep the persisted layout
	// independent of engine enums.
	Class string `json:"class"`

	// Code is the machine-readable error code, when the error carried one.
	Code string `json:"code,omitempty"`

	// Message is the error text.
	Message string `json:"message"`

	// Attempts is the 1-based attempt number that produced this failure.
	Attempts int `json:"attempts"`
}
