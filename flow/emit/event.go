package emit

import "time"

// Kind identifies a lifecycle event emitted during workflow execution.
type Kind string

const (
	// KindStarted is emitted when a run is created and its loop launched.
	KindStarted Kind = "started"

	// KindStepStart is emitted before a step's executor is invoked.
	KindStepStart Kind = "step_start"

	// KindStepRetry is emitted before a transient failure is retried.
	KindStepRetry Kind = "step_retry"

	// KindStepFailed is emitted when a step fails terminally.
	KindStepFailed Kind = "step_failed"

	// KindCompleted is emitted when the final step succeeds.
	KindCompleted Kind = "completed"

	// KindFailed is emitted when the run transitions to FAILED.
	KindFailed Kind = "failed"

	// KindCancelled is emitted when the run is cancelled.
	KindCancelled Kind = "cancelled"

	// KindResumed is emitted when a run is resumed from a checkpoint.
	KindResumed Kind = "resumed"
)

// Event is a lifecycle notification emitted during workflow execution.
//
// Events provide insight into run behavior:
//   - Run start/completion/failure/cancellation
//   - Step execution and retry attempts
//   - Resume points
//
// Events are delivered to an Emitter, which can log them, forward them
// to a chat channel, create OpenTelemetry spans, or discard them.
// Delivery is best-effort: the runtime never blocks or fails a run on
// account of an emitter.
type Event struct {
	// Kind classifies the event.
	Kind Kind

	// RunID identifies the workflow run that emitted this event.
	RunID string

	// WorkflowType names the run's workflow definition.
	WorkflowType string

	// StepID identifies the step, for step-level events.
	// Empty for run-level events.
	StepID string

	// Attempt is the attempt number for step-level events (1-based).
	// Zero when not applicable.
	Attempt int

	// Msg is a human-readable description of the event.
	Msg string

	// Meta contains additional structured data specific to this event.
	// Common keys:
	//   - "error": Error text for failure events
	//   - "error_class": Classifier verdict ("transient", "permanent", "critical")
	//   - "duration_ms": Step execution duration in milliseconds
	//   - "from_step": Resume anchor step
	Meta map[string]interface{}

	// Time is when the event was emitted.
	Time time.Time
}
