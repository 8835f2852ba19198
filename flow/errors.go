// Package flow provides the workflow runtime: ordered step execution,
// durable checkpointing, failure classification with retry, and
// resumable recovery.
package flow

import "errors"

// ErrUnknownWorkflowType indicates that Start was called with a
// workflow type that has no registered definition.
var ErrUnknownWorkflowType = errors.New("unknown workflow type")

// ErrWorkflowNotFound indicates that no run exists with the given ID.
var ErrWorkflowNotFound = errors.New("workflow run not found")

// ErrAlreadyRunning indicates that a resume was requested for a run
// that already has an active execution loop in this process. At most
// one loop may drive a run at a time.
var ErrAlreadyRunning = errors.New("workflow run already has an active execution loop")

// ErrInvalidResumeState indicates that Resume was called on a run
// whose status does not permit resumption (COMPLETED or CANCELLED).
var ErrInvalidResumeState = errors.New("workflow run cannot be resumed from its current status")

// ErrInvalidCancelState indicates that Cancel was called on a run
// that is already in a terminal status.
var ErrInvalidCancelState = errors.New("workflow run cannot be cancelled from its current status")

// ErrCheckpointNotFound indicates that a resume anchor step has no
// checkpoint recorded, so there is nothing to resume from.
var ErrCheckpointNotFound = errors.New("no checkpoint recorded for step")

// ErrInvalidRetryPolicy indicates a RetryPolicy with invalid
// configuration (non-positive attempts, delays, or multiplier).
var ErrInvalidRetryPolicy = errors.New("invalid retry policy configuration")

// ErrInvalidDefinition indicates a workflow definition that cannot be
// registered (empty type, no steps, duplicate or missing step IDs).
var ErrInvalidDefinition = errors.New("invalid workflow definition")

// ErrUnknownStep indicates a step ID that does not belong to the
// run's workflow definition.
var ErrUnknownStep = errors.New("step not found in workflow definition")

// ErrShuttingDown indicates that the runtime is shutting down and no
// new runs or resumes are accepted.
var ErrShuttingDown = errors.New("runtime is shutting down")
