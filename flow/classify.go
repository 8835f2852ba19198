package flow

import (
	"context"
	"errors"
	"fmt"
)

// ErrorClass categorizes a step failure and drives retry behavior.
//
// The classifier maps every executor error into exactly one class:
//   - Transient failures are retried with exponential backoff.
//   - Permanent failures fail the step (and the run) immediately.
//   - Critical failures also fail immediately and mark the run as
//     needing operator attention before any resume.
type ErrorClass int

const (
	// ClassTransient marks failures that are expected to succeed on
	// retry: throttling, timeouts, temporary unavailability.
	ClassTransient ErrorClass = iota

	// ClassPermanent marks failures that will not succeed on retry:
	// validation errors, missing resources, bad input.
	ClassPermanent

	// ClassCritical marks failures that indicate the system itself is
	// in a bad state: corrupt checkpoints, invariant violations.
	// Behaves like permanent for control flow but is surfaced
	// distinctly in checkpoints and events.
	ClassCritical
)

// String returns the lowercase name of the class, matching the value
// persisted in checkpoint error details.
func (c ErrorClass) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassPermanent:
		return "permanent"
	case ClassCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// StepError is a classified step failure.
//
// Executors return a StepError when they can name the failure class
// themselves; the classifier honors it directly. Errors wrapped inside
// a StepError remain reachable via errors.Is/errors.As.
type StepError struct {
	// Class is the failure classification.
	Class ErrorClass

	// Code is a short machine-readable failure code, e.g.
	// "ThrottlingException" or "ValidationError".
	Code string

	// Message is a human-readable description.
	Message string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *StepError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s [%s]: %s", e.Class, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Class, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/errors.As chains.
func (e *StepError) Unwrap() error {
	return e.Err
}

// NewTransientError creates a transient StepError wrapping err.
func NewTransientError(code, message string, err error) *StepError {
	return &StepError{Class: ClassTransient, Code: code, Message: message, Err: err}
}

// NewPermanentError creates a permanent StepError wrapping err.
func NewPermanentError(code, message string, err error) *StepError {
	return &StepError{Class: ClassPermanent, Code: code, Message: message, Err: err}
}

// NewCriticalError creates a critical StepError wrapping err.
func NewCriticalError(code, message string, err error) *StepError {
	return &StepError{Class: ClassCritical, Code: code, Message: message, Err: err}
}

// Retryable is implemented by errors that can state whether a retry
// may succeed. SDK errors from cloud providers commonly expose this.
type Retryable interface {
	Retryable() bool
}

// coder is implemented by errors that expose a short failure code.
// The classifier matches codes against the transient-code table.
type coder interface {
	ErrorCode() string
}

// transientCodes are failure codes treated as transient when an error
// exposes them via ErrorCode. These are the throttling and
// availability codes cloud SDKs surface for retriable conditions.
var transientCodes = map[string]bool{
	"ThrottlingException":           true,
	"TooManyRequestsException":      true,
	"RequestLimitExceeded":          true,
	"ServiceUnavailable":            true,
	"ServiceUnavailableException":   true,
	"InternalServerError":           true,
	"InternalFailure":               true,
	"RequestTimeout":                true,
	"RequestTimeoutException":       true,
	"ProvisionedThroughputExceeded": true,
	"SlowDown":                      true,
}

// Classify maps an executor error to an ErrorClass.
//
// Classification is structural, in precedence order:
//  1. A *StepError anywhere in the chain names its own class.
//  2. An error implementing Retryable decides transient vs permanent.
//  3. context.DeadlineExceeded is transient (the operation timed out,
//     a retry may complete).
//  4. An error exposing ErrorCode() is looked up in the transient-code
//     table.
//  5. Everything else is permanent: retrying an unknown failure risks
//     duplicated side effects, so classification fails closed.
//
// context.Canceled is deliberately not classified as transient; the
// run loop handles cancellation before classification applies.
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassPermanent
	}

	var stepErr *StepError
	if errors.As(err, &stepErr) {
		return stepErr.Class
	}

	var retryable Retryable
	if errors.As(err, &retryable) {
		if retryable.Retryable() {
			return ClassTransient
		}
		return ClassPermanent
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTransient
	}

	var c coder
	if errors.As(err, &c) {
		if transientCodes[c.ErrorCode()] {
			return ClassTransient
		}
		return ClassPermanent
	}

	return ClassPermanent
}
