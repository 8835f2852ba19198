// Package emit defines the lifecycle event model and pluggable
// notifiers for workflow execution.
package emit

// Emitter receives lifecycle events from workflow execution.
//
// Emitters enable pluggable notification backends:
//   - Logging: stdout, files, structured zap output
//   - Distributed tracing: OpenTelemetry
//   - Human delivery: chat channels, pagers (caller-supplied)
//
// Implementations should be:
//   - Non-blocking: Avoid slowing down workflow execution
//   - Thread-safe: May be called concurrently from multiple run loops
//   - Resilient: Handle failures gracefully (never crash a workflow)
//
// Delivery is fire-and-forget. The runtime recovers from emitter
// panics and never aborts a run because an emitter failed.
type Emitter interface {
	// Emit delivers a lifecycle event to the configured backend.
	//
	// Implementations should not block workflow execution. If the
	// backend is unavailable or slow, events should be buffered,
	// dropped with internal logging, or sent asynchronously.
	Emit(event Event)
}
