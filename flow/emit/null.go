package emit

// NullEmitter implements Emitter by discarding all events.
//
// This is a no-op emitter for deployments where lifecycle
// notifications are not desired. It implements the Emitter interface
// but does nothing with emitted events.
//
// Use cases:
//   - Embedding the engine where callers poll status instead
//   - Testing scenarios where event capture is not needed
//   - Disabling notifications without changing code
type NullEmitter struct{}

// NewNullEmitter creates a new NullEmitter.
//
// Returns a NullEmitter that discards all events without any
// processing. This is safe for concurrent use and has zero overhead.
func NewNullEmitter() *NullEmitter {
	return &NullEmitter{}
}

// Emit discards the event without any processing.
func (n *NullEmitter) Emit(event Event) {
	// No-op: discard the event
}
