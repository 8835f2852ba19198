package flow

import (
	"context"
	"fmt"
	"sync"
)

// Executor performs the work of a single step.
//
// Execute receives the current merged state and returns a delta to be
// merged by the Reducer, or an error. The context carries cancellation
// and deadlines; long-running executors should honor it.
//
// Executors must be idempotent-safe at the step level: a step whose
// checkpoint was not durably written may be re-executed after a crash.
type Executor[S any] interface {
	Execute(ctx context.Context, state S) (S, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc[S any] func(ctx context.Context, state S) (S, error)

// Execute calls f(ctx, state).
func (f ExecutorFunc[S]) Execute(ctx context.Context, state S) (S, error) {
	return f(ctx, state)
}

// Reducer merges a step's delta into the accumulated state.
//
// It must be pure and deterministic: resume rebuilds state by folding
// persisted deltas through the reducer, and a non-deterministic
// reducer would make recovered state diverge from the original run.
type Reducer[S any] func(prev, delta S) S

// Step is one unit of work in a workflow definition.
type Step[S any] struct {
	// ID uniquely identifies the step within its workflow. Used as
	// the checkpoint key and the resume anchor.
	ID string

	// Name is a human-readable label for logs and events.
	// Defaults to ID when empty.
	Name string

	// ExecutorID names the executor for audit records. Recorded in
	// every checkpoint. Defaults to ID when empty.
	ExecutorID string

	// Executor performs the step's work.
	Executor Executor[S]

	// Retry overrides the runtime's retry policy for this step.
	// Nil means use the runtime default.
	Retry *RetryPolicy
}

// Definition is a fixed, ordered sequence of steps for one workflow
// type. The sequence is decided at registration; execution never
// branches or reorders.
type Definition[S any] struct {
	// Type is the workflow type name, e.g. "provisioning".
	Type string

	// Steps execute in slice order.
	Steps []Step[S]
}

// validate checks structural soundness of the definition.
func (d Definition[S]) validate() error {
	if d.Type == "" {
		return fmt.Errorf("%w: empty workflow type", ErrInvalidDefinition)
	}
	if len(d.Steps) == 0 {
		return fmt.Errorf("%w: workflow %q has no steps", ErrInvalidDefinition, d.Type)
	}
	seen := make(map[string]bool, len(d.Steps))
	for i, step := range d.Steps {
		if step.ID == "" {
			return fmt.Errorf("%w: workflow %q step %d has empty ID", ErrInvalidDefinition, d.Type, i)
		}
		if seen[step.ID] {
			return fmt.Errorf("%w: workflow %q has duplicate step ID %q", ErrInvalidDefinition, d.Type, step.ID)
		}
		seen[step.ID] = true
		if step.Executor == nil {
			return fmt.Errorf("%w: workflow %q step %q has nil executor", ErrInvalidDefinition, d.Type, step.ID)
		}
		if step.Retry != nil {
			if err := step.Retry.Validate(); err != nil {
				return fmt.Errorf("workflow %q step %q: %w", d.Type, step.ID, err)
			}
		}
	}
	return nil
}

// stepIndex returns the position of stepID in the definition, or -1.
func (d Definition[S]) stepIndex(stepID string) int {
	for i, step := range d.Steps {
		if step.ID == stepID {
			return i
		}
	}
	return -1
}

// Registry holds workflow definitions by type.
//
// Register definitions during setup, then hand the registry to New.
// The runtime reads from the registry on every Start and Resume, so
// registration after construction is safe but discouraged; keep the
// step sequence for a type stable for the lifetime of its runs.
type Registry[S any] struct {
	mu   sync.RWMutex
	defs map[string]Definition[S]
}

// NewRegistry creates an empty Registry.
func NewRegistry[S any]() *Registry[S] {
	return &Registry[S]{
		defs: make(map[string]Definition[S]),
	}
}

// Register adds a workflow definition. Returns ErrInvalidDefinition
// (wrapped with detail) if the definition is structurally unsound, or
// an error if the type is already registered.
func (r *Registry[S]) Register(def Definition[S]) error {
	if err := def.validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.defs[def.Type]; exists {
		return fmt.Errorf("%w: workflow type %q already registered", ErrInvalidDefinition, def.Type)
	}

	steps := make([]Step[S], len(def.Steps))
	copy(steps, def.Steps)
	for i := range steps {
		if steps[i].Name == "" {
			steps[i].Name = steps[i].ID
		}
		if steps[i].ExecutorID == "" {
			steps[i].ExecutorID = steps[i].ID
		}
	}
	def.Steps = steps

	r.defs[def.Type] = def
	return nil
}

// Lookup returns the definition for a workflow type.
func (r *Registry[S]) Lookup(workflowType string) (Definition[S], error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.defs[workflowType]
	if !ok {
		return Definition[S]{}, fmt.Errorf("%w: %q", ErrUnknownWorkflowType, workflowType)
	}
	return def, nil
}

// Types returns the registered workflow type names.
func (r *Registry[S]) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.defs))
	for t := range r.defs {
		types = append(types, t)
	}
	return types
}
