package flow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stepflow-io/stepflow/flow/emit"
	"github.com/stepflow-io/stepflow/flow/store"
)

// Runtime drives workflow runs through their step sequences.
//
// One Runtime serves many runs concurrently, but each run is driven by
// at most one execution loop at a time. The loop executes steps in
// definition order, appends a checkpoint after every step outcome, and
// only advances once the checkpoint is durably written. A crashed or
// failed run is recovered with Resume, which rebuilds state from the
// run's input and its SUCCESS checkpoints and continues from the first
// unfinished step.
//
// Usage:
//
//	reg := flow.NewRegistry[OrderState]()
//	reg.Register(flow.Definition[OrderState]{ ... })
//
//	rt := flow.New(reg, reduce, st, emit.NewLogEmitter(nil, false), flow.Options{})
//	runID, err := rt.Start(ctx, "provisioning", input)
type Runtime[S any] struct {
	registry *Registry[S]
	store    store.Store[S]
	reducer  Reducer[S]
	emitter  emit.Emitter
	opts     Options

	mu           sync.Mutex
	active       map[string]*runHandle
	shuttingDown bool
	wg           sync.WaitGroup
}

// runHandle tracks one active execution loop.
//
// Its mutex serializes run-record writes between the loop and Cancel:
// once cancelled or stop is set, the loop must not touch the record
// again, so Cancel's CANCELLED write (and Shutdown's decision to leave
// the run IN_PROGRESS) cannot be overwritten by a racing loop save.
type runHandle struct {
	mu        sync.Mutex
	cancel    context.CancelFunc
	cancelled bool
	stop      bool
}

func (h *runHandle) stopped() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cancelled || h.stop
}

// New creates a Runtime.
//
// The reducer merges step deltas into run state and must be
// deterministic. A nil emitter is replaced with a NullEmitter. Option
// zero values get defaults (see Options). Panics on a nil registry,
// store, or reducer, and on an invalid Options.Retry: these are
// construction-time programming errors, not runtime conditions.
func New[S any](registry *Registry[S], reducer Reducer[S], st store.Store[S], emitter emit.Emitter, opts Options) *Runtime[S] {
	if registry == nil {
		panic("flow: nil registry")
	}
	if st == nil {
		panic("flow: nil store")
	}
	if reducer == nil {
		panic("flow: nil reducer")
	}
	opts = opts.withDefaults()
	if err := opts.Retry.Validate(); err != nil {
		panic("flow: " + err.Error())
	}
	if emitter == nil {
		emitter = emit.NewNullEmitter()
	}
	return &Runtime[S]{
		registry: registry,
		store:    st,
		reducer:  reducer,
		emitter:  emitter,
		opts:     opts,
		active:   make(map[string]*runHandle),
	}
}

// Start creates a run for the given workflow type and launches its
// execution loop. Returns the new run ID immediately; execution
// proceeds in the background.
//
// Returns ErrUnknownWorkflowType if no definition is registered for
// workflowType, and ErrShuttingDown after Shutdown has begun.
func (rt *Runtime[S]) Start(ctx context.Context, workflowType string, input S) (string, error) {
	def, err := rt.registry.Lookup(workflowType)
	if err != nil {
		return "", err
	}

	now := time.Now().UTC()
	run := store.Run[S]{
		ID:        uuid.NewString(),
		Type:      workflowType,
		Status:    store.StatusPending,
		Input:     input,
		State:     input,
		CreatedAt: now,
		UpdatedAt: now,
	}

	rt.mu.Lock()
	if rt.shuttingDown {
		rt.mu.Unlock()
		return "", ErrShuttingDown
	}
	handle := rt.reserveLocked(run.ID)
	rt.mu.Unlock()

	if err := rt.store.SaveRun(ctx, run); err != nil {
		rt.release(run.ID)
		return "", fmt.Errorf("failed to persist run: %w", err)
	}

	rt.opts.Metrics.RunStarted(workflowType, "start")
	rt.emit(emit.Event{
		Kind:         emit.KindStarted,
		RunID:        run.ID,
		WorkflowType: workflowType,
		Msg:          "run created",
	})

	rt.launch(handle, run, def, 0, input)
	return run.ID, nil
}

// GetStatus returns the current status of a run.
// Returns ErrWorkflowNotFound if no run exists with the given ID.
func (rt *Runtime[S]) GetStatus(ctx context.Context, runID string) (store.Status, error) {
	run, err := rt.GetRun(ctx, runID)
	if err != nil {
		return "", err
	}
	return run.Status, nil
}

// GetRun returns the full run record.
// Returns ErrWorkflowNotFound if no run exists with the given ID.
func (rt *Runtime[S]) GetRun(ctx context.Context, runID string) (store.Run[S], error) {
	run, err := rt.store.GetRun(ctx, runID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.Run[S]{}, fmt.Errorf("%w: %s", ErrWorkflowNotFound, runID)
		}
		return store.Run[S]{}, err
	}
	return run, nil
}

// History returns the run's checkpoints in append order.
// Returns ErrWorkflowNotFound if no run exists with the given ID.
func (rt *Runtime[S]) History(ctx context.Context, runID string) ([]store.Checkpoint, error) {
	if _, err := rt.GetRun(ctx, runID); err != nil {
		return nil, err
	}
	return rt.store.ListCheckpoints(ctx, runID)
}

// Resume restarts a run's execution loop after a failure or crash.
//
// State is rebuilt by folding the SUCCESS checkpoint deltas through
// the reducer, starting from the run's original input; steps whose
// latest checkpoint is SUCCESS are never re-executed. With an empty
// fromStepID the loop continues at the first step without a SUCCESS
// checkpoint. A non-empty fromStepID names the last completed step to
// resume after; every step up to and including it must have a SUCCESS
// checkpoint, and later steps that already succeeded are still skipped.
//
// Errors:
//   - ErrWorkflowNotFound: no such run
//   - ErrInvalidResumeState: run is COMPLETED or CANCELLED
//   - ErrAlreadyRunning: this process already drives the run
//   - ErrUnknownStep: fromStepID is not in the definition
//   - ErrCheckpointNotFound: fromStepID has no SUCCESS checkpoint
//   - ErrShuttingDown: Shutdown has begun
func (rt *Runtime[S]) Resume(ctx context.Context, runID, fromStepID string) error {
	rt.mu.Lock()
	if rt.shuttingDown {
		rt.mu.Unlock()
		return ErrShuttingDown
	}
	if _, exists := rt.active[runID]; exists {
		rt.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, runID)
	}
	handle := rt.reserveLocked(runID)
	rt.mu.Unlock()

	run, def, startIdx, state, err := rt.prepareResume(ctx, runID, fromStepID)
	if err != nil {
		rt.release(runID)
		return err
	}

	rt.opts.Metrics.RunStarted(run.Type, "resume")
	meta := map[string]interface{}{"start_index": startIdx}
	if fromStepID != "" {
		meta["from_step"] = fromStepID
	}
	rt.emit(emit.Event{
		Kind:         emit.KindResumed,
		RunID:        run.ID,
		WorkflowType: run.Type,
		Msg:          "run resumed",
		Meta:         meta,
	})

	rt.launch(handle, run, def, startIdx, state)
	return nil
}

// prepareResume validates the resume request and rebuilds execution
// state from the run's input and SUCCESS checkpoints.
func (rt *Runtime[S]) prepareResume(ctx context.Context, runID, fromStepID string) (store.Run[S], Definition[S], int, S, error) {
	var zero S

	run, err := rt.GetRun(ctx, runID)
	if err != nil {
		return run, Definition[S]{}, 0, zero, err
	}
	if !run.Status.CanTransitionTo(store.StatusInProgress) {
		return run, Definition[S]{}, 0, zero,
			fmt.Errorf("%w: run %s is %s", ErrInvalidResumeState, runID, run.Status)
	}

	def, err := rt.registry.Lookup(run.Type)
	if err != nil {
		return run, def, 0, zero, err
	}

	state := run.Input
	scanFrom := 0

	if fromStepID != "" {
		anchor := def.stepIndex(fromStepID)
		if anchor < 0 {
			return run, def, 0, zero,
				fmt.Errorf("%w: %q in workflow %q", ErrUnknownStep, fromStepID, run.Type)
		}
		// Every step up to and including the anchor must have succeeded.
		for i := 0; i <= anchor; i++ {
			step := def.Steps[i]
			cp, err := rt.store.LatestForStep(ctx, runID, step.ID)
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return run, def, 0, zero,
						fmt.Errorf("%w: step %q", ErrCheckpointNotFound, step.ID)
				}
				return run, def, 0, zero, err
			}
			if cp.Status != store.CheckpointSuccess {
				return run, def, 0, zero,
					fmt.Errorf("%w: step %q has no successful checkpoint", ErrCheckpointNotFound, step.ID)
			}
			state, err = rt.foldDelta(state, cp)
			if err != nil {
				return run, def, 0, zero, err
			}
		}
		scanFrom = anchor + 1
	}

	// Steps past the anchor (or from the start, with no anchor) whose
	// latest checkpoint is SUCCESS are replayed from their deltas, never
	// re-executed.
	startIdx, state, err := rt.skipSucceeded(ctx, runID, def, scanFrom, state)
	if err != nil {
		return run, def, 0, zero, err
	}
	return run, def, startIdx, state, nil
}

// skipSucceeded folds the SUCCESS deltas of consecutive finished steps
// starting at from, returning the index of the first step that still
// needs execution.
func (rt *Runtime[S]) skipSucceeded(ctx context.Context, runID string, def Definition[S], from int, state S) (int, S, error) {
	idx := from
	for ; idx < len(def.Steps); idx++ {
		cp, err := rt.store.LatestForStep(ctx, runID, def.Steps[idx].ID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				break
			}
			return idx, state, err
		}
		if cp.Status != store.CheckpointSuccess {
			break
		}
		state, err = rt.foldDelta(state, cp)
		if err != nil {
			return idx, state, err
		}
	}
	return idx, state, nil
}

// foldDelta decodes a SUCCESS checkpoint's delta and merges it.
func (rt *Runtime[S]) foldDelta(state S, cp store.Checkpoint) (S, error) {
	var delta S
	if len(cp.Data) > 0 {
		if err := json.Unmarshal(cp.Data, &delta); err != nil {
			return state, fmt.Errorf("failed to decode checkpoint for step %q: %w", cp.StepID, err)
		}
	}
	return rt.reducer(state, delta), nil
}

// Cancel stops a run. If a loop is active in this process, its context
// is cancelled and it exits after the in-flight step returns; the
// in-flight step's outcome is still checkpointed. The run record moves
// to CANCELLED either way.
//
// Returns ErrWorkflowNotFound if no run exists, ErrInvalidCancelState
// if the run is already COMPLETED or CANCELLED, and nil if the run is
// already being cancelled.
func (rt *Runtime[S]) Cancel(ctx context.Context, runID string) error {
	rt.mu.Lock()
	handle := rt.active[runID]
	rt.mu.Unlock()

	if handle != nil {
		handle.mu.Lock()
		defer handle.mu.Unlock()
		if handle.cancelled {
			return nil
		}

		run, err := rt.GetRun(ctx, runID)
		if err != nil {
			return err
		}
		if !run.Status.CanTransitionTo(store.StatusCancelled) {
			return fmt.Errorf("%w: run %s is %s", ErrInvalidCancelState, runID, run.Status)
		}

		handle.cancelled = true
		handle.cancel()

		run.Status = store.StatusCancelled
		run.UpdatedAt = time.Now().UTC()
		if err := rt.store.SaveRun(ctx, run); err != nil {
			return fmt.Errorf("failed to persist cancellation: %w", err)
		}
		rt.finish(run, "run cancelled")
		return nil
	}

	run, err := rt.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if !run.Status.CanTransitionTo(store.StatusCancelled) {
		return fmt.Errorf("%w: run %s is %s", ErrInvalidCancelState, runID, run.Status)
	}

	run.Status = store.StatusCancelled
	run.UpdatedAt = time.Now().UTC()
	if err := rt.store.SaveRun(ctx, run); err != nil {
		return fmt.Errorf("failed to persist cancellation: %w", err)
	}
	rt.finish(run, "run cancelled")
	return nil
}

// Shutdown stops all execution loops and waits for them to exit.
//
// Loops are interrupted via context cancellation but their runs are
// left IN_PROGRESS, not CANCELLED: every completed step is already
// checkpointed, so a later Resume continues exactly where the loop
// stopped. Returns ctx.Err() if the loops do not drain in time.
//
// After Shutdown begins, Start and Resume return ErrShuttingDown.
func (rt *Runtime[S]) Shutdown(ctx context.Context) error {
	rt.mu.Lock()
	rt.shuttingDown = true
	for _, handle := range rt.active {
		handle.mu.Lock()
		handle.stop = true
		handle.mu.Unlock()
		if handle.cancel != nil {
			handle.cancel()
		}
	}
	rt.mu.Unlock()

	done := make(chan struct{})
	go func() {
		rt.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// reserveLocked registers a handle for runID. Caller holds rt.mu.
func (rt *Runtime[S]) reserveLocked(runID string) *runHandle {
	handle := &runHandle{}
	rt.active[runID] = handle
	return handle
}

// release removes a run's handle.
func (rt *Runtime[S]) release(runID string) {
	rt.mu.Lock()
	delete(rt.active, runID)
	rt.mu.Unlock()
}

// launch starts the execution loop goroutine for a run.
func (rt *Runtime[S]) launch(handle *runHandle, run store.Run[S], def Definition[S], startIdx int, state S) {
	ctx, cancel := context.WithCancel(context.Background())
	handle.mu.Lock()
	handle.cancel = cancel
	handle.mu.Unlock()

	rt.wg.Add(1)
	go rt.runLoop(ctx, handle, run, def, startIdx, state)
}

// runLoop is the single execution loop for one run.
//
// ctx governs executor invocations only; persistence uses a background
// context so that checkpoints and record updates survive cancellation
// of in-flight work.
func (rt *Runtime[S]) runLoop(ctx context.Context, handle *runHandle, run store.Run[S], def Definition[S], startIdx int, state S) {
	defer rt.wg.Done()
	defer rt.release(run.ID)
	defer rt.opts.Metrics.RunActive(-1)
	rt.opts.Metrics.RunActive(1)

	pctx := context.Background()

	run.Status = store.StatusInProgress
	if !rt.saveGuarded(pctx, handle, &run) {
		return
	}

	for i := startIdx; i < len(def.Steps); i++ {
		if handle.stopped() {
			return
		}
		step := def.Steps[i]

		run.CurrentStepID = step.ID
		run.State = state
		if !rt.saveGuarded(pctx, handle, &run) {
			return
		}

		rt.emit(emit.Event{
			Kind:         emit.KindStepStart,
			RunID:        run.ID,
			WorkflowType: run.Type,
			StepID:       step.ID,
			Msg:          step.Name,
		})

		delta, detail, ok := rt.runStep(ctx, pctx, handle, run, step, state)
		if !ok {
			if handle.stopped() {
				// Cancel wrote CANCELLED; Shutdown leaves IN_PROGRESS.
				return
			}
			rt.failRun(pctx, handle, run, step, detail)
			return
		}
		state = rt.reducer(state, delta)
	}

	run.Status = store.StatusCompleted
	run.CurrentStepID = ""
	run.State = state
	if !rt.saveGuarded(pctx, handle, &run) {
		return
	}
	rt.finish(run, "run completed")
}

// runStep executes one step with retry. It returns the step's delta on
// success, or the recorded failure detail. Every executor attempt
// outcome is checkpointed: each failed attempt appends a FAILURE
// record before any backoff, and the SUCCESS append is the durability
// barrier that permits advancing past the step.
func (rt *Runtime[S]) runStep(ctx, pctx context.Context, handle *runHandle, run store.Run[S], step Step[S], state S) (S, *store.ErrorDetail, bool) {
	var zero S

	policy := rt.opts.Retry
	if step.Retry != nil {
		policy = *step.Retry
	}

	for attempt := 1; ; attempt++ {
		start := time.Now()
		delta, err := step.Executor.Execute(ctx, state)
		elapsed := time.Since(start)

		if err == nil {
			rt.opts.Metrics.StepLatency(run.Type, step.ID, elapsed, "success")

			data, merr := json.Marshal(delta)
			if merr != nil {
				detail := &store.ErrorDetail{
					Class:    ClassCritical.String(),
					Message:  fmt.Sprintf("failed to encode step delta: %v", merr),
					Attempts: attempt,
				}
				rt.appendFailure(pctx, run.ID, step, detail)
				return zero, detail, false
			}

			cp := store.Checkpoint{
				StepID:     step.ID,
				ExecutorID: step.ExecutorID,
				Status:     store.CheckpointSuccess,
				Data:       data,
				Timestamp:  time.Now().UTC(),
			}
			if aerr := rt.store.AppendCheckpoint(pctx, run.ID, cp); aerr != nil {
				// Without the checkpoint the step does not count as
				// done; advancing would lose it on resume.
				detail := &store.ErrorDetail{
					Class:    ClassCritical.String(),
					Message:  fmt.Sprintf("failed to append checkpoint: %v", aerr),
					Attempts: attempt,
				}
				return zero, detail, false
			}
			return delta, nil, true
		}

		rt.opts.Metrics.StepLatency(run.Type, step.ID, elapsed, "failure")

		// Every failed attempt is checkpointed before any backoff, so
		// the log preserves the full attempt history across retries
		// and restarts.
		class := rt.opts.Classifier(err)
		detail := errorDetail(class, err, attempt)
		rt.appendFailure(pctx, run.ID, step, detail)

		if handle.stopped() || errors.Is(err, context.Canceled) {
			return zero, detail, false
		}

		if class == ClassTransient && attempt < policy.MaxAttempts {
			rt.opts.Metrics.StepRetried(run.Type, step.ID)
			delay := policy.Delay(attempt)
			rt.emit(emit.Event{
				Kind:         emit.KindStepRetry,
				RunID:        run.ID,
				WorkflowType: run.Type,
				StepID:       step.ID,
				Attempt:      attempt,
				Msg:          "transient failure, retrying",
				Meta: map[string]interface{}{
					"error":       err.Error(),
					"error_class": class.String(),
					"delay_ms":    delay.Milliseconds(),
				},
			})
			if !sleep(ctx, delay) {
				return zero, detail, false
			}
			continue
		}

		return zero, detail, false
	}
}

// appendFailure records a FAILURE checkpoint. Best-effort: a failed
// append leaves the run's record transition as the source of truth.
func (rt *Runtime[S]) appendFailure(pctx context.Context, runID string, step Step[S], detail *store.ErrorDetail) {
	cp := store.Checkpoint{
		StepID:     step.ID,
		ExecutorID: step.ExecutorID,
		Status:     store.CheckpointFailure,
		Error:      detail,
		Timestamp:  time.Now().UTC(),
	}
	_ = rt.store.AppendCheckpoint(pctx, runID, cp)
}

// failRun transitions the run to FAILED and emits failure events.
func (rt *Runtime[S]) failRun(pctx context.Context, handle *runHandle, run store.Run[S], step Step[S], detail *store.ErrorDetail) {
	run.Status = store.StatusFailed
	if !rt.saveGuarded(pctx, handle, &run) {
		return
	}

	meta := map[string]interface{}{}
	if detail != nil {
		meta["error"] = detail.Message
		meta["error_class"] = detail.Class
		meta["attempts"] = detail.Attempts
		if detail.Code != "" {
			meta["error_code"] = detail.Code
		}
	}
	rt.emit(emit.Event{
		Kind:         emit.KindStepFailed,
		RunID:        run.ID,
		WorkflowType: run.Type,
		StepID:       step.ID,
		Msg:          "step failed",
		Meta:         meta,
	})
	rt.emit(emit.Event{
		Kind:         emit.KindFailed,
		RunID:        run.ID,
		WorkflowType: run.Type,
		StepID:       step.ID,
		Msg:          "run failed",
		Meta:         meta,
	})
	rt.opts.Metrics.RunFinished(run.Type, string(store.StatusFailed))
}

// finish emits the terminal event and metric for a run.
func (rt *Runtime[S]) finish(run store.Run[S], msg string) {
	kind := emit.KindCompleted
	if run.Status == store.StatusCancelled {
		kind = emit.KindCancelled
	}
	rt.emit(emit.Event{
		Kind:         kind,
		RunID:        run.ID,
		WorkflowType: run.Type,
		Msg:          msg,
	})
	rt.opts.Metrics.RunFinished(run.Type, string(run.Status))
}

// saveGuarded persists the run record unless the handle has been
// cancelled or stopped. The write happens under the handle lock so it
// cannot race with Cancel's CANCELLED write. Returns false if the loop
// must stop touching the record.
func (rt *Runtime[S]) saveGuarded(pctx context.Context, handle *runHandle, run *store.Run[S]) bool {
	handle.mu.Lock()
	defer handle.mu.Unlock()
	if handle.cancelled || handle.stop {
		return false
	}
	run.UpdatedAt = time.Now().UTC()
	if err := rt.store.SaveRun(pctx, *run); err != nil {
		rt.emit(emit.Event{
			Kind:         emit.KindFailed,
			RunID:        run.ID,
			WorkflowType: run.Type,
			Msg:          "failed to persist run record",
			Meta:         map[string]interface{}{"error": err.Error()},
		})
		return false
	}
	return true
}

// emit delivers an event, stamping the time and absorbing emitter
// panics so a notifier can never take down a run.
func (rt *Runtime[S]) emit(ev emit.Event) {
	defer func() {
		_ = recover()
	}()
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}
	rt.emitter.Emit(ev)
}

// errorDetail builds the persisted failure payload for an error.
func errorDetail(class ErrorClass, err error, attempts int) *store.ErrorDetail {
	detail := &store.ErrorDetail{
		Class:    class.String(),
		Message:  err.Error(),
		Attempts: attempts,
	}

	var stepErr *StepError
	if errors.As(err, &stepErr) {
		detail.Code = stepErr.Code
	} else {
		var c coder
		if errors.As(err, &c) {
			detail.Code = c.ErrorCode()
		}
	}
	return detail
}

// sleep waits for d or until ctx is cancelled. Returns false on
// cancellation.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
