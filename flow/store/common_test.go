package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"
)

// testDoc is the state type used across the store tests.
type testDoc struct {
	Name  string `json:"name,omitempty"`
	Count int    `json:"count,omitempty"`
}

// testRunSuffix keeps run IDs unique per test process, so the suite
// can run repeatedly against persistent backends (MySQL) without
// colliding with rows from earlier runs.
var testRunSuffix = fmt.Sprintf("-%d", time.Now().UnixNano())

func testRunID(name string) string {
	return name + testRunSuffix
}

func sampleRun(id string) Run[testDoc] {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return Run[testDoc]{
		ID:        id,
		Type:      "provisioning",
		Status:    StatusPending,
		Input:     testDoc{Name: "input", Count: 1},
		State:     testDoc{Name: "input", Count: 1},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func successCheckpoint(stepID string, delta testDoc) Checkpoint {
	data, _ := json.Marshal(delta)
	return Checkpoint{
		StepID:     stepID,
		ExecutorID: stepID + "-executor",
		Status:     CheckpointSuccess,
		Data:       data,
		Timestamp:  time.Now().UTC().Truncate(time.Microsecond),
	}
}

func failureCheckpoint(stepID string) Checkpoint {
	return Checkpoint{
		StepID:     stepID,
		ExecutorID: stepID + "-executor",
		Status:     CheckpointFailure,
		Error: &ErrorDetail{
			Class:    "transient",
			Code:     "ThrottlingException",
			Message:  "rate exceeded",
			Attempts: 5,
		},
		Timestamp: time.Now().UTC().Truncate(time.Microsecond),
	}
}

// runStoreContract exercises the Store behavior every backend must
// satisfy: upsert semantics for runs, append-only ordered checkpoint
// logs, and ErrNotFound for missing records.
func runStoreContract(t *testing.T, st Store[testDoc]) {
	t.Helper()
	ctx := context.Background()

	t.Run("GetRun missing returns ErrNotFound", func(t *testing.T) {
		_, err := st.GetRun(ctx, "no-such-run")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("GetRun = %v, want ErrNotFound", err)
		}
	})

	t.Run("SaveRun round trip", func(t *testing.T) {
		run := sampleRun(testRunID("run-roundtrip"))
		if err := st.SaveRun(ctx, run); err != nil {
			t.Fatalf("SaveRun failed: %v", err)
		}

		got, err := st.GetRun(ctx, run.ID)
		if err != nil {
			t.Fatalf("GetRun failed: %v", err)
		}
		if got.ID != run.ID || got.Type != run.Type || got.Status != run.Status {
			t.Errorf("got %+v, want %+v", got, run)
		}
		if got.Input != run.Input || got.State != run.State {
			t.Errorf("payload mismatch: input=%+v state=%+v", got.Input, got.State)
		}
		if !got.CreatedAt.Equal(run.CreatedAt) {
			t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, run.CreatedAt)
		}
	})

	t.Run("SaveRun updates existing record", func(t *testing.T) {
		run := sampleRun(testRunID("run-update"))
		if err := st.SaveRun(ctx, run); err != nil {
			t.Fatalf("SaveRun failed: %v", err)
		}

		run.Status = StatusInProgress
		run.CurrentStepID = "deploy"
		run.State = testDoc{Name: "deployed", Count: 2}
		run.UpdatedAt = run.UpdatedAt.Add(time.Second)
		if err := st.SaveRun(ctx, run); err != nil {
			t.Fatalf("second SaveRun failed: %v", err)
		}

		got, err := st.GetRun(ctx, run.ID)
		if err != nil {
			t.Fatalf("GetRun failed: %v", err)
		}
		if got.Status != StatusInProgress || got.CurrentStepID != "deploy" {
			t.Errorf("update not applied: %+v", got)
		}
		if got.State.Name != "deployed" {
			t.Errorf("State.Name = %q, want deployed", got.State.Name)
		}
	})

	t.Run("checkpoints preserve append order", func(t *testing.T) {
		run := sampleRun(testRunID("run-order"))
		if err := st.SaveRun(ctx, run); err != nil {
			t.Fatalf("SaveRun failed: %v", err)
		}

		steps := []string{"validate", "deploy", "verify"}
		for i, stepID := range steps {
			cp := successCheckpoint(stepID, testDoc{Name: stepID, Count: i})
			if err := st.AppendCheckpoint(ctx, run.ID, cp); err != nil {
				t.Fatalf("AppendCheckpoint(%s) failed: %v", stepID, err)
			}
		}

		got, err := st.ListCheckpoints(ctx, run.ID)
		if err != nil {
			t.Fatalf("ListCheckpoints failed: %v", err)
		}
		if len(got) != len(steps) {
			t.Fatalf("got %d checkpoints, want %d", len(got), len(steps))
		}
		for i, cp := range got {
			if cp.StepID != steps[i] {
				t.Errorf("checkpoint %d is %q, want %q", i, cp.StepID, steps[i])
			}
			var delta testDoc
			if err := json.Unmarshal(cp.Data, &delta); err != nil {
				t.Fatalf("checkpoint %d data undecodable: %v", i, err)
			}
			if delta.Count != i {
				t.Errorf("checkpoint %d delta count = %d, want %d", i, delta.Count, i)
			}
		}
	})

	t.Run("failure checkpoints carry error detail", func(t *testing.T) {
		run := sampleRun(testRunID("run-failure"))
		if err := st.SaveRun(ctx, run); err != nil {
			t.Fatalf("SaveRun failed: %v", err)
		}
		if err := st.AppendCheckpoint(ctx, run.ID, failureCheckpoint("deploy")); err != nil {
			t.Fatalf("AppendCheckpoint failed: %v", err)
		}

		got, err := st.ListCheckpoints(ctx, run.ID)
		if err != nil {
			t.Fatalf("ListCheckpoints failed: %v", err)
		}
		if len(got) != 1 {
			t.Fatalf("got %d checkpoints, want 1", len(got))
		}
		cp := got[0]
		if cp.Status != CheckpointFailure {
			t.Errorf("status = %s, want FAILURE", cp.Status)
		}
		if cp.Error == nil {
			t.Fatal("error detail not persisted")
		}
		if cp.Error.Class != "transient" || cp.Error.Code != "ThrottlingException" || cp.Error.Attempts != 5 {
			t.Errorf("error detail = %+v", cp.Error)
		}
		if len(cp.Data) != 0 {
			t.Errorf("failure checkpoint carries data: %s", cp.Data)
		}
	})

	t.Run("LatestForStep returns newest entry", func(t *testing.T) {
		run := sampleRun(testRunID("run-latest"))
		if err := st.SaveRun(ctx, run); err != nil {
			t.Fatalf("SaveRun failed: %v", err)
		}

		// A failure followed by a success after resume: the success wins.
		if err := st.AppendCheckpoint(ctx, run.ID, failureCheckpoint("deploy")); err != nil {
			t.Fatalf("AppendCheckpoint failed: %v", err)
		}
		if err := st.AppendCheckpoint(ctx, run.ID, successCheckpoint("deploy", testDoc{Name: "ok"})); err != nil {
			t.Fatalf("AppendCheckpoint failed: %v", err)
		}
		if err := st.AppendCheckpoint(ctx, run.ID, successCheckpoint("verify", testDoc{})); err != nil {
			t.Fatalf("AppendCheckpoint failed: %v", err)
		}

		cp, err := st.LatestForStep(ctx, run.ID, "deploy")
		if err != nil {
			t.Fatalf("LatestForStep failed: %v", err)
		}
		if cp.Status != CheckpointSuccess {
			t.Errorf("latest deploy checkpoint = %s, want SUCCESS", cp.Status)
		}

		_, err = st.LatestForStep(ctx, run.ID, "never-ran")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("LatestForStep = %v, want ErrNotFound", err)
		}
	})

	t.Run("checkpoint logs are isolated per run", func(t *testing.T) {
		for i := 0; i < 2; i++ {
			run := sampleRun(testRunID(fmt.Sprintf("run-iso-%d", i)))
			if err := st.SaveRun(ctx, run); err != nil {
				t.Fatalf("SaveRun failed: %v", err)
			}
			cp := successCheckpoint("only", testDoc{Count: i})
			if err := st.AppendCheckpoint(ctx, run.ID, cp); err != nil {
				t.Fatalf("AppendCheckpoint failed: %v", err)
			}
		}

		for i := 0; i < 2; i++ {
			got, err := st.ListCheckpoints(ctx, testRunID(fmt.Sprintf("run-iso-%d", i)))
			if err != nil {
				t.Fatalf("ListCheckpoints failed: %v", err)
			}
			if len(got) != 1 {
				t.Fatalf("run %d has %d checkpoints, want 1", i, len(got))
			}
			var delta testDoc
			if err := json.Unmarshal(got[0].Data, &delta); err != nil {
				t.Fatalf("data undecodable: %v", err)
			}
			if delta.Count != i {
				t.Errorf("run %d delta count = %d, want %d", i, delta.Count, i)
			}
		}
	})

	t.Run("ListCheckpoints on empty log", func(t *testing.T) {
		got, err := st.ListCheckpoints(ctx, testRunID("run-without-checkpoints"))
		if err != nil {
			t.Fatalf("ListCheckpoints failed: %v", err)
		}
		if len(got) != 0 {
			t.Errorf("got %d checkpoints, want 0", len(got))
		}
	})
}
