package emit

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func sampleEvent() Event {
	return Event{
		Kind:         KindStepStart,
		RunID:        "run-001",
		WorkflowType: "provisioning",
		StepID:       "deploy",
		Attempt:      2,
		Msg:          "deploying stack",
		Meta:         map[string]interface{}{"error_class": "transient"},
		Time:         time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestLogEmitterText(t *testing.T) {
	var buf bytes.Buffer
	e := NewLogEmitter(&buf, false)

	e.Emit(sampleEvent())

	out := buf.String()
	for _, want := range []string{
		"[step_start]",
		"run=run-001",
		"type=provisioning",
		"step=deploy",
		"attempt=2",
		`msg="deploying stack"`,
		"error_class",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q: %s", want, out)
		}
	}
	if !strings.HasSuffix(out, "\n") {
		t.Error("output not newline-terminated")
	}
}

func TestLogEmitterTextOmitsEmptyFields(t *testing.T) {
	var buf bytes.Buffer
	e := NewLogEmitter(&buf, false)

	e.Emit(Event{Kind: KindStarted, RunID: "run-002", WorkflowType: "w"})

	out := buf.String()
	for _, banned := range []string{"step=", "attempt=", "msg=", "meta="} {
		if strings.Contains(out, banned) {
			t.Errorf("output should omit %q: %s", banned, out)
		}
	}
}

func TestLogEmitterJSON(t *testing.T) {
	var buf bytes.Buffer
	e := NewLogEmitter(&buf, true)

	e.Emit(sampleEvent())

	line := strings.TrimSpace(buf.String())
	var decoded struct {
		Kind         string                 `json:"kind"`
		RunID        string                 `json:"runID"`
		WorkflowType string                 `json:"workflowType"`
		StepID       string                 `json:"stepID"`
		Attempt      int                    `json:"attempt"`
		Meta         map[string]interface{} `json:"meta"`
	}
	if err := json.Unmarshal([]byte(line), &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v\n%s", err, line)
	}
	if decoded.Kind != "step_start" || decoded.RunID != "run-001" || decoded.Attempt != 2 {
		t.Errorf("decoded = %+v", decoded)
	}
	if decoded.Meta["error_class"] != "transient" {
		t.Errorf("meta = %v", decoded.Meta)
	}
}

func TestLogEmitterJSONLines(t *testing.T) {
	var buf bytes.Buffer
	e := NewLogEmitter(&buf, true)

	e.Emit(sampleEvent())
	e.Emit(sampleEvent())

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	for i, line := range lines {
		if !json.Valid([]byte(line)) {
			t.Errorf("line %d is not valid JSON: %s", i, line)
		}
	}
}

func TestNullEmitter(t *testing.T) {
	// Must not panic and must accept any event.
	e := NewNullEmitter()
	e.Emit(Event{})
	e.Emit(sampleEvent())
}
