package emit

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"
)

// LogEmitter implements Emitter by writing structured log output to a writer.
//
// Supports two output modes:
//   - Text mode (default): Human-readable format with key=value pairs
//   - JSON mode: Machine-readable JSON format, one event per line
//
// Example text output:
//
//	[step_start] run=run-001 type=provisioning step=deploy-stack
//
// Example JSON output:
//
//	{"kind":"step_start","runID":"run-001","workflowType":"provisioning","stepID":"deploy-stack",...}
//
// Usage:
//
//	// Text output to stdout
//	emitter := emit.NewLogEmitter(os.Stdout, false)
//
//	// JSON output to file
//	f, _ := os.Create("events.jsonl")
//	defer f.Close()
//	emitter := emit.NewLogEmitter(f, true)
type LogEmitter struct {
	writer   io.Writer
	jsonMode bool
}

// NewLogEmitter creates a new LogEmitter.
//
// Parameters:
//   - writer: Where to write the log output (nil defaults to os.Stdout)
//   - jsonMode: If true, emit JSON format; if false, emit text format
func NewLogEmitter(writer io.Writer, jsonMode bool) *LogEmitter {
	if writer == nil {
		writer = os.Stdout
	}
	return &LogEmitter{
		writer:   writer,
		jsonMode: jsonMode,
	}
}

// Emit writes an event to the configured writer.
func (l *LogEmitter) Emit(event Event) {
	if l.jsonMode {
		l.emitJSON(event)
	} else {
		l.emitText(event)
	}
}

// emitJSON writes the event as single-line JSON (JSONL format).
func (l *LogEmitter) emitJSON(event Event) {
	data, err := json.Marshal(struct {
		Kind         Kind                   `json:"kind"`
		RunID        string                 `json:"runID"`
		WorkflowType string                 `json:"workflowType"`
		StepID       string                 `json:"stepID,omitempty"`
		Attempt      int                    `json:"attempt,omitempty"`
		Msg          string                 `json:"msg,omitempty"`
		Meta         map[string]interface{} `json:"meta,omitempty"`
		Time         time.Time              `json:"time"`
	}{
		Kind:         event.Kind,
		RunID:        event.RunID,
		WorkflowType: event.WorkflowType,
		StepID:       event.StepID,
		Attempt:      event.Attempt,
		Msg:          event.Msg,
		Meta:         event.Meta,
		Time:         event.Time,
	})
	if err != nil {
		// Fallback to error message if marshal fails
		fmt.Fprintf(l.writer, "{\"error\":\"failed to marshal event: %v\"}\n", err)
		return
	}

	fmt.Fprintf(l.writer, "%s\n", data)
}

// emitText writes the event as human-readable text.
func (l *LogEmitter) emitText(event Event) {
	fmt.Fprintf(l.writer, "[%s] run=%s type=%s",
		event.Kind, event.RunID, event.WorkflowType)

	if event.StepID != "" {
		fmt.Fprintf(l.writer, " step=%s", event.StepID)
	}
	if event.Attempt > 0 {
		fmt.Fprintf(l.writer, " attempt=%d", event.Attempt)
	}
	if event.Msg != "" {
		fmt.Fprintf(l.writer, " msg=%q", event.Msg)
	}

	if len(event.Meta) > 0 {
		// Try to marshal meta as JSON for readability
		metaJSON, err := json.Marshal(event.Meta)
		if err == nil {
			fmt.Fprintf(l.writer, " meta=%s", metaJSON)
		} else {
			fmt.Fprintf(l.writer, " meta=%v", event.Meta)
		}
	}

	fmt.Fprint(l.writer, "\n")
}
