package emit

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTelEmitter implements Emitter by creating OpenTelemetry spans.
//
// Each event becomes a span with:
//   - Span name: the event kind (e.g., "step_start", "completed")
//   - Attributes: run ID, workflow type, step ID, attempt, and all
//     event.Meta fields
//   - Status: Set to error if event.Meta["error"] exists
//
// Spans are ended immediately; events represent points in time rather
// than durations. A "duration_ms" meta field carries the measured step
// duration as a span attribute.
//
// Usage:
//
//	tracer := otel.Tracer("stepflow")
//	emitter := emit.NewOTelEmitter(tracer)
type OTelEmitter struct {
	tracer trace.Tracer
}

// NewOTelEmitter creates a new OTelEmitter on the given tracer.
//
// Example:
//
//	tracer := otel.Tracer("stepflow")
//	emitter := emit.NewOTelEmitter(tracer)
func NewOTelEmitter(tracer trace.Tracer) *OTelEmitter {
	return &OTelEmitter{tracer: tracer}
}

// Emit creates an OpenTelemetry span for the event.
//
// The span is started and ended immediately; the batch span processor
// handles export. Error metadata sets the span status to error and
// records the error message.
func (o *OTelEmitter) Emit(event Event) {
	ctx := context.Background()
	_, span := o.tracer.Start(ctx, string(event.Kind))
	defer span.End()

	o.addStandardAttributes(span, event)
	o.addMetadataAttributes(span, event.Meta)

	if err, ok := event.Meta["error"].(string); ok {
		span.SetStatus(codes.Error, err)
		span.RecordError(fmt.Errorf("%s", err))
	}
}

// EmitBatch creates spans for multiple events under one context.
//
// Batching amortizes tracer overhead and keeps related events adjacent
// in the span processor's export queue. All spans are ended
// immediately.
func (o *OTelEmitter) EmitBatch(ctx context.Context, events []Event) error {
	for _, event := range events {
		_, span := o.tracer.Start(ctx, string(event.Kind))

		o.addStandardAttributes(span, event)
		o.addMetadataAttributes(span, event.Meta)

		if err, ok := event.Meta["error"].(string); ok {
			span.SetStatus(codes.Error, err)
			span.RecordError(fmt.Errorf("%s", err))
		}

		span.End()
	}
	return nil
}

// Flush forces export of all pending spans.
//
// Call before application shutdown to ensure buffered spans reach the
// backend. Respects context cancellation and deadlines. Returns nil if
// the installed tracer provider does not support flushing.
func (o *OTelEmitter) Flush(ctx context.Context) error {
	tp := otel.GetTracerProvider()

	type flusher interface {
		ForceFlush(context.Context) error
	}

	if f, ok := tp.(flusher); ok {
		return f.ForceFlush(ctx)
	}
	return nil
}

// addStandardAttributes adds core event fields as span attributes.
func (o *OTelEmitter) addStandardAttributes(span trace.Span, event Event) {
	attrs := []attribute.KeyValue{
		attribute.String("stepflow.run_id", event.RunID),
		attribute.String("stepflow.workflow_type", event.WorkflowType),
	}
	if event.StepID != "" {
		attrs = append(attrs, attribute.String("stepflow.step_id", event.StepID))
	}
	if event.Attempt > 0 {
		attrs = append(attrs, attribute.Int("stepflow.attempt", event.Attempt))
	}
	if event.Msg != "" {
		attrs = append(attrs, attribute.String("stepflow.msg", event.Msg))
	}
	span.SetAttributes(attrs...)
}

// addMetadataAttributes converts event metadata to span attributes.
//
// Handles common types directly; time.Duration is converted to
// milliseconds; anything else falls back to its string representation.
func (o *OTelEmitter) addMetadataAttributes(span trace.Span, meta map[string]interface{}) {
	if meta == nil {
		return
	}

	for key, value := range meta {
		attrKey := "stepflow." + key

		switch v := value.(type) {
		case string:
			span.SetAttributes(attribute.String(attrKey, v))
		case int:
			span.SetAttributes(attribute.Int(attrKey, v))
		case int64:
			span.SetAttributes(attribute.Int64(attrKey, v))
		case float64:
			span.SetAttributes(attribute.Float64(attrKey, v))
		case bool:
			span.SetAttributes(attribute.Bool(attrKey, v))
		case time.Duration:
			span.SetAttributes(attribute.Int64(attrKey, int64(v/time.Millisecond)))
		default:
			span.SetAttributes(attribute.String(attrKey, fmt.Sprintf("%v", v)))
		}
	}
}
