package emit

import (
	"go.uber.org/zap"
)

// ZapEmitter implements Emitter by writing events to a zap logger.
//
// Each event becomes one structured log entry. Failure-flavored events
// (step_failed, failed) are logged at Warn level so that log-based
// alerting can key on level alone; everything else is Info.
//
// Usage:
//
//	logger, _ := zap.NewProduction()
//	emitter := emit.NewZapEmitter(logger)
type ZapEmitter struct {
	logger *zap.Logger
}

// NewZapEmitter creates a ZapEmitter on the given logger.
//
// A nil logger is replaced with zap.NewNop(), so the emitter is always
// safe to call.
func NewZapEmitter(logger *zap.Logger) *ZapEmitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapEmitter{
		logger: logger.With(zap.String("component", "workflow")),
	}
}

// Emit writes the event as a structured log entry.
func (z *ZapEmitter) Emit(event Event) {
	fields := []zap.Field{
		zap.String("run_id", event.RunID),
		zap.String("workflow_type", event.WorkflowType),
	}
	if event.StepID != "" {
		fields = append(fields, zap.String("step_id", event.StepID))
	}
	if event.Attempt > 0 {
		fields = append(fields, zap.Int("attempt", event.Attempt))
	}
	if event.Msg != "" {
		fields = append(fields, zap.String("msg", event.Msg))
	}
	for key, value := range event.Meta {
		fields = append(fields, zap.Any(key, value))
	}

	switch event.Kind {
	case KindStepFailed, KindFailed:
		z.logger.Warn(string(event.Kind), fields...)
	default:
		z.logger.Info(string(event.Kind), fields...)
	}
}
