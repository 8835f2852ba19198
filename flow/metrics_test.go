package flow

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsRecording(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)

	m.RunActive(1)
	m.RunActive(1)
	m.RunActive(-1)
	if got := testutil.ToFloat64(m.activeRuns); got != 1 {
		t.Errorf("active_runs = %v, want 1", got)
	}

	m.RunStarted("provisioning", "start")
	m.RunStarted("provisioning", "resume")
	if got := testutil.ToFloat64(m.runsStarted.WithLabelValues("provisioning", "start")); got != 1 {
		t.Errorf("runs_started{mode=start} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.runsStarted.WithLabelValues("provisioning", "resume")); got != 1 {
		t.Errorf("runs_started{mode=resume} = %v, want 1", got)
	}

	m.RunFinished("provisioning", "COMPLETED")
	m.RunFinished("provisioning", "FAILED")
	m.RunFinished("provisioning", "FAILED")
	if got := testutil.ToFloat64(m.runsFinished.WithLabelValues("provisioning", "FAILED")); got != 2 {
		t.Errorf("runs_finished{status=FAILED} = %v, want 2", got)
	}

	m.StepRetried("provisioning", "deploy")
	if got := testutil.ToFloat64(m.retries.WithLabelValues("provisioning", "deploy")); got != 1 {
		t.Errorf("step_retries = %v, want 1", got)
	}

	m.StepLatency("provisioning", "deploy", 42*time.Millisecond, "success")
	count := testutil.CollectAndCount(m.stepLatency)
	if count == 0 {
		t.Error("step_latency recorded nothing")
	}
}

func TestMetricsNilSafe(t *testing.T) {
	var m *Metrics

	// None of these may panic on a nil receiver.
	m.RunActive(1)
	m.RunStarted("w", "start")
	m.RunFinished("w", "COMPLETED")
	m.StepLatency("w", "s", time.Millisecond, "success")
	m.StepRetried("w", "s")
}
