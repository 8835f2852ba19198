package flow

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides Prometheus-compatible metrics collection for
// workflow execution monitoring.
//
// Metrics exposed (all namespaced with "stepflow_"):
//
//  1. active_runs (gauge): Number of runs with an execution loop in
//     this process. Use: monitor load and detect stuck runs.
//
//  2. runs_started_total (counter): Runs started or resumed.
//     Labels: workflow_type, mode (start/resume).
//
//  3. runs_finished_total (counter): Runs reaching a terminal or
//     failed state. Labels: workflow_type, status.
//
//  4. step_latency_ms (histogram): Step execution duration in
//     milliseconds per attempt. Labels: workflow_type, step_id,
//     status (success/failure). Buckets 1ms to 10s.
//
//  5. step_retries_total (counter): Retry attempts across all steps.
//     Labels: workflow_type, step_id.
//
// Usage:
//
//	registry := prometheus.NewRegistry()
//	metrics := flow.NewMetrics(registry)
//	rt := flow.New(reg, reducer, st, emitter, flow.Options{Metrics: metrics})
//	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
//
// All methods are nil-safe: a nil *Metrics records nothing, so the
// runtime never has to branch on whether metrics are configured.
type Metrics struct {
	activeRuns   prometheus.Gauge
	runsStarted  *prometheus.CounterVec
	runsFinished *prometheus.CounterVec
	stepLatency  *prometheus.HistogramVec
	retries      *prometheus.CounterVec
}

// NewMetrics creates and registers all workflow execution metrics
// with the provided registry. A nil registry uses the global default.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	m := &Metrics{}

	m.activeRuns = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "stepflow",
		Name:      "active_runs",
		Help:      "Number of workflow runs with an active execution loop in this process",
	})

	m.runsStarted = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stepflow",
		Name:      "runs_started_total",
		Help:      "Workflow runs started or resumed",
	}, []string{"workflow_type", "mode"}) // mode: start, resume

	m.runsFinished = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stepflow",
		Name:      "runs_finished_total",
		Help:      "Workflow runs that reached COMPLETED, FAILED, or CANCELLED",
	}, []string{"workflow_type", "status"})

	m.stepLatency = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "stepflow",
		Name:      "step_latency_ms",
		Help:      "Step execution duration in milliseconds, per attempt",
		Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000},
	}, []string{"workflow_type", "step_id", "status"}) // status: success, failure

	m.retries = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stepflow",
		Name:      "step_retries_total",
		Help:      "Cumulative count of step retry attempts",
	}, []string{"workflow_type", "step_id"})

	return m
}

// RunActive adjusts the active-runs gauge by delta (+1 on loop start,
// -1 on loop exit).
func (m *Metrics) RunActive(delta int) {
	if m == nil {
		return
	}
	m.activeRuns.Add(float64(delta))
}

// RunStarted records a run start or resume.
func (m *Metrics) RunStarted(workflowType, mode string) {
	if m == nil {
		return
	}
	m.runsStarted.WithLabelValues(workflowType, mode).Inc()
}

// RunFinished records a run reaching COMPLETED, FAILED, or CANCELLED.
func (m *Metrics) RunFinished(workflowType, status string) {
	if m == nil {
		return
	}
	m.runsFinished.WithLabelValues(workflowType, status).Inc()
}

// StepLatency records one executor attempt's duration and outcome.
func (m *Metrics) StepLatency(workflowType, stepID string, latency time.Duration, status string) {
	if m == nil {
		return
	}
	m.stepLatency.WithLabelValues(workflowType, stepID, status).Observe(float64(latency.Milliseconds()))
}

// StepRetried records a retry attempt for a step.
func (m *Metrics) StepRetried(workflowType, stepID string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(workflowType, stepID).Inc()
}
