// Package metrics exposes Prometheus instrumentation for the orchestration
// core: invocation counts, checkpoint outcomes, task latency, ready-queue
// depth, and per-worker load.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "agentgraph"
	subsystem = "orchestrator"
)

// Metrics holds every Prometheus collector the orchestration core reports
// to. A nil *Metrics is valid everywhere its methods are called: every
// method guards on a nil receiver, so components can accept an optional
// *Metrics without branching at every call site.
type Metrics struct {
	// TaskInvocationsTotal counts specialist invocations by specialist
	// kind and outcome (success, failure).
	TaskInvocationsTotal *prometheus.CounterVec

	// CheckpointResultsTotal counts checkpoint evaluations by checkpoint
	// type and outcome (passed, reworked, reworkExhausted).
	CheckpointResultsTotal *prometheus.CounterVec

	// TaskDurationSeconds observes wall-clock invocation time by
	// specialist kind.
	TaskDurationSeconds *prometheus.HistogramVec

	// ReadyQueueDepth gauges the number of ready-but-undispatched tasks
	// per project.
	ReadyQueueDepth *prometheus.GaugeVec

	// WorkerLoad gauges each worker's current concurrent task count.
	WorkerLoad *prometheus.GaugeVec

	// ActiveProjects gauges the number of projects currently running.
	ActiveProjects prometheus.Gauge
}

// New creates a Metrics instance and registers its collectors against reg.
// Pass prometheus.DefaultRegisterer for process-wide metrics, or a fresh
// prometheus.NewRegistry() in tests to avoid collisions with other
// instances.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TaskInvocationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "task_invocations_total",
				Help:      "Total specialist invocations by specialist kind and outcome.",
			},
			[]string{"specialist", "outcome"},
		),
		CheckpointResultsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "checkpoint_results_total",
				Help:      "Total checkpoint evaluations by checkpoint type and outcome.",
			},
			[]string{"checkpoint_type", "outcome"},
		),
		TaskDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "task_duration_seconds",
				Help:      "Specialist invocation duration in seconds, by specialist kind.",
				Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
			},
			[]string{"specialist"},
		),
		ReadyQueueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "ready_queue_depth",
				Help:      "Number of ready-but-undispatched tasks, by project.",
			},
			[]string{"project_id"},
		),
		WorkerLoad: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "worker_load",
				Help:      "Current concurrent task count, by worker.",
			},
			[]string{"worker_id"},
		),
		ActiveProjects: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "active_projects",
				Help:      "Number of projects currently running.",
			},
		),
	}

	reg.MustRegister(
		m.TaskInvocationsTotal,
		m.CheckpointResultsTotal,
		m.TaskDurationSeconds,
		m.ReadyQueueDepth,
		m.WorkerLoad,
		m.ActiveProjects,
	)

	return m
}

// RecordInvocation records one specialist invocation outcome.
func (m *Metrics) RecordInvocation(specialist string, success bool) {
	if m == nil {
		return
	}
	m.TaskInvocationsTotal.WithLabelValues(specialist, outcomeLabel(success)).Inc()
}

// RecordTaskDuration observes one specialist invocation's wall-clock time.
func (m *Metrics) RecordTaskDuration(specialist string, seconds float64) {
	if m == nil {
		return
	}
	m.TaskDurationSeconds.WithLabelValues(specialist).Observe(seconds)
}

// CheckpointOutcome names how a checkpoint evaluation resolved.
type CheckpointOutcome string

const (
	CheckpointPassed          CheckpointOutcome = "passed"
	CheckpointReworked        CheckpointOutcome = "reworked"
	CheckpointReworkExhausted CheckpointOutcome = "reworkExhausted"
)

// RecordCheckpointResult records one checkpoint evaluation outcome.
func (m *Metrics) RecordCheckpointResult(checkpointType string, outcome CheckpointOutcome) {
	if m == nil {
		return
	}
	m.CheckpointResultsTotal.WithLabelValues(checkpointType, string(outcome)).Inc()
}

// SetReadyQueueDepth sets the current ready-queue depth for a project.
func (m *Metrics) SetReadyQueueDepth(projectID string, depth int) {
	if m == nil {
		return
	}
	m.ReadyQueueDepth.WithLabelValues(projectID).Set(float64(depth))
}

// SetWorkerLoad sets a worker's current concurrent task count.
func (m *Metrics) SetWorkerLoad(workerID string, load int) {
	if m == nil {
		return
	}
	m.WorkerLoad.WithLabelValues(workerID).Set(float64(load))
}

// ProjectStarted increments the active-projects gauge.
func (m *Metrics) ProjectStarted() {
	if m == nil {
		return
	}
	m.ActiveProjects.Inc()
}

// ProjectEnded decrements the active-projects gauge.
func (m *Metrics) ProjectEnded() {
	if m == nil {
		return
	}
	m.ActiveProjects.Dec()
}

func outcomeLabel(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
