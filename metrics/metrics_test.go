package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMetrics(t *testing.T) *Metrics {
	t.Helper()
	reg := prometheus.NewRegistry()
	return New(reg)
}

func TestRecordInvocationIncrementsByOutcome(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordInvocation("backend", true)
	m.RecordInvocation("backend", true)
	m.RecordInvocation("backend", false)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.TaskInvocationsTotal.WithLabelValues("backend", "success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.TaskInvocationsTotal.WithLabelValues("backend", "failure")))
}

func TestRecordCheckpointResult(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordCheckpointResult("codeReview", CheckpointPassed)
	m.RecordCheckpointResult("codeReview", CheckpointReworked)
	m.RecordCheckpointResult("codeReview", CheckpointReworked)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.CheckpointResultsTotal.WithLabelValues("codeReview", "passed")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.CheckpointResultsTotal.WithLabelValues("codeReview", "reworked")))
}

func TestGaugesReflectLastSetValue(t *testing.T) {
	m := newTestMetrics(t)

	m.SetReadyQueueDepth("proj-1", 3)
	m.SetReadyQueueDepth("proj-1", 1)
	m.SetWorkerLoad("dev-1", 2)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.ReadyQueueDepth.WithLabelValues("proj-1")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.WorkerLoad.WithLabelValues("dev-1")))
}

func TestActiveProjectsTracksStartAndEnd(t *testing.T) {
	m := newTestMetrics(t)

	m.ProjectStarted()
	m.ProjectStarted()
	m.ProjectEnded()

	assert.Equal(t, float64(1), testutil.ToFloat64(m.ActiveProjects))
}

func TestNilMetricsMethodsAreNoOps(t *testing.T) {
	var m *Metrics

	require.NotPanics(t, func() {
		m.RecordInvocation("backend", true)
		m.RecordTaskDuration("backend", 1.5)
		m.RecordCheckpointResult("codeReview", CheckpointPassed)
		m.SetReadyQueueDepth("proj-1", 1)
		m.SetWorkerLoad("dev-1", 1)
		m.ProjectStarted()
		m.ProjectEnded()
	})
}
