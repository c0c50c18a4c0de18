package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustBuild(t *testing.T, tasks []*Task) *Graph {
	t.Helper()
	g := New()
	require.NoError(t, g.Build(tasks))
	return g
}

// S1 — Minimal dependency resolution.
func TestS1_MinimalDependencyResolution(t *testing.T) {
	a := &Task{ID: "A", Title: "A", EstimatedDuration: 5,
		ProvidedOutputs: []DataItem{{Name: "schema:users"}}}
	b := &Task{ID: "B", Title: "B", EstimatedDuration: 5,
		Integration:  Contracts{ConsumesAPI: "users"},
		Dependencies: []Dependency{{TaskID: "A", Type: EdgeCompletion}}}

	g := mustBuild(t, []*Task{a, b})

	ready := g.GetReadyTasks()
	require.Len(t, ready, 1)
	assert.Equal(t, TaskID("A"), ready[0].Task.ID)

	require.NoError(t, g.UpdateStatus("A", StatusInProgress, ""))
	require.NoError(t, g.UpdateStatus("A", StatusCompleted, "done"))

	ready = g.GetReadyTasks()
	require.Len(t, ready, 1)
	assert.Equal(t, TaskID("B"), ready[0].Task.ID)

	require.NoError(t, g.UpdateStatus("B", StatusInProgress, ""))
	require.NoError(t, g.UpdateStatus("B", StatusCompleted, "done"))

	assert.True(t, g.IsComplete())
}

// S2 — Checkpoint injection edges are exercised in the qualitygate package;
// here we verify the graph accepts the resulting structure and computes a
// critical path across it.
func TestS2_SixNodeCheckpointShape(t *testing.T) {
	t1 := &Task{ID: "T1", Title: "T1", Type: TaskImplementation, EstimatedDuration: 10}
	r1 := &Task{ID: "R1", Title: "R1", IsCheckpoint: true, CheckpointType: CheckpointCodeReview,
		ReviewsTaskID: "T1", EstimatedDuration: 5,
		Dependencies: []Dependency{{TaskID: "T1", Type: EdgeCompletion}}}
	q1 := &Task{ID: "Q1", Title: "Q1", IsCheckpoint: true, CheckpointType: CheckpointQATest,
		ReviewsTaskID: "T1", EstimatedDuration: 5,
		Dependencies: []Dependency{{TaskID: "R1", Type: EdgeCompletion}}}
	t2 := &Task{ID: "T2", Title: "T2", Type: TaskImplementation, EstimatedDuration: 10,
		Dependencies: []Dependency{{TaskID: "Q1", Type: EdgeCompletion}}}
	r2 := &Task{ID: "R2", Title: "R2", IsCheckpoint: true, CheckpointType: CheckpointCodeReview,
		ReviewsTaskID: "T2", EstimatedDuration: 5,
		Dependencies: []Dependency{{TaskID: "T2", Type: EdgeCompletion}}}
	q2 := &Task{ID: "Q2", Title: "Q2", IsCheckpoint: true, CheckpointType: CheckpointQATest,
		ReviewsTaskID: "T2", EstimatedDuration: 5,
		Dependencies: []Dependency{{TaskID: "R2", Type: EdgeCompletion}}}

	g := mustBuild(t, []*Task{t1, r1, q1, t2, r2, q2})

	for _, id := range []TaskID{"T1", "R1", "Q1", "T2", "R2", "Q2"} {
		task, ok := g.GetTask(id)
		require.True(t, ok)
		assert.True(t, task.OnCriticalPath, "expected %s on critical path", id)
	}
}

// S3 — Rework loop.
func TestS3_ReworkLoopBoundedAttempts(t *testing.T) {
	t1 := &Task{ID: "T1", Title: "T1", EstimatedDuration: 5}
	t2 := &Task{ID: "T2", Title: "T2", EstimatedDuration: 5,
		Dependencies: []Dependency{{TaskID: "T1", Type: EdgeCompletion}}}
	g := mustBuild(t, []*Task{t1, t2})
	g.SetMaxReworkAttempts(5)

	require.NoError(t, g.UpdateStatus("T1", StatusInProgress, ""))
	require.NoError(t, g.UpdateStatus("T1", StatusCompleted, "v1"))
	require.NoError(t, g.UpdateStatus("T1", StatusInReview, ""))

	for i := 0; i < 6; i++ {
		err := g.Rework("T1", []string{"quality too low"})
		if i < 5 {
			require.NoError(t, err)
			task, _ := g.GetTask("T1")
			assert.Equal(t, StatusReady, task.Status, "Rework re-readies a task whose dependencies are complete")
			assert.Equal(t, i+1, task.AttemptCount)
			require.NoError(t, g.UpdateStatus("T1", StatusInProgress, ""))
			require.NoError(t, g.UpdateStatus("T1", StatusCompleted, "vNext"))
			require.NoError(t, g.UpdateStatus("T1", StatusInReview, ""))
		} else {
			require.Error(t, err)
			assert.ErrorContains(t, err, "rework")
		}
	}

	task, _ := g.GetTask("T1")
	assert.Equal(t, StatusFailed, task.Status)

	t2Task, _ := g.GetTask("T2")
	assert.Equal(t, StatusSkipped, t2Task.Status)
}

// S7-adjacent — Cancellation marks pending/ready/in-progress tasks skipped.
func TestCancellation(t *testing.T) {
	tasks := []*Task{
		{ID: "A", Title: "A", EstimatedDuration: 1},
		{ID: "B", Title: "B", EstimatedDuration: 1},
		{ID: "C", Title: "C", EstimatedDuration: 1,
			Dependencies: []Dependency{{TaskID: "A", Type: EdgeCompletion}}},
	}
	g := mustBuild(t, tasks)
	require.NoError(t, g.UpdateStatus("A", StatusInProgress, ""))

	g.Cancel()

	a, _ := g.GetTask("A")
	b, _ := g.GetTask("B")
	c, _ := g.GetTask("C")
	assert.Equal(t, StatusSkipped, a.Status)
	assert.Equal(t, StatusSkipped, b.Status)
	assert.Equal(t, StatusSkipped, c.Status)
	assert.True(t, g.Cancelled())

	err := g.UpdateStatus("A", StatusCompleted, "late")
	require.Error(t, err)
}

// S5-adjacent property — cyclic graphs over completion edges are rejected.
func TestCyclicGraphRejected(t *testing.T) {
	a := &Task{ID: "A", Title: "A", EstimatedDuration: 1,
		Dependencies: []Dependency{{TaskID: "B", Type: EdgeCompletion}}}
	b := &Task{ID: "B", Title: "B", EstimatedDuration: 1,
		Dependencies: []Dependency{{TaskID: "A", Type: EdgeCompletion}}}

	g := New()
	err := g.Build([]*Task{a, b})
	require.Error(t, err)
	assert.ErrorContains(t, err, "cycle")
}

func TestReworkEdgeExemptFromCycleCheck(t *testing.T) {
	a := &Task{ID: "A", Title: "A", EstimatedDuration: 1}
	g := mustBuild(t, []*Task{a})
	// A rework self-loop is represented out-of-band (via Rework), not as a
	// graph edge, so cycle detection never sees it; this documents that
	// invariant by asserting the build above already succeeded.
	assert.NotNil(t, g)
}

func TestSelfEdgeForbidden(t *testing.T) {
	a := &Task{ID: "A", Title: "A", EstimatedDuration: 1,
		Dependencies: []Dependency{{TaskID: "A", Type: EdgeCompletion}}}
	g := New()
	require.NoError(t, g.Build([]*Task{a}))
	ready := g.GetReadyTasks()
	require.Len(t, ready, 1)
}

func TestDeterministicProducerTieBreak(t *testing.T) {
	need := DataItem{Name: "users"}
	p1 := &Task{ID: "P2", Title: "P2", EstimatedDuration: 1, ProvidedOutputs: []DataItem{{Name: "users"}}}
	p2 := &Task{ID: "P1", Title: "P1", EstimatedDuration: 1, ProvidedOutputs: []DataItem{{Name: "users"}}}
	c := &Task{ID: "C", Title: "C", EstimatedDuration: 1, RequiredInputs: []DataItem{need}}

	g1 := mustBuild(t, []*Task{p1, p2, c})
	g2 := mustBuild(t, []*Task{p2, p1, c})

	sat1, _ := g1.DependenciesSatisfied("C")
	sat2, _ := g2.DependenciesSatisfied("C")
	assert.Equal(t, sat1, sat2)
}

func TestMissingProducerIsWarningNotFatal(t *testing.T) {
	c := &Task{ID: "C", Title: "C", EstimatedDuration: 1,
		Integration: Contracts{ConsumesAPI: "payments"}}
	g := New()
	err := g.Build([]*Task{c})
	require.NoError(t, err)
	tail := g.EventLogTail(0)
	found := false
	for _, e := range tail {
		if e.Kind == "missing_producer_warning" {
			found = true
		}
	}
	assert.True(t, found)
}
