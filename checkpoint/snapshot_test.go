package checkpoint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/agentgraph/graph"
)

func TestSnapshotRestoreReArmsInProgressTasks(t *testing.T) {
	g := buildGraph(t)
	require.NoError(t, g.UpdateStatus("A", graph.StatusInProgress, ""))

	snap := Capture(g, NameAutoSnapshotBeforeError)
	require.True(t, snap.Valid())

	restored, err := snap.Restore()
	require.NoError(t, err)

	task, ok := restored.GetTask("A")
	require.True(t, ok)
	assert.Equal(t, graph.StatusReady, task.Status, "an in-progress task must be re-armed, not left stuck")
}

func TestSnapshotRestoreReArmsInReviewTasks(t *testing.T) {
	g := buildGraph(t)
	require.NoError(t, g.UpdateStatus("A", graph.StatusInProgress, ""))
	require.NoError(t, g.UpdateStatus("A", graph.StatusInReview, ""))

	snap := Capture(g, NameAutoSnapshotBeforeError)
	restored, err := snap.Restore()
	require.NoError(t, err)

	task, ok := restored.GetTask("A")
	require.True(t, ok)
	assert.Equal(t, graph.StatusReady, task.Status)
}

func TestSnapshotRestoreLeavesCompletedTasksAlone(t *testing.T) {
	g := buildGraph(t)
	require.NoError(t, g.UpdateStatus("A", graph.StatusInProgress, ""))
	require.NoError(t, g.UpdateStatus("A", graph.StatusCompleted, "done"))

	snap := Capture(g, NameLastSuccessfulNode)
	restored, err := snap.Restore()
	require.NoError(t, err)

	task, ok := restored.GetTask("A")
	require.True(t, ok)
	assert.Equal(t, graph.StatusCompleted, task.Status)
}
