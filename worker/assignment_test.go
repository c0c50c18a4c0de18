package worker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/agentgraph/graph"
)

func devWorker(id string, efficiency float64, exp Experience, load, maxLoad int) *Worker {
	return &Worker{
		ID:                 id,
		Name:               id,
		Role:               RoleDeveloper,
		Capabilities:       map[string]Capability{"backend": {Efficiency: efficiency, Experience: exp}},
		MaxConcurrentTasks: maxLoad,
		CurrentLoad:        load,
	}
}

func TestFindBestWorkerPicksHighestScore(t *testing.T) {
	r := NewRegistry()
	r.Register(devWorker("low", 0.5, ExperienceBeginner, 0, 5))
	r.Register(devWorker("high", 0.95, ExperienceExpert, 0, 5))

	task := &graph.Task{ID: "T1", SpecialistKind: "backend", EstimatedDuration: 10}
	a, err := r.FindBestWorker(task, DefaultConfidenceThreshold)
	require.NoError(t, err)
	assert.Equal(t, "high", a.WorkerID)
	assert.False(t, a.LowConfidence)
}

func TestFindBestWorkerExcludesFullWorkers(t *testing.T) {
	r := NewRegistry()
	r.Register(devWorker("full", 0.99, ExperienceExpert, 5, 5))
	r.Register(devWorker("ok", 0.6, ExperienceIntermediate, 0, 5))

	task := &graph.Task{ID: "T1", SpecialistKind: "backend", EstimatedDuration: 10}
	a, err := r.FindBestWorker(task, DefaultConfidenceThreshold)
	require.NoError(t, err)
	assert.Equal(t, "ok", a.WorkerID)
}

func TestFindBestWorkerNoCapacity(t *testing.T) {
	r := NewRegistry()
	r.Register(devWorker("full", 0.9, ExperienceExpert, 5, 5))

	task := &graph.Task{ID: "T1", SpecialistKind: "backend", EstimatedDuration: 10}
	_, err := r.FindBestWorker(task, DefaultConfidenceThreshold)
	require.Error(t, err)
}

func TestFindBestWorkerCheckpointRoleMapping(t *testing.T) {
	r := NewRegistry()
	r.Register(&Worker{ID: "reviewer", Role: RoleCodeReviewer, MaxConcurrentTasks: 2})
	r.Register(&Worker{ID: "qa", Role: RoleQATester, MaxConcurrentTasks: 2})

	task := &graph.Task{ID: "R1", IsCheckpoint: true, CheckpointType: graph.CheckpointCodeReview}
	a, err := r.FindBestWorker(task, DefaultConfidenceThreshold)
	require.NoError(t, err)
	assert.Equal(t, "reviewer", a.WorkerID)
}

func TestLowConfidenceBelowThreshold(t *testing.T) {
	r := NewRegistry()
	r.Register(devWorker("barely", 0.1, ExperienceBeginner, 0, 5))

	task := &graph.Task{ID: "T1", SpecialistKind: "backend", EstimatedDuration: 200}
	a, err := r.FindBestWorker(task, DefaultConfidenceThreshold)
	require.NoError(t, err)
	assert.True(t, a.LowConfidence)
}

func TestScoreTieBrokenByLoadThenID(t *testing.T) {
	r := NewRegistry()
	r.Register(devWorker("b", 0.8, ExperienceAdvanced, 1, 5))
	r.Register(devWorker("a", 0.8, ExperienceAdvanced, 1, 5))

	task := &graph.Task{ID: "T1", SpecialistKind: "backend", EstimatedDuration: 10}
	a, err := r.FindBestWorker(task, DefaultConfidenceThreshold)
	require.NoError(t, err)
	assert.Equal(t, "a", a.WorkerID)
}
