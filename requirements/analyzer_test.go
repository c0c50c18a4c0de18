package requirements

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/agentgraph/graph"
	"github.com/c360studio/agentgraph/llm"
	"github.com/c360studio/agentgraph/prompt"
)

type stubAdapter struct {
	analysis     llm.Analysis
	analysisErr  error
	blueprint    llm.Blueprint
	blueprintErr error
	tasks        []*graph.Task
	tasksErr     error
}

func (s *stubAdapter) AnalyzeRequirements(ctx context.Context, text string) (llm.Analysis, error) {
	return s.analysis, s.analysisErr
}

func (s *stubAdapter) CreateBlueprint(ctx context.Context, analysis llm.Analysis, originalText string) (llm.Blueprint, error) {
	return s.blueprint, s.blueprintErr
}

func (s *stubAdapter) GenerateTasks(ctx context.Context, bp llm.Blueprint, specialists []string) ([]*graph.Task, error) {
	return s.tasks, s.tasksErr
}

func (s *stubAdapter) ScoreAssignment(ctx context.Context, task *graph.Task, workerID string, history string) (llm.AssignmentScore, error) {
	return llm.AssignmentScore{}, nil
}

var _ llm.Adapter = (*stubAdapter)(nil)

func TestAnalyzeHappyPath(t *testing.T) {
	adapter := &stubAdapter{
		analysis: llm.Analysis{Domain: "generic", ComplexityHint: "medium"},
		blueprint: llm.Blueprint{ProjectID: "p1", Domain: "generic",
			Components: []llm.Component{{Type: "backend", Name: "svc"}}},
		tasks: []*graph.Task{
			{ID: "T1", Title: "Build svc", Type: graph.TaskImplementation, SpecialistKind: "backend"},
		},
	}
	a := New(adapter, prompt.New(0), prompt.DefaultPromptMaxBytes, []string{"backend"})

	project, err := a.Analyze(context.Background(), "Build a service")
	require.NoError(t, err)
	require.Len(t, project.Tasks, 1)
	assert.Equal(t, "medium", project.Complexity)
	assert.GreaterOrEqual(t, project.Tasks[0].EstimatedDuration, 1)
	assert.Equal(t, graph.PriorityHigh, project.Tasks[0].Priority) // no predecessors
}

func TestAnalyzeFallsBackOnAnalysisUnavailable(t *testing.T) {
	adapter := &stubAdapter{
		analysisErr: errors.New("unavailable"),
		blueprint:   llm.Blueprint{ProjectID: "p1", Domain: "generic"},
		tasks: []*graph.Task{
			{ID: "T1", Title: "Build payroll module", Type: graph.TaskImplementation, SpecialistKind: "backend"},
		},
	}
	a := New(adapter, prompt.New(0), prompt.DefaultPromptMaxBytes, []string{"backend"})

	project, err := a.Analyze(context.Background(), "Build a payroll onboarding flow for new employees")
	require.NoError(t, err)
	require.Len(t, project.Tasks, 1)
}

func TestAnalyzeFallsBackOnBlueprintAndTaskGeneration(t *testing.T) {
	adapter := &stubAdapter{
		analysis:     llm.Analysis{},
		blueprintErr: errors.New("unavailable"),
		tasksErr:     errors.New("unavailable"),
	}
	a := New(adapter, prompt.New(0), prompt.DefaultPromptMaxBytes, []string{"backend"})

	project, err := a.Analyze(context.Background(), "Build an invoice and ledger system for accounting")
	require.NoError(t, err)
	require.NotEmpty(t, project.Tasks)
	assert.Equal(t, "finance", project.Blueprint.Domain)
	for _, tsk := range project.Tasks {
		assert.NotEmpty(t, tsk.ID)
		assert.GreaterOrEqual(t, tsk.EstimatedDuration, 1)
	}
}

func TestAnalyzeRejectsOversizedPrompt(t *testing.T) {
	adapter := &stubAdapter{}
	a := New(adapter, prompt.New(0), 10, []string{"backend"})

	_, err := a.Analyze(context.Background(), "this text is definitely longer than ten bytes")
	require.Error(t, err)
}

func TestDerivePrioritiesByDependentCount(t *testing.T) {
	tasks := []*graph.Task{
		{ID: "root", Dependencies: nil},
		{ID: "mid", Dependencies: []graph.Dependency{{TaskID: "root"}}},
		{ID: "leaf1", Dependencies: []graph.Dependency{{TaskID: "mid"}}},
		{ID: "leaf2", Dependencies: []graph.Dependency{{TaskID: "mid"}}},
		{ID: "leaf3", Dependencies: []graph.Dependency{{TaskID: "mid"}}},
		{ID: "leaf4", Dependencies: []graph.Dependency{{TaskID: "mid"}}},
	}
	derivePriorities(tasks)

	byID := make(map[graph.TaskID]*graph.Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}
	assert.Equal(t, graph.PriorityHigh, byID["root"].Priority)  // no predecessors
	assert.Equal(t, graph.PriorityHigh, byID["mid"].Priority)   // 4 dependents
	assert.Equal(t, graph.PriorityLow, byID["leaf1"].Priority)  // no dependents, has a predecessor
}
