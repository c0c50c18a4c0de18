package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/agentgraph/agerr"
	"github.com/c360studio/agentgraph/config"
	"github.com/c360studio/agentgraph/driver"
	"github.com/c360studio/agentgraph/events"
	"github.com/c360studio/agentgraph/graph"
	"github.com/c360studio/agentgraph/llm"
	"github.com/c360studio/agentgraph/prompt"
	"github.com/c360studio/agentgraph/requirements"
	"github.com/c360studio/agentgraph/scheduler"
	"github.com/c360studio/agentgraph/worker"
)

type stubAdapter struct {
	tasks []*graph.Task
}

func (s *stubAdapter) AnalyzeRequirements(ctx context.Context, text string) (llm.Analysis, error) {
	return llm.Analysis{Domain: "generic", ComplexityHint: "medium"}, nil
}

func (s *stubAdapter) CreateBlueprint(ctx context.Context, analysis llm.Analysis, originalText string) (llm.Blueprint, error) {
	return llm.Blueprint{ProjectID: "p1", Domain: "generic"}, nil
}

func (s *stubAdapter) GenerateTasks(ctx context.Context, bp llm.Blueprint, specialists []string) ([]*graph.Task, error) {
	return s.tasks, nil
}

func (s *stubAdapter) ScoreAssignment(ctx context.Context, task *graph.Task, workerID string, history string) (llm.AssignmentScore, error) {
	return llm.AssignmentScore{Confidence: 0.9}, nil
}

var _ llm.Adapter = (*stubAdapter)(nil)

// fakeInvoker canned-responds per task id; a blocking hook can be
// registered for a task id to exercise cancellation.
type fakeInvoker struct {
	mu      sync.Mutex
	blockOn map[string]bool
}

func newFakeInvoker() *fakeInvoker {
	return &fakeInvoker{blockOn: make(map[string]bool)}
}

func (f *fakeInvoker) blockTaskUntilCancelled(taskID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blockOn[taskID] = true
}

func (f *fakeInvoker) Invoke(ctx context.Context, spec driver.Spec) (*driver.Result, error) {
	f.mu.Lock()
	blocks := f.blockOn[spec.TaskID]
	f.mu.Unlock()
	if blocks {
		<-ctx.Done()
		return nil, agerr.Cancelled("invocation cancelled for " + spec.TaskID)
	}
	body := `{"passed": true, "qualityScore": 0.95, "findings": []}`
	return &driver.Result{ExitCode: 0, Tail: []driver.Line{{Text: body}, {Text: body}}}, nil
}

func newTestRegistry() *worker.Registry {
	r := worker.NewRegistry()
	r.Register(&worker.Worker{
		ID: "dev-1", Name: "dev-1", Role: worker.RoleDeveloper, MaxConcurrentTasks: 3,
		Capabilities: map[string]worker.Capability{"backend": {Efficiency: 0.9, Experience: worker.ExperienceExpert}},
	})
	r.Register(&worker.Worker{ID: "rev-1", Name: "rev-1", Role: worker.RoleCodeReviewer, MaxConcurrentTasks: 3})
	r.Register(&worker.Worker{ID: "qa-1", Name: "qa-1", Role: worker.RoleQATester, MaxConcurrentTasks: 3})
	return r
}

func testSpecBuilder() scheduler.SpecBuilder {
	table := scheduler.CommandTable{
		Checkpoints: map[graph.CheckpointType]scheduler.CommandSpec{
			graph.CheckpointCodeReview:  {Command: "echo"},
			graph.CheckpointQATest:      {Command: "echo"},
			graph.CheckpointFinalReview: {Command: "echo"},
			graph.CheckpointFinalQA:     {Command: "echo"},
		},
		Specialists: map[string]scheduler.CommandSpec{"backend": {Command: "echo"}},
	}
	return scheduler.NewCommandSpecBuilder(table, prompt.New(0), prompt.DefaultPromptMaxBytes)
}

func newTestOrchestrator(t *testing.T, invoker scheduler.Invoker) (*Orchestrator, *events.Bus) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Storage.Root = t.TempDir()

	bus := events.New(64)
	registry := newTestRegistry()
	adapter := &stubAdapter{
		tasks: []*graph.Task{
			{ID: "T1", Title: "Build service", Type: graph.TaskImplementation, SpecialistKind: "backend", EstimatedDuration: 10},
		},
	}
	analyzer := requirements.New(adapter, prompt.New(0), prompt.DefaultPromptMaxBytes, []string{"backend"})

	orch := New(cfg, bus, registry, analyzer, testSpecBuilder(), invoker, nil, nil)
	return orch, bus
}

func TestOrchestratorRunsProjectToCompletion(t *testing.T) {
	orch, _ := newTestOrchestrator(t, newFakeInvoker())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	projectID, err := orch.CreateProject(ctx, "Build a service", "")
	require.NoError(t, err)
	require.NotEmpty(t, projectID)

	handle, err := orch.StartProject(projectID)
	require.NoError(t, err)

	select {
	case <-handle.Done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for project to finish")
	}
	require.NoError(t, handle.Err())

	status, err := orch.GetProjectStatus(projectID)
	require.NoError(t, err)
	assert.Equal(t, string(RunCompleted), status.Status)
	assert.Equal(t, 5, status.CompletedCount) // T1, T1-review, T1-qa, final-review, final-qa
	assert.Equal(t, 0, status.FailedCount)
	assert.Equal(t, 0, status.CriticalPathRemaining)
}

func TestOrchestratorCancelProject(t *testing.T) {
	invoker := newFakeInvoker()
	invoker.blockTaskUntilCancelled("T1")
	orch, _ := newTestOrchestrator(t, invoker)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	projectID, err := orch.CreateProject(ctx, "Build a service", "")
	require.NoError(t, err)

	handle, err := orch.StartProject(projectID)
	require.NoError(t, err)

	require.NoError(t, orch.CancelProject(projectID))

	select {
	case <-handle.Done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for cancellation")
	}

	require.Error(t, handle.Err())
	assert.True(t, agerr.HasKind(handle.Err(), agerr.KindCancelled))

	status, err := orch.GetProjectStatus(projectID)
	require.NoError(t, err)
	assert.Equal(t, string(RunCancelled), status.Status)
}

func TestOrchestratorSubscribeEventsSeesOrchestrated(t *testing.T) {
	orch, _ := newTestOrchestrator(t, newFakeInvoker())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub := orch.SubscribeEvents("")
	defer orch.UnsubscribeEvents(sub)

	projectID, err := orch.CreateProject(ctx, "Build a service", "")
	require.NoError(t, err)

	select {
	case e := <-sub:
		assert.Equal(t, events.KindProjectOrchestrated, e.Kind)
		assert.Equal(t, projectID, e.ProjectID)
	case <-time.After(2 * time.Second):
		t.Fatal("expected a project_orchestrated event")
	}
}

func TestOrchestratorGetProjectStatusUnknownProject(t *testing.T) {
	orch, _ := newTestOrchestrator(t, newFakeInvoker())
	_, err := orch.GetProjectStatus("does-not-exist")
	require.Error(t, err)
	assert.True(t, agerr.HasKind(err, agerr.KindInput))
}

func TestOrchestratorStartUnknownProjectFails(t *testing.T) {
	orch, _ := newTestOrchestrator(t, newFakeInvoker())
	_, err := orch.StartProject("does-not-exist")
	require.Error(t, err)
}
