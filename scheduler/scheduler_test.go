package scheduler

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/c360studio/agentgraph/agerr"
	"github.com/c360studio/agentgraph/config"
	"github.com/c360studio/agentgraph/driver"
	"github.com/c360studio/agentgraph/events"
	"github.com/c360studio/agentgraph/graph"
	"github.com/c360studio/agentgraph/metrics"
	"github.com/c360studio/agentgraph/prompt"
	"github.com/c360studio/agentgraph/qualitygate"
	"github.com/c360studio/agentgraph/worker"
)

// fakeInvoker canned-responds per task id, dodging any real subprocess.
type fakeInvoker struct {
	mu        sync.Mutex
	responses map[string]func() (*driver.Result, error)
	calls     map[string]int
}

func newFakeInvoker() *fakeInvoker {
	return &fakeInvoker{
		responses: make(map[string]func() (*driver.Result, error)),
		calls:     make(map[string]int),
	}
}

func (f *fakeInvoker) on(taskID string, fn func() (*driver.Result, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[taskID] = fn
}

func (f *fakeInvoker) Invoke(_ context.Context, spec driver.Spec) (*driver.Result, error) {
	f.mu.Lock()
	fn, ok := f.responses[spec.TaskID]
	f.calls[spec.TaskID]++
	f.mu.Unlock()
	if !ok {
		return &driver.Result{ExitCode: 0, Tail: []driver.Line{{Text: "done"}}}, nil
	}
	return fn()
}

func (f *fakeInvoker) callCount(taskID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[taskID]
}

func passResult(quality float64) (*driver.Result, error) {
	body := fmt.Sprintf(`{"passed": true, "qualityScore": %.2f, "findings": []}`, quality)
	return &driver.Result{ExitCode: 0, Tail: []driver.Line{{Text: body}}}, nil
}

func failResult(quality float64, findings ...string) (*driver.Result, error) {
	body := fmt.Sprintf(`{"passed": false, "qualityScore": %.2f, "findings": %q}`, quality, findings)
	return &driver.Result{ExitCode: 0, Tail: []driver.Line{{Text: body}}}, nil
}

func okResult() (*driver.Result, error) {
	return &driver.Result{ExitCode: 0, Tail: []driver.Line{{Text: "implementation complete"}}}, nil
}

func newTestRegistry() *worker.Registry {
	r := worker.NewRegistry()
	r.Register(&worker.Worker{
		ID: "dev-1", Name: "dev-1", Role: worker.RoleDeveloper,
		MaxConcurrentTasks: 3,
		Capabilities: map[string]worker.Capability{
			"":        {Efficiency: 0.9, Experience: worker.ExperienceExpert},
			"backend": {Efficiency: 0.9, Experience: worker.ExperienceExpert},
		},
	})
	r.Register(&worker.Worker{
		ID: "rev-1", Name: "rev-1", Role: worker.RoleCodeReviewer,
		MaxConcurrentTasks: 3,
	})
	r.Register(&worker.Worker{
		ID: "qa-1", Name: "qa-1", Role: worker.RoleQATester,
		MaxConcurrentTasks: 3,
	})
	return r
}

func testSpecBuilder() SpecBuilder {
	table := CommandTable{
		Checkpoints: map[graph.CheckpointType]CommandSpec{
			graph.CheckpointCodeReview:  {Command: "echo"},
			graph.CheckpointQATest:      {Command: "echo"},
			graph.CheckpointFinalReview: {Command: "echo"},
			graph.CheckpointFinalQA:     {Command: "echo"},
		},
		Specialists: map[string]CommandSpec{
			"":        {Command: "echo"},
			"backend": {Command: "echo"},
		},
	}
	return NewCommandSpecBuilder(table, prompt.New(0), prompt.DefaultPromptMaxBytes)
}

func TestSchedulerRunsCheckpointInjectedGraphToCompletion(t *testing.T) {
	t1 := &graph.Task{ID: "T1", Title: "Build widget", Type: graph.TaskImplementation, EstimatedDuration: 10}
	tasks := qualitygate.Inject([]*graph.Task{t1})

	g := graph.New()
	require.NoError(t, g.Build(tasks))

	registry := newTestRegistry()
	invoker := newFakeInvoker()
	invoker.on("T1", okResult)
	invoker.on("T1-review", func() (*driver.Result, error) { return passResult(0.95) })
	invoker.on("T1-qa", func() (*driver.Result, error) { return passResult(0.95) })
	invoker.on("final-review", func() (*driver.Result, error) { return passResult(0.95) })
	invoker.on("final-qa", func() (*driver.Result, error) { return passResult(0.95) })

	bus := events.New(64)
	sub := bus.Subscribe("proj-1")

	cfg := config.DefaultConfig()
	sched := New(g, registry, invoker, testSpecBuilder(), cfg, bus, "proj-1", WithTickInterval(5*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := sched.Run(ctx)
	require.NoError(t, err)
	assert.True(t, g.IsComplete())

	var sawCompleted bool
drain:
	for {
		select {
		case e := <-sub:
			if e.Kind == events.KindProjectCompleted {
				sawCompleted = true
			}
		default:
			break drain
		}
	}
	assert.True(t, sawCompleted, "expected a project_completed event")
}

func TestSchedulerReworkCycleThenPass(t *testing.T) {
	t1 := &graph.Task{ID: "T1", Title: "Build widget", Type: graph.TaskImplementation, EstimatedDuration: 10}
	tasks := qualitygate.Inject([]*graph.Task{t1})

	g := graph.New()
	require.NoError(t, g.Build(tasks))

	registry := newTestRegistry()
	invoker := newFakeInvoker()
	invoker.on("T1", okResult)

	var reviewAttempt int
	invoker.on("T1-review", func() (*driver.Result, error) {
		reviewAttempt++
		if reviewAttempt == 1 {
			return failResult(0.4, "missing error handling")
		}
		return passResult(0.95)
	})
	invoker.on("T1-qa", func() (*driver.Result, error) { return passResult(0.95) })
	invoker.on("final-review", func() (*driver.Result, error) { return passResult(0.95) })
	invoker.on("final-qa", func() (*driver.Result, error) { return passResult(0.95) })

	cfg := config.DefaultConfig()
	sched := New(g, registry, invoker, testSpecBuilder(), cfg, nil, "proj-1", WithTickInterval(5*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := sched.Run(ctx)
	require.NoError(t, err)
	assert.True(t, g.IsComplete())
	assert.GreaterOrEqual(t, reviewAttempt, 2, "expected the review checkpoint to run again after rework")
	assert.GreaterOrEqual(t, invoker.callCount("T1"), 2, "expected T1 to be re-implemented after rework")
}

func TestSchedulerAbortsOnGlobalInvocationCapBreach(t *testing.T) {
	t1 := &graph.Task{ID: "T1", Title: "Build widget", Type: graph.TaskImplementation, EstimatedDuration: 10}
	tasks := qualitygate.Inject([]*graph.Task{t1})

	g := graph.New()
	require.NoError(t, g.Build(tasks))

	registry := newTestRegistry()
	invoker := newFakeInvoker()
	invoker.on("T1", okResult)
	invoker.on("T1-review", func() (*driver.Result, error) { return passResult(0.95) })
	invoker.on("T1-qa", func() (*driver.Result, error) { return passResult(0.95) })
	invoker.on("final-review", func() (*driver.Result, error) { return passResult(0.95) })
	invoker.on("final-qa", func() (*driver.Result, error) { return passResult(0.95) })

	cfg := config.DefaultConfig()
	cfg.Limits.GlobalMaxInvocations = 2

	sched := New(g, registry, invoker, testSpecBuilder(), cfg, nil, "proj-1", WithTickInterval(5*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := sched.Run(ctx)
	require.Error(t, err)
	assert.True(t, agerr.HasKind(err, agerr.KindLoopDetected))
}

func TestSchedulerPropagatesTimeoutAsTaskFailure(t *testing.T) {
	t1 := &graph.Task{ID: "T1", Title: "Build widget", Type: graph.TaskImplementation, EstimatedDuration: 10}
	g := graph.New()
	require.NoError(t, g.Build([]*graph.Task{t1}))

	registry := newTestRegistry()
	invoker := newFakeInvoker()
	invoker.on("T1", func() (*driver.Result, error) {
		return nil, agerr.Timeout(agerr.TimeoutRuntime, "invocation exceeded max runtime")
	})

	cfg := config.DefaultConfig()
	sched := New(g, registry, invoker, testSpecBuilder(), cfg, nil, "proj-1", WithTickInterval(5*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := sched.Run(ctx)
	require.Error(t, err)

	task, ok := g.GetTask("T1")
	require.True(t, ok)
	assert.Equal(t, graph.StatusFailed, task.Status)
	assert.Contains(t, task.Result, "max runtime")
	assert.GreaterOrEqual(t, invoker.callCount("T1"), maxTransientRetries+1,
		"expected the timeout to be retried up to the transient retry bound")
}

func TestSchedulerReportsMetrics(t *testing.T) {
	t1 := &graph.Task{ID: "T1", Title: "Build widget", Type: graph.TaskImplementation, SpecialistKind: "backend", EstimatedDuration: 10}
	tasks := qualitygate.Inject([]*graph.Task{t1})

	g := graph.New()
	require.NoError(t, g.Build(tasks))

	registry := newTestRegistry()
	invoker := newFakeInvoker()
	invoker.on("T1", okResult)
	invoker.on("T1-review", func() (*driver.Result, error) { return passResult(0.95) })
	invoker.on("T1-qa", func() (*driver.Result, error) { return passResult(0.95) })
	invoker.on("final-review", func() (*driver.Result, error) { return passResult(0.95) })
	invoker.on("final-qa", func() (*driver.Result, error) { return passResult(0.95) })

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	cfg := config.DefaultConfig()
	sched := New(g, registry, invoker, testSpecBuilder(), cfg, nil, "proj-1",
		WithTickInterval(5*time.Millisecond), WithMetrics(m))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, sched.Run(ctx))

	assert.Equal(t, float64(1), testutil.ToFloat64(m.TaskInvocationsTotal.WithLabelValues("backend", "success")))
	assert.Equal(t, float64(4), testutil.ToFloat64(m.CheckpointResultsTotal.WithLabelValues("codeReview", "passed"))+
		testutil.ToFloat64(m.CheckpointResultsTotal.WithLabelValues("qaTest", "passed"))+
		testutil.ToFloat64(m.CheckpointResultsTotal.WithLabelValues("finalCodeReview", "passed"))+
		testutil.ToFloat64(m.CheckpointResultsTotal.WithLabelValues("finalQaTest", "passed")))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.ActiveProjects))
}
