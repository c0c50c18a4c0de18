// Package orchestrator is the top-level façade gluing the Requirements
// Analyzer, Task Graph Engine, Worker Registry, Scheduler, Checkpoint
// Store, and Event Emitter into one request surface: CreateProject,
// StartProject, CancelProject, GetProjectStatus, SubscribeEvents.
package orchestrator

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/c360studio/agentgraph/agerr"
	"github.com/c360studio/agentgraph/checkpoint"
	"github.com/c360studio/agentgraph/config"
	"github.com/c360studio/agentgraph/events"
	"github.com/c360studio/agentgraph/graph"
	"github.com/c360studio/agentgraph/metrics"
	"github.com/c360studio/agentgraph/qualitygate"
	"github.com/c360studio/agentgraph/requirements"
	"github.com/c360studio/agentgraph/scheduler"
	"github.com/c360studio/agentgraph/worker"
)

// ProjectStatus is the snapshot returned by GetProjectStatus.
type ProjectStatus struct {
	Status                string
	ReadyCount            int
	InProgressCount       int
	CompletedCount        int
	FailedCount           int
	CriticalPathRemaining int
}

// RunState names a project's lifecycle stage.
type RunState string

const (
	RunCreated   RunState = "created"
	RunRunning   RunState = "running"
	RunCompleted RunState = "completed"
	RunFailed    RunState = "failed"
	RunCancelled RunState = "cancelled"
)

// RunHandle is returned by StartProject; Done closes when the run reaches
// a terminal state, after which Err reports the outcome (nil on success).
type RunHandle struct {
	ProjectID string
	Done      <-chan struct{}
	project   *project
}

// Err returns the run's terminal error, if any. Only meaningful after Done
// has closed.
func (h RunHandle) Err() error {
	h.project.mu.Lock()
	defer h.project.mu.Unlock()
	return h.project.runErr
}

type project struct {
	id    string
	g     *graph.Graph
	store *checkpoint.Store
	sched *scheduler.Scheduler

	mu     sync.Mutex
	state  RunState
	cancel context.CancelFunc
	done   chan struct{}
	runErr error
}

// Orchestrator owns the shared worker pool and event bus across every
// project it drives: a registry of concurrent projects rather than a
// single session.
type Orchestrator struct {
	cfg         *config.Config
	bus         *events.Bus
	registry    *worker.Registry
	analyzer    *requirements.Analyzer
	buildSpec   scheduler.SpecBuilder
	invoker     scheduler.Invoker
	storageRoot string
	logger      *slog.Logger
	metrics     *metrics.Metrics

	mu       sync.RWMutex
	projects map[string]*project
}

// New creates an Orchestrator. buildSpec resolves a ready task's
// assignment into the driver.Spec that actually invokes a specialist —
// see scheduler.NewCommandSpecBuilder. invoker is typically a
// *driver.Driver wired to the same bus and timeouts config. m may be nil
// to run without metrics.
func New(cfg *config.Config, bus *events.Bus, registry *worker.Registry, analyzer *requirements.Analyzer,
	buildSpec scheduler.SpecBuilder, invoker scheduler.Invoker, logger *slog.Logger, m *metrics.Metrics) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		cfg:         cfg,
		bus:         bus,
		registry:    registry,
		analyzer:    analyzer,
		buildSpec:   buildSpec,
		invoker:     invoker,
		storageRoot: cfg.Storage.Root,
		logger:      logger,
		metrics:     m,
		projects:    make(map[string]*project),
	}
}

// CreateProject runs the Requirements Analyzer over userText, injects
// quality-gate checkpoints, builds the task graph, and persists the
// initialized snapshot. optionalContext, when non-empty, is appended to
// userText before analysis.
func (o *Orchestrator) CreateProject(ctx context.Context, userText, optionalContext string) (string, error) {
	text := userText
	if optionalContext != "" {
		text = userText + "\n\n" + optionalContext
	}

	analyzed, err := o.analyzer.Analyze(ctx, text)
	if err != nil {
		return "", err
	}

	tasks := qualitygate.Inject(analyzed.Tasks)

	g := graph.New()
	if err := g.Build(tasks); err != nil {
		return "", err
	}

	projectID := uuid.NewString()
	store := checkpoint.NewStore(o.storageRoot, projectID, o.logger)
	if err := store.Snapshot(checkpoint.NameInitialized, g); err != nil {
		return "", err
	}

	o.mu.Lock()
	o.projects[projectID] = &project{id: projectID, g: g, store: store, state: RunCreated}
	o.mu.Unlock()

	o.bus.Publish(events.Event{Kind: events.KindProjectOrchestrated, ProjectID: projectID,
		Payload: map[string]any{"taskCount": len(tasks)}})

	return projectID, nil
}

// StartProject launches the scheduler for a created project. It returns a
// RunHandle the caller can wait on; the run itself proceeds in a detached
// goroutine so StartProject does not block for the project's duration.
func (o *Orchestrator) StartProject(projectID string) (RunHandle, error) {
	p, ok := o.lookup(projectID)
	if !ok {
		return RunHandle{}, agerr.Input("PROJECT_NOT_FOUND", "unknown project "+projectID)
	}

	p.mu.Lock()
	if p.state == RunRunning {
		p.mu.Unlock()
		return RunHandle{}, agerr.Internal("project " + projectID + " is already running")
	}
	if err := p.store.Snapshot(checkpoint.NameExecutionStart, p.g); err != nil {
		p.mu.Unlock()
		return RunHandle{}, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.state = RunRunning
	p.done = make(chan struct{})
	p.sched = scheduler.New(p.g, o.registry, o.invoker, o.buildSpec, o.cfg, o.bus, projectID, scheduler.WithMetrics(o.metrics))
	p.mu.Unlock()

	stopWatch := o.watchLastSuccessfulNode(projectID, p)
	go func() {
		defer stopWatch()
		err := p.sched.Run(runCtx)

		p.mu.Lock()
		defer p.mu.Unlock()
		p.runErr = err
		switch {
		case err == nil:
			p.state = RunCompleted
		case agerr.HasKind(err, agerr.KindCancelled):
			p.state = RunCancelled
		default:
			p.state = RunFailed
			if snapErr := p.store.Snapshot(checkpoint.NameAutoSnapshotBeforeError, p.g); snapErr != nil {
				o.logger.Warn("auto-snapshot-before-error failed", "project", projectID, "error", snapErr)
			}
		}
		close(p.done)
	}()

	return RunHandle{ProjectID: projectID, Done: p.done, project: p}, nil
}

// watchLastSuccessfulNode subscribes to this project's task/checkpoint
// completion events and snapshots NameLastSuccessfulNode after each, so
// the recovery ladder's best rung always reflects the most recent
// durable progress. The returned func unsubscribes and must be called
// when the run ends.
func (o *Orchestrator) watchLastSuccessfulNode(projectID string, p *project) func() {
	ch := o.bus.Subscribe(projectID, events.KindTaskCompleted, events.KindCheckpointCompleted)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case _, ok := <-ch:
				if !ok {
					return
				}
				if err := p.store.Snapshot(checkpoint.NameLastSuccessfulNode, p.g); err != nil {
					o.logger.Warn("progress snapshot failed", "project", projectID, "error", err)
				}
			case <-done:
				return
			}
		}
	}()
	return func() {
		close(done)
		o.bus.Unsubscribe(ch)
	}
}

// CancelProject requests termination of a running project. The graph is
// marked cancelled so any in-flight ready tasks are skipped rather than
// dispatched, and the scheduler's run context is cancelled.
func (o *Orchestrator) CancelProject(projectID string) error {
	p, ok := o.lookup(projectID)
	if !ok {
		return agerr.Input("PROJECT_NOT_FOUND", "unknown project "+projectID)
	}
	p.g.Cancel()
	p.mu.Lock()
	cancel := p.cancel
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

// GetProjectStatus reports the current counts and derived run state.
func (o *Orchestrator) GetProjectStatus(projectID string) (ProjectStatus, error) {
	p, ok := o.lookup(projectID)
	if !ok {
		return ProjectStatus{}, agerr.Input("PROJECT_NOT_FOUND", "unknown project "+projectID)
	}
	counts := p.g.Counts()
	p.mu.Lock()
	state := p.state
	p.mu.Unlock()
	return ProjectStatus{
		Status:                string(state),
		ReadyCount:            counts.Ready,
		InProgressCount:       counts.InProgress,
		CompletedCount:        counts.Completed,
		FailedCount:           counts.Failed,
		CriticalPathRemaining: p.g.CriticalPathRemaining(),
	}, nil
}

// SubscribeEvents returns a channel of every event for projectID. The
// caller must eventually call UnsubscribeEvents with the same channel.
func (o *Orchestrator) SubscribeEvents(projectID string) <-chan events.Event {
	return o.bus.Subscribe(projectID)
}

// UnsubscribeEvents releases a channel returned by SubscribeEvents.
func (o *Orchestrator) UnsubscribeEvents(ch <-chan events.Event) {
	o.bus.Unsubscribe(ch)
}

// RecoverProject rebuilds a project's graph from the best available
// snapshot on its recovery ladder — for use after a crash restart,
// before StartProject is called again.
func (o *Orchestrator) RecoverProject(projectID string) error {
	store := checkpoint.NewStore(o.storageRoot, projectID, o.logger)
	_, g, err := store.Recover()
	if err != nil {
		return err
	}
	o.mu.Lock()
	o.projects[projectID] = &project{id: projectID, g: g, store: store, state: RunCreated}
	o.mu.Unlock()
	return nil
}

func (o *Orchestrator) lookup(projectID string) (*project, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	p, ok := o.projects[projectID]
	return p, ok
}
