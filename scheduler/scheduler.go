// Package scheduler drives a task graph to completion: it assigns ready
// tasks to workers, invokes the Worker Driver, and routes checkpoint
// outcomes through the quality-gate pipeline.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/c360studio/agentgraph/agerr"
	"github.com/c360studio/agentgraph/config"
	"github.com/c360studio/agentgraph/driver"
	"github.com/c360studio/agentgraph/events"
	"github.com/c360studio/agentgraph/graph"
	"github.com/c360studio/agentgraph/metrics"
	"github.com/c360studio/agentgraph/qualitygate"
	"github.com/c360studio/agentgraph/worker"
)

// maxTransientRetries bounds the retry of a Retryable invocation error
// (Timeout, WorkerExitError) before the task attempt gives up: retried
// (bounded), then failed with the cause on retry exhaustion.
const maxTransientRetries = 2

// defaultTickInterval is how often the scheduler re-scans the ready set
// for tasks that became assignable since the last pass (a worker freed
// up, a rework cycle reopened a task).
const defaultTickInterval = 200 * time.Millisecond

// Invoker is the subset of *driver.Driver the scheduler depends on, so
// tests can substitute a fake without spawning real subprocesses.
type Invoker interface {
	Invoke(ctx context.Context, spec driver.Spec) (*driver.Result, error)
}

var _ Invoker = (*driver.Driver)(nil)

// Option configures optional Scheduler behavior.
type Option func(*Scheduler)

// WithTickInterval overrides the ready-set rescan interval.
func WithTickInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.tickInterval = d }
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithMetrics attaches a Metrics recorder. m may be nil, in which case
// recording is a no-op — the zero value of *Scheduler already behaves
// this way without this option.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// Scheduler owns the assignment loop for a single project's graph.
type Scheduler struct {
	g         *graph.Graph
	registry  *worker.Registry
	invoker   Invoker
	buildSpec SpecBuilder

	limits              *config.LimitsConfig
	gate                *config.GateConfig
	confidenceThreshold float64

	bus          *events.Bus
	projectID    string
	tickInterval time.Duration
	logger       *slog.Logger
	metrics      *metrics.Metrics

	mu        sync.Mutex
	running   bool
	cancelRun context.CancelFunc

	totalInvocations atomic.Int64
	announced        sync.Map // graph.TaskID -> struct{}, dedupes task_ready while a task sits unassigned
}

// New creates a Scheduler. buildSpec resolves a ready task's assignment
// into the driver.Spec to invoke — see NewCommandSpecBuilder for the
// default implementation. bus may be nil to run without event delivery.
func New(g *graph.Graph, registry *worker.Registry, invoker Invoker, buildSpec SpecBuilder,
	cfg *config.Config, bus *events.Bus, projectID string, opts ...Option) *Scheduler {
	s := &Scheduler{
		g:                   g,
		registry:            registry,
		invoker:             invoker,
		buildSpec:           buildSpec,
		limits:              &cfg.Limits,
		gate:                &cfg.Gate,
		confidenceThreshold: cfg.LLM.AssignmentConfidenceThreshold,
		bus:                 bus,
		projectID:           projectID,
		tickInterval:        defaultTickInterval,
		logger:              slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run drives the graph to completion, failure, or cancellation. It
// returns nil only when every task completed or was skipped; any other
// outcome (a task permanently failed, the graph was cancelled, the global
// invocation cap was breached) returns a non-nil error.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return agerr.Internal("scheduler is already running")
	}
	s.running = true
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRun = cancel
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.cancelRun = nil
		s.mu.Unlock()
	}()

	eg, egCtx := errgroup.WithContext(runCtx)
	eg.SetLimit(s.limits.GlobalMaxInvocations)

	s.metrics.ProjectStarted()
	defer s.metrics.ProjectEnded()

	s.emit(events.KindProjectOrchestrated, "", "", nil)

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		if s.g.Cancelled() {
			_ = eg.Wait()
			s.emit(events.KindProjectCancelled, "", "", nil)
			return agerr.Cancelled("project cancelled")
		}

		counts := s.g.Counts()
		if counts.Failed > 0 {
			_ = eg.Wait()
			err := agerr.Internal("one or more tasks failed permanently")
			s.emit(events.KindProjectFailed, "", "", map[string]any{"error": err.Error(), "failedCount": counts.Failed})
			return err
		}

		if s.g.IsComplete() {
			if err := eg.Wait(); err != nil {
				s.emit(events.KindProjectFailed, "", "", map[string]any{"error": err.Error()})
				return err
			}
			s.emit(events.KindProjectCompleted, "", "", nil)
			return nil
		}

		readyTasks := s.g.GetReadyTasks()
		s.metrics.SetReadyQueueDepth(s.projectID, len(readyTasks))
		for _, ready := range readyTasks {
			if err := s.tryDispatch(egCtx, eg, ready); err != nil {
				cancel()
				_ = eg.Wait()
				s.emit(events.KindProjectFailed, "", "", map[string]any{"error": err.Error()})
				return err
			}
		}

		select {
		case <-egCtx.Done():
			err := eg.Wait()
			if err == nil {
				err = egCtx.Err()
			}
			if ctx.Err() != nil {
				s.emit(events.KindProjectCancelled, "", "", nil)
				return agerr.Cancelled("run context cancelled")
			}
			s.emit(events.KindProjectFailed, "", "", map[string]any{"error": err.Error()})
			return err
		case <-ticker.C:
		}
	}
}

// Stop requests cancellation of the current run; in-flight invocations
// are given the driver's own timeout/cancellation handling to unwind.
// Callers that also want the graph itself marked cancelled (so ready
// tasks are skipped rather than merely abandoned) should call g.Cancel()
// as well — Stop alone only tears down the Run goroutine tree.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelRun != nil {
		s.cancelRun()
	}
}

// tryDispatch attempts to assign and launch exactly one ready task. It
// returns a non-nil error only for a run-aborting fault (global
// invocation cap breach, or a graph-invariant violation); an ordinary
// "no worker available yet" condition is reported as a nil error so the
// caller retries next tick.
func (s *Scheduler) tryDispatch(ctx context.Context, eg *errgroup.Group, ready graph.ReadyTask) error {
	t := ready.Task

	if _, already := s.announced.LoadOrStore(t.ID, struct{}{}); !already {
		s.emit(events.KindTaskReady, string(t.ID), "", nil)
	}

	assignment, err := s.registry.FindBestWorker(t, s.confidenceThreshold)
	if err != nil {
		return nil
	}

	total := s.totalInvocations.Add(1)
	if total > int64(s.limits.GlobalMaxInvocations) {
		return agerr.LoopDetected(s.limits.GlobalMaxInvocations)
	}

	if err := s.g.UpdateStatus(t.ID, graph.StatusInProgress, ""); err != nil {
		s.totalInvocations.Add(-1)
		return nil
	}
	s.announced.Delete(t.ID)

	s.registry.IncrementLoad(assignment.WorkerID, 1)
	s.reportWorkerLoad(assignment.WorkerID)
	s.emit(events.KindWorkerAssigned, string(t.ID), assignment.WorkerID, map[string]any{
		"confidence":    assignment.Confidence,
		"lowConfidence": assignment.LowConfidence,
	})
	if assignment.LowConfidence {
		s.logger.Warn("assignment below confidence threshold; proceeding and flagging for override",
			"task", t.ID, "worker", assignment.WorkerID, "confidence", assignment.Confidence)
	}
	if t.IsCheckpoint {
		s.emit(events.KindCheckpointStarted, string(t.ID), assignment.WorkerID, nil)
	}

	eg.Go(func() error {
		return s.executeTask(ctx, ready, assignment)
	})
	return nil
}

// executeTask runs one task's invocation to completion and routes its
// result through the standard-completion or checkpoint-evaluation path.
// It returns a non-nil error only for an internal invariant violation;
// ordinary task failure is handled entirely by transitioning the graph
// and returning nil, so one bad task does not abort the run.
func (s *Scheduler) executeTask(ctx context.Context, ready graph.ReadyTask, assignment worker.Assignment) error {
	t := ready.Task
	defer func() {
		s.registry.IncrementLoad(assignment.WorkerID, -1)
		s.reportWorkerLoad(assignment.WorkerID)
	}()

	spec, err := s.buildSpec(ready, assignment)
	if err != nil {
		return s.failTask(t, assignment, err)
	}

	started := time.Now()
	result, invErr := s.invokeWithRetry(ctx, spec)
	s.metrics.RecordTaskDuration(t.SpecialistKind, time.Since(started).Seconds())
	if invErr != nil {
		s.metrics.RecordInvocation(t.SpecialistKind, false)
		return s.failTask(t, assignment, invErr)
	}
	s.metrics.RecordInvocation(t.SpecialistKind, true)

	if t.IsCheckpoint {
		return s.completeCheckpoint(t, assignment, result)
	}
	return s.completeStandard(t, assignment, result)
}

// reportWorkerLoad republishes a worker's current concurrent task count to
// the metrics gauge after an IncrementLoad call changes it.
func (s *Scheduler) reportWorkerLoad(workerID string) {
	if w, ok := s.registry.Get(workerID); ok {
		s.metrics.SetWorkerLoad(workerID, w.CurrentLoad)
	}
}

// invokeWithRetry retries a Retryable invocation error up to
// maxTransientRetries times before giving up.
func (s *Scheduler) invokeWithRetry(ctx context.Context, spec driver.Spec) (*driver.Result, error) {
	var lastErr error
	for attempt := 0; attempt <= maxTransientRetries; attempt++ {
		result, err := s.invoker.Invoke(ctx, spec)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !agerr.IsRetryable(err) || ctx.Err() != nil {
			return result, err
		}
		s.logger.Debug("retrying transient invocation failure", "task", spec.TaskID, "attempt", attempt+1, "error", err)
	}
	return nil, lastErr
}

func (s *Scheduler) completeStandard(t *graph.Task, assignment worker.Assignment, result *driver.Result) error {
	if err := s.g.UpdateStatus(t.ID, graph.StatusCompleted, summarizeResult(result)); err != nil {
		return err
	}
	s.registry.RecordOutcome(assignment.WorkerID, true, 1.0)
	return nil
}

// completeCheckpoint parses the checkpoint verdict and drives it through
// qualitygate.Evaluate, emitting checkpoint_completed/checkpoint_failed
// and rework_requested as the resulting graph state dictates.
func (s *Scheduler) completeCheckpoint(t *graph.Task, assignment worker.Assignment, result *driver.Result) error {
	cr, perr := parseCheckpointResult(result.Tail)
	if perr != nil {
		return s.failTask(t, assignment, perr)
	}

	err := qualitygate.Evaluate(s.g, s.gate, t.ID, cr)
	exhausted := agerr.HasKind(err, agerr.KindReworkExhausted)
	if err != nil && !exhausted {
		return err
	}

	updated, ok := s.g.GetTask(t.ID)
	if !ok {
		return agerr.Internal("checkpoint task vanished during evaluation: " + string(t.ID))
	}

	s.registry.RecordOutcome(assignment.WorkerID, updated.Status == graph.StatusCompleted, cr.QualityScore)

	if updated.Status == graph.StatusCompleted {
		s.metrics.RecordCheckpointResult(string(t.CheckpointType), metrics.CheckpointPassed)
		s.emit(events.KindCheckpointCompleted, string(t.ID), assignment.WorkerID,
			map[string]any{"qualityScore": cr.QualityScore})
		return nil
	}

	outcome := metrics.CheckpointReworked
	if exhausted {
		outcome = metrics.CheckpointReworkExhausted
	}
	s.metrics.RecordCheckpointResult(string(t.CheckpointType), outcome)
	s.emit(events.KindCheckpointFailed, string(t.ID), assignment.WorkerID,
		map[string]any{"qualityScore": cr.QualityScore, "findings": cr.Findings})
	if !exhausted {
		s.emit(events.KindReworkRequested, string(updated.ReviewsTaskID), "", map[string]any{"findings": cr.Findings})
	}
	return nil
}

func (s *Scheduler) failTask(t *graph.Task, assignment worker.Assignment, cause error) error {
	if err := s.g.UpdateStatus(t.ID, graph.StatusFailed, cause.Error()); err != nil {
		return err
	}
	s.registry.RecordOutcome(assignment.WorkerID, false, 0)
	if t.IsCheckpoint {
		s.emit(events.KindCheckpointFailed, string(t.ID), assignment.WorkerID, map[string]any{"error": cause.Error()})
	}
	return nil
}

func summarizeResult(result *driver.Result) string {
	if result == nil || len(result.Tail) == 0 {
		return "completed"
	}
	return result.Tail[len(result.Tail)-1].Text
}

func (s *Scheduler) emit(kind events.Kind, taskID, workerID string, payload map[string]any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(events.Event{Kind: kind, ProjectID: s.projectID, TaskID: taskID, WorkerID: workerID, Payload: payload})
}
