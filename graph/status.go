package graph

import (
	"time"

	"github.com/c360studio/agentgraph/agerr"
)

// UpdateStatus enforces the allowed transitions, atomically updates
// the task, recomputes the ready set on a transition to completed, and
// appends to the bounded event log. It is the sole mutator of task status.
func (g *Graph) UpdateStatus(taskID TaskID, newStatus Status, result string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	t, ok := g.tasks[taskID]
	if !ok {
		return agerr.Input("TASK_NOT_FOUND", "unknown task "+string(taskID))
	}
	if g.cancelled && newStatus != StatusSkipped && newStatus != StatusFailed {
		return agerr.Cancelled("graph is cancelled; no further runnable transitions are permitted")
	}
	if !t.Status.CanTransitionTo(newStatus) {
		return agerr.Internal("illegal transition for task " + string(taskID) + ": " +
			string(t.Status) + " -> " + string(newStatus))
	}

	now := time.Now()
	prev := t.Status
	t.Status = newStatus
	if result != "" {
		t.Result = result
	}

	switch newStatus {
	case StatusInProgress:
		t.StartedAt = &now
	case StatusCompleted:
		t.CompletedAt = &now
	case StatusFailed:
		t.FailedAt = &now
	case StatusPending:
		// AttemptCount is left alone here: Rework owns the rework counter
		// and its cap, so a direct pending transition through UpdateStatus
		// is not counted as a rework attempt.
	}

	g.appendEventLocked(Event{
		Kind:      "status_changed",
		TaskID:    taskID,
		Timestamp: now,
		Payload:   map[string]any{"from": string(prev), "to": string(newStatus)},
	})

	if newStatus == StatusCompleted {
		g.recomputeReadyLocked()
	}

	return nil
}

// SetQualityScore records a checkpoint's quality score on its task. It does
// not itself transition status; callers pair it with UpdateStatus or
// Rework so the score lands atomically alongside the status change.
func (g *Graph) SetQualityScore(taskID TaskID, score float64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	t, ok := g.tasks[taskID]
	if !ok {
		return agerr.Input("TASK_NOT_FOUND", "unknown task "+string(taskID))
	}
	t.QualityScore = score
	return nil
}

// Rework transitions a completed task back through needsRevision -> pending
// on a failing checkpoint, incrementing attemptCount, then recomputes the
// ready set, so a reworked task whose dependencies are all complete ends
// up ready rather than pending. Once attemptCount
// exceeds the configured bound, the task becomes failed and every
// dependent that is still pending/ready is skipped. It implements the
// only form of graph cycle the engine permits.
func (g *Graph) Rework(taskID TaskID, findings []string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	t, ok := g.tasks[taskID]
	if !ok {
		return agerr.Input("TASK_NOT_FOUND", "unknown task "+string(taskID))
	}

	t.AttemptCount++
	if len(findings) > 0 {
		t.Description = appendFindings(t.Description, findings)
	}

	now := time.Now()
	if t.AttemptCount > g.maxReworkAttempts {
		t.Status = StatusFailed
		t.FailedAt = &now
		g.appendEventLocked(Event{Kind: "rework_exhausted", TaskID: taskID, Timestamp: now,
			Payload: map[string]any{"attempts": t.AttemptCount}})
		g.skipDependentsLocked(taskID)
		return agerr.ReworkExhausted(string(taskID), t.AttemptCount)
	}

	t.Status = StatusPending
	g.appendEventLocked(Event{Kind: "rework_requested", TaskID: taskID, Timestamp: now,
		Payload: map[string]any{"attempt": t.AttemptCount}})
	g.resetCheckpointsForLocked(taskID)
	g.recomputeReadyLocked()
	return nil
}

// resetCheckpointsForLocked resets every checkpoint task reviewing
// reviewedID back to pending, so the next pass through T re-runs review and
// QA instead of observing their prior (stale) pass/fail result. This is
// the graph-side half of the one permitted cycle: it deliberately bypasses
// the normal forward-only state machine for checkpoint tasks tied to a
// rework cycle.
func (g *Graph) resetCheckpointsForLocked(reviewedID TaskID) {
	for _, t := range g.tasks {
		if !t.IsCheckpoint || t.ReviewsTaskID != reviewedID {
			continue
		}
		t.Status = StatusPending
		t.QualityScore = 0
		t.Result = ""
		t.StartedAt = nil
		t.CompletedAt = nil
		t.FailedAt = nil
	}
}

func appendFindings(description string, findings []string) string {
	out := description + "\n\nRevision requested; findings from the failing checkpoint:"
	for _, f := range findings {
		out += "\n- " + f
	}
	return out
}

// skipDependentsLocked marks every still-pending/ready/in-progress
// dependent of id as skipped, transitively, when id has permanently
// failed.
func (g *Graph) skipDependentsLocked(id TaskID) {
	queue := []TaskID{id}
	seen := map[TaskID]bool{id: true}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, e := range g.reverse[cur] {
			dep := e.From
			if seen[dep] {
				continue
			}
			seen[dep] = true
			t := g.tasks[dep]
			if t == nil || t.Status.terminal() {
				continue
			}
			t.Status = StatusSkipped
			g.appendEventLocked(Event{Kind: "task_skipped", TaskID: dep, Timestamp: time.Now(),
				Payload: map[string]any{"reason": "upstream_failed", "upstream": string(id)}})
			queue = append(queue, dep)
		}
	}
}

// Cancel marks the graph cancelled: every pending, ready or inProgress
// task becomes skipped, and no task may transition back to a runnable
// state.
func (g *Graph) Cancel() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancelled = true
	for _, id := range g.order {
		t := g.tasks[id]
		if t.Status == StatusPending || t.Status == StatusReady || t.Status == StatusInProgress {
			t.Status = StatusSkipped
			g.appendEventLocked(Event{Kind: "task_skipped", TaskID: id, Timestamp: time.Now(),
				Payload: map[string]any{"reason": "cancelled"}})
		}
	}
}

// Cancelled reports whether the graph has been cancelled.
func (g *Graph) Cancelled() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.cancelled
}

// GetTask returns a clone of the task, so callers cannot bypass UpdateStatus.
func (g *Graph) GetTask(id TaskID) (*Task, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	t, ok := g.tasks[id]
	if !ok {
		return nil, false
	}
	return t.Clone(), true
}

// Tasks returns a clone of every task, in insertion order.
func (g *Graph) Tasks() []*Task {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*Task, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.tasks[id].Clone())
	}
	return out
}

// Counts summarizes the current status distribution for getProjectStatus.
type Counts struct {
	Ready       int
	InProgress  int
	Completed   int
	Failed      int
	Skipped     int
	NeedsRevision int
	Total       int
}

// Counts returns the current status distribution.
func (g *Graph) Counts() Counts {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var c Counts
	for _, id := range g.order {
		c.Total++
		switch g.tasks[id].Status {
		case StatusReady:
			c.Ready++
		case StatusInProgress:
			c.InProgress++
		case StatusCompleted:
			c.Completed++
		case StatusFailed:
			c.Failed++
		case StatusSkipped:
			c.Skipped++
		case StatusNeedsRevision:
			c.NeedsRevision++
		}
	}
	return c
}

// CriticalPathRemaining sums the estimated duration of on-critical-path
// tasks that have not yet completed.
func (g *Graph) CriticalPathRemaining() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	total := 0
	for _, id := range g.order {
		t := g.tasks[id]
		if t.OnCriticalPath && t.Status != StatusCompleted && t.Status != StatusSkipped {
			total += t.EstimatedDuration
		}
	}
	return total
}
