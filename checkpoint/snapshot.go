// Package checkpoint persists graph snapshots for recovery and implements
// the fixed recovery ladder on a fatal graph error.
package checkpoint

import (
	"time"

	"github.com/c360studio/agentgraph/graph"
)

// Name identifies a named snapshot point.
type Name string

const (
	NameExecutionStart       Name = "executionStart"
	NameLastSuccessfulNode   Name = "lastSuccessfulNode"
	NameAutoSnapshotBeforeError Name = "autoSnapshotBeforeError"
	NameInitialized          Name = "initialized"
)

// recoveryLadder is the fixed recovery order: first validating snapshot
// wins.
var recoveryLadder = []Name{
	NameLastSuccessfulNode,
	NameAutoSnapshotBeforeError,
	NameExecutionStart,
	NameInitialized,
}

// Snapshot is an immutable deep copy of a Graph plus its trailing event
// log, labeled by Name.
type Snapshot struct {
	Name      Name
	Tasks     []*graph.Task
	EventTail []graph.Event
	TakenAt   time.Time
}

// Capture takes a deep-copy snapshot of g labeled name. Tasks and events
// are already cloned by graph.Graph.Tasks/EventLogTail, so the snapshot is
// independent of any further mutation of the live graph.
func Capture(g *graph.Graph, name Name) Snapshot {
	return Snapshot{
		Name:      name,
		Tasks:     g.Tasks(),
		EventTail: g.EventLogTail(0),
		TakenAt:   time.Now(),
	}
}

// Valid reports whether a snapshot carries at least one task; an empty
// snapshot cannot usefully restore a run.
func (s Snapshot) Valid() bool {
	return len(s.Tasks) > 0
}

// inFlightStatuses are task statuses whose invocation was still running
// when the snapshot was captured. On recovery that invocation is gone —
// discarded along with the process that was driving it — so the task must
// be re-armed rather than left parked in a status nothing ever dispatches
// from again.
var inFlightStatuses = map[graph.Status]bool{
	graph.StatusInProgress: true,
	graph.StatusInReview:   true,
}

// Restore rebuilds a Graph from the snapshot's tasks. Build re-derives
// edges and the ready set from the snapshotted task fields directly, since
// graph.Task already carries Status; replaying each task's recorded status
// via the normal transition path is unnecessary. Any task captured
// mid-flight is first demoted to pending, since its invocation is gone and
// the graph's forward-only state machine has no transition that would ever
// bring it back from inProgress/inReview on its own.
func (s Snapshot) Restore() (*graph.Graph, error) {
	tasks := make([]*graph.Task, len(s.Tasks))
	for i, t := range s.Tasks {
		clone := t.Clone()
		if inFlightStatuses[clone.Status] {
			clone.Status = graph.StatusPending
			clone.AssignedWorker = ""
			clone.StartedAt = nil
		}
		tasks[i] = clone
	}

	g := graph.New()
	if err := g.Build(tasks); err != nil {
		return nil, err
	}
	return g, nil
}
