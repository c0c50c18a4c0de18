package graph

import (
	"sort"

	"github.com/c360studio/agentgraph/agerr"
)

// criticalPathSlack is the fraction of the maximum finish time within
// which a task's earliest finish still counts as "on the critical path".
const criticalPathSlack = 0.05

// computeCriticalPathLocked runs a standard forward/backward critical-path
// pass over the non-rework DAG: earliest-finish by walking dependencies
// first, then latest-finish by walking dependents first, then marks every
// task whose slack (latestFinish - earliestFinish) is within 5% of the
// makespan as on the critical path. Using slack rather than raw finish
// time is what keeps every node of a single linear chain on the critical
// path, not just the one whose absolute finish happens to be largest.
func (g *Graph) computeCriticalPathLocked() {
	order, err := g.topologicalOrderLocked()
	if err != nil {
		return // already rejected at Build time; nothing to mark.
	}

	earliestFinish := make(map[TaskID]float64, len(order))
	// order yields dependency-free root tasks first and their dependents
	// later, so a forward walk guarantees every dependency's earliest
	// finish is already known when its dependent is processed.
	for i := 0; i < len(order); i++ {
		id := order[i]
		best := 0.0
		for _, e := range g.forward[id] {
			if e.Type == EdgeRework {
				continue
			}
			if f := earliestFinish[e.To]; f > best {
				best = f
			}
		}
		earliestFinish[id] = best + float64(g.tasks[id].EstimatedDuration)
	}

	makespan := 0.0
	for _, f := range earliestFinish {
		if f > makespan {
			makespan = f
		}
	}

	latestFinish := make(map[TaskID]float64, len(order))
	// Walking in reverse topological order guarantees every dependent's
	// latest finish is already known when its dependency is processed.
	for i := len(order) - 1; i >= 0; i-- {
		id := order[i]
		successors := false
		best := makespan
		for _, e := range g.reverse[id] {
			if e.Type == EdgeRework {
				continue
			}
			successors = true
			latestStart := latestFinish[e.From] - float64(g.tasks[e.From].EstimatedDuration)
			if latestStart < best {
				best = latestStart
			}
		}
		if !successors {
			best = makespan
		}
		latestFinish[id] = best
	}

	threshold := makespan * criticalPathSlack
	for id, t := range g.tasks {
		slack := latestFinish[id] - earliestFinish[id]
		t.OnCriticalPath = makespan > 0 && slack <= threshold
	}
}

// dependentCountLocked returns how many other tasks declare id as a
// dependency (used for priority derivation and ready-set ordering).
func (g *Graph) dependentCountLocked(id TaskID) int {
	return len(g.reverse[id])
}

// recomputeReadyLocked transitions every StatusPending task whose
// dependencies are satisfied to StatusReady. It is invoked after any
// status change that could unblock successors.
func (g *Graph) recomputeReadyLocked() {
	for _, id := range g.order {
		t := g.tasks[id]
		if t.Status != StatusPending {
			continue
		}
		if g.dependenciesSatisfiedLocked(id) {
			t.Status = StatusReady
		}
	}
}

func (g *Graph) dependenciesSatisfiedLocked(id TaskID) bool {
	for _, e := range g.forward[id] {
		if e.Type == EdgeRework {
			continue
		}
		dep, ok := g.tasks[e.To]
		if !ok || dep.Status != StatusCompleted {
			return false
		}
		if e.Type == EdgeData || e.Type == EdgeIntegration || e.Type == EdgeSchema {
			if !g.contractCompatibleLocked(g.tasks[id], dep, e.Type) {
				return false
			}
		}
	}
	return true
}

// contractCompatibleLocked re-checks, at satisfaction time, that the
// predecessor's declared contract (ProvidesAPI, DefinesSchema or
// ProvidedOutputs) is compatible with the consumer's declared contract.
// The predecessor's Result is not consulted.
func (g *Graph) contractCompatibleLocked(consumer, producer *Task, edgeType EdgeType) bool {
	switch edgeType {
	case EdgeIntegration:
		return strEqualFold(consumer.Integration.ConsumesAPI, producer.Integration.ProvidesAPI)
	case EdgeSchema:
		return strEqualFold(consumer.Integration.RequiresSchema, producer.Integration.DefinesSchema)
	default:
		for _, need := range consumer.RequiredInputs {
			for _, have := range producer.ProvidedOutputs {
				if contractMatch(need, have) {
					return true
				}
			}
		}
		// No structured inputs declared on either side: the completion
		// edge itself already guarantees ordering.
		return len(consumer.RequiredInputs) == 0
	}
}

// DependenciesSatisfied reports whether every predecessor of taskID has
// completed and, for data/integration/schema edges, remains
// contract-compatible.
func (g *Graph) DependenciesSatisfied(taskID TaskID) (bool, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if _, ok := g.tasks[taskID]; !ok {
		return false, agerr.Input("TASK_NOT_FOUND", "unknown task "+string(taskID))
	}
	return g.dependenciesSatisfiedLocked(taskID), nil
}

// ReadyTask is a snapshot of a ready task enriched with the outputs of its
// satisfied dependencies, for the scheduler to pass into a worker prompt.
type ReadyTask struct {
	Task              *Task
	DependencyOutputs []DataItem
}

// GetReadyTasks returns a snapshot of every StatusReady task, sorted by:
// critical-path first, descending dependent count, integration-establishing
// tasks first, then ascending estimated duration.
func (g *Graph) GetReadyTasks() []ReadyTask {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var ready []TaskID
	for _, id := range g.order {
		if g.tasks[id].Status == StatusReady {
			ready = append(ready, id)
		}
	}

	sort.Slice(ready, func(i, j int) bool {
		a, b := g.tasks[ready[i]], g.tasks[ready[j]]
		if a.OnCriticalPath != b.OnCriticalPath {
			return a.OnCriticalPath
		}
		da, db := g.dependentCountLocked(ready[i]), g.dependentCountLocked(ready[j])
		if da != db {
			return da > db
		}
		ia, ib := establishesIntegration(a), establishesIntegration(b)
		if ia != ib {
			return ia
		}
		if a.EstimatedDuration != b.EstimatedDuration {
			return a.EstimatedDuration < b.EstimatedDuration
		}
		return ready[i] < ready[j]
	})

	out := make([]ReadyTask, 0, len(ready))
	for _, id := range ready {
		out = append(out, ReadyTask{
			Task:              g.tasks[id].Clone(),
			DependencyOutputs: g.dependencyOutputsLocked(id),
		})
	}
	return out
}

func establishesIntegration(t *Task) bool {
	return t.Integration.ProvidesAPI != "" || t.Integration.DefinesSchema != "" ||
		t.Integration.EstablishesInterface != ""
}

func (g *Graph) dependencyOutputsLocked(id TaskID) []DataItem {
	var outs []DataItem
	for _, e := range g.forward[id] {
		if e.Type == EdgeRework {
			continue
		}
		if dep, ok := g.tasks[e.To]; ok {
			outs = append(outs, dep.ProvidedOutputs...)
		}
	}
	return outs
}

// IsComplete reports whether every node is completed or skipped.
func (g *Graph) IsComplete() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, id := range g.order {
		s := g.tasks[id].Status
		if s != StatusCompleted && s != StatusSkipped {
			return false
		}
	}
	return true
}

// appendEventLocked appends to the bounded event ring buffer.
func (g *Graph) appendEventLocked(e Event) {
	g.eventLog = append(g.eventLog, e)
	if len(g.eventLog) > EventLogCap {
		g.eventLog = g.eventLog[len(g.eventLog)-EventLogCap:]
	}
}

// EventLogTail returns a copy of the last n events (or all of them if n <=
// 0 or exceeds the log length).
func (g *Graph) EventLogTail(n int) []Event {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if n <= 0 || n > len(g.eventLog) {
		n = len(g.eventLog)
	}
	out := make([]Event, n)
	copy(out, g.eventLog[len(g.eventLog)-n:])
	return out
}
