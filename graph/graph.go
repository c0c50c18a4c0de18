package graph

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/c360studio/agentgraph/agerr"
)

// EventLogCap bounds the in-memory event log to the last N events.
const EventLogCap = 1000

// MaxReworkAttempts is the default bound on attemptCount before a task
// reopened via needsRevision is marked failed instead of pending.
const MaxReworkAttempts = 5

// Event records a single status transition or graph-level occurrence.
type Event struct {
	Kind      string
	TaskID    TaskID
	Timestamp time.Time
	Payload   map[string]any
}

// Graph is the authoritative, mutex-guarded store of tasks and edges. It is
// the only component allowed to mutate task status; the Scheduler and
// Worker Driver ask it to transition tasks on their behalf.
type Graph struct {
	mu sync.RWMutex

	tasks   map[TaskID]*Task
	order   []TaskID // insertion order, for deterministic iteration
	forward map[TaskID][]Edge // task -> edges describing its dependencies
	reverse map[TaskID][]Edge // task -> edges describing its dependents

	maxReworkAttempts int

	eventLog []Event

	cancelled bool
}

// New creates an empty Graph.
func New() *Graph {
	return &Graph{
		tasks:             make(map[TaskID]*Task),
		forward:           make(map[TaskID][]Edge),
		reverse:           make(map[TaskID][]Edge),
		maxReworkAttempts: MaxReworkAttempts,
	}
}

// SetMaxReworkAttempts overrides the default rework attempt bound.
func (g *Graph) SetMaxReworkAttempts(n int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if n > 0 {
		g.maxReworkAttempts = n
	}
}

// Reset clears all prior state, per Build step 1.
func (g *Graph) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.resetLocked()
}

func (g *Graph) resetLocked() {
	g.tasks = make(map[TaskID]*Task)
	g.order = nil
	g.forward = make(map[TaskID][]Edge)
	g.reverse = make(map[TaskID][]Edge)
	g.eventLog = nil
	g.cancelled = false
}

// Build clears prior state, inserts nodes, adds explicit dependency edges,
// infers data and integration edges, validates acyclicity, computes the
// critical path, and computes the ready set.
func (g *Graph) Build(tasks []*Task) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.resetLocked()

	for _, t := range tasks {
		t.ApplyDefaults()
		clone := t.Clone()
		g.tasks[clone.ID] = clone
		g.order = append(g.order, clone.ID)
		g.forward[clone.ID] = nil
		g.reverse[clone.ID] = nil
	}

	g.addExplicitEdgesLocked()
	g.inferDataEdgesLocked()
	if err := g.inferIntegrationEdgesLocked(); err != nil {
		return err
	}

	if err := g.validateAcyclicLocked(); err != nil {
		return err
	}

	g.computeCriticalPathLocked()
	g.recomputeReadyLocked()

	return nil
}

func (g *Graph) addExplicitEdgesLocked() {
	for _, id := range g.order {
		t := g.tasks[id]
		for _, dep := range t.Dependencies {
			if dep.TaskID == id {
				continue // self-edges forbidden
			}
			if _, ok := g.tasks[dep.TaskID]; !ok {
				continue
			}
			edgeType := dep.Type
			if edgeType == "" {
				edgeType = EdgeCompletion
			}
			g.addEdgeLocked(id, dep.TaskID, edgeType)
		}
	}
}

func (g *Graph) addEdgeLocked(from, to TaskID, edgeType EdgeType) {
	for _, e := range g.forward[from] {
		if e.To == to && e.Type == edgeType {
			return
		}
	}
	e := Edge{From: from, To: to, Type: edgeType}
	g.forward[from] = append(g.forward[from], e)
	g.reverse[to] = append(g.reverse[to], e)
}

// inferDataEdgesLocked implements step 4: for each input of node N, find
// nodes declaring a matching output and add a data edge N->producer. Ties
// (multiple producers) are broken deterministically by a stable sort on
// task id.
func (g *Graph) inferDataEdgesLocked() {
	for _, id := range g.order {
		consumer := g.tasks[id]
		for _, need := range consumer.RequiredInputs {
			producer := g.firstProducerLocked(id, need)
			if producer != "" {
				g.addEdgeLocked(id, producer, EdgeData)
			}
		}
	}
}

func (g *Graph) firstProducerLocked(consumerID TaskID, need DataItem) TaskID {
	candidates := make([]TaskID, 0)
	for _, id := range g.order {
		if id == consumerID {
			continue
		}
		for _, out := range g.tasks[id].ProvidedOutputs {
			if contractMatch(need, out) {
				candidates = append(candidates, id)
				break
			}
		}
	}
	if len(candidates) == 0 {
		return ""
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i] < candidates[j] })
	return candidates[0]
}

// inferIntegrationEdgesLocked implements step 5: consumesAPI X -> edge to
// the unique node declaring providesAPI X; requiresSchema Y -> edge to
// definesSchema Y. A consumer contract with no producer is reported as a
// MissingProducer warning (collected, not returned as a build failure,
// a warning-by-default policy).
func (g *Graph) inferIntegrationEdgesLocked() error {
	var warnings []error
	for _, id := range g.order {
		t := g.tasks[id]
		if t.Integration.ConsumesAPI != "" {
			if producer := g.findByProvidesAPILocked(id, t.Integration.ConsumesAPI); producer != "" {
				g.addEdgeLocked(id, producer, EdgeIntegration)
			} else {
				warnings = append(warnings, agerr.MissingProducer(
					fmt.Sprintf("no task provides API %q consumed by %s", t.Integration.ConsumesAPI, id)))
			}
		}
		if t.Integration.RequiresSchema != "" {
			if producer := g.findByDefinesSchemaLocked(id, t.Integration.RequiresSchema); producer != "" {
				g.addEdgeLocked(id, producer, EdgeSchema)
			} else {
				warnings = append(warnings, agerr.MissingProducer(
					fmt.Sprintf("no task defines schema %q required by %s", t.Integration.RequiresSchema, id)))
			}
		}
	}
	for _, w := range warnings {
		g.appendEventLocked(Event{Kind: "missing_producer_warning", Timestamp: time.Now(),
			Payload: map[string]any{"error": w.Error()}})
	}
	return nil
}

func (g *Graph) findByProvidesAPILocked(consumerID TaskID, name string) TaskID {
	var found []TaskID
	for _, id := range g.order {
		if id == consumerID {
			continue
		}
		if strEqualFold(g.tasks[id].Integration.ProvidesAPI, name) {
			found = append(found, id)
		}
	}
	sort.Slice(found, func(i, j int) bool { return found[i] < found[j] })
	if len(found) == 0 {
		return ""
	}
	return found[0]
}

func (g *Graph) findByDefinesSchemaLocked(consumerID TaskID, name string) TaskID {
	var found []TaskID
	for _, id := range g.order {
		if id == consumerID {
			continue
		}
		if strEqualFold(g.tasks[id].Integration.DefinesSchema, name) {
			found = append(found, id)
		}
	}
	sort.Slice(found, func(i, j int) bool { return found[i] < found[j] })
	if len(found) == 0 {
		return ""
	}
	return found[0]
}

// validateAcyclicLocked performs a topological sort over non-rework edges.
// A cycle is fatal: CyclicGraph.
func (g *Graph) validateAcyclicLocked() error {
	_, err := g.topologicalOrderLocked()
	return err
}

func (g *Graph) topologicalOrderLocked() ([]TaskID, error) {
	inDegree := make(map[TaskID]int, len(g.tasks))
	for _, id := range g.order {
		count := 0
		for _, e := range g.forward[id] {
			if e.Type != EdgeRework {
				count++
			}
		}
		inDegree[id] = count
	}

	queue := make([]TaskID, 0)
	for _, id := range g.order {
		if inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}
	sort.Slice(queue, func(i, j int) bool { return queue[i] < queue[j] })

	result := make([]TaskID, 0, len(g.tasks))
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		result = append(result, cur)

		var unlocked []TaskID
		for _, e := range g.reverse[cur] {
			if e.Type == EdgeRework {
				continue
			}
			inDegree[e.From]--
			if inDegree[e.From] == 0 {
				unlocked = append(unlocked, e.From)
			}
		}
		sort.Slice(unlocked, func(i, j int) bool { return unlocked[i] < unlocked[j] })
		queue = append(queue, unlocked...)
	}

	if len(result) != len(g.tasks) {
		return nil, agerr.CyclicGraph("task dependency graph contains a non-rework cycle")
	}
	return result, nil
}

func strEqualFold(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return strings.EqualFold(a, b)
}
