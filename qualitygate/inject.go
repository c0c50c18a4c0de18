// Package qualitygate applies the checkpoint-injection graph transformation
// and evaluates checkpoint results against the configured pass thresholds,
// driving the bounded rework cycle described for the Quality-Gate Pipeline.
package qualitygate

import (
	"fmt"

	"github.com/c360studio/agentgraph/graph"
)

// checkpointDuration is the estimated duration assigned to every injected
// review/QA task; checkpoints are presumed fast relative to the
// implementation task they gate.
const checkpointDuration = 10

// reviewSuffix and qaSuffix name the injected checkpoint tasks derived from
// a standard task's ID.
const (
	reviewSuffix = "-review"
	qaSuffix     = "-qa"
)

// FinalReviewID and FinalQAID name the two graph-wide closing checkpoints
// inserted after every standard task's QA node.
const (
	FinalReviewID graph.TaskID = "final-review"
	FinalQAID     graph.TaskID = "final-qa"
)

// Inject returns a new task list with a code-review and QA-test checkpoint
// inserted after every standard implementation task, and two final-review
// checkpoints depending on every QA node. It does not mutate the
// input tasks; it is applied once, before the tasks are handed to
// graph.Build.
//
// Implementation note: every dependent of a redirected task must see the
// redirect regardless of where it sits in the input order (a dependent can
// appear before or after the task it depends on), so the pass is split in
// two: first clone and inject every node, then rewrite every clone's
// dependency list against the completed redirect table.
func Inject(tasks []*graph.Task) []*graph.Task {
	out := make([]*graph.Task, 0, len(tasks)+2)
	qaIDs := make([]graph.TaskID, 0, len(tasks))
	redirect := make(map[graph.TaskID]graph.TaskID)

	for _, t := range tasks {
		clone := t.Clone()
		out = append(out, clone)

		if clone.Type != graph.TaskImplementation {
			continue
		}

		reviewID := graph.TaskID(string(t.ID) + reviewSuffix)
		qaID := graph.TaskID(string(t.ID) + qaSuffix)

		review := &graph.Task{
			ID:                reviewID,
			Title:             fmt.Sprintf("Code review: %s", t.Title),
			Type:              graph.TaskReview,
			SpecialistKind:    "code-reviewer",
			IsCheckpoint:      true,
			CheckpointType:    graph.CheckpointCodeReview,
			ReviewsTaskID:     t.ID,
			EstimatedDuration: checkpointDuration,
			Priority:          t.Priority,
			Dependencies:      []graph.Dependency{{TaskID: t.ID, Type: graph.EdgeCompletion}},
		}
		qa := &graph.Task{
			ID:                qaID,
			Title:             fmt.Sprintf("QA test: %s", t.Title),
			Type:              graph.TaskTest,
			SpecialistKind:    "qa-tester",
			IsCheckpoint:      true,
			CheckpointType:    graph.CheckpointQATest,
			ReviewsTaskID:     t.ID,
			EstimatedDuration: checkpointDuration,
			Priority:          t.Priority,
			Dependencies:      []graph.Dependency{{TaskID: reviewID, Type: graph.EdgeCompletion}},
		}

		out = append(out, review, qa)
		qaIDs = append(qaIDs, qaID)
		redirect[t.ID] = qaID
	}

	if len(qaIDs) > 0 {
		finalDeps := make([]graph.Dependency, len(qaIDs))
		for i, id := range qaIDs {
			finalDeps[i] = graph.Dependency{TaskID: id, Type: graph.EdgeCompletion}
		}
		out = append(out,
			&graph.Task{
				ID:                FinalReviewID,
				Title:             "Final code review",
				Type:              graph.TaskFinalReview,
				SpecialistKind:    "code-reviewer",
				IsCheckpoint:      true,
				CheckpointType:    graph.CheckpointFinalReview,
				EstimatedDuration: checkpointDuration,
				Priority:          graph.PriorityHigh,
				Dependencies:      append([]graph.Dependency(nil), finalDeps...),
			},
			&graph.Task{
				ID:                FinalQAID,
				Title:             "Final QA pass",
				Type:              graph.TaskFinalReview,
				SpecialistKind:    "qa-tester",
				IsCheckpoint:      true,
				CheckpointType:    graph.CheckpointFinalQA,
				EstimatedDuration: checkpointDuration,
				Priority:          graph.PriorityHigh,
				Dependencies:      append([]graph.Dependency(nil), finalDeps...),
			},
		)
	}

	// Second pass: redirect every dependency on a gated task to its QA node.
	// A task's own just-created review/qa dependency on itself (the edge we
	// just set to t.ID / reviewID above) must NOT be redirected, so skip
	// redirecting a task's dependency on its own reviewed task.
	for _, task := range out {
		for i, dep := range task.Dependencies {
			if task.IsCheckpoint && dep.TaskID == task.ReviewsTaskID {
				continue
			}
			if newID, ok := redirect[dep.TaskID]; ok {
				task.Dependencies[i].TaskID = newID
			}
		}
	}

	return out
}
