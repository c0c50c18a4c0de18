package qualitygate

import (
	"strings"

	"github.com/c360studio/agentgraph/agerr"
	"github.com/c360studio/agentgraph/config"
	"github.com/c360studio/agentgraph/graph"
)

func taskNotFoundErr(id graph.TaskID) error {
	return agerr.Input("TASK_NOT_FOUND", "unknown task "+string(id))
}

// thresholdFor returns the configured pass threshold for a checkpoint type:
// review checkpoints use ReviewPassThreshold, QA checkpoints use
// QAPassThreshold.
func thresholdFor(cfg *config.GateConfig, checkpointType graph.CheckpointType) float64 {
	switch checkpointType {
	case graph.CheckpointCodeReview, graph.CheckpointFinalReview:
		return cfg.ReviewPassThreshold
	default:
		return cfg.QAPassThreshold
	}
}

// hasHighSeverityFinding reports whether any finding is tagged high
// severity, using the "severity:high" / "[high]" conventions a checkpoint
// worker is expected to emit.
func hasHighSeverityFinding(findings []string) bool {
	for _, f := range findings {
		lower := strings.ToLower(f)
		if strings.Contains(lower, "severity:high") || strings.Contains(lower, "[high]") {
			return true
		}
	}
	return false
}

// passes applies the threshold and high-severity-findings rule on top of
// the checkpoint worker's own Passed verdict.
func passes(cfg *config.GateConfig, checkpointType graph.CheckpointType, result graph.CheckpointResult) bool {
	if !result.Passed {
		return false
	}
	if result.QualityScore < thresholdFor(cfg, checkpointType) {
		return false
	}
	if cfg.FatalHighFindings && hasHighSeverityFinding(result.Findings) {
		return false
	}
	return true
}

// Evaluate applies a checkpoint's result to g: on pass, the checkpoint task
// is marked completed (unblocking its successors via the normal ready-set
// recomputation); on fail, the reviewed task is sent back through
// needsRevision -> pending with the findings appended. This is
// the only code path allowed to reopen a completed task.
func Evaluate(g *graph.Graph, cfg *config.GateConfig, checkpointID graph.TaskID, result graph.CheckpointResult) error {
	checkpoint, ok := g.GetTask(checkpointID)
	if !ok {
		return taskNotFoundErr(checkpointID)
	}

	if err := g.SetQualityScore(checkpointID, result.QualityScore); err != nil {
		return err
	}

	if passes(cfg, checkpoint.CheckpointType, result) {
		return g.UpdateStatus(checkpointID, graph.StatusCompleted, "checkpoint passed")
	}

	if err := g.UpdateStatus(checkpointID, graph.StatusFailed, "checkpoint failed"); err != nil {
		return err
	}
	reviewed, ok := g.GetTask(checkpoint.ReviewsTaskID)
	if !ok {
		return taskNotFoundErr(checkpoint.ReviewsTaskID)
	}
	if err := g.UpdateStatus(reviewed.ID, graph.StatusInReview, ""); err != nil {
		return err
	}
	if err := g.UpdateStatus(reviewed.ID, graph.StatusNeedsRevision, ""); err != nil {
		return err
	}
	return g.Rework(reviewed.ID, result.Findings)
}
