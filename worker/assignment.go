package worker

import (
	"regexp"
	"sort"

	"github.com/c360studio/agentgraph/agerr"
	"github.com/c360studio/agentgraph/graph"
)

// DefaultConfidenceThreshold is the minimum assignment confidence below
// which the caller should consider pausing for manual override.
const DefaultConfidenceThreshold = 0.7

// checkpointRole maps a checkpoint type to the worker role that owns it.
var checkpointRole = map[graph.CheckpointType]Role{
	graph.CheckpointCodeReview:  RoleCodeReviewer,
	graph.CheckpointFinalReview: RoleCodeReviewer,
	graph.CheckpointQATest:      RoleQATester,
	graph.CheckpointFinalQA:     RoleQATester,
}

// reviewTitlePattern and testTitlePattern catch tasks whose title names a
// review or test role explicitly even when isCheckpoint was left unset by
// an upstream caller.
var (
	reviewTitlePattern = regexp.MustCompile(`(?i)\b(code[\s-]?review|review)\b`)
	testTitlePattern   = regexp.MustCompile(`(?i)\b(qa|test(ing)?)\b`)
)

// Assignment is the outcome of scoring a task against the worker pool.
type Assignment struct {
	TaskID         graph.TaskID
	WorkerID       string
	Confidence     float64 // [0,1]
	ExpectedEffort int     // minutes
	Alternates     []string
	LowConfidence  bool
}

// skillScore computes the per-task skill match: development-capable
// workers are scored by efficiency-weighted capability match plus an
// experience bonus; checkpoint workers return 0 for standard tasks and a
// high base score when their role matches the task's checkpoint type (or
// its title names that role explicitly).
func skillScore(t *graph.Task, w *Worker) float64 {
	if t.IsCheckpoint {
		role, ok := checkpointRole[t.CheckpointType]
		if ok && w.Role == role {
			return 95
		}
		return 0
	}

	if w.Role != RoleDeveloper {
		// A checkpoint-only worker may still be asked to cover a task whose
		// title makes its role obvious even without isCheckpoint set.
		if w.Role == RoleCodeReviewer && reviewTitlePattern.MatchString(t.Title) {
			return 95
		}
		if w.Role == RoleQATester && testTitlePattern.MatchString(t.Title) {
			return 95
		}
		return 0
	}

	cap, ok := w.Capabilities[t.SpecialistKind]
	if !ok {
		return 0
	}
	return cap.Efficiency*100 + experienceBonus[cap.Experience]
}

// effortBonus rewards shorter tasks with spare worker capacity, capped at
// 10 and decreasing with duration.
func effortBonus(estimatedDuration int) float64 {
	b := 10 - float64(estimatedDuration)/30
	if b < 0 {
		return 0
	}
	if b > 10 {
		return 10
	}
	return b
}

// Score computes the full suitability score in [0,100]:
// skill + efficiencyBonus(≤20) + experienceBonus(≤15) + effortBonus(≤10) -
// loadPenalty.
func Score(t *graph.Task, w *Worker) float64 {
	skill := skillScore(t, w)
	if skill == 0 {
		return 0
	}

	var cap Capability
	if c, ok := w.Capabilities[t.SpecialistKind]; ok {
		cap = c
	}

	efficiencyBonus := cap.Efficiency * 20
	if efficiencyBonus > 20 {
		efficiencyBonus = 20
	}
	expBonus := experienceBonus[cap.Experience]
	if expBonus > 15 {
		expBonus = 15
	}

	loadPenalty := float64(w.CurrentLoad) * 5

	score := skill + efficiencyBonus + expBonus + effortBonus(t.EstimatedDuration) - loadPenalty
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score
}

// FindBestWorker filters candidates by
// task kind and free capacity, scores the remainder, and breaks ties by
// lowest current load then lexicographic id for determinism.
func (r *Registry) FindBestWorker(t *graph.Task, confidenceThreshold float64) (Assignment, error) {
	r.mu.RLock()
	candidates := make([]*Worker, 0, len(r.order))
	for _, id := range r.order {
		w := r.workers[id]
		if t.IsCheckpoint {
			role, ok := checkpointRole[t.CheckpointType]
			if !ok || w.Role != role {
				continue
			}
		} else if w.Role != RoleDeveloper {
			continue
		}
		if w.CurrentLoad >= w.MaxConcurrentTasks {
			continue
		}
		clone := *w
		candidates = append(candidates, &clone)
	}
	r.mu.RUnlock()

	if len(candidates) == 0 {
		return Assignment{}, agerr.WorkerUnavailable("no worker with free capacity matches task " + string(t.ID))
	}

	type scored struct {
		w     *Worker
		score float64
	}
	ranked := make([]scored, 0, len(candidates))
	for _, w := range candidates {
		ranked = append(ranked, scored{w: w, score: Score(t, w)})
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		if ranked[i].w.CurrentLoad != ranked[j].w.CurrentLoad {
			return ranked[i].w.CurrentLoad < ranked[j].w.CurrentLoad
		}
		return ranked[i].w.ID < ranked[j].w.ID
	})

	best := ranked[0]
	if best.score == 0 {
		return Assignment{}, agerr.WorkerUnavailable("no worker's capabilities match task " + string(t.ID))
	}

	alternates := make([]string, 0, 3)
	for i := 1; i < len(ranked) && len(alternates) < 3; i++ {
		if ranked[i].score > 0 {
			alternates = append(alternates, ranked[i].w.ID)
		}
	}

	confidence := best.score / 100
	return Assignment{
		TaskID:         t.ID,
		WorkerID:       best.w.ID,
		Confidence:     confidence,
		ExpectedEffort: t.EstimatedDuration,
		Alternates:     alternates,
		LowConfidence:  confidence < confidenceThreshold,
	}, nil
}
