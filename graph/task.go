// Package graph owns the task dependency graph: nodes, typed edges,
// critical-path computation, the ready set, and the task status state
// machine. It is the only package allowed to mutate task status.
package graph

import "time"

// TaskID uniquely identifies a task node.
type TaskID string

// TaskType distinguishes standard development work from checkpoint work.
type TaskType string

const (
	TaskImplementation TaskType = "implementation"
	TaskReview         TaskType = "review"
	TaskTest           TaskType = "test"
	TaskFinalReview    TaskType = "finalReview"
)

// Priority is the task's scheduling priority.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Status is the current lifecycle state of a task.
type Status string

const (
	StatusPending       Status = "pending"
	StatusReady         Status = "ready"
	StatusInProgress    Status = "inProgress"
	StatusInReview      Status = "inReview"
	StatusNeedsRevision Status = "needsRevision"
	StatusCompleted     Status = "completed"
	StatusFailed        Status = "failed"
	StatusSkipped       Status = "skipped"
)

// terminal reports whether a status accepts no further transitions.
func (s Status) terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusSkipped:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether the status can move to target, per the
// state machine: pending -> ready -> inProgress -> {completed,
// failed, inReview}; completed -> inReview (standard tasks only, driven by the
// quality gate) -> {completed via checkpoint pass, needsRevision, failed};
// needsRevision -> pending is the only backward transition.
func (s Status) CanTransitionTo(target Status) bool {
	if s == target {
		return false
	}
	switch s {
	case StatusPending:
		return target == StatusReady || target == StatusSkipped || target == StatusFailed
	case StatusReady:
		return target == StatusInProgress || target == StatusSkipped
	case StatusInProgress:
		return target == StatusCompleted || target == StatusFailed || target == StatusInReview
	case StatusInReview:
		return target == StatusCompleted || target == StatusNeedsRevision || target == StatusFailed
	case StatusNeedsRevision:
		return target == StatusPending || target == StatusFailed
	case StatusCompleted:
		// A completed standard task may be pulled back into review by the
		// quality gate, or reopened by a failing downstream checkpoint.
		return target == StatusInReview || target == StatusNeedsRevision
	default:
		return false
	}
}

// IsValid reports whether s is one of the defined statuses.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusReady, StatusInProgress, StatusInReview,
		StatusNeedsRevision, StatusCompleted, StatusFailed, StatusSkipped:
		return true
	default:
		return false
	}
}

// EdgeType classifies why one task depends on another.
type EdgeType string

const (
	EdgeCompletion  EdgeType = "completion"
	EdgeData        EdgeType = "data"
	EdgeIntegration EdgeType = "integration"
	EdgeSchema      EdgeType = "schema"
	// EdgeRework marks the bounded cycle a failed checkpoint creates; it is
	// excluded from cycle detection.
	EdgeRework EdgeType = "rework"
)

// DataItem is a typed input or output a task consumes or produces.
type DataItem struct {
	Name   string `json:"name"`
	Type   string `json:"type,omitempty"`
	Format string `json:"format,omitempty"`
	Schema string `json:"schema,omitempty"`
}

// Contracts captures the integration-contract declarations a task makes.
type Contracts struct {
	ProvidesAPI         string `json:"providesAPI,omitempty"`
	ConsumesAPI         string `json:"consumesAPI,omitempty"`
	DefinesSchema       string `json:"definesSchema,omitempty"`
	RequiresSchema      string `json:"requiresSchema,omitempty"`
	EstablishesInterface string `json:"establishesInterface,omitempty"`
}

// Dependency is an explicit predecessor declaration on a task.
type Dependency struct {
	TaskID TaskID   `json:"taskId"`
	Type   EdgeType `json:"type"`
}

// CheckpointType identifies the role of a checkpoint task.
type CheckpointType string

const (
	CheckpointCodeReview  CheckpointType = "codeReview"
	CheckpointQATest      CheckpointType = "qaTest"
	CheckpointFinalReview CheckpointType = "finalCodeReview"
	CheckpointFinalQA     CheckpointType = "finalQaTest"
)

// CheckpointResult is the outcome a checkpoint worker reports.
type CheckpointResult struct {
	Passed       bool     `json:"passed"`
	QualityScore float64  `json:"qualityScore"`
	Findings     []string `json:"findings,omitempty"`
}

// Task is a single node in the dependency graph.
type Task struct {
	ID             TaskID   `json:"id"`
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	Type           TaskType `json:"type"`
	SpecialistKind string   `json:"specialistKind"`

	RequiredInputs   []DataItem `json:"requiredInputs,omitempty"`
	ProvidedOutputs  []DataItem `json:"providedOutputs,omitempty"`
	Integration      Contracts  `json:"integrationContracts,omitempty"`
	Dependencies     []Dependency `json:"dependencies,omitempty"`
	ValidationCriteria []string `json:"validationCriteria,omitempty"`

	EstimatedDuration int      `json:"estimatedDuration"` // minutes, >= 1
	Priority          Priority `json:"priority"`

	Status        Status  `json:"status"`
	AssignedWorker string `json:"assignedWorker,omitempty"`
	StartedAt     *time.Time `json:"startedAt,omitempty"`
	CompletedAt   *time.Time `json:"completedAt,omitempty"`
	FailedAt      *time.Time `json:"failedAt,omitempty"`
	Result        string  `json:"result,omitempty"`
	QualityScore  float64 `json:"qualityScore,omitempty"`
	AttemptCount  int     `json:"attemptCount"`

	OnCriticalPath bool `json:"onCriticalPath,omitempty"`

	IsCheckpoint   bool           `json:"isCheckpoint,omitempty"`
	CheckpointType CheckpointType `json:"checkpointType,omitempty"`
	ReviewsTaskID  TaskID         `json:"reviewsTaskId,omitempty"`
}

// Clone returns a deep-enough copy of the task for snapshotting: slices and
// the Dependencies/ValidationCriteria/DataItem lists are copied so the
// snapshot is independent of further mutation of the live task.
func (t *Task) Clone() *Task {
	clone := *t
	clone.RequiredInputs = append([]DataItem(nil), t.RequiredInputs...)
	clone.ProvidedOutputs = append([]DataItem(nil), t.ProvidedOutputs...)
	clone.Dependencies = append([]Dependency(nil), t.Dependencies...)
	clone.ValidationCriteria = append([]string(nil), t.ValidationCriteria...)
	if t.StartedAt != nil {
		v := *t.StartedAt
		clone.StartedAt = &v
	}
	if t.CompletedAt != nil {
		v := *t.CompletedAt
		clone.CompletedAt = &v
	}
	if t.FailedAt != nil {
		v := *t.FailedAt
		clone.FailedAt = &v
	}
	return &clone
}

// DefaultEstimatedDuration is applied when a generated task omits a
// duration or specifies a non-positive value.
const DefaultEstimatedDuration = 15

// ApplyDefaults fills in the defaults the Requirements Analyzer enrichment
// step requires: a positive duration and a defaulted priority.
func (t *Task) ApplyDefaults() {
	if t.EstimatedDuration < 1 {
		t.EstimatedDuration = DefaultEstimatedDuration
	}
	if t.Priority == "" {
		t.Priority = PriorityMedium
	}
	if t.Status == "" {
		t.Status = StatusPending
	}
}
