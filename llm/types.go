// Package llm is the single typed façade to the external language-model
// service used for requirements analysis, blueprint creation, task
// generation, and assignment scoring. The transport to the actual service
// is an opaque JSON request/response boundary; this package owns caching,
// retry, and transient/fatal error classification around it.
package llm

import (
	"context"

	"github.com/c360studio/agentgraph/graph"
)

// Analysis is the structured output of analyzeRequirements.
type Analysis struct {
	Domain         string   `json:"domain"`
	UserTypes      []string `json:"userTypes"`
	CoreNeeds      []string `json:"coreNeeds"`
	ComplexityHint string   `json:"complexityHint"`
}

// Component is one architectural piece of a Blueprint.
type Component struct {
	Type string `json:"type"` // frontend | backend | database | ...
	Name string `json:"name"`
}

// Blueprint is the structured plan produced by createBlueprint.
type Blueprint struct {
	ProjectID    string      `json:"projectId"`
	Domain       string      `json:"domain"`
	Components   []Component `json:"components"`
	Workflows    []string    `json:"workflows"`
	Integrations []string    `json:"integrations"`
	QualityGates []string    `json:"qualityGates"`
	Compliance   []string    `json:"compliance"`
}

// AssignmentScore is the output of scoreAssignment.
type AssignmentScore struct {
	Confidence float64  `json:"confidence"` // [0,1]
	Rationale  string   `json:"rationale"`
	Risks      []string `json:"risks"`
}

// Adapter is the typed façade every Requirements Analyzer call goes
// through. Each method is a pure request/response call against a declared
// response schema.
type Adapter interface {
	AnalyzeRequirements(ctx context.Context, text string) (Analysis, error)
	CreateBlueprint(ctx context.Context, analysis Analysis, originalText string) (Blueprint, error)
	GenerateTasks(ctx context.Context, bp Blueprint, availableSpecialists []string) ([]*graph.Task, error)
	ScoreAssignment(ctx context.Context, task *graph.Task, workerID string, history string) (AssignmentScore, error)
}
