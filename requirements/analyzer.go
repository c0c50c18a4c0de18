// Package requirements turns free-form user text into a complete,
// self-consistent task list via the LLM Adapter, with a rule-based fallback
// when the adapter is unavailable.
package requirements

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/c360studio/agentgraph/graph"
	"github.com/c360studio/agentgraph/llm"
	"github.com/c360studio/agentgraph/prompt"
)

// highPriorityDependentThreshold is the dependent-count cutoff for the
// "high" priority rule (no predecessors, establishes a contract, or has
// many dependents).
const highPriorityDependentThreshold = 4

// AnalyzedProject is the pipeline's final output: a Blueprint and a fully
// enriched, self-consistent task list ready for the Quality-Gate injection
// pass and graph.Build.
type AnalyzedProject struct {
	Blueprint              llm.Blueprint
	Tasks                  []*graph.Task
	EstimatedTotalDuration int
	Complexity             string
}

// Analyzer drives the analyze -> blueprint -> generate-tasks -> enrich
// pipeline.
type Analyzer struct {
	adapter        llm.Adapter
	sanitizer      *prompt.Sanitizer
	promptMaxBytes int
	specialists    []string
}

// New creates an Analyzer. specialists lists the worker specializations
// available to GenerateTasks.
func New(adapter llm.Adapter, sanitizer *prompt.Sanitizer, promptMaxBytes int, specialists []string) *Analyzer {
	return &Analyzer{adapter: adapter, sanitizer: sanitizer, promptMaxBytes: promptMaxBytes, specialists: specialists}
}

// Analyze runs the full pipeline: clean and size-validate the request text,
// analyze it, derive a blueprint, generate tasks, then default/enrich every
// task. Each LLM stage falls back to a rule-based substitute on error,
// rather than failing the whole pipeline — only an oversized prompt is
// fatal.
func (a *Analyzer) Analyze(ctx context.Context, text string) (*AnalyzedProject, error) {
	cleaned := a.sanitizer.Clean(text)
	if _, err := prompt.ValidateSize([]byte(cleaned), a.promptMaxBytes, "requirements analysis"); err != nil {
		return nil, err
	}

	analysis, err := a.adapter.AnalyzeRequirements(ctx, cleaned)
	if err != nil {
		analysis = fallbackAnalysis(cleaned)
	}

	blueprint, err := a.adapter.CreateBlueprint(ctx, analysis, cleaned)
	if err != nil {
		blueprint = fallbackBlueprint(analysis)
	}

	tasks, err := a.adapter.GenerateTasks(ctx, blueprint, a.specialists)
	if err != nil || len(tasks) == 0 {
		tasks = fallbackTasks(blueprint)
	}

	enrich(tasks)

	total := 0
	for _, t := range tasks {
		total += t.EstimatedDuration
	}

	return &AnalyzedProject{
		Blueprint:              blueprint,
		Tasks:                  tasks,
		EstimatedTotalDuration: total,
		Complexity:             analysis.ComplexityHint,
	}, nil
}

// enrich defaults every returned task (id, duration, priority via
// ApplyDefaults) then overwrites priority with the derived value from the
// dependency graph shape.
func enrich(tasks []*graph.Task) {
	for _, t := range tasks {
		if t.ID == "" {
			t.ID = graph.TaskID(uuid.NewString())
		}
		if t.EstimatedDuration < 1 {
			t.EstimatedDuration = graph.DefaultEstimatedDuration
		}
	}
	derivePriorities(tasks)
	for _, t := range tasks {
		t.ApplyDefaults()
	}
}

// derivePriorities assigns priority: high if no predecessors, or the task
// establishes a contract, or it has >= 4 dependents; medium if it has
// >= 1 dependent; low otherwise.
func derivePriorities(tasks []*graph.Task) {
	dependents := make(map[graph.TaskID]int, len(tasks))
	for _, t := range tasks {
		for _, d := range t.Dependencies {
			dependents[d.TaskID]++
		}
	}
	for _, t := range tasks {
		switch {
		case len(t.Dependencies) == 0, establishesContract(t), dependents[t.ID] >= highPriorityDependentThreshold:
			t.Priority = graph.PriorityHigh
		case dependents[t.ID] >= 1:
			t.Priority = graph.PriorityMedium
		default:
			t.Priority = graph.PriorityLow
		}
	}
}

func establishesContract(t *graph.Task) bool {
	return t.Integration.ProvidesAPI != "" || t.Integration.DefinesSchema != "" ||
		t.Integration.EstablishesInterface != ""
}

// domainKeywordTable is the built-in fallback domain table used when the
// adapter is unavailable: HR, finance, IT, operations, generic. Order
// matters — the first matching domain wins, so more specific domains are
// listed before the generic catch-all.
var domainKeywordTable = []struct {
	domain   string
	keywords []string
}{
	{"hr", []string{"employee", "hiring", "payroll", "onboarding", "recruit"}},
	{"finance", []string{"invoice", "ledger", "payment", "budget", "accounting"}},
	{"it", []string{"server", "network", "deployment", "infrastructure", "devops"}},
	{"operations", []string{"inventory", "logistics", "supply chain", "warehouse", "fulfillment"}},
}

func classifyDomain(text string) string {
	lower := strings.ToLower(text)
	for _, entry := range domainKeywordTable {
		for _, kw := range entry.keywords {
			if strings.Contains(lower, kw) {
				return entry.domain
			}
		}
	}
	return "generic"
}

// domainComponents gives each domain's rule-based architecture: a
// technical architecture inferred from component types.
var domainComponents = map[string][]llm.Component{
	"hr":         {{Type: "backend", Name: "hr-service"}, {Type: "database", Name: "employee-records"}},
	"finance":    {{Type: "backend", Name: "ledger-service"}, {Type: "database", Name: "financial-records"}},
	"it":         {{Type: "backend", Name: "provisioning-service"}, {Type: "database", Name: "inventory-store"}},
	"operations": {{Type: "backend", Name: "logistics-service"}, {Type: "database", Name: "shipment-records"}},
	"generic":    {{Type: "backend", Name: "core-service"}, {Type: "database", Name: "primary-store"}},
}

var domainIntegrations = map[string][]string{
	"hr":         {"identity-provider"},
	"finance":    {"payment-gateway"},
	"it":         {"monitoring"},
	"operations": {"shipping-carrier"},
	"generic":    {},
}

var domainCompliance = map[string][]string{
	"hr":         {"gdpr"},
	"finance":    {"pci-dss", "sox"},
	"it":         {},
	"operations": {},
	"generic":    {},
}

func fallbackAnalysis(cleaned string) llm.Analysis {
	return llm.Analysis{
		Domain:         classifyDomain(cleaned),
		UserTypes:      []string{"user"},
		CoreNeeds:      []string{cleaned},
		ComplexityHint: "unknown",
	}
}

// fallbackBlueprint builds a rule-based Blueprint from the keyword-matched
// domain: common integrations (email, auth, storage) plus domain-specific
// ones, a quality gate per checkpoint type, and the domain's compliance
// tags.
func fallbackBlueprint(analysis llm.Analysis) llm.Blueprint {
	components, ok := domainComponents[analysis.Domain]
	if !ok {
		components = domainComponents["generic"]
	}
	integrations := append([]string{"email", "auth", "storage"}, domainIntegrations[analysis.Domain]...)
	return llm.Blueprint{
		ProjectID:    uuid.NewString(),
		Domain:       analysis.Domain,
		Components:   components,
		Workflows:    []string{"core workflow"},
		Integrations: integrations,
		QualityGates: []string{"codeReview", "qaTest"},
		Compliance:   domainCompliance[analysis.Domain],
	}
}

// fallbackTasks derives one implementation task per blueprint component
// when GenerateTasks is unavailable or returns nothing.
func fallbackTasks(bp llm.Blueprint) []*graph.Task {
	if len(bp.Components) == 0 {
		return []*graph.Task{{
			ID:                graph.TaskID(uuid.NewString()),
			Title:             "Implement core functionality",
			Description:       "Implement the core functionality for this request.",
			Type:              graph.TaskImplementation,
			SpecialistKind:    "backend",
			EstimatedDuration: graph.DefaultEstimatedDuration,
		}}
	}
	tasks := make([]*graph.Task, 0, len(bp.Components))
	for _, c := range bp.Components {
		tasks = append(tasks, &graph.Task{
			ID:                graph.TaskID(uuid.NewString()),
			Title:             fmt.Sprintf("Implement %s", c.Name),
			Description:       fmt.Sprintf("Implement the %s component (%s) for the %s domain.", c.Name, c.Type, bp.Domain),
			Type:              graph.TaskImplementation,
			SpecialistKind:    c.Type,
			EstimatedDuration: graph.DefaultEstimatedDuration,
		})
	}
	return tasks
}
