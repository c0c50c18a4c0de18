package scheduler

import (
	"fmt"
	"strings"

	"github.com/c360studio/agentgraph/agerr"
	"github.com/c360studio/agentgraph/driver"
	"github.com/c360studio/agentgraph/graph"
	"github.com/c360studio/agentgraph/prompt"
	"github.com/c360studio/agentgraph/worker"
)

// SpecBuilder turns a ready task and its worker assignment into the
// driver.Spec that actually invokes the specialist subprocess.
type SpecBuilder func(ready graph.ReadyTask, assignment worker.Assignment) (driver.Spec, error)

// CommandSpec names the external specialist binary and fixed arguments
// that handle one specialist kind or checkpoint type.
type CommandSpec struct {
	Command string
	Args    []string
}

// CommandTable resolves a task to the specialist command that runs it: by
// CheckpointType for checkpoint tasks, by SpecialistKind otherwise. It is
// deployment-specific — no pack repo prescribes how a specialist binary is
// located, so the caller (orchestrator wiring) supplies this table.
type CommandTable struct {
	Checkpoints map[graph.CheckpointType]CommandSpec
	Specialists map[string]CommandSpec
}

func (c CommandTable) resolve(t *graph.Task) (CommandSpec, bool) {
	if t.IsCheckpoint {
		cs, ok := c.Checkpoints[t.CheckpointType]
		return cs, ok
	}
	cs, ok := c.Specialists[t.SpecialistKind]
	return cs, ok
}

// NewCommandSpecBuilder returns a SpecBuilder that resolves the subprocess
// command from table and composes the prompt: task title, cleaned
// description, specialist kind, dependency outputs, integration contracts,
// and validation criteria, sanitized and size-validated before it is
// handed to the driver.
func NewCommandSpecBuilder(table CommandTable, sanitizer *prompt.Sanitizer, promptMaxBytes int) SpecBuilder {
	return func(ready graph.ReadyTask, assignment worker.Assignment) (driver.Spec, error) {
		t := ready.Task
		cs, ok := table.resolve(t)
		if !ok {
			return driver.Spec{}, agerr.Internal(fmt.Sprintf(
				"no specialist command registered for task %s (kind=%q checkpoint=%q)",
				t.ID, t.SpecialistKind, t.CheckpointType))
		}

		raw := composePrompt(ready)
		cleaned := sanitizer.Clean(raw)
		if _, err := prompt.ValidateSize([]byte(cleaned), promptMaxBytes, "task invocation"); err != nil {
			return driver.Spec{}, err
		}

		return driver.Spec{
			Command:     cs.Command,
			Args:        cs.Args,
			Prompt:      cleaned,
			TaskID:      string(t.ID),
			WorkerID:    assignment.WorkerID,
			Description: t.Description,
		}, nil
	}
}

// composePrompt assembles the specialist-facing prompt from exactly the
// fields: title, description, specialist kind, dependency
// outputs, integration contracts, validation criteria.
func composePrompt(ready graph.ReadyTask) string {
	t := ready.Task
	var b strings.Builder

	fmt.Fprintf(&b, "Task: %s\n\n%s\n\nSpecialist: %s\n", t.Title, t.Description, t.SpecialistKind)

	if len(ready.DependencyOutputs) > 0 {
		b.WriteString("\nDependency outputs:\n")
		for _, d := range ready.DependencyOutputs {
			fmt.Fprintf(&b, "- %s (%s)\n", d.Name, d.Type)
		}
	}

	if hasContracts(t.Integration) {
		b.WriteString("\nIntegration contracts:\n")
		writeContractLine(&b, "provides API", t.Integration.ProvidesAPI)
		writeContractLine(&b, "consumes API", t.Integration.ConsumesAPI)
		writeContractLine(&b, "defines schema", t.Integration.DefinesSchema)
		writeContractLine(&b, "requires schema", t.Integration.RequiresSchema)
		writeContractLine(&b, "establishes interface", t.Integration.EstablishesInterface)
	}

	if len(t.ValidationCriteria) > 0 {
		b.WriteString("\nValidation criteria:\n")
		for _, v := range t.ValidationCriteria {
			fmt.Fprintf(&b, "- %s\n", v)
		}
	}

	return b.String()
}

func hasContracts(c graph.Contracts) bool {
	return c.ProvidesAPI != "" || c.ConsumesAPI != "" || c.DefinesSchema != "" ||
		c.RequiresSchema != "" || c.EstablishesInterface != ""
}

func writeContractLine(b *strings.Builder, label, value string) {
	if value == "" {
		return
	}
	fmt.Fprintf(b, "- %s: %s\n", label, value)
}
