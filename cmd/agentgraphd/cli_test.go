package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/agentgraph/graph"
	"github.com/c360studio/agentgraph/scheduler"
	"github.com/c360studio/agentgraph/worker"
)

func TestParseCommandLineSplitsArgs(t *testing.T) {
	spec := parseCommandLine("python3 -m specialist --role backend")
	assert.Equal(t, "python3", spec.Command)
	assert.Equal(t, []string{"-m", "specialist", "--role", "backend"}, spec.Args)
}

func TestParseCommandLineEmpty(t *testing.T) {
	spec := parseCommandLine("")
	assert.Equal(t, scheduler.CommandSpec{}, spec)
}

func TestCommandSpecOrDefaultUsesConfigured(t *testing.T) {
	cmds := map[string]string{"codeReview": "review-bot --strict"}
	spec := commandSpecOrDefault(cmds, "codeReview")
	assert.Equal(t, "review-bot", spec.Command)
	assert.Equal(t, []string{"--strict"}, spec.Args)
}

func TestCommandSpecOrDefaultFallsBack(t *testing.T) {
	spec := commandSpecOrDefault(map[string]string{}, "qaTest")
	assert.Equal(t, "agentgraph-specialist", spec.Command)
	assert.Equal(t, []string{"--checkpoint=qaTest"}, spec.Args)
}

func TestBuildCommandTableFillsAllCheckpointsAndSpecialists(t *testing.T) {
	table := buildCommandTable(
		map[string]string{"backend": "dev-backend"},
		map[string]string{"codeReview": "review-bot"},
	)

	require.Contains(t, table.Specialists, "backend")
	assert.Equal(t, "dev-backend", table.Specialists["backend"].Command)

	for _, ct := range []graph.CheckpointType{
		graph.CheckpointCodeReview, graph.CheckpointQATest,
		graph.CheckpointFinalReview, graph.CheckpointFinalQA,
	} {
		require.Contains(t, table.Checkpoints, ct)
	}
	assert.Equal(t, "review-bot", table.Checkpoints[graph.CheckpointCodeReview].Command)
	assert.Equal(t, "agentgraph-specialist", table.Checkpoints[graph.CheckpointQATest].Command)
}

func TestSpecialistsFromCmdsDefaultsWhenEmpty(t *testing.T) {
	assert.Equal(t, []string{"backend", "frontend"}, specialistsFromCmds(nil))
}

func TestSpecialistsFromCmdsUsesConfiguredKeys(t *testing.T) {
	out := specialistsFromCmds(map[string]string{"data": "cmd1", "infra": "cmd2"})
	assert.ElementsMatch(t, []string{"data", "infra"}, out)
}

func TestRegisterDefaultRosterCoversEveryRole(t *testing.T) {
	registry := worker.NewRegistry()
	registerDefaultRoster(registry, []string{"backend"})

	dev, ok := registry.Get("dev-default")
	require.True(t, ok)
	assert.Equal(t, worker.RoleDeveloper, dev.Role)
	assert.Contains(t, dev.Capabilities, "backend")

	_, ok = registry.Get("reviewer-default")
	require.True(t, ok)
	_, ok = registry.Get("qa-default")
	require.True(t, ok)
}
