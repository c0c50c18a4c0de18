package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/c360studio/agentgraph/config"
	"github.com/c360studio/agentgraph/driver"
	"github.com/c360studio/agentgraph/events"
	"github.com/c360studio/agentgraph/graph"
	"github.com/c360studio/agentgraph/llm"
	"github.com/c360studio/agentgraph/metrics"
	"github.com/c360studio/agentgraph/orchestrator"
	"github.com/c360studio/agentgraph/prompt"
	"github.com/c360studio/agentgraph/requirements"
	"github.com/c360studio/agentgraph/scheduler"
	"github.com/c360studio/agentgraph/worker"
)

func newRunCommand(configPath, natsURL, metricsAddr *string) *cobra.Command {
	var (
		contextText    string
		workerRoster   string
		specialistCmds map[string]string
		checkpointCmds map[string]string
	)

	cmd := &cobra.Command{
		Use:   "run <request text>",
		Short: "Create and run a project from a natural-language request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath, *natsURL)
			if err != nil {
				return err
			}
			return runProject(cmd.Context(), cfg, *metricsAddr, args[0], contextText, workerRoster, specialistCmds, checkpointCmds)
		},
	}

	cmd.Flags().StringVar(&contextText, "context", "", "optional additional context appended to the request")
	cmd.Flags().StringVar(&workerRoster, "worker-roster", "", "path to a YAML worker roster file (hot-reloaded); a small built-in roster is used if omitted")
	cmd.Flags().StringToStringVar(&specialistCmds, "specialist-cmd", nil, "specialist=command pairs resolving a specialist kind to its subprocess (repeatable)")
	cmd.Flags().StringToStringVar(&checkpointCmds, "checkpoint-cmd", nil, "checkpointType=command pairs resolving a checkpoint type to its subprocess (repeatable)")

	return cmd
}

func runProject(ctx context.Context, cfg *config.Config, metricsAddr, requestText, contextText, workerRoster string,
	specialistCmds, checkpointCmds map[string]string) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	serveMetrics(ctx, metricsAddr, reg, logger)

	bus := events.New(256)

	conn, err := connectNATS(cfg)
	if err != nil {
		return fmt.Errorf("connect NATS: %w", err)
	}
	if conn != nil {
		defer conn.Close()
		bridge := events.NewNATSBridge(conn, "agentgraph.events", bus.Subscribe(""), logger)
		defer bridge.Close()
	}

	registry := worker.NewRegistry()
	specialists := specialistsFromCmds(specialistCmds)
	if workerRoster != "" {
		watcher, err := worker.WatchFile(workerRoster, registry, logger)
		if err != nil {
			return fmt.Errorf("load worker roster: %w", err)
		}
		defer watcher.Close()
	} else {
		registerDefaultRoster(registry, specialists)
	}

	adapter := llm.NewClient(cfg.LLM.Endpoint, llm.WithLogger(logger))
	sanitizer := prompt.New(cfg.Limits.DescriptionMaxChars)
	analyzer := requirements.New(adapter, sanitizer, cfg.Limits.PromptMaxBytes, specialists)

	table := buildCommandTable(specialistCmds, checkpointCmds)
	buildSpec := scheduler.NewCommandSpecBuilder(table, sanitizer, cfg.Limits.PromptMaxBytes)

	invoker := driver.New(&cfg.Timeouts, bus)

	orch := orchestrator.New(cfg, bus, registry, analyzer, buildSpec, invoker, logger, m)

	sub := orch.SubscribeEvents("")
	defer orch.UnsubscribeEvents(sub)
	go printEvents(sub)

	projectID, err := orch.CreateProject(ctx, requestText, contextText)
	if err != nil {
		return fmt.Errorf("create project: %w", err)
	}
	fmt.Printf("project %s created\n", projectID)

	if conn != nil {
		unsub, err := watchCancelRequests(conn, projectID, orch, logger)
		if err != nil {
			logger.Warn("cancel control subscription failed", "error", err)
		} else {
			defer unsub()
		}
	}

	handle, err := orch.StartProject(projectID)
	if err != nil {
		return fmt.Errorf("start project: %w", err)
	}

	select {
	case <-handle.Done:
	case <-ctx.Done():
		_ = orch.CancelProject(projectID)
		<-handle.Done
	}

	status, err := orch.GetProjectStatus(projectID)
	if err != nil {
		return err
	}
	printStatus(projectID, status)

	return handle.Err()
}

// watchCancelRequests subscribes to the project's NATS control subject so a
// separate `agentgraphd cancel` invocation can stop this run without any
// channel into this process other than the message bus it already uses for
// event mirroring.
func watchCancelRequests(conn *nats.Conn, projectID string, orch *orchestrator.Orchestrator, logger *slog.Logger) (func(), error) {
	subject := fmt.Sprintf("agentgraph.control.%s", projectID)
	sub, err := conn.Subscribe(subject, func(msg *nats.Msg) {
		var req cancelRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			logger.Warn("malformed cancel request", "error", err)
			return
		}
		if req.Action != "cancel" {
			return
		}
		if err := orch.CancelProject(projectID); err != nil {
			logger.Warn("cancel request failed", "project", projectID, "error", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}
	return func() { _ = sub.Unsubscribe() }, nil
}

func specialistsFromCmds(specialistCmds map[string]string) []string {
	out := make([]string, 0, len(specialistCmds))
	for k := range specialistCmds {
		out = append(out, k)
	}
	if len(out) == 0 {
		out = []string{"backend", "frontend"}
	}
	return out
}

func buildCommandTable(specialistCmds, checkpointCmds map[string]string) scheduler.CommandTable {
	table := scheduler.CommandTable{
		Checkpoints: make(map[graph.CheckpointType]scheduler.CommandSpec),
		Specialists: make(map[string]scheduler.CommandSpec),
	}
	for kind, cmdLine := range specialistCmds {
		table.Specialists[kind] = parseCommandLine(cmdLine)
	}
	for kind, cmdLine := range checkpointCmds {
		table.Checkpoints[graph.CheckpointType(kind)] = parseCommandLine(cmdLine)
	}
	for _, ct := range []graph.CheckpointType{
		graph.CheckpointCodeReview, graph.CheckpointQATest,
		graph.CheckpointFinalReview, graph.CheckpointFinalQA,
	} {
		if _, ok := table.Checkpoints[ct]; !ok {
			table.Checkpoints[ct] = commandSpecOrDefault(checkpointCmds, string(ct))
		}
	}
	return table
}

// commandSpecOrDefault resolves a checkpoint command, falling back to the
// generic "agentgraph-specialist" binary so `run` works without every
// checkpoint type configured explicitly.
func commandSpecOrDefault(cmds map[string]string, kind string) scheduler.CommandSpec {
	if line, ok := cmds[kind]; ok {
		return parseCommandLine(line)
	}
	return scheduler.CommandSpec{Command: "agentgraph-specialist", Args: []string{"--checkpoint=" + kind}}
}

func parseCommandLine(line string) scheduler.CommandSpec {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return scheduler.CommandSpec{}
	}
	return scheduler.CommandSpec{Command: parts[0], Args: parts[1:]}
}

// registerDefaultRoster registers one generalist developer with a
// capability for every specialist kind, plus one code reviewer and one QA
// tester, so `run` is usable without a --worker-roster file.
func registerDefaultRoster(registry *worker.Registry, specialists []string) {
	caps := make(map[string]worker.Capability, len(specialists))
	for _, kind := range specialists {
		caps[kind] = worker.Capability{Efficiency: 0.8, Experience: worker.ExperienceAdvanced}
	}
	registry.Register(&worker.Worker{
		ID: "dev-default", Name: "dev-default", Role: worker.RoleDeveloper,
		MaxConcurrentTasks: 3, Capabilities: caps,
	})
	registry.Register(&worker.Worker{ID: "reviewer-default", Name: "reviewer-default", Role: worker.RoleCodeReviewer, MaxConcurrentTasks: 3})
	registry.Register(&worker.Worker{ID: "qa-default", Name: "qa-default", Role: worker.RoleQATester, MaxConcurrentTasks: 3})
}

func printEvents(sub <-chan events.Event) {
	for e := range sub {
		fmt.Printf("[%s] %s project=%s task=%s worker=%s\n",
			e.Timestamp.Format(time.RFC3339), e.Kind, e.ProjectID, e.TaskID, e.WorkerID)
	}
}

func printStatus(projectID string, status orchestrator.ProjectStatus) {
	fmt.Printf("project %s: %s (ready=%d inProgress=%d completed=%d failed=%d criticalPathRemaining=%d)\n",
		projectID, status.Status, status.ReadyCount, status.InProgressCount,
		status.CompletedCount, status.FailedCount, status.CriticalPathRemaining)
}
