package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/c360studio/agentgraph/checkpoint"
)

func newStatusCommand(configPath *string) *cobra.Command {
	var (
		projectID   string
		storageRoot string
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Report a project's status from its most recent persisted snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath, "")
			if err != nil {
				return err
			}
			root := storageRoot
			if root == "" {
				root = cfg.Storage.Root
			}
			return reportStatus(root, projectID)
		},
	}

	cmd.Flags().StringVar(&projectID, "project", "", "project ID (required)")
	cmd.Flags().StringVar(&storageRoot, "storage-root", "", "override the configured checkpoint storage root")
	cmd.MarkFlagRequired("project")

	return cmd
}

// reportStatus recovers a project's graph from the best available
// checkpoint snapshot and prints its counts — it reflects the state as of
// the last snapshot, not necessarily a currently-running orchestrator,
// since status queried from a separate process has no other channel to
// a live run.
func reportStatus(storageRoot, projectID string) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	store := checkpoint.NewStore(storageRoot, projectID, logger)

	snap, g, err := store.Recover()
	if err != nil {
		return fmt.Errorf("recover project %s: %w", projectID, err)
	}

	counts := g.Counts()
	fmt.Printf("project %s: snapshot=%s ready=%d inProgress=%d completed=%d failed=%d skipped=%d total=%d criticalPathRemaining=%d\n",
		projectID, snap.Name, counts.Ready, counts.InProgress, counts.Completed, counts.Failed, counts.Skipped, counts.Total,
		g.CriticalPathRemaining())
	return nil
}
