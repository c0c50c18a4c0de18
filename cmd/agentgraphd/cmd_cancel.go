package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// cancelRequest is published on "<prefix>.control.<projectID>" for a live
// `run` process to observe and act on — cancelling a project running in a
// different OS process has no channel back to that process's in-memory
// Orchestrator other than the NATS bridge the project already enabled.
type cancelRequest struct {
	Action string `json:"action"`
}

func newCancelCommand(configPath, natsURL *string) *cobra.Command {
	var projectID string

	cmd := &cobra.Command{
		Use:   "cancel",
		Short: "Request cancellation of a running project over NATS",
		Long:  "Publishes a cancel request on the project's NATS control subject. The target project's `run` process must have been started with NATS enabled to observe it.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath, *natsURL)
			if err != nil {
				return err
			}
			if !cfg.NATS.Enabled {
				return fmt.Errorf("cancel requires NATS: pass --nats-url or enable nats in config")
			}
			conn, err := connectNATS(cfg)
			if err != nil {
				return fmt.Errorf("connect NATS: %w", err)
			}
			defer conn.Close()

			payload, err := json.Marshal(cancelRequest{Action: "cancel"})
			if err != nil {
				return err
			}
			subject := fmt.Sprintf("agentgraph.control.%s", projectID)
			if err := conn.Publish(subject, payload); err != nil {
				return fmt.Errorf("publish cancel request: %w", err)
			}
			fmt.Printf("cancel request sent for project %s\n", projectID)
			return nil
		},
	}

	cmd.Flags().StringVar(&projectID, "project", "", "project ID (required)")
	cmd.MarkFlagRequired("project")

	return cmd
}
