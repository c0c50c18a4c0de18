package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/c360studio/agentgraph/events"
)

func newEventsCommand(configPath, natsURL *string) *cobra.Command {
	var projectID string

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Tail a running project's event stream over NATS",
		Long:  "Subscribes to the project's NATS-bridged event subject and prints events as they arrive. The target project's `run` process must have been started with NATS enabled.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath, *natsURL)
			if err != nil {
				return err
			}
			if !cfg.NATS.Enabled {
				return fmt.Errorf("events requires NATS: pass --nats-url or enable nats in config")
			}
			conn, err := connectNATS(cfg)
			if err != nil {
				return fmt.Errorf("connect NATS: %w", err)
			}
			defer conn.Close()

			return tailEvents(cmd.Context(), conn, projectID)
		},
	}

	cmd.Flags().StringVar(&projectID, "project", "", "project ID (required)")
	cmd.MarkFlagRequired("project")

	return cmd
}

func tailEvents(ctx context.Context, conn *nats.Conn, projectID string) error {
	subject := fmt.Sprintf("agentgraph.events.%s", projectID)
	sub, err := conn.Subscribe(subject, func(msg *nats.Msg) {
		var e events.Event
		if err := json.Unmarshal(msg.Data, &e); err != nil {
			fmt.Printf("malformed event on %s: %v\n", subject, err)
			return
		}
		fmt.Printf("[%s] %s project=%s task=%s worker=%s\n",
			e.Timestamp.Format(time.RFC3339), e.Kind, e.ProjectID, e.TaskID, e.WorkerID)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	defer sub.Unsubscribe()

	<-ctx.Done()
	return nil
}
