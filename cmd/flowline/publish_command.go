package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"flowline/internal/broker"
	"flowline/internal/events"
	"flowline/internal/router"
)

func newPublishCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish pipeline events to the broker",
	}
	cmd.AddCommand(newPublishLifecycleCommand(ctx, "created", "Publish a pipeline.config.created event"))
	cmd.AddCommand(newPublishLifecycleCommand(ctx, "deleted", "Publish a pipeline.config.deleted event"))
	cmd.AddCommand(newPublishExecutionCommand(ctx))
	return cmd
}

func newPublishLifecycleCommand(cmdCtx *commandContext, kind, short string) *cobra.Command {
	var pipelineID int64
	var name string

	cmd := &cobra.Command{
		Use:   kind,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			event := events.PipelineLifecycleEvent{
				EventID:      events.NewEventID(),
				PipelineID:   pipelineID,
				PipelineName: name,
			}
			body, err := json.Marshal(event)
			if err != nil {
				return err
			}

			cfg, err := cmdCtx.ensureConfig()
			if err != nil {
				return err
			}
			routingKey := cfg.Broker.ConfigCreatedKey
			if kind == "deleted" {
				routingKey = cfg.Broker.ConfigDeletedKey
			}
			return publishOnce(cmd, cmdCtx, routingKey, body, event.EventID)
		},
	}
	cmd.Flags().Int64Var(&pipelineID, "pipeline-id", 0, "Pipeline id")
	cmd.Flags().StringVar(&name, "name", "", "Pipeline name")
	_ = cmd.MarkFlagRequired("pipeline-id")
	return cmd
}

func newPublishExecutionCommand(cmdCtx *commandContext) *cobra.Command {
	var pipelineID int64
	var name, data, location string

	cmd := &cobra.Command{
		Use:   "execution",
		Short: "Publish a pipeline.execution.success event",
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := resolveData(data)
			if err != nil {
				return err
			}
			event := events.PipelineExecutionEvent{
				EventID:      events.NewEventID(),
				PipelineID:   pipelineID,
				PipelineName: name,
				Data:         payload,
				DataLocation: location,
			}
			body, err := json.Marshal(event)
			if err != nil {
				return err
			}

			cfg, err := cmdCtx.ensureConfig()
			if err != nil {
				return err
			}
			return publishOnce(cmd, cmdCtx, cfg.Broker.ExecutionSuccessKey, body, event.EventID)
		},
	}
	cmd.Flags().Int64Var(&pipelineID, "pipeline-id", 0, "Pipeline id")
	cmd.Flags().StringVar(&name, "name", "", "Pipeline name")
	cmd.Flags().StringVar(&data, "data", "null", "Event data as inline JSON or @file")
	cmd.Flags().StringVar(&location, "location", "", "Advertised data location")
	_ = cmd.MarkFlagRequired("pipeline-id")
	return cmd
}

// resolveData accepts inline JSON or an @file reference and validates it.
func resolveData(value string) (json.RawMessage, error) {
	raw := []byte(value)
	if strings.HasPrefix(value, "@") {
		content, err := os.ReadFile(strings.TrimPrefix(value, "@"))
		if err != nil {
			return nil, fmt.Errorf("read data file: %w", err)
		}
		raw = content
	}
	if !json.Valid(raw) {
		return nil, fmt.Errorf("data is not valid JSON")
	}
	return json.RawMessage(raw), nil
}

func publishOnce(cmd *cobra.Command, cmdCtx *commandContext, routingKey string, body []byte, eventID string) error {
	cfg, err := cmdCtx.ensureConfig()
	if err != nil {
		return err
	}

	logger := quietLogger()
	manager := broker.NewManager(cfg.Broker, logger)
	if err := manager.Connect(cmd.Context()); err != nil {
		return err
	}
	defer manager.Close()

	r := router.New(manager, logger)
	if err := r.Publish(cmd.Context(), cfg.Broker.Exchange, routingKey, body, eventID); err != nil {
		return err
	}
	cmd.Printf("Published %s (event %s)\n", routingKey, eventID)
	return nil
}
