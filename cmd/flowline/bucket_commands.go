package main

import (
	"strconv"

	"github.com/spf13/cobra"

	"flowline/internal/config"
	"flowline/internal/storage"
)

func newBucketsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "buckets",
		Short: "List provisioned pipeline buckets",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStorage(func(cfg *config.Config, store *storage.Store) error {
				buckets, err := store.ListBuckets(cmd.Context())
				if err != nil {
					return err
				}
				rows := make([][]string, 0, len(buckets))
				for _, bucket := range buckets {
					state := "live"
					if bucket.DeletedAt != nil {
						state = "deleted " + bucket.DeletedAt.Format("2006-01-02 15:04:05")
					}
					rows = append(rows, []string{
						strconv.FormatInt(bucket.PipelineID, 10),
						bucket.PipelineName,
						bucket.CreatedAt.Format("2006-01-02 15:04:05"),
						state,
					})
				}
				cmd.Println(renderTable([]string{"Pipeline", "Name", "Created", "State"}, rows))
				return nil
			})
		},
	}
}

func newBucketCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "bucket <pipeline-id>",
		Short: "Show the content rows of one pipeline bucket",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pipelineID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return err
			}
			return ctx.withStorage(func(cfg *config.Config, store *storage.Store) error {
				contents, err := store.GetBucketContent(cmd.Context(), pipelineID)
				if err != nil {
					return err
				}
				rows := make([][]string, 0, len(contents))
				for _, content := range contents {
					rows = append(rows, []string{
						strconv.FormatInt(content.ID, 10),
						content.Origin,
						content.Timestamp.Format("2006-01-02 15:04:05"),
						truncate(string(content.Data), 60),
					})
				}
				cmd.Println(renderTable([]string{"ID", "Origin", "Timestamp", "Data"}, rows))
				return nil
			})
		},
	}
}

func truncate(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	return value[:limit] + "..."
}
