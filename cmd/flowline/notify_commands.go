package main

import (
	"strconv"

	"github.com/spf13/cobra"

	"flowline/internal/config"
	"flowline/internal/notifystore"
)

func newNotifyCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "notify",
		Short: "Manage notification configs",
	}
	cmd.AddCommand(newNotifyListCommand(ctx))
	cmd.AddCommand(newNotifyAddWebhookCommand(ctx))
	cmd.AddCommand(newNotifyAddSlackCommand(ctx))
	cmd.AddCommand(newNotifyAddFCMCommand(ctx))
	cmd.AddCommand(newNotifyDeleteCommand(ctx))
	return cmd
}

func newNotifyListCommand(ctx *commandContext) *cobra.Command {
	var pipelineID int64

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List notification configs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withNotifyStore(func(cfg *config.Config, store *notifystore.Store) error {
				var configs []notifystore.Config
				var err error
				if pipelineID > 0 {
					configs, err = store.GetByPipelineID(cmd.Context(), pipelineID)
				} else {
					configs, err = store.GetAll(cmd.Context())
				}
				if err != nil {
					return err
				}
				rows := make([][]string, 0, len(configs))
				for _, c := range configs {
					rows = append(rows, []string{
						strconv.FormatInt(c.ID, 10),
						strconv.FormatInt(c.PipelineID, 10),
						string(c.Type),
						c.Condition,
						describeTarget(c),
					})
				}
				cmd.Println(renderTable([]string{"ID", "Pipeline", "Type", "Condition", "Target"}, rows))
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&pipelineID, "pipeline-id", 0, "Only list configs for this pipeline")
	return cmd
}

func describeTarget(c notifystore.Config) string {
	switch c.Type {
	case notifystore.TypeWebhook:
		return c.Webhook.URL
	case notifystore.TypeSlack:
		return c.Slack.WorkspaceID + "/" + c.Slack.ChannelID
	case notifystore.TypeFCM:
		return c.FCM.ProjectID + ":" + c.FCM.Topic
	default:
		return ""
	}
}

func newNotifyAddWebhookCommand(ctx *commandContext) *cobra.Command {
	var pipelineID int64
	var condition, url string

	cmd := &cobra.Command{
		Use:   "add-webhook",
		Short: "Add a webhook notification config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withNotifyStore(func(cfg *config.Config, store *notifystore.Store) error {
				created, err := store.Create(cmd.Context(), notifystore.Config{
					PipelineID: pipelineID,
					Condition:  condition,
					Type:       notifystore.TypeWebhook,
					Webhook:    &notifystore.WebhookParams{URL: url},
				})
				if err != nil {
					return err
				}
				cmd.Printf("Created webhook config %d\n", created.ID)
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&pipelineID, "pipeline-id", 0, "Pipeline the config fires for")
	cmd.Flags().StringVar(&condition, "condition", "true", "Boolean condition over the event data")
	cmd.Flags().StringVar(&url, "url", "", "Webhook receiver URL")
	_ = cmd.MarkFlagRequired("pipeline-id")
	_ = cmd.MarkFlagRequired("url")
	return cmd
}

func newNotifyAddSlackCommand(ctx *commandContext) *cobra.Command {
	var pipelineID int64
	var condition, workspace, channel, secret string

	cmd := &cobra.Command{
		Use:   "add-slack",
		Short: "Add a Slack notification config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withNotifyStore(func(cfg *config.Config, store *notifystore.Store) error {
				created, err := store.Create(cmd.Context(), notifystore.Config{
					PipelineID: pipelineID,
					Condition:  condition,
					Type:       notifystore.TypeSlack,
					Slack: &notifystore.SlackParams{
						WorkspaceID: workspace,
						ChannelID:   channel,
						Secret:      secret,
					},
				})
				if err != nil {
					return err
				}
				cmd.Printf("Created slack config %d\n", created.ID)
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&pipelineID, "pipeline-id", 0, "Pipeline the config fires for")
	cmd.Flags().StringVar(&condition, "condition", "true", "Boolean condition over the event data")
	cmd.Flags().StringVar(&workspace, "workspace", "", "Slack workspace id")
	cmd.Flags().StringVar(&channel, "channel", "", "Slack channel id")
	cmd.Flags().StringVar(&secret, "secret", "", "Slack webhook secret")
	_ = cmd.MarkFlagRequired("pipeline-id")
	_ = cmd.MarkFlagRequired("workspace")
	_ = cmd.MarkFlagRequired("channel")
	_ = cmd.MarkFlagRequired("secret")
	return cmd
}

func newNotifyAddFCMCommand(ctx *commandContext) *cobra.Command {
	var pipelineID int64
	var condition, project, clientEmail, privateKeyFile, topic string

	cmd := &cobra.Command{
		Use:   "add-fcm",
		Short: "Add an FCM push notification config",
		RunE: func(cmd *cobra.Command, args []string) error {
			privateKey, err := readFileTrimmed(privateKeyFile)
			if err != nil {
				return err
			}
			return ctx.withNotifyStore(func(cfg *config.Config, store *notifystore.Store) error {
				created, err := store.Create(cmd.Context(), notifystore.Config{
					PipelineID: pipelineID,
					Condition:  condition,
					Type:       notifystore.TypeFCM,
					FCM: &notifystore.FCMParams{
						ProjectID:   project,
						ClientEmail: clientEmail,
						PrivateKey:  privateKey,
						Topic:       topic,
					},
				})
				if err != nil {
					return err
				}
				cmd.Printf("Created fcm config %d\n", created.ID)
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&pipelineID, "pipeline-id", 0, "Pipeline the config fires for")
	cmd.Flags().StringVar(&condition, "condition", "true", "Boolean condition over the event data")
	cmd.Flags().StringVar(&project, "project", "", "Firebase project id")
	cmd.Flags().StringVar(&clientEmail, "client-email", "", "Service account client email")
	cmd.Flags().StringVar(&privateKeyFile, "private-key-file", "", "Path to the service account private key PEM")
	cmd.Flags().StringVar(&topic, "topic", "", "FCM topic")
	_ = cmd.MarkFlagRequired("pipeline-id")
	_ = cmd.MarkFlagRequired("project")
	_ = cmd.MarkFlagRequired("client-email")
	_ = cmd.MarkFlagRequired("private-key-file")
	_ = cmd.MarkFlagRequired("topic")
	return cmd
}

func newNotifyDeleteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <config-id>",
		Short: "Delete a notification config",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return err
			}
			return ctx.withNotifyStore(func(cfg *config.Config, store *notifystore.Store) error {
				if err := store.Delete(cmd.Context(), id); err != nil {
					return err
				}
				cmd.Printf("Deleted config %d\n", id)
				return nil
			})
		},
	}
}
