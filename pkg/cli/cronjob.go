package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/flumeworks/flume/pkg/schedule"
)

func NewCronjobCommand(root *RootCommand) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cronjob",
		Short: "Manage scheduled pipeline runs",
		Long: `Manage cronjobs that trigger pipeline deployments on a schedule.

Each cronjob runs the deployment workflow in-cluster at the given times.`,
	}

	cmd.AddCommand(newCronjobCreateCommand(root))
	cmd.AddCommand(newCronjobUpdateCommand(root))
	cmd.AddCommand(newCronjobDeleteCommand(root))
	cmd.AddCommand(newCronjobListCommand(root))
	cmd.AddCommand(newCronjobHistoryCommand(root))

	return cmd
}

func cronjobTriggerFlags(cmd *cobra.Command, trigger *schedule.Trigger) {
	cmd.Flags().StringVar(&trigger.Schedule, "schedule", "", "Cron schedule, five fields (required)")
	cmd.Flags().StringVar(&trigger.GitURL, "git-url", "", "Pipeline repository URL (required)")
	cmd.Flags().StringVar(&trigger.GitRef, "ref", "", "Git branch to deploy")
	cmd.Flags().IntVar(&trigger.Retries, "retries", 0, "Retries for each spawned workflow job")
	_ = cmd.MarkFlagRequired("schedule")
	_ = cmd.MarkFlagRequired("git-url")
}

func newCronjobCreateCommand(root *RootCommand) *cobra.Command {
	var trigger schedule.Trigger

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a scheduled pipeline run",
		Example: `  flume cronjob create nightly-retrain \
    --schedule "0 2 * * *" --git-url https://github.com/org/iris-pipeline --ref main`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			trigger.Name = args[0]
			return withScheduler(cmd.Context(), root, func(ctx context.Context, s *schedule.Scheduler) error {
				if err := s.Create(ctx, trigger); err != nil {
					return err
				}
				PrintSuccess("Cronjob created: "+args[0], root.OutputOptions())
				return nil
			})
		},
	}

	cronjobTriggerFlags(cmd, &trigger)
	return cmd
}

func newCronjobUpdateCommand(root *RootCommand) *cobra.Command {
	var trigger schedule.Trigger

	cmd := &cobra.Command{
		Use:   "update <name>",
		Short: "Update a scheduled pipeline run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			trigger.Name = args[0]
			return withScheduler(cmd.Context(), root, func(ctx context.Context, s *schedule.Scheduler) error {
				if err := s.Update(ctx, trigger); err != nil {
					return err
				}
				PrintSuccess("Cronjob updated: "+args[0], root.OutputOptions())
				return nil
			})
		},
	}

	cronjobTriggerFlags(cmd, &trigger)
	return cmd
}

func newCronjobDeleteCommand(root *RootCommand) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a scheduled pipeline run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withScheduler(cmd.Context(), root, func(ctx context.Context, s *schedule.Scheduler) error {
				if err := s.Delete(ctx, args[0]); err != nil {
					return err
				}
				PrintSuccess("Cronjob deleted: "+args[0], root.OutputOptions())
				return nil
			})
		},
	}
}

func newCronjobListCommand(root *RootCommand) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List scheduled pipeline runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withScheduler(cmd.Context(), root, func(ctx context.Context, s *schedule.Scheduler) error {
				triggers, err := s.List(ctx)
				if err != nil {
					return err
				}
				return PrintOutput(triggers, root.OutputOptions())
			})
		},
	}
}

func newCronjobHistoryCommand(root *RootCommand) *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "List workflow jobs spawned by cronjobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withScheduler(cmd.Context(), root, func(ctx context.Context, s *schedule.Scheduler) error {
				jobs, err := s.History(ctx)
				if err != nil {
					return err
				}
				return PrintOutput(jobs, root.OutputOptions())
			})
		},
	}
}

func withScheduler(ctx context.Context, root *RootCommand, fn func(context.Context, *schedule.Scheduler) error) error {
	client, err := root.Client()
	if err != nil {
		PrintError(err, root.OutputOptions())
		return err
	}
	scheduler := schedule.NewScheduler(client, root.Namespace(), "")
	if err := fn(ctx, scheduler); err != nil {
		PrintError(err, root.OutputOptions())
		return err
	}
	return nil
}
