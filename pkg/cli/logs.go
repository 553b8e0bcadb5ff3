package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func NewLogsCommand(root *RootCommand) *cobra.Command {
	return &cobra.Command{
		Use:   "logs <name>",
		Short: "Print logs of the latest pod for a job or service",
		Long: `Print the container logs of the most recent pod whose name starts
with the given prefix, typically a stage resource name like
"my-pipeline--train".`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			opts := root.OutputOptions()

			client, err := root.Client()
			if err != nil {
				PrintError(err, opts)
				return err
			}

			podName, err := client.GetLatestPodName(ctx, root.Namespace(), args[0])
			if err != nil {
				PrintError(err, opts)
				return err
			}
			logs, err := client.GetPodLogs(ctx, root.Namespace(), podName)
			if err != nil {
				PrintError(err, opts)
				return err
			}

			fmt.Fprint(opts.Writer, logs)
			return nil
		},
	}
}
