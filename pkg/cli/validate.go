package cli

import (
	"github.com/spf13/cobra"

	"github.com/flumeworks/flume/pkg/dag"
	"github.com/flumeworks/flume/pkg/descriptor"
)

func NewValidateCommand(root *RootCommand) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [path]",
		Short: "Validate a pipeline descriptor",
		Long: `Parse and validate a flume.yaml descriptor, including its DAG
expression, without touching the cluster. Defaults to ./flume.yaml.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := root.OutputOptions()

			path := descriptor.Filename
			if len(args) > 0 {
				path = args[0]
			}

			d, err := descriptor.ParseFile(path)
			if err != nil {
				PrintError(err, opts)
				return err
			}
			if _, err := dag.Resolve(d.Project.DAG, d.StageNames()); err != nil {
				PrintError(err, opts)
				return err
			}

			PrintSuccess("Valid pipeline descriptor: "+path, opts)
			return nil
		},
	}
}
