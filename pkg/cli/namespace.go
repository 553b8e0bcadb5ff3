package cli

import (
	"github.com/spf13/cobra"

	"github.com/flumeworks/flume/pkg/k8s"
)

func NewNamespaceCommand(root *RootCommand) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "namespace",
		Short: "Prepare namespaces for pipeline runs",
	}

	cmd.AddCommand(newNamespaceSetupCommand(root))
	cmd.AddCommand(newNamespaceDeleteCommand(root))

	return cmd
}

func newNamespaceSetupCommand(root *RootCommand) *cobra.Command {
	return &cobra.Command{
		Use:   "setup <name>",
		Short: "Create a namespace and its pipeline service accounts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := root.OutputOptions()

			client, err := root.Client()
			if err != nil {
				PrintError(err, opts)
				return err
			}
			if err := k8s.SetupNamespace(cmd.Context(), client, args[0]); err != nil {
				PrintError(err, opts)
				return err
			}
			PrintSuccess("Namespace ready: "+args[0], opts)
			return nil
		},
	}
}

func newNamespaceDeleteCommand(root *RootCommand) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a namespace and everything deployed in it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := root.OutputOptions()

			client, err := root.Client()
			if err != nil {
				PrintError(err, opts)
				return err
			}
			if err := client.DeleteNamespace(cmd.Context(), args[0]); err != nil {
				PrintError(err, opts)
				return err
			}
			PrintSuccess("Namespace deleted: "+args[0], opts)
			return nil
		},
	}
}
