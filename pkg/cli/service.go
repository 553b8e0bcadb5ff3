package cli

import (
	"github.com/spf13/cobra"
)

func NewServiceCommand(root *RootCommand) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Manage deployed service stages",
	}

	cmd.AddCommand(newServiceListCommand(root))
	cmd.AddCommand(newServiceDeleteCommand(root))

	return cmd
}

func newServiceListCommand(root *RootCommand) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List deployed service stages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := root.OutputOptions()

			client, err := root.Client()
			if err != nil {
				PrintError(err, opts)
				return err
			}
			services, err := client.ListDeployments(cmd.Context(), root.Namespace())
			if err != nil {
				PrintError(err, opts)
				return err
			}
			return PrintOutput(services, opts)
		},
	}
}

func newServiceDeleteCommand(root *RootCommand) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a deployed service stage",
		Long: `Delete a service stage's deployment together with the cluster service
and ingress route exposing it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			opts := root.OutputOptions()
			name := args[0]

			client, err := root.Client()
			if err != nil {
				PrintError(err, opts)
				return err
			}

			if err := client.DeleteDeployment(ctx, root.Namespace(), name); err != nil {
				PrintError(err, opts)
				return err
			}
			if err := client.DeleteService(ctx, root.Namespace(), name); err != nil {
				PrintError(err, opts)
				return err
			}
			if err := client.DeleteIngress(ctx, root.Namespace(), name); err != nil {
				PrintError(err, opts)
				return err
			}

			PrintSuccess("Service deleted: "+name, opts)
			return nil
		},
	}
}
