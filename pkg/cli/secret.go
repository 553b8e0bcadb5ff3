package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func NewSecretCommand(root *RootCommand) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Manage pipeline secrets",
		Long: `Manage secrets referenced by pipeline stages.

Stage containers receive secrets as environment variables resolved from
these cluster secrets; values never appear in pipeline descriptors.`,
	}

	cmd.AddCommand(newSecretCreateCommand(root))
	cmd.AddCommand(newSecretListCommand(root))
	cmd.AddCommand(newSecretDeleteCommand(root))

	return cmd
}

func newSecretCreateCommand(root *RootCommand) *cobra.Command {
	var data []string

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a secret",
		Example: `  flume secret create aws-creds \
    --data AWS_ACCESS_KEY_ID=xxx --data AWS_SECRET_ACCESS_KEY=yyy`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := root.OutputOptions()

			values := make(map[string]string, len(data))
			for _, pair := range data {
				key, value, found := strings.Cut(pair, "=")
				if !found || key == "" {
					err := fmt.Errorf("invalid --data entry %q: want KEY=VALUE", pair)
					PrintError(err, opts)
					return err
				}
				values[key] = value
			}

			client, err := root.Client()
			if err != nil {
				PrintError(err, opts)
				return err
			}
			if err := client.CreateSecret(cmd.Context(), root.Namespace(), args[0], values); err != nil {
				PrintError(err, opts)
				return err
			}
			PrintSuccess("Secret created: "+args[0], opts)
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&data, "data", nil, "Secret entry as KEY=VALUE (repeatable)")
	_ = cmd.MarkFlagRequired("data")

	return cmd
}

func newSecretListCommand(root *RootCommand) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List secrets and their keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := root.OutputOptions()

			client, err := root.Client()
			if err != nil {
				PrintError(err, opts)
				return err
			}
			secrets, err := client.ListSecrets(cmd.Context(), root.Namespace())
			if err != nil {
				PrintError(err, opts)
				return err
			}
			return PrintOutput(secrets, opts)
		},
	}
}

func newSecretDeleteCommand(root *RootCommand) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := root.OutputOptions()

			client, err := root.Client()
			if err != nil {
				PrintError(err, opts)
				return err
			}
			if err := client.DeleteSecret(cmd.Context(), root.Namespace(), args[0]); err != nil {
				PrintError(err, opts)
				return err
			}
			PrintSuccess("Secret deleted: "+args[0], opts)
			return nil
		},
	}
}
