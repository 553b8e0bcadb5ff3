package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/flumeworks/flume/pkg/config"
	"github.com/flumeworks/flume/pkg/infra/logger"
	"github.com/flumeworks/flume/pkg/k8s"
)

var (
	cliVersion   = "dev"
	cliBuildDate = "unknown"
	cliGitCommit = "unknown"
)

type RootCommand struct {
	cmd       *cobra.Command
	cfg       *config.Config
	opts      *OutputOptions
	formatStr string
	namespace string

	client k8s.Client
	// newClient is swapped for a mock in tests.
	newClient func(kubeconfigPath string) (k8s.Client, error)
}

func NewRootCommand() *RootCommand {
	root := &RootCommand{
		opts: NewOutputOptions(),
		newClient: func(kubeconfigPath string) (k8s.Client, error) {
			return k8s.NewClusterClient(kubeconfigPath)
		},
	}

	cmd := &cobra.Command{
		Use:   "flume",
		Short: "flume - pipeline deployment engine for Kubernetes",
		Long: `flume deploys machine learning pipelines described by a flume.yaml
descriptor to a Kubernetes cluster.

Batch stages run as jobs with engine-driven retries; service stages roll
out as deployments gated on replica readiness, with automatic rollback.`,
		PersistentPreRunE: root.persistentPreRunE,
		SilenceUsage:      true,
	}

	root.bindPersistentFlags(cmd.PersistentFlags())

	root.cmd = cmd

	root.addSubCommands()

	return root
}

func (r *RootCommand) bindPersistentFlags(pflags *pflag.FlagSet) {
	pflags.StringVarP(&r.formatStr, "output", "o", "table", "Output format (table, json, yaml)")
	pflags.BoolVarP(&r.opts.Quiet, "quiet", "q", false, "Suppress output")
	pflags.StringVarP(&r.namespace, "namespace", "n", "", "Target namespace (default from config)")
	pflags.String("config", "", "Config file path (default: ~/.flume/config.toml)")

	viper.BindPFlag("output", pflags.Lookup("output"))
	viper.BindPFlag("quiet", pflags.Lookup("quiet"))
	viper.BindPFlag("config", pflags.Lookup("config"))
}

func (r *RootCommand) persistentPreRunE(cmd *cobra.Command, args []string) error {
	r.opts.Format = OutputFormat(r.formatStr)

	cfgPath := viper.GetString("config")
	var err error
	r.cfg, err = config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger.Init(logger.Config{
		Level:  r.cfg.Logging.Level,
		Format: r.cfg.Logging.Format,
	})

	if r.namespace == "" {
		r.namespace = r.cfg.Cluster.Namespace
	}

	return nil
}

func (r *RootCommand) addSubCommands() {
	r.cmd.AddCommand(NewVersionCommand(r))
	r.cmd.AddCommand(NewValidateCommand(r))
	r.cmd.AddCommand(NewDeployCommand(r))
	r.cmd.AddCommand(NewStageCommand(r))
	r.cmd.AddCommand(NewCronjobCommand(r))
	r.cmd.AddCommand(NewSecretCommand(r))
	r.cmd.AddCommand(NewServiceCommand(r))
	r.cmd.AddCommand(NewNamespaceCommand(r))
	r.cmd.AddCommand(NewLogsCommand(r))
	r.cmd.AddCommand(NewHistoryCommand(r))
}

// Client returns the orchestration client, connecting on first use so
// cluster-free commands (validate, version, history) never need one.
func (r *RootCommand) Client() (k8s.Client, error) {
	if r.client != nil {
		return r.client, nil
	}
	client, err := r.newClient(r.cfg.Cluster.Kubeconfig)
	if err != nil {
		return nil, fmt.Errorf("connect to cluster: %w", err)
	}
	r.client = client
	return r.client, nil
}

func (r *RootCommand) Command() *cobra.Command {
	return r.cmd
}

func (r *RootCommand) Config() *config.Config {
	return r.cfg
}

func (r *RootCommand) Namespace() string {
	return r.namespace
}

func (r *RootCommand) OutputOptions() *OutputOptions {
	return r.opts
}

func (r *RootCommand) SetOutputWriter(w interface{ Write([]byte) (int, error) }) {
	r.opts.Writer = w
}

func (r *RootCommand) Execute() error {
	return r.cmd.Execute()
}

func (r *RootCommand) ExecuteContext(ctx context.Context) error {
	return r.cmd.ExecuteContext(ctx)
}

func Execute() {
	root := NewRootCommand()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if err := root.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func SetVersion(version, buildDate, gitCommit string) {
	cliVersion = version
	cliBuildDate = buildDate
	cliGitCommit = gitCommit
}

func GetVersion() string {
	return cliVersion
}
