package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/flumeworks/flume/pkg/descriptor"
	"github.com/flumeworks/flume/pkg/engine"
	"github.com/flumeworks/flume/pkg/gitsrc"
	"github.com/flumeworks/flume/pkg/history"
	"github.com/flumeworks/flume/pkg/infra/logger"
	"github.com/flumeworks/flume/pkg/k8s"
)

type deployResult struct {
	RunID    string `json:"run_id"`
	Pipeline string `json:"pipeline"`
	State    string `json:"state"`
	Commit   string `json:"commit"`
	Duration string `json:"duration"`
}

func NewDeployCommand(root *RootCommand) *cobra.Command {
	var ref string

	cmd := &cobra.Command{
		Use:   "deploy <git-url>",
		Short: "Run a pipeline deployment workflow",
		Long: `Clone the pipeline repository, parse its flume.yaml descriptor and
execute the pipeline's DAG against the target namespace.

The command exits non-zero when any stage fails.`,
		Example: `  # Deploy the default branch
  flume deploy https://github.com/org/iris-pipeline

  # Deploy a specific branch into a specific namespace
  flume deploy https://github.com/org/iris-pipeline --ref staging -n ml-staging`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDeploy(cmd.Context(), root, args[0], ref)
		},
	}

	cmd.Flags().StringVar(&ref, "ref", "", "Git branch to deploy (default from config)")

	return cmd
}

func runDeploy(ctx context.Context, root *RootCommand, gitURL, ref string) error {
	cfg := root.Config()
	opts := root.OutputOptions()

	if ref == "" {
		ref = cfg.Git.DefaultRef
	}

	cloneDir, err := os.MkdirTemp("", "flume-clone-*")
	if err != nil {
		return fmt.Errorf("create clone directory: %w", err)
	}
	defer os.RemoveAll(cloneDir)

	source, err := gitsrc.NewFetcher(cfg.Git.SSHKeyEnvVar).Clone(ctx, gitURL, ref, cloneDir)
	if err != nil {
		PrintError(err, opts)
		return err
	}

	d, err := descriptor.ParseFile(filepath.Join(source.Dir, descriptor.Filename))
	if err != nil {
		PrintError(err, opts)
		return err
	}

	client, err := root.Client()
	if err != nil {
		PrintError(err, opts)
		return err
	}

	if err := k8s.SetupNamespace(ctx, client, root.Namespace()); err != nil {
		PrintError(fmt.Errorf("set up namespace %s: %w", root.Namespace(), err), opts)
		return err
	}

	controller := engine.NewWorkflowController(
		client, cfg.Workflow.PollIntervalD, cfg.Workflow.SubmitGraceD, cfg.Workflow.TimeoutGraceD, logger.Default())

	run, runErr := controller.Run(ctx, d, engine.RunInputs{
		Namespace:  root.Namespace(),
		GitURL:     gitURL,
		GitRef:     ref,
		CommitHash: source.CommitHash,
	})

	recordRun(ctx, cfg.History.DBPath, run)

	result := deployResult{
		RunID:    run.ID,
		Pipeline: run.Pipeline,
		State:    string(run.State),
		Commit:   run.CommitHash,
		Duration: run.Duration().Round(time.Millisecond).String(),
	}
	PrintOutput(result, opts)

	if runErr != nil {
		PrintError(runErr, opts)
		return runErr
	}
	return nil
}

// recordRun persists the run summary. History is best-effort: a broken
// local database never fails a deployment that already happened.
func recordRun(ctx context.Context, dbPath string, run *engine.WorkflowRun) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		logger.Default().Warn("could not create history directory", "error", err)
		return
	}
	store, err := history.NewStore(dbPath)
	if err != nil {
		logger.Default().Warn("could not open run history", "error", err)
		return
	}
	defer store.Close()

	if err := store.Insert(ctx, history.NewRecord(run)); err != nil {
		logger.Default().Warn("could not record run history", "error", err)
	}
}
