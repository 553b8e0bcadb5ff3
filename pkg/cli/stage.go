package cli

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/flumeworks/flume/pkg/descriptor"
	"github.com/flumeworks/flume/pkg/gitsrc"
	"github.com/flumeworks/flume/pkg/infra/logger"
)

func NewStageCommand(root *RootCommand) *cobra.Command {
	var ref string

	cmd := &cobra.Command{
		Use:   "stage <git-url> <stage-name>",
		Short: "Run a single pipeline stage",
		Long: `Run one stage of a pipeline. This is the entry point executed inside
stage containers: it clones the pipeline repository, looks the stage up
in the descriptor and executes its module.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStage(cmd.Context(), root, args[0], args[1], ref)
		},
	}

	cmd.Flags().StringVar(&ref, "ref", "", "Git branch to run from (default from config)")

	return cmd
}

func runStage(ctx context.Context, root *RootCommand, gitURL, stageName, ref string) error {
	cfg := root.Config()
	log := logger.Default().With("stage", stageName)

	if ref == "" {
		ref = cfg.Git.DefaultRef
	}

	cloneDir, err := os.MkdirTemp("", "flume-stage-*")
	if err != nil {
		return fmt.Errorf("create clone directory: %w", err)
	}
	defer os.RemoveAll(cloneDir)

	source, err := gitsrc.NewFetcher(cfg.Git.SSHKeyEnvVar).Clone(ctx, gitURL, ref, cloneDir)
	if err != nil {
		return err
	}
	log.Info("pipeline repository cloned", "commit", source.CommitHash)

	d, err := descriptor.ParseFile(filepath.Join(source.Dir, descriptor.Filename))
	if err != nil {
		return err
	}

	stage, ok := d.Stages[stageName]
	if !ok {
		return fmt.Errorf("stage %q is not defined in %s", stageName, descriptor.Filename)
	}

	command := stageCommand(stage)
	log.Info("executing stage module", "command", strings.Join(command, " "))

	run := exec.CommandContext(ctx, command[0], command[1:]...)
	run.Dir = source.Dir
	run.Stdout = os.Stdout
	run.Stderr = os.Stderr
	run.Env = os.Environ()

	if err := run.Run(); err != nil {
		return fmt.Errorf("stage %q: %w", stageName, err)
	}
	log.Info("stage module finished")
	return nil
}

// stageCommand builds the argv for a stage module. Python modules run
// under the interpreter; anything else is executed directly.
func stageCommand(stage *descriptor.StageConfig) []string {
	var argv []string
	if strings.HasSuffix(stage.ExecutableModulePath, ".py") {
		argv = append(argv, "python3")
	}
	argv = append(argv, stage.ExecutableModulePath)
	return append(argv, stage.Args...)
}
