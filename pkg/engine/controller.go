package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/flumeworks/flume/pkg/dag"
	"github.com/flumeworks/flume/pkg/descriptor"
	"github.com/flumeworks/flume/pkg/k8s"
)

// RunInputs are the run-scoped parameters of one pipeline execution.
type RunInputs struct {
	Namespace  string
	GitURL     string
	GitRef     string
	CommitHash string
}

// WorkflowController executes a pipeline descriptor: it resolves the
// step sequence, runs the stages of each step concurrently, and halts
// on the first step that contains a failure. All run state lives in
// the returned WorkflowRun.
type WorkflowController struct {
	client       k8s.Client
	pollInterval time.Duration
	submitGrace  time.Duration
	timeoutGrace time.Duration
	log          *slog.Logger
}

// NewWorkflowController returns a controller using client for all
// cluster interaction.
func NewWorkflowController(client k8s.Client, pollInterval, submitGrace, timeoutGrace time.Duration, log *slog.Logger) *WorkflowController {
	return &WorkflowController{
		client:       client,
		pollInterval: pollInterval,
		submitGrace:  submitGrace,
		timeoutGrace: timeoutGrace,
		log:          log,
	}
}

// Run executes the pipeline end to end. The returned WorkflowRun is
// complete in either case; the error is non-nil whenever the run did
// not succeed, so callers can branch without inspecting run state.
func (c *WorkflowController) Run(ctx context.Context, d *descriptor.Descriptor, inputs RunInputs) (*WorkflowRun, error) {
	run := &WorkflowRun{
		ID:         uuid.NewString(),
		Pipeline:   d.Project.Name,
		Namespace:  inputs.Namespace,
		GitURL:     inputs.GitURL,
		GitRef:     inputs.GitRef,
		CommitHash: inputs.CommitHash,
		State:      WorkflowRunning,
		StartedAt:  time.Now(),
	}
	log := c.log.With("run_id", run.ID, "pipeline", run.Pipeline)

	steps, err := dag.Resolve(d.Project.DAG, d.StageNames())
	if err != nil {
		return c.finish(run, fmt.Errorf("resolve DAG: %w", err), log)
	}

	translator := &Translator{
		Namespace:  inputs.Namespace,
		GitURL:     inputs.GitURL,
		GitRef:     inputs.GitRef,
		CommitHash: inputs.CommitHash,
	}
	executor := NewStageExecutor(c.client, translator, c.pollInterval, c.submitGrace, c.timeoutGrace, log)

	log.Info("workflow started", "steps", len(steps), "git_url", inputs.GitURL, "git_ref", inputs.GitRef)

	for _, step := range steps {
		log.Info("step started", "step", step.Index, "stages", step.Stages)

		result := c.runStep(ctx, executor, d, step)
		run.Steps = append(run.Steps, result)

		for _, stageRun := range result.Stages {
			c.emitStageLogs(log, inputs.Namespace, stageRun)
		}

		if result.Failed() {
			failure := run.FirstFailure()
			return c.finish(run, &StageFailedError{
				Stage:    failure.Stage.Name,
				Attempts: failure.Attempts,
				Cause:    failure.Err,
			}, log)
		}
		log.Info("step finished", "step", step.Index)
	}

	return c.finish(run, nil, log)
}

// runStep fans the step's stages out to concurrent executors and joins
// their results. Every executor runs to a terminal state even when a
// sibling fails; halting happens between steps, not within one.
func (c *WorkflowController) runStep(ctx context.Context, executor *StageExecutor, d *descriptor.Descriptor, step dag.Step) *StepResult {
	results := make(chan *StageRun, len(step.Stages))
	for _, stageName := range step.Stages {
		stage := d.Stages[stageName]
		go func() {
			results <- executor.Execute(ctx, d, stage)
		}()
	}

	runsByName := make(map[string]*StageRun, len(step.Stages))
	for range step.Stages {
		stageRun := <-results
		runsByName[stageRun.Stage.Name] = stageRun
	}

	// Report in declaration order, not completion order.
	result := &StepResult{Step: step}
	for _, stageName := range step.Stages {
		result.Stages = append(result.Stages, runsByName[stageName])
	}
	return result
}

// emitStageLogs re-emits the container logs of a finished batch stage,
// or of any failed stage, so a run's output is readable without
// touching the cluster afterwards.
func (c *WorkflowController) emitStageLogs(log *slog.Logger, namespace string, stageRun *StageRun) {
	if stageRun.Stage.Kind() == descriptor.KindService && stageRun.State == StageSucceeded {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	podName, err := c.client.GetLatestPodName(ctx, namespace, stageRun.ResourceName)
	if err != nil {
		log.Warn("could not locate stage pod for log retrieval",
			"stage", stageRun.Stage.Name, "error", err)
		return
	}
	logs, err := c.client.GetPodLogs(ctx, namespace, podName)
	if err != nil {
		log.Warn("could not retrieve stage pod logs",
			"stage", stageRun.Stage.Name, "pod", podName, "error", err)
		return
	}
	log.Info("stage container logs",
		"stage", stageRun.Stage.Name, "pod", podName, "logs", logs)
}

func (c *WorkflowController) finish(run *WorkflowRun, err error, log *slog.Logger) (*WorkflowRun, error) {
	run.FinishedAt = time.Now()
	run.Err = err
	if err != nil {
		run.State = WorkflowFailed
		log.Error("workflow failed",
			"duration", run.Duration().Round(time.Millisecond), "error", err)
		return run, err
	}
	run.State = WorkflowSucceeded
	log.Info("workflow succeeded",
		"duration", run.Duration().Round(time.Millisecond))
	return run, nil
}
