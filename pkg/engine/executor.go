package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/flumeworks/flume/pkg/descriptor"
	"github.com/flumeworks/flume/pkg/k8s"
)

// errPollTimeout signals that a poll loop hit its deadline. It never
// escapes the executor: batch stages treat it as an attempt failure,
// service stages as the rollback/failure trigger.
var errPollTimeout = errors.New("poll deadline exceeded")

// StageExecutor drives a single stage to a terminal state. Each
// invocation of Execute owns its StageRun exclusively until it
// returns.
type StageExecutor struct {
	client       k8s.Client
	translator   *Translator
	pollInterval time.Duration
	submitGrace  time.Duration
	timeoutGrace time.Duration
	log          *slog.Logger
}

// NewStageExecutor returns an executor polling at pollInterval. The
// first poll of each resource waits out submitGrace, since status
// counts lag submission; timeoutGrace extends every stage deadline to
// absorb scheduling latency before the first pod starts.
func NewStageExecutor(client k8s.Client, translator *Translator, pollInterval, submitGrace, timeoutGrace time.Duration, log *slog.Logger) *StageExecutor {
	return &StageExecutor{
		client:       client,
		translator:   translator,
		pollInterval: pollInterval,
		submitGrace:  submitGrace,
		timeoutGrace: timeoutGrace,
		log:          log,
	}
}

// Execute runs one stage to a terminal state and returns its run
// record. The returned StageRun always has a terminal State; errors
// are recorded on the run rather than returned.
func (e *StageExecutor) Execute(ctx context.Context, d *descriptor.Descriptor, stage *descriptor.StageConfig) *StageRun {
	run := &StageRun{
		Stage:        stage,
		ResourceName: k8s.StageResourceName(d.Project.Name, stage.Name),
		State:        StagePending,
		StartedAt:    time.Now(),
	}

	if stage.Kind() == descriptor.KindBatch {
		e.executeBatch(ctx, d, stage, run)
	} else {
		e.executeService(ctx, d, stage, run)
	}

	run.FinishedAt = time.Now()
	return run
}

// executeBatch runs a batch stage as a sequence of single-shot job
// instances: at most retries+1 attempts, each with its own deadline,
// and a failed instance is deleted before the next one is submitted.
func (e *StageExecutor) executeBatch(ctx context.Context, d *descriptor.Descriptor, stage *descriptor.StageConfig, run *StageRun) {
	maxAttempts := stage.Batch.Retries + 1
	attemptTimeout := time.Duration(stage.Batch.MaxCompletionTimeSeconds)*time.Second + e.timeoutGrace

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		run.Attempts = attempt

		job, err := e.translator.BuildJob(d, stage, attempt)
		if err != nil {
			e.fail(run, err)
			return
		}

		if err := e.client.CreateJob(ctx, job); err != nil {
			e.fail(run, err)
			return
		}
		e.transition(run, StageSubmitted, "attempt", attempt)

		e.transition(run, StagePolling, "attempt", attempt)
		err = e.poll(ctx, attemptTimeout, func(ctx context.Context) (bool, error) {
			status, err := e.client.GetJobStatus(ctx, job.Namespace, job.Name)
			if err != nil {
				// Transient read failures resolve on the next tick.
				e.log.Warn("job status read failed", "job", job.Name, "error", err)
				return false, nil
			}
			switch status {
			case k8s.JobSucceeded:
				return true, nil
			case k8s.JobFailed:
				return false, fmt.Errorf("job %s/%s failed", job.Namespace, job.Name)
			default:
				return false, nil
			}
		})

		if err == nil {
			e.transition(run, StageSucceeded, "attempt", attempt)
			return
		}

		if ctx.Err() != nil {
			e.cleanupJob(job.Namespace, job.Name)
			e.fail(run, ctx.Err())
			return
		}

		if errors.Is(err, errPollTimeout) {
			lastErr = &StageTimeoutError{Stage: stage.Name, Timeout: attemptTimeout}
		} else {
			lastErr = err
		}
		e.log.Warn("stage attempt failed",
			"stage", stage.Name, "attempt", attempt, "error", lastErr)

		// The failed instance must be gone before the next attempt
		// reuses its name. The last one stays behind so its logs can
		// still be retrieved.
		if attempt < maxAttempts {
			e.cleanupJob(job.Namespace, job.Name)
		}
	}

	e.fail(run, &StageFailedError{Stage: stage.Name, Attempts: maxAttempts, Cause: lastErr})
}

// executeService rolls a service stage out and gates success on full
// replica readiness. A timed-out update is rolled back to the prior
// revision; a timed-out fresh create is left in place for inspection.
func (e *StageExecutor) executeService(ctx context.Context, d *descriptor.Descriptor, stage *descriptor.StageConfig, run *StageRun) {
	deployment, err := e.translator.BuildDeployment(d, stage)
	if err != nil {
		e.fail(run, err)
		return
	}

	exists, err := e.client.DeploymentExists(ctx, deployment.Namespace, deployment.Name)
	if err != nil {
		e.fail(run, err)
		return
	}

	if exists {
		err = e.client.UpdateDeployment(ctx, deployment)
	} else {
		err = e.client.CreateDeployment(ctx, deployment)
	}
	if err != nil {
		e.fail(run, err)
		return
	}
	run.Attempts = 1
	e.transition(run, StageSubmitted, "updating", exists)

	startupTimeout := time.Duration(stage.Service.MaxStartupTimeSeconds)*time.Second + e.timeoutGrace
	desired := int32(stage.Service.Replicas)

	e.transition(run, StagePolling)
	err = e.poll(ctx, startupTimeout, func(ctx context.Context) (bool, error) {
		ready, err := e.client.GetDeploymentReadyReplicas(ctx, deployment.Namespace, deployment.Name)
		if err != nil {
			e.log.Warn("replica readiness read failed", "deployment", deployment.Name, "error", err)
			return false, nil
		}
		return ready >= desired, nil
	})

	if err != nil {
		timeoutErr := &StageTimeoutError{Stage: stage.Name, Timeout: startupTimeout}
		if !errors.Is(err, errPollTimeout) {
			e.fail(run, err)
			return
		}
		if exists {
			// Any failed readiness gate on an update is rollback
			// territory: the prior revision was serving traffic.
			if rbErr := e.client.RollbackDeployment(ctx, deployment.Namespace, deployment.Name); rbErr != nil {
				e.fail(run, errors.Join(timeoutErr, rbErr))
				return
			}
			run.Err = timeoutErr
			e.transition(run, StageRolledBack)
			return
		}
		e.fail(run, timeoutErr)
		return
	}

	if err := e.exposeService(ctx, d, stage); err != nil {
		e.fail(run, err)
		return
	}
	e.transition(run, StageSucceeded)
}

// exposeService ensures the ClusterIP service for a ready deployment
// and reconciles its ingress route with the descriptor's flag.
func (e *StageExecutor) exposeService(ctx context.Context, d *descriptor.Descriptor, stage *descriptor.StageConfig) error {
	name := k8s.StageResourceName(d.Project.Name, stage.Name)
	namespace := e.translator.Namespace

	exists, err := e.client.ServiceExists(ctx, namespace, name)
	if err != nil {
		return err
	}
	if !exists {
		service, err := e.translator.BuildService(d, stage)
		if err != nil {
			return err
		}
		if err := e.client.CreateService(ctx, service); err != nil {
			return err
		}
	}

	ingressed, err := e.client.IngressExists(ctx, namespace, name)
	if err != nil {
		return err
	}
	switch {
	case stage.Service.Ingress && !ingressed:
		ingress, err := e.translator.BuildIngress(d, stage)
		if err != nil {
			return err
		}
		return e.client.CreateIngress(ctx, ingress)
	case !stage.Service.Ingress && ingressed:
		return e.client.DeleteIngress(ctx, namespace, name)
	}
	return nil
}

// poll calls check at a fixed interval until it returns true, errors,
// the deadline passes, or ctx is cancelled.
func (e *StageExecutor) poll(ctx context.Context, deadline time.Duration, check func(context.Context) (bool, error)) error {
	timeout := time.NewTimer(deadline)
	defer timeout.Stop()

	if e.submitGrace > 0 {
		grace := time.NewTimer(e.submitGrace)
		defer grace.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timeout.C:
			return errPollTimeout
		case <-grace.C:
		}
	}

	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timeout.C:
			return errPollTimeout
		case <-ticker.C:
			done, err := check(ctx)
			if err != nil {
				return err
			}
			if done {
				return nil
			}
		}
	}
}

// cleanupJob deletes a job instance with a fresh context so cleanup
// still happens when the run's context is already cancelled.
func (e *StageExecutor) cleanupJob(namespace, name string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := e.client.DeleteJob(ctx, namespace, name); err != nil {
		e.log.Warn("failed to delete job instance", "job", name, "error", err)
	}
}

func (e *StageExecutor) transition(run *StageRun, state StageState, attrs ...any) {
	run.State = state
	args := append([]any{"stage", run.Stage.Name, "state", state}, attrs...)
	e.log.Info("stage state change", args...)
}

func (e *StageExecutor) fail(run *StageRun, err error) {
	run.Err = err
	run.State = StageFailed
	e.log.Error("stage failed", "stage", run.Stage.Name, "error", err)
}
