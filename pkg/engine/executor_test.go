package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	appsv1 "k8s.io/api/apps/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/flumeworks/flume/pkg/descriptor"
	"github.com/flumeworks/flume/pkg/k8s"
)

func discardLog() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestExecutor(client k8s.Client) *StageExecutor {
	return NewStageExecutor(client, testTranslator(), 5*time.Millisecond, 0, 0, discardLog())
}

func batchStage(retries int) *descriptor.StageConfig {
	return &descriptor.StageConfig{
		Name:                 "train",
		ExecutableModulePath: "stages/train.py",
		Batch: &descriptor.BatchParams{
			MaxCompletionTimeSeconds: 60,
			Retries:                  retries,
		},
	}
}

func serviceStage(ingress bool) *descriptor.StageConfig {
	return &descriptor.StageConfig{
		Name:                 "serve",
		ExecutableModulePath: "stages/serve.py",
		Service: &descriptor.ServiceParams{
			MaxStartupTimeSeconds: 60,
			Replicas:              2,
			Port:                  5000,
			Ingress:               ingress,
		},
	}
}

func TestExecuteBatchSucceedsFirstAttempt(t *testing.T) {
	mock := k8s.NewMockClient()
	mock.JobStatuses["pipelines/iris-pipeline--train"] = []k8s.JobStatus{
		k8s.JobActive, k8s.JobSucceeded,
	}

	d := testDescriptor()
	stage := batchStage(2)
	d.Stages["train"] = stage

	run := newTestExecutor(mock).Execute(context.Background(), d, stage)

	assert.Equal(t, StageSucceeded, run.State)
	assert.Equal(t, 1, run.Attempts)
	assert.NoError(t, run.Err)
	assert.Len(t, mock.CreatedJobs, 1)
	assert.Empty(t, mock.DeletedJobs)
}

func TestExecuteBatchRetriesAfterFailedAttempt(t *testing.T) {
	mock := k8s.NewMockClient()
	mock.JobStatuses["pipelines/iris-pipeline--train"] = []k8s.JobStatus{
		k8s.JobFailed, k8s.JobActive, k8s.JobSucceeded,
	}

	d := testDescriptor()
	stage := batchStage(2)
	d.Stages["train"] = stage

	run := newTestExecutor(mock).Execute(context.Background(), d, stage)

	assert.Equal(t, StageSucceeded, run.State)
	assert.Equal(t, 2, run.Attempts)
	require.Len(t, mock.CreatedJobs, 2)
	require.Len(t, mock.DeletedJobs, 1, "failed instance must be deleted before resubmission")
}

func TestExecuteBatchExhaustsRetries(t *testing.T) {
	mock := k8s.NewMockClient()
	mock.JobStatuses["pipelines/iris-pipeline--train"] = []k8s.JobStatus{k8s.JobFailed}

	d := testDescriptor()
	stage := batchStage(1)
	d.Stages["train"] = stage

	run := newTestExecutor(mock).Execute(context.Background(), d, stage)

	assert.Equal(t, StageFailed, run.State)
	assert.Equal(t, 2, run.Attempts, "retries+1 attempts exactly")

	var failed *StageFailedError
	require.True(t, errors.As(run.Err, &failed))
	assert.Equal(t, 2, failed.Attempts)
	assert.Len(t, mock.CreatedJobs, 2)
	assert.Len(t, mock.DeletedJobs, 1,
		"only the superseded instance is deleted")
	assert.Contains(t, mock.Jobs, "pipelines/iris-pipeline--train",
		"last failed instance stays behind for log retrieval")
}

func TestExecuteBatchTimeoutIsAttemptFailure(t *testing.T) {
	mock := k8s.NewMockClient()
	mock.JobStatuses["pipelines/iris-pipeline--train"] = []k8s.JobStatus{k8s.JobActive}

	d := testDescriptor()
	stage := batchStage(0)
	stage.Batch.MaxCompletionTimeSeconds = 1
	d.Stages["train"] = stage

	run := newTestExecutor(mock).Execute(context.Background(), d, stage)

	assert.Equal(t, StageFailed, run.State)

	var timeout *StageTimeoutError
	require.True(t, errors.As(run.Err, &timeout))
	assert.Equal(t, "train", timeout.Stage)
	assert.Empty(t, mock.DeletedJobs,
		"timed-out final attempt stays behind for log retrieval")
}

func TestExecuteBatchSubmissionFailure(t *testing.T) {
	mock := k8s.NewMockClient()
	mock.Err = errors.New("api server unavailable")

	d := testDescriptor()
	stage := batchStage(2)
	d.Stages["train"] = stage

	run := newTestExecutor(mock).Execute(context.Background(), d, stage)

	assert.Equal(t, StageFailed, run.State)
	assert.ErrorContains(t, run.Err, "api server unavailable")
}

func TestExecuteBatchContextCancellation(t *testing.T) {
	mock := k8s.NewMockClient()
	mock.JobStatuses["pipelines/iris-pipeline--train"] = []k8s.JobStatus{k8s.JobActive}

	d := testDescriptor()
	stage := batchStage(3)
	d.Stages["train"] = stage

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(25 * time.Millisecond)
		cancel()
	}()

	run := newTestExecutor(mock).Execute(ctx, d, stage)

	assert.Equal(t, StageFailed, run.State)
	assert.ErrorIs(t, run.Err, context.Canceled)
	assert.Len(t, mock.DeletedJobs, 1, "in-flight instance must be cleaned up")
}

func TestExecuteServiceFreshCreate(t *testing.T) {
	mock := k8s.NewMockClient()
	mock.ReadyReplicaSeq["pipelines/iris-pipeline--serve"] = []int32{0, 1, 2}

	d := testDescriptor()
	stage := serviceStage(true)
	d.Stages["serve"] = stage

	run := newTestExecutor(mock).Execute(context.Background(), d, stage)

	assert.Equal(t, StageSucceeded, run.State)
	assert.Contains(t, mock.Deployments, "pipelines/iris-pipeline--serve")
	assert.Contains(t, mock.Services, "pipelines/iris-pipeline--serve")
	assert.Contains(t, mock.Ingresses, "pipelines/iris-pipeline--serve")
	assert.Empty(t, mock.RollbackCalls)
}

func TestExecuteServiceUpdateInPlace(t *testing.T) {
	mock := k8s.NewMockClient()
	mock.Deployments["pipelines/iris-pipeline--serve"] = &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{Name: "iris-pipeline--serve", Namespace: "pipelines"},
	}
	mock.ReadyReplicaSeq["pipelines/iris-pipeline--serve"] = []int32{2}

	d := testDescriptor()
	stage := serviceStage(false)
	d.Stages["serve"] = stage

	run := newTestExecutor(mock).Execute(context.Background(), d, stage)

	assert.Equal(t, StageSucceeded, run.State)
	assert.Len(t, mock.UpdatedDeploys, 1)
}

func TestExecuteServiceUpdateTimeoutRollsBack(t *testing.T) {
	mock := k8s.NewMockClient()
	mock.Deployments["pipelines/iris-pipeline--serve"] = &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{Name: "iris-pipeline--serve", Namespace: "pipelines"},
	}
	mock.ReadyReplicaSeq["pipelines/iris-pipeline--serve"] = []int32{0}

	d := testDescriptor()
	stage := serviceStage(false)
	stage.Service.MaxStartupTimeSeconds = 1
	d.Stages["serve"] = stage

	run := newTestExecutor(mock).Execute(context.Background(), d, stage)

	assert.Equal(t, StageRolledBack, run.State)
	assert.Len(t, mock.RollbackCalls, 1)

	var timeout *StageTimeoutError
	assert.True(t, errors.As(run.Err, &timeout))
}

func TestExecuteServiceFreshCreateTimeoutFails(t *testing.T) {
	mock := k8s.NewMockClient()
	mock.ReadyReplicaSeq["pipelines/iris-pipeline--serve"] = []int32{0}

	d := testDescriptor()
	stage := serviceStage(false)
	stage.Service.MaxStartupTimeSeconds = 1
	d.Stages["serve"] = stage

	run := newTestExecutor(mock).Execute(context.Background(), d, stage)

	assert.Equal(t, StageFailed, run.State)
	assert.Empty(t, mock.RollbackCalls)
	assert.Contains(t, mock.Deployments, "pipelines/iris-pipeline--serve",
		"failed fresh deployment is left for inspection")
}

func TestExecuteServiceIngressFlagRemovesRoute(t *testing.T) {
	mock := k8s.NewMockClient()
	mock.ReadyReplicaSeq["pipelines/iris-pipeline--serve"] = []int32{2}
	mock.Ingresses["pipelines/iris-pipeline--serve"] = nil

	d := testDescriptor()
	stage := serviceStage(false)
	d.Stages["serve"] = stage

	run := newTestExecutor(mock).Execute(context.Background(), d, stage)

	assert.Equal(t, StageSucceeded, run.State)
	assert.NotContains(t, mock.Ingresses, "pipelines/iris-pipeline--serve")
}
