package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flumeworks/flume/pkg/k8s"
)

func TestCronjobCreateAndList(t *testing.T) {
	mock := k8s.NewMockClient()
	root, buf := newTestRoot(t, mock)

	require.NoError(t, executeCommand(root, "cronjob", "create", "nightly",
		"--schedule", "0 2 * * *",
		"--git-url", "https://github.com/org/iris-pipeline",
		"--ref", "main",
		"-n", "pipelines"))
	assert.Contains(t, mock.CronJobs, "pipelines/nightly")

	buf.Reset()
	require.NoError(t, executeCommand(root, "cronjob", "list", "-n", "pipelines"))
	assert.Contains(t, buf.String(), "nightly")
	assert.Contains(t, buf.String(), "0 2 * * *")
}

func TestCronjobCreateRejectsBadSchedule(t *testing.T) {
	mock := k8s.NewMockClient()
	root, _ := newTestRoot(t, mock)

	err := executeCommand(root, "cronjob", "create", "nightly",
		"--schedule", "whenever",
		"--git-url", "https://github.com/org/iris-pipeline")
	require.Error(t, err)
	assert.Empty(t, mock.CronJobs)
}

func TestCronjobDelete(t *testing.T) {
	mock := k8s.NewMockClient()
	root, _ := newTestRoot(t, mock)

	require.NoError(t, executeCommand(root, "cronjob", "create", "nightly",
		"--schedule", "0 2 * * *",
		"--git-url", "https://github.com/org/iris-pipeline",
		"-n", "pipelines"))
	require.NoError(t, executeCommand(root, "cronjob", "delete", "nightly", "-n", "pipelines"))
	assert.Empty(t, mock.CronJobs)
}

func TestSecretLifecycleCommands(t *testing.T) {
	mock := k8s.NewMockClient()
	root, buf := newTestRoot(t, mock)

	require.NoError(t, executeCommand(root, "secret", "create", "aws-creds",
		"--data", "AWS_ACCESS_KEY_ID=AKIA123",
		"--data", "AWS_SECRET_ACCESS_KEY=s3cr3t",
		"-n", "pipelines"))
	assert.Equal(t, map[string]string{
		"AWS_ACCESS_KEY_ID":     "AKIA123",
		"AWS_SECRET_ACCESS_KEY": "s3cr3t",
	}, mock.Secrets["pipelines/aws-creds"])

	buf.Reset()
	require.NoError(t, executeCommand(root, "secret", "list", "-n", "pipelines"))
	assert.Contains(t, buf.String(), "aws-creds")
	assert.NotContains(t, buf.String(), "s3cr3t", "secret values must never be printed")

	require.NoError(t, executeCommand(root, "secret", "delete", "aws-creds", "-n", "pipelines"))
	assert.Empty(t, mock.Secrets)
}

func TestSecretCreateRejectsMalformedData(t *testing.T) {
	mock := k8s.NewMockClient()
	root, _ := newTestRoot(t, mock)

	err := executeCommand(root, "secret", "create", "aws-creds", "--data", "not-a-pair")
	require.Error(t, err)
	assert.Empty(t, mock.Secrets)
}
