package cli

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flumeworks/flume/pkg/k8s"
)

// newTestRoot wires a RootCommand to a mock cluster client and an
// in-memory output buffer.
func newTestRoot(t *testing.T, mock k8s.Client) (*RootCommand, *bytes.Buffer) {
	t.Helper()
	t.Setenv("FLUME_POLL_INTERVAL", "10ms")
	t.Setenv("FLUME_SUBMIT_GRACE", "0s")
	t.Setenv("FLUME_HISTORY_DB", t.TempDir()+"/history.db")

	root := NewRootCommand()
	root.newClient = func(string) (k8s.Client, error) { return mock, nil }

	buf := &bytes.Buffer{}
	root.SetOutputWriter(buf)
	return root, buf
}

func executeCommand(root *RootCommand, args ...string) error {
	root.Command().SetArgs(args)
	return root.ExecuteContext(context.Background())
}

func TestRootCommandHasSubcommands(t *testing.T) {
	root := NewRootCommand()

	var names []string
	for _, sub := range root.Command().Commands() {
		names = append(names, sub.Name())
	}

	for _, want := range []string{
		"version", "validate", "deploy", "stage", "cronjob",
		"secret", "service", "namespace", "logs", "history",
	} {
		assert.Contains(t, names, want)
	}
}

func TestVersionCommand(t *testing.T) {
	root, buf := newTestRoot(t, k8s.NewMockClient())
	SetVersion("1.2.3", "2024-06-01", "abcdef")

	require.NoError(t, executeCommand(root, "version"))
	assert.Contains(t, buf.String(), "flume version 1.2.3")
}

func TestNamespaceFlagOverridesConfig(t *testing.T) {
	mock := k8s.NewMockClient()
	root, _ := newTestRoot(t, mock)

	require.NoError(t, executeCommand(root, "namespace", "setup", "ml-staging", "-n", "ignored"))
	assert.True(t, mock.Namespaces["ml-staging"])
}
