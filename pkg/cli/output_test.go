package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type outputFixture struct {
	Name     string `json:"name"`
	Replicas int    `json:"replicas"`
	Ready    bool   `json:"ready"`
}

func TestFormatOutputTable(t *testing.T) {
	rows := []outputFixture{
		{Name: "iris--serve", Replicas: 2, Ready: true},
		{Name: "iris--score", Replicas: 1, Ready: false},
	}

	out, err := FormatOutput(rows, OutputTable)
	require.NoError(t, err)
	assert.Contains(t, out, "name")
	assert.Contains(t, out, "iris--serve")
	assert.Contains(t, out, "iris--score")
}

func TestFormatOutputEmptySlice(t *testing.T) {
	out, err := FormatOutput([]outputFixture{}, OutputTable)
	require.NoError(t, err)
	assert.Contains(t, out, "No items")
}

func TestFormatOutputJSON(t *testing.T) {
	out, err := FormatOutput(outputFixture{Name: "iris--serve", Replicas: 2}, OutputJSON)
	require.NoError(t, err)
	assert.Contains(t, out, `"name": "iris--serve"`)
	assert.Contains(t, out, `"replicas": 2`)
}

func TestFormatOutputYAML(t *testing.T) {
	out, err := FormatOutput(map[string]string{"state": "succeeded"}, OutputYAML)
	require.NoError(t, err)
	assert.Contains(t, out, "state: succeeded")
}

func TestPrintOutputQuiet(t *testing.T) {
	buf := &bytes.Buffer{}
	opts := &OutputOptions{Format: OutputTable, Quiet: true, Writer: buf}

	require.NoError(t, PrintOutput("anything", opts))
	assert.Empty(t, buf.String())
}

func TestPrintSuccessJSON(t *testing.T) {
	buf := &bytes.Buffer{}
	opts := &OutputOptions{Format: OutputJSON, Writer: buf}

	PrintSuccess("done", opts)
	assert.Contains(t, buf.String(), `"success": true`)
	assert.Contains(t, buf.String(), `"message": "done"`)
}
