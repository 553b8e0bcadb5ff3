package descriptor

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validYAML = `
version: "1.0"
project:
  name: iris-classifier
  docker_image: flumeworks/flume-runtime:latest
  DAG: prepare >> train, validate >> serve
  secrets_group: prod
stages:
  prepare:
    executable_module_path: pipeline/prepare.py
    cpu_request: 0.5
    memory_request_mb: 256
    batch:
      max_completion_time_seconds: 60
      retries: 2
  train:
    executable_module_path: pipeline/train.py
    args: ["--epochs", "10"]
    cpu_request: 1
    memory_request_mb: 1024
    batch:
      max_completion_time_seconds: 300
      retries: 1
    secrets:
      AWS_ACCESS_KEY_ID: aws-credentials
  validate:
    executable_module_path: pipeline/validate.py
    cpu_request: 0.5
    memory_request_mb: 512
    batch:
      max_completion_time_seconds: 120
      retries: 0
  serve:
    executable_module_path: pipeline/serve.py
    cpu_request: 0.25
    memory_request_mb: 128
    service:
      max_startup_time_seconds: 30
      replicas: 2
      port: 5000
      ingress: true
logging:
  log_level: INFO
`

func TestParse(t *testing.T) {
	d, err := Parse([]byte(validYAML))
	require.NoError(t, err)

	assert.Equal(t, "iris-classifier", d.Project.Name)
	assert.Equal(t, "flumeworks/flume-runtime:latest", d.Project.DockerImage)
	assert.Equal(t, "prod", d.Project.SecretsGroup)
	assert.Len(t, d.Stages, 4)

	train := d.Stages["train"]
	require.NotNil(t, train)
	assert.Equal(t, "train", train.Name)
	assert.Equal(t, KindBatch, train.Kind())
	assert.Equal(t, []string{"--epochs", "10"}, train.Args)
	assert.Equal(t, 1, train.Batch.Retries)
	assert.Equal(t, "aws-credentials", train.Secrets["AWS_ACCESS_KEY_ID"])

	serve := d.Stages["serve"]
	require.NotNil(t, serve)
	assert.Equal(t, KindService, serve.Kind())
	assert.Equal(t, 2, serve.Service.Replicas)
	assert.Equal(t, 5000, serve.Service.Port)
	assert.True(t, serve.Service.Ingress)
}

func TestParse_EmptyInput(t *testing.T) {
	_, err := Parse(nil)
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestParse_InvalidYAML(t *testing.T) {
	_, err := Parse([]byte("stages: [unclosed"))
	var parseErr *ParsingError
	assert.ErrorAs(t, err, &parseErr)
}

func TestParseFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, Filename)
	require.NoError(t, os.WriteFile(path, []byte(validYAML), 0o644))

	d, err := ParseFile(path)
	require.NoError(t, err)
	assert.Equal(t, "iris-classifier", d.Project.Name)

	_, err = ParseFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	parse := func(t *testing.T, mutate func(*Descriptor)) error {
		d, err := Parse([]byte(validYAML))
		require.NoError(t, err)
		mutate(d)
		return d.Validate()
	}

	cases := []struct {
		name   string
		mutate func(*Descriptor)
		field  string
	}{
		{"missing version", func(d *Descriptor) { d.Version = "" }, "version"},
		{"unsupported version", func(d *Descriptor) { d.Version = "9.9" }, "version"},
		{"missing project name", func(d *Descriptor) { d.Project.Name = "" }, "project.name"},
		{"bad image", func(d *Descriptor) { d.Project.DockerImage = "noslash" }, "project.docker_image"},
		{"image with two colons", func(d *Descriptor) { d.Project.DockerImage = "a/b:c:d" }, "project.docker_image"},
		{"missing DAG", func(d *Descriptor) { d.Project.DAG = "  " }, "project.DAG"},
		{"no stages", func(d *Descriptor) { d.Stages = nil }, "stages"},
		{"missing entry point", func(d *Descriptor) { d.Stages["train"].ExecutableModulePath = "" }, "stages.train.executable_module_path"},
		{"negative cpu", func(d *Descriptor) { d.Stages["train"].CPURequest = -1 }, "stages.train.cpu_request"},
		{"negative retries", func(d *Descriptor) { d.Stages["train"].Batch.Retries = -1 }, "stages.train.batch.retries"},
		{"zero completion time", func(d *Descriptor) { d.Stages["train"].Batch.MaxCompletionTimeSeconds = 0 }, "stages.train.batch.max_completion_time_seconds"},
		{"zero replicas", func(d *Descriptor) { d.Stages["serve"].Service.Replicas = 0 }, "stages.serve.service.replicas"},
		{"port out of range", func(d *Descriptor) { d.Stages["serve"].Service.Port = 70000 }, "stages.serve.service.port"},
		{"both kinds", func(d *Descriptor) {
			d.Stages["train"].Service = &ServiceParams{MaxStartupTimeSeconds: 1, Replicas: 1, Port: 80}
		}, "stages.train.batch/service"},
		{"neither kind", func(d *Descriptor) { d.Stages["train"].Batch = nil }, "stages.train.batch/service"},
		{"bad log level", func(d *Descriptor) { d.Logging.LogLevel = "loud" }, "logging.log_level"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := parse(t, tc.mutate)
			var descErr *DescriptorError
			require.ErrorAs(t, err, &descErr)
			assert.Equal(t, tc.field, descErr.Field)
		})
	}
}

func TestStageNames(t *testing.T) {
	d, err := Parse([]byte(validYAML))
	require.NoError(t, err)

	names := d.StageNames()
	assert.Len(t, names, 4)
	for _, want := range []string{"prepare", "train", "validate", "serve"} {
		_, ok := names[want]
		assert.Truef(t, ok, "missing stage %s", want)
	}
}
