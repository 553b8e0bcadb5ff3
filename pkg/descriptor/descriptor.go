// Package descriptor loads and validates a pipeline descriptor, the
// flume.yaml file at the root of a pipeline's git repository.
package descriptor

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Filename is the descriptor's expected name in a pipeline repository.
const Filename = "flume.yaml"

// Version is the descriptor schema version this release understands.
const Version = "1.0"

var ErrEmptyInput = fmt.Errorf("empty input")

// ParsingError reports a descriptor that is not valid YAML.
type ParsingError struct {
	Err error
}

func (e *ParsingError) Error() string {
	return fmt.Sprintf("cannot parse pipeline descriptor: %v", e.Err)
}

func (e *ParsingError) Unwrap() error { return e.Err }

// DescriptorError reports the first violated invariant found while
// validating a parsed descriptor.
type DescriptorError struct {
	Field  string
	Reason string
}

func (e *DescriptorError) Error() string {
	return fmt.Sprintf("invalid pipeline descriptor: %s: %s", e.Field, e.Reason)
}

// StageKind discriminates the two stage lifecycles.
type StageKind string

const (
	KindBatch   StageKind = "batch"
	KindService StageKind = "service"
)

// Descriptor is the typed, immutable representation of a pipeline.
type Descriptor struct {
	Version string                  `yaml:"version"`
	Project ProjectConfig           `yaml:"project"`
	Stages  map[string]*StageConfig `yaml:"stages"`
	Logging LoggingConfig           `yaml:"logging"`
}

type ProjectConfig struct {
	Name         string `yaml:"name"`
	DockerImage  string `yaml:"docker_image"`
	DAG          string `yaml:"DAG"`
	SecretsGroup string `yaml:"secrets_group,omitempty"`
}

type LoggingConfig struct {
	LogLevel string `yaml:"log_level"`
}

type StageConfig struct {
	// Name is the map key in the stages section, filled in after
	// parsing. It doubles as the code-unit identifier.
	Name string `yaml:"-"`

	ExecutableModulePath string            `yaml:"executable_module_path"`
	Args                 []string          `yaml:"args,omitempty"`
	CPURequest           float64           `yaml:"cpu_request"`
	MemoryRequestMB      int               `yaml:"memory_request_mb"`
	Batch                *BatchParams      `yaml:"batch,omitempty"`
	Service              *ServiceParams    `yaml:"service,omitempty"`
	Secrets              map[string]string `yaml:"secrets,omitempty"`
	Requirements         []string          `yaml:"requirements,omitempty"`
}

type BatchParams struct {
	MaxCompletionTimeSeconds int `yaml:"max_completion_time_seconds"`
	Retries                  int `yaml:"retries"`
}

type ServiceParams struct {
	MaxStartupTimeSeconds int  `yaml:"max_startup_time_seconds"`
	Replicas              int  `yaml:"replicas"`
	Port                  int  `yaml:"port"`
	Ingress               bool `yaml:"ingress"`
}

// Kind reports the stage's lifecycle kind. Validate guarantees exactly
// one of Batch/Service is set on every stage it accepts.
func (s *StageConfig) Kind() StageKind {
	if s.Batch != nil {
		return KindBatch
	}
	return KindService
}

// Parse unmarshals and validates a pipeline descriptor.
func Parse(data []byte) (*Descriptor, error) {
	if len(data) == 0 {
		return nil, ErrEmptyInput
	}

	var d Descriptor
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, &ParsingError{Err: err}
	}

	for name, stage := range d.Stages {
		if stage == nil {
			return nil, &DescriptorError{
				Field:  fmt.Sprintf("stages.%s", name),
				Reason: "stage has no configuration",
			}
		}
		stage.Name = name
	}

	if err := d.Validate(); err != nil {
		return nil, err
	}

	return &d, nil
}

// ParseFile reads and parses the descriptor at path.
func ParseFile(path string) (*Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pipeline descriptor: %w", err)
	}
	return Parse(data)
}

// StageNames returns the set of configured stage names, in the shape
// the graph resolver consumes.
func (d *Descriptor) StageNames() map[string]struct{} {
	names := make(map[string]struct{}, len(d.Stages))
	for name := range d.Stages {
		names[name] = struct{}{}
	}
	return names
}

// Validate checks every descriptor invariant, returning a
// *DescriptorError for the first violation found.
func (d *Descriptor) Validate() error {
	if d.Version == "" {
		return &DescriptorError{Field: "version", Reason: "missing"}
	}
	if d.Version != Version {
		return &DescriptorError{
			Field:  "version",
			Reason: fmt.Sprintf("schema version %s is not supported, want %s", d.Version, Version),
		}
	}

	if d.Project.Name == "" {
		return &DescriptorError{Field: "project.name", Reason: "missing"}
	}
	if err := validateImage(d.Project.DockerImage); err != nil {
		return &DescriptorError{Field: "project.docker_image", Reason: err.Error()}
	}
	if strings.TrimSpace(d.Project.DAG) == "" {
		return &DescriptorError{Field: "project.DAG", Reason: "missing"}
	}

	if len(d.Stages) == 0 {
		return &DescriptorError{Field: "stages", Reason: "no stages defined"}
	}

	for _, stage := range d.Stages {
		if err := stage.validate(); err != nil {
			return err
		}
	}

	switch strings.ToLower(d.Logging.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	case "":
		return &DescriptorError{Field: "logging.log_level", Reason: "missing"}
	default:
		return &DescriptorError{
			Field:  "logging.log_level",
			Reason: fmt.Sprintf("invalid level %q", d.Logging.LogLevel),
		}
	}

	return nil
}

func (s *StageConfig) validate() error {
	field := func(suffix string) string {
		return fmt.Sprintf("stages.%s.%s", s.Name, suffix)
	}

	if s.ExecutableModulePath == "" {
		return &DescriptorError{Field: field("executable_module_path"), Reason: "missing"}
	}
	if s.CPURequest < 0 {
		return &DescriptorError{Field: field("cpu_request"), Reason: "cannot be negative"}
	}
	if s.MemoryRequestMB < 0 {
		return &DescriptorError{Field: field("memory_request_mb"), Reason: "cannot be negative"}
	}

	if s.Batch == nil && s.Service == nil {
		return &DescriptorError{
			Field:  field("batch/service"),
			Reason: "stage must declare exactly one of batch or service",
		}
	}
	if s.Batch != nil && s.Service != nil {
		return &DescriptorError{
			Field:  field("batch/service"),
			Reason: "stage declares both batch and service",
		}
	}

	if s.Batch != nil {
		if s.Batch.MaxCompletionTimeSeconds <= 0 {
			return &DescriptorError{
				Field:  field("batch.max_completion_time_seconds"),
				Reason: "must be positive",
			}
		}
		if s.Batch.Retries < 0 {
			return &DescriptorError{Field: field("batch.retries"), Reason: "cannot be negative"}
		}
	}

	if s.Service != nil {
		if s.Service.MaxStartupTimeSeconds <= 0 {
			return &DescriptorError{
				Field:  field("service.max_startup_time_seconds"),
				Reason: "must be positive",
			}
		}
		if s.Service.Replicas < 1 {
			return &DescriptorError{Field: field("service.replicas"), Reason: "must be at least 1"}
		}
		if s.Service.Port < 1 || s.Service.Port > 65535 {
			return &DescriptorError{Field: field("service.port"), Reason: "must be in range 1-65535"}
		}
	}

	for envVar, secretName := range s.Secrets {
		if envVar == "" || secretName == "" {
			return &DescriptorError{
				Field:  field("secrets"),
				Reason: "secret mappings must have a non-empty env var name and secret name",
			}
		}
	}

	return nil
}

// validateImage checks a docker image reference is in the
// REPOSITORY/NAME[:TAG] form used by container registries.
func validateImage(image string) error {
	if image == "" {
		return fmt.Errorf("missing")
	}
	if len(strings.Split(image, "/")) != 2 {
		return fmt.Errorf("%q cannot be parsed as REPOSITORY/NAME[:TAG]", image)
	}
	if len(strings.Split(image, ":")) > 2 {
		return fmt.Errorf("%q cannot be parsed as REPOSITORY/NAME[:TAG]", image)
	}
	return nil
}
