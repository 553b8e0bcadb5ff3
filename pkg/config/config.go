package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	General  GeneralConfig  `toml:"general"`
	Cluster  ClusterConfig  `toml:"cluster"`
	Workflow WorkflowConfig `toml:"workflow"`
	Git      GitConfig      `toml:"git"`
	History  HistoryConfig  `toml:"history"`
	Logging  LoggingConfig  `toml:"logging"`
}

type GeneralConfig struct {
	DataDir string `toml:"data_dir"`
}

type ClusterConfig struct {
	// Kubeconfig is the path to a kubeconfig file. Empty means
	// in-cluster config first, then $HOME/.kube/config.
	Kubeconfig string `toml:"kubeconfig"`
	// Namespace is the default namespace for all operations.
	Namespace string `toml:"namespace"`
}

type WorkflowConfig struct {
	// PollInterval is the time between status polls of jobs and
	// deployments.
	PollInterval string `toml:"poll_interval"`
	// SubmitGrace is the time to wait after submitting resources
	// before the first status poll.
	SubmitGrace string `toml:"submit_grace"`
	// TimeoutGrace is added to every stage's configured timeout to
	// absorb scheduling latency on the cluster.
	TimeoutGrace string `toml:"timeout_grace"`

	PollIntervalD time.Duration `toml:"-"`
	SubmitGraceD  time.Duration `toml:"-"`
	TimeoutGraceD time.Duration `toml:"-"`
}

type GitConfig struct {
	// SSHKeyEnvVar names the environment variable holding a private
	// key for cloning over SSH.
	SSHKeyEnvVar string `toml:"ssh_key_env_var"`
	// DefaultRef is the ref cloned when none is given.
	DefaultRef string `toml:"default_ref"`
}

type HistoryConfig struct {
	// DBPath is the SQLite database recording workflow run summaries.
	DBPath string `toml:"db_path"`
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".flume")

	return &Config{
		General: GeneralConfig{
			DataDir: dataDir,
		},
		Cluster: ClusterConfig{
			Kubeconfig: "",
			Namespace:  "default",
		},
		Workflow: WorkflowConfig{
			PollInterval: "1s",
			SubmitGrace:  "5s",
			TimeoutGrace: "60s",
		},
		Git: GitConfig{
			SSHKeyEnvVar: "FLUME_GIT_SSH_KEY",
			DefaultRef:   "master",
		},
		History: HistoryConfig{
			DBPath: filepath.Join(dataDir, "flume.db"),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

func LoadFromFile(path string) (*Config, error) {
	expandedPath, err := expandPath(path)
	if err != nil {
		return nil, fmt.Errorf("expand path: %w", err)
	}

	data, err := os.ReadFile(expandedPath)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()
	if _, err := toml.Decode(string(data), cfg); err != nil {
		return nil, fmt.Errorf("decode TOML: %w", err)
	}

	if err := cfg.postProcess(); err != nil {
		return nil, fmt.Errorf("post process config: %w", err)
	}

	return cfg, nil
}

func (c *Config) postProcess() error {
	var err error

	if c.Workflow.PollIntervalD, err = time.ParseDuration(c.Workflow.PollInterval); err != nil {
		return fmt.Errorf("parse workflow.poll_interval: %w", err)
	}

	if c.Workflow.SubmitGraceD, err = time.ParseDuration(c.Workflow.SubmitGrace); err != nil {
		return fmt.Errorf("parse workflow.submit_grace: %w", err)
	}

	if c.Workflow.TimeoutGraceD, err = time.ParseDuration(c.Workflow.TimeoutGrace); err != nil {
		return fmt.Errorf("parse workflow.timeout_grace: %w", err)
	}

	c.General.DataDir, err = expandPath(c.General.DataDir)
	if err != nil {
		return fmt.Errorf("expand general.data_dir: %w", err)
	}

	c.Cluster.Kubeconfig, err = expandPath(c.Cluster.Kubeconfig)
	if err != nil {
		return fmt.Errorf("expand cluster.kubeconfig: %w", err)
	}

	c.History.DBPath, err = expandPath(c.History.DBPath)
	if err != nil {
		return fmt.Errorf("expand history.db_path: %w", err)
	}

	return nil
}

func (c *Config) Validate() error {
	if c.Cluster.Namespace == "" {
		return fmt.Errorf("cluster.namespace cannot be empty")
	}

	if c.Workflow.PollIntervalD <= 0 {
		return fmt.Errorf("workflow.poll_interval must be positive, got %s", c.Workflow.PollInterval)
	}

	if c.Workflow.SubmitGraceD < 0 {
		return fmt.Errorf("workflow.submit_grace cannot be negative, got %s", c.Workflow.SubmitGrace)
	}

	if c.Workflow.TimeoutGraceD < 0 {
		return fmt.Errorf("workflow.timeout_grace cannot be negative, got %s", c.Workflow.TimeoutGrace)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid logging level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		return fmt.Errorf("invalid logging format: %s (valid: json, text)", c.Logging.Format)
	}

	return nil
}

func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FLUME_DATA_DIR"); v != "" {
		cfg.General.DataDir = v
	}
	if v := os.Getenv("KUBECONFIG"); v != "" {
		cfg.Cluster.Kubeconfig = v
	}
	if v := os.Getenv("FLUME_KUBECONFIG"); v != "" {
		cfg.Cluster.Kubeconfig = v
	}
	if v := os.Getenv("FLUME_NAMESPACE"); v != "" {
		cfg.Cluster.Namespace = v
	}
	if v := os.Getenv("FLUME_POLL_INTERVAL"); v != "" {
		cfg.Workflow.PollInterval = v
	}
	if v := os.Getenv("FLUME_SUBMIT_GRACE"); v != "" {
		cfg.Workflow.SubmitGrace = v
	}
	if v := os.Getenv("FLUME_TIMEOUT_GRACE"); v != "" {
		cfg.Workflow.TimeoutGrace = v
	}
	if v := os.Getenv("FLUME_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("FLUME_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("FLUME_HISTORY_DB"); v != "" {
		cfg.History.DBPath = v
	}
}

func expandPath(path string) (string, error) {
	if path == "" {
		return "", nil
	}

	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("get user home directory: %w", err)
		}
		return filepath.Join(homeDir, path[2:]), nil
	}

	return path, nil
}

func Load(configPath string) (*Config, error) {
	var cfg *Config
	var err error

	if configPath != "" {
		cfg, err = LoadFromFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("load config from %s: %w", configPath, err)
		}
	} else {
		cfg = Default()
	}

	ApplyEnvOverrides(cfg)

	if err := cfg.postProcess(); err != nil {
		return nil, fmt.Errorf("post process config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}
