package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	CurrentVersion = 1
	DefaultPath    = "~/.batchline/batchline.yaml"
)

// Config is the top-level configuration.
type Config struct {
	Version int           `yaml:"version"`
	AWS     AWSConfig     `yaml:"aws,omitempty"`
	Data    DataConfig    `yaml:"data"`
	Athena  AthenaConfig  `yaml:"athena,omitempty"`
	Runner  RunnerConfig  `yaml:"runner"`
	Trigger TriggerConfig `yaml:"trigger,omitempty"`
	Logging LogConfig     `yaml:"logging,omitempty"`
	History HistoryConfig `yaml:"history,omitempty"`
}

// AWSConfig defines AWS account settings.
type AWSConfig struct {
	Region  string `yaml:"region,omitempty"`
	Profile string `yaml:"profile,omitempty"`
}

// DataConfig defines the bucket layout the pipeline reads and writes.
type DataConfig struct {
	Bucket        string `yaml:"bucket"`
	RawPrefix     string `yaml:"raw_prefix,omitempty"`
	ResultsPrefix string `yaml:"results_prefix,omitempty"`
	OutputPrefix  string `yaml:"output_prefix,omitempty"`
}

// AthenaConfig defines the query engine execution context.
type AthenaConfig struct {
	Database  string `yaml:"database,omitempty"`
	Table     string `yaml:"table,omitempty"`
	Workgroup string `yaml:"workgroup,omitempty"`
	Catalog   string `yaml:"catalog,omitempty"`
}

// RunnerConfig defines the compute instance and the wait budgets.
type RunnerConfig struct {
	InstanceID string     `yaml:"instance_id"`
	HealthWait WaitConfig `yaml:"health_wait,omitempty"`
	QueryWait  WaitConfig `yaml:"query_wait,omitempty"`
}

// WaitConfig bounds a poll loop: exponential backoff between attempts, a
// ceiling on the interval, and an overall elapsed budget.
type WaitConfig struct {
	BaseDelay   time.Duration `yaml:"base_delay,omitempty"`
	Multiplier  float64       `yaml:"multiplier,omitempty"`
	MaxInterval time.Duration `yaml:"max_interval,omitempty"`
	MaxElapsed  time.Duration `yaml:"max_elapsed,omitempty"`
}

// TriggerConfig defines which upload events qualify and where the event
// listener binds.
type TriggerConfig struct {
	Extension string `yaml:"extension,omitempty"`
	Port      int    `yaml:"port,omitempty"`
}

// LogConfig defines logging settings.
type LogConfig struct {
	Level     string `yaml:"level,omitempty"`     // debug, info, warn, error
	Directory string `yaml:"directory,omitempty"` // default ~/.batchline/logs/
}

// HistoryConfig defines where run outcomes are recorded.
type HistoryConfig struct {
	Path string `yaml:"path,omitempty"` // default ~/.batchline/runs.yaml
}

// Load reads and parses the config file from the given path.
func Load(path string) (*Config, error) {
	if path == "" {
		path = ExpandHome(DefaultPath)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if cfg.Version != CurrentVersion {
		return nil, fmt.Errorf("unsupported config version %d (expected %d)", cfg.Version, CurrentVersion)
	}

	if err := cfg.resolveSecrets(); err != nil {
		return nil, fmt.Errorf("resolving secrets: %w", err)
	}

	cfg.ApplyDefaults()

	if cfg.Data.Bucket == "" {
		return nil, fmt.Errorf("data.bucket must be set")
	}

	return cfg, nil
}

// Save writes the config to the given path.
func (c *Config) Save(path string) error {
	if path == "" {
		path = ExpandHome(DefaultPath)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	return os.WriteFile(path, data, 0o600)
}

// ApplyDefaults fills unset fields. The wait budgets mirror the original
// operational settings: health checks on the order of every 10s for up to
// 5 minutes, query polls every few seconds for up to 5 minutes.
func (c *Config) ApplyDefaults() {
	if c.Data.RawPrefix == "" {
		c.Data.RawPrefix = "raw/"
	}
	if c.Data.ResultsPrefix == "" {
		c.Data.ResultsPrefix = "athena-results/"
	}
	if c.Data.OutputPrefix == "" {
		c.Data.OutputPrefix = "output/prod/"
	}
	if c.Athena.Database == "" {
		c.Athena.Database = "healthcare_db"
	}
	if c.Athena.Table == "" {
		c.Athena.Table = "facility_data"
	}
	if c.Athena.Workgroup == "" {
		c.Athena.Workgroup = "primary"
	}
	if c.Athena.Catalog == "" {
		c.Athena.Catalog = "AwsDataCatalog"
	}
	if c.Trigger.Extension == "" {
		c.Trigger.Extension = ".json"
	}
	if c.Trigger.Port == 0 {
		c.Trigger.Port = 8732
	}
	applyWaitDefaults(&c.Runner.HealthWait, 5*time.Second, 2.0, 40*time.Second, 5*time.Minute)
	applyWaitDefaults(&c.Runner.QueryWait, 2*time.Second, 1.5, 15*time.Second, 5*time.Minute)
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Directory == "" {
		c.Logging.Directory = ExpandHome("~/.batchline/logs/")
	}
	if c.History.Path == "" {
		c.History.Path = ExpandHome("~/.batchline/runs.yaml")
	}
}

func applyWaitDefaults(w *WaitConfig, base time.Duration, mult float64, maxInterval, maxElapsed time.Duration) {
	if w.BaseDelay == 0 {
		w.BaseDelay = base
	}
	if w.Multiplier == 0 {
		w.Multiplier = mult
	}
	if w.MaxInterval == 0 {
		w.MaxInterval = maxInterval
	}
	if w.MaxElapsed == 0 {
		w.MaxElapsed = maxElapsed
	}
}

var secretPattern = regexp.MustCompile(`\$\{(ENV|VAULT|AWS_SM):([^}]+)\}`)

func (c *Config) resolveSecrets() error {
	var err error
	c.Runner.InstanceID, err = ResolveValue(c.Runner.InstanceID)
	if err != nil {
		return fmt.Errorf("runner instance id: %w", err)
	}
	c.Data.Bucket, err = ResolveValue(c.Data.Bucket)
	if err != nil {
		return fmt.Errorf("data bucket: %w", err)
	}
	return nil
}

// ResolveValue resolves secret references in a string value.
func ResolveValue(val string) (string, error) {
	matches := secretPattern.FindStringSubmatch(val)
	if matches == nil {
		return val, nil
	}

	provider := matches[1]
	ref := matches[2]

	switch provider {
	case "ENV":
		v := os.Getenv(ref)
		if v == "" {
			return "", fmt.Errorf("environment variable %s not set", ref)
		}
		return v, nil
	case "VAULT":
		return resolveVault(ref)
	case "AWS_SM":
		return resolveAWSSecretsManager(ref)
	default:
		return "", fmt.Errorf("unknown secrets provider: %s", provider)
	}
}

// ExpandHome expands ~ to the user's home directory.
func ExpandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
