// Package config loads pipehost configuration from YAML or JSONC files with
// PIPEHOST_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/petrijr/pipehost/pkg/api"
)

// Worker modes.
const (
	ModeInProcess  = "inprocess"
	ModeSubprocess = "subprocess"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "PIPEHOST_"

// ErrInvalid wraps validation failures.
var ErrInvalid = errors.New("config: invalid")

// Config is the complete pipehost configuration.
type Config struct {
	Instance api.InstanceRef `yaml:"instance"`
	Worker   WorkerConfig    `yaml:"worker"`
	Log      LogConfig       `yaml:"log"`
	Metrics  MetricsConfig   `yaml:"metrics"`
}

// WorkerConfig controls how runs are launched.
type WorkerConfig struct {
	// Mode is ModeInProcess or ModeSubprocess.
	Mode string `yaml:"mode"`

	// Command is the worker executable and its arguments in subprocess mode.
	Command []string `yaml:"command"`

	Concurrency  int           `yaml:"concurrency"`
	PollInterval time.Duration `yaml:"poll_interval"`
	GracePeriod  time.Duration `yaml:"grace_period"`
	MaxAttempts  int           `yaml:"max_attempts"`
	Backoff      time.Duration `yaml:"backoff"`

	// Execution is the engine mode, "sequential" or "parallel".
	Execution      string `yaml:"execution"`
	MaxConcurrency int    `yaml:"max_concurrency"`

	Queue QueueConfig `yaml:"queue"`
}

// QueueConfig selects the launch queue backend. Backends use the same names
// as instance backends.
type QueueConfig struct {
	Backend  string `yaml:"backend"`
	DSN      string `yaml:"dsn"`
	Database string `yaml:"database"`
	Prefix   string `yaml:"prefix"`
	Capacity int    `yaml:"capacity"`
}

// LogConfig controls the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus observer.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
	// Addr is the listen address of the /metrics endpoint. Empty disables
	// the endpoint.
	Addr string `yaml:"addr"`
}

// Default returns the zero-config setup: a local SQLite instance, an
// in-process worker and text logs at info level.
func Default() *Config {
	return &Config{
		Instance: api.InstanceRef{Backend: api.BackendSQLite, DSN: "pipehost.db"},
		Worker: WorkerConfig{
			Mode:         ModeInProcess,
			Concurrency:  1,
			PollInterval: 100 * time.Millisecond,
			GracePeriod:  10 * time.Second,
			MaxAttempts:  1,
			Execution:    "sequential",
			Queue:        QueueConfig{Backend: api.BackendMemory, Capacity: 1024},
		},
		Log:     LogConfig{Level: "info", Format: "text"},
		Metrics: MetricsConfig{Namespace: "pipehost"},
	}
}

// Load reads path over Default and applies environment overrides. An empty
// path loads only the defaults and the environment. Files ending in .json or
// .jsonc are parsed as JSON with comments; everything else as YAML.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		if err := cfg.parse(data, filepath.Ext(path)); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parse merges data into c.
func (c *Config) parse(data []byte, ext string) error {
	switch strings.ToLower(ext) {
	case ".json", ".jsonc":
		// JSON is valid YAML once comments and trailing commas are gone.
		data = jsonc.ToJSON(data)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}
	return nil
}

// applyEnv overrides fields from PIPEHOST_* variables.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok && v != "" {
			*dst = v
		}
	}
	var errs []error
	num := func(key string, dst *int) {
		if v, ok := lookup(EnvPrefix + key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = n
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(EnvPrefix + key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = d
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(EnvPrefix + key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = b
		}
	}

	str("INSTANCE_BACKEND", &c.Instance.Backend)
	str("INSTANCE_DSN", &c.Instance.DSN)
	str("INSTANCE_DATABASE", &c.Instance.Database)
	str("INSTANCE_PREFIX", &c.Instance.Prefix)

	str("WORKER_MODE", &c.Worker.Mode)
	if v, ok := lookup(EnvPrefix + "WORKER_COMMAND"); ok && v != "" {
		c.Worker.Command = strings.Fields(v)
	}
	num("WORKER_CONCURRENCY", &c.Worker.Concurrency)
	dur("WORKER_POLL_INTERVAL", &c.Worker.PollInterval)
	dur("WORKER_GRACE_PERIOD", &c.Worker.GracePeriod)
	num("WORKER_MAX_ATTEMPTS", &c.Worker.MaxAttempts)
	dur("WORKER_BACKOFF", &c.Worker.Backoff)
	str("WORKER_EXECUTION", &c.Worker.Execution)
	num("WORKER_MAX_CONCURRENCY", &c.Worker.MaxConcurrency)

	str("QUEUE_BACKEND", &c.Worker.Queue.Backend)
	str("QUEUE_DSN", &c.Worker.Queue.DSN)
	str("QUEUE_DATABASE", &c.Worker.Queue.Database)
	str("QUEUE_PREFIX", &c.Worker.Queue.Prefix)

	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)

	boolean("METRICS_ENABLED", &c.Metrics.Enabled)
	str("METRICS_NAMESPACE", &c.Metrics.Namespace)
	str("METRICS_ADDR", &c.Metrics.Addr)

	return errors.Join(errs...)
}

// Validate checks the values Load cannot default.
func (c *Config) Validate() error {
	switch c.Instance.Backend {
	case api.BackendMemory, api.BackendSQLite, api.BackendPostgres, api.BackendRedis, api.BackendMongo:
	default:
		return fmt.Errorf("%w: unknown instance backend %q", ErrInvalid, c.Instance.Backend)
	}
	switch c.Worker.Mode {
	case ModeInProcess:
	case ModeSubprocess:
		if len(c.Worker.Command) == 0 {
			return fmt.Errorf("%w: worker.command is required in subprocess mode", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown worker mode %q", ErrInvalid, c.Worker.Mode)
	}
	switch c.Worker.Execution {
	case "", "sequential", "parallel":
	default:
		return fmt.Errorf("%w: unknown execution mode %q", ErrInvalid, c.Worker.Execution)
	}
	switch c.Worker.Queue.Backend {
	case api.BackendMemory, api.BackendSQLite, api.BackendPostgres, api.BackendRedis, api.BackendMongo:
	default:
		return fmt.Errorf("%w: unknown queue backend %q", ErrInvalid, c.Worker.Queue.Backend)
	}
	if c.Worker.Concurrency < 0 {
		return fmt.Errorf("%w: worker.concurrency must not be negative", ErrInvalid)
	}
	return nil
}

// LoadRunConfig reads a run config document from path. Like Load it accepts
// YAML and JSONC.
func LoadRunConfig(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		data = jsonc.ToJSON(data)
	}
	var out map[string]any
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%s: parsing run config: %w", path, err)
	}
	return out, nil
}
