package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/refresher/internal/logging"
)

// Config is the complete refresher configuration.
type Config struct {
	// DB is the path of the SQLite database.
	DB string `yaml:"db"`

	// Log configures the process logger.
	Log LogConfig `yaml:"log"`

	// Refresh holds refresh defaults.
	Refresh RefreshConfig `yaml:"refresh"`

	// JobStatus configures where refresh outcomes are published.
	JobStatus JobStatusConfig `yaml:"job_status"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`

	// Format is text or json.
	Format string `yaml:"format"`
}

// RefreshConfig holds refresh defaults.
type RefreshConfig struct {
	// AllowConflicts keeps pool-referenced entities instead of failing.
	AllowConflicts bool `yaml:"allow_conflicts"`

	// Timeout bounds one refresh.
	Timeout time.Duration `yaml:"timeout"`
}

// JobStatusConfig configures job-status sinks. The log sink is always on.
type JobStatusConfig struct {
	Kafka KafkaConfig `yaml:"kafka"`
}

// KafkaConfig enables the Kafka sink when Brokers is non-empty.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// Enabled reports whether statuses should be published to Kafka.
func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0
}

// Default returns a configuration with every default applied.
func Default() *Config {
	return &Config{
		DB: DefaultDBPath,
		Log: LogConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
		Refresh: RefreshConfig{
			Timeout: DefaultRefreshTimeout,
		},
		JobStatus: JobStatusConfig{
			Kafka: KafkaConfig{Topic: DefaultKafkaTopic},
		},
	}
}

// Load reads path over the defaults and applies the environment. An empty
// path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := cfg.decode(data); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.ApplyEnv(os.LookupEnv)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) decode(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// ApplyEnv overrides fields from REFRESHER_* variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvDB); ok && v != "" {
		c.DB = v
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.Log.Level = v
	}
	if v, ok := lookup(EnvLogFormat); ok && v != "" {
		c.Log.Format = v
	}
	if v, ok := lookup(EnvKafkaBrokers); ok && v != "" {
		c.JobStatus.Kafka.Brokers = splitList(v)
	}
	if v, ok := lookup(EnvKafkaTopic); ok && v != "" {
		c.JobStatus.Kafka.Topic = v
	}
}

// Validate checks the configuration and reports every problem.
func (c *Config) Validate() error {
	var errs []error

	if c.DB == "" {
		errs = append(errs, errors.New("db is required"))
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log: %w", err))
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("log: format must be text or json, got %q", c.Log.Format))
	}
	if c.Refresh.Timeout < 0 {
		errs = append(errs, errors.New("refresh: timeout must not be negative"))
	}
	if c.JobStatus.Kafka.Enabled() && c.JobStatus.Kafka.Topic == "" {
		errs = append(errs, errors.New("job_status.kafka: topic is required when brokers are set"))
	}

	return errors.Join(errs...)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
