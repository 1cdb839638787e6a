// Package config loads refresher settings.
//
// Values come from an optional YAML file, then REFRESHER_* environment
// variables, then command-line flags, each layer overriding the previous.
package config

import "time"

const (
	// DefaultDBPath is the SQLite database file.
	// Override via config: db, env: REFRESHER_DB
	DefaultDBPath = "refresher.db"

	// DefaultLogLevel is the minimum slog level.
	// Override via config: log.level, env: REFRESHER_LOG_LEVEL
	DefaultLogLevel = "info"

	// DefaultLogFormat selects the slog handler: text or json.
	// Override via config: log.format, env: REFRESHER_LOG_FORMAT
	DefaultLogFormat = "text"

	// DefaultKafkaTopic is the job-status topic.
	// Override via config: job_status.kafka.topic, env: REFRESHER_KAFKA_TOPIC
	DefaultKafkaTopic = "refresher.job-status"

	// DefaultRefreshTimeout bounds one refresh, writes included.
	// Override via config: refresh.timeout
	DefaultRefreshTimeout = 5 * time.Minute
)

// Environment variables read by ApplyEnv.
const (
	EnvDB           = "REFRESHER_DB"
	EnvLogLevel     = "REFRESHER_LOG_LEVEL"
	EnvLogFormat    = "REFRESHER_LOG_FORMAT"
	EnvKafkaBrokers = "REFRESHER_KAFKA_BROKERS"
	EnvKafkaTopic   = "REFRESHER_KAFKA_TOPIC"
)
