// Package config provides configuration management for flowatch.
package config

import (
	"time"
)

// Config is the root configuration structure for flowatch.
type Config struct {
	Workflow WorkflowConfig `mapstructure:"workflow"`
	Store    StoreConfig    `mapstructure:"store"`
	Monitor  MonitorConfig  `mapstructure:"monitor"`
	History  HistoryConfig  `mapstructure:"history"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// WorkflowConfig points at the workflow document to monitor.
type WorkflowConfig struct {
	// Path to the workflow definition file (YAML)
	File string `mapstructure:"file"`

	// Arguments made available to static edge conditions
	Arguments map[string]any `mapstructure:"arguments"`
}

// StoreConfig holds object store (S3-compatible) settings.
type StoreConfig struct {
	// Bucket holding the run's log and marker objects
	Bucket string `mapstructure:"bucket"`

	// AWS region
	Region string `mapstructure:"region"`

	// Custom endpoint for S3-compatible stores (MinIO, etc.)
	Endpoint string `mapstructure:"endpoint"`

	// Static credentials
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`

	// Use path-style addressing (required by most S3-compatible stores)
	ForcePathStyle bool `mapstructure:"force_path_style"`

	// Per-call timeout for store requests
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// MonitorConfig holds monitoring loop settings.
type MonitorConfig struct {
	// Wall-clock deadline for the whole run, measured from trigger time
	Timeout time.Duration `mapstructure:"timeout"`

	// Interval between runner status sweeps
	CheckInterval time.Duration `mapstructure:"check_interval"`

	// Interval between per-node log polls
	PollInterval time.Duration `mapstructure:"poll_interval"`

	// Maximum time to wait for the monitoring goroutine during shutdown
	CleanupTimeout time.Duration `mapstructure:"cleanup_timeout"`

	// Forward newly observed log lines to the console as they arrive
	StreamLogs bool `mapstructure:"stream_logs"`

	// Glob patterns matched against log lines to detect a failure signature
	FailurePatterns []string `mapstructure:"failure_patterns"`
}

// HistoryConfig holds run-history persistence settings.
type HistoryConfig struct {
	// Enable persisting run outcomes
	Enabled bool `mapstructure:"enabled"`

	// Path to the SQLite history database
	Path string `mapstructure:"path"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Log level (trace, debug, info, warn, error)
	Level string `mapstructure:"level"`

	// Output format (json or console)
	Format string `mapstructure:"format"`

	// Include caller information
	Caller bool `mapstructure:"caller"`

	// Include timestamps
	Timestamp bool `mapstructure:"timestamp"`
}
