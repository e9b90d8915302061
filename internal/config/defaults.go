package config

import "time"

// Default configuration values.
const (
	// Monitor defaults.
	DefaultTimeout        = 10 * time.Minute
	DefaultCheckInterval  = time.Second
	DefaultPollInterval   = 3 * time.Second
	DefaultCleanupTimeout = 30 * time.Second

	// Store defaults.
	DefaultRequestTimeout = 15 * time.Second

	// History defaults.
	DefaultHistoryPath = "flowatch.db"

	// Logging defaults.
	DefaultLogLevel  = "info"
	DefaultLogFormat = "console"
)

// DefaultFailurePatterns are the log-line shapes the companion function
// wrapper emits when a function raises. Overridable per deployment since the
// failure signature is a property of the log-format contract, not of the
// monitor.
var DefaultFailurePatterns = []string{
	`*\[ERROR\]*`,
	"*Traceback (most recent call last)*",
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Workflow: WorkflowConfig{
			Arguments: make(map[string]any),
		},
		Store: StoreConfig{
			ForcePathStyle: false,
			RequestTimeout: DefaultRequestTimeout,
		},
		Monitor: MonitorConfig{
			Timeout:         DefaultTimeout,
			CheckInterval:   DefaultCheckInterval,
			PollInterval:    DefaultPollInterval,
			CleanupTimeout:  DefaultCleanupTimeout,
			StreamLogs:      false,
			FailurePatterns: DefaultFailurePatterns,
		},
		History: HistoryConfig{
			Enabled: false,
			Path:    DefaultHistoryPath,
		},
		Logging: LoggingConfig{
			Level:     DefaultLogLevel,
			Format:    DefaultLogFormat,
			Caller:    false,
			Timestamp: true,
		},
	}
}
