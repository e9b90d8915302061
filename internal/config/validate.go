package config

import (
	"fmt"
	"strings"
	"time"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("configuration validation failed:\n")
	for _, err := range e {
		sb.WriteString("  - ")
		sb.WriteString(err.Error())
		sb.WriteString("\n")
	}
	return sb.String()
}

func Validate(cfg *Config) error {
	var errs ValidationErrors

	errs = append(errs, validateStore(&cfg.Store)...)
	errs = append(errs, validateMonitor(&cfg.Monitor)...)
	errs = append(errs, validateHistory(&cfg.History)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// ValidateCredentials checks the settings monitoring cannot start without.
// Kept separate from Validate so config files can be loaded and inspected
// before credentials are present.
func ValidateCredentials(cfg *StoreConfig) error {
	var errs ValidationErrors

	if cfg.Bucket == "" {
		errs = append(errs, ValidationError{
			Field:   "store.bucket",
			Message: "required",
		})
	}
	if cfg.Region == "" {
		errs = append(errs, ValidationError{
			Field:   "store.region",
			Message: "required",
		})
	}
	if cfg.AccessKeyID == "" {
		errs = append(errs, ValidationError{
			Field:   "store.access_key_id",
			Message: "required",
		})
	}
	if cfg.SecretAccessKey == "" {
		errs = append(errs, ValidationError{
			Field:   "store.secret_access_key",
			Message: "required",
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateStore(cfg *StoreConfig) ValidationErrors {
	var errs ValidationErrors

	if cfg.RequestTimeout < time.Second {
		errs = append(errs, ValidationError{
			Field:   "store.request_timeout",
			Message: "must be at least 1 second",
		})
	}

	return errs
}

func validateMonitor(cfg *MonitorConfig) ValidationErrors {
	var errs ValidationErrors

	if cfg.Timeout < time.Second {
		errs = append(errs, ValidationError{
			Field:   "monitor.timeout",
			Message: "must be at least 1 second",
		})
	}

	if cfg.CheckInterval < 10*time.Millisecond {
		errs = append(errs, ValidationError{
			Field:   "monitor.check_interval",
			Message: "must be at least 10ms to prevent high CPU usage",
		})
	}

	if cfg.PollInterval < 10*time.Millisecond {
		errs = append(errs, ValidationError{
			Field:   "monitor.poll_interval",
			Message: "must be at least 10ms to avoid hammering the store",
		})
	}

	if cfg.CleanupTimeout < time.Second {
		errs = append(errs, ValidationError{
			Field:   "monitor.cleanup_timeout",
			Message: "must be at least 1 second",
		})
	}

	return errs
}

func validateHistory(cfg *HistoryConfig) ValidationErrors {
	var errs ValidationErrors

	if !cfg.Enabled {
		return errs
	}

	if cfg.Path == "" {
		errs = append(errs, ValidationError{
			Field:   "history.path",
			Message: "required when history is enabled",
		})
	}

	return errs
}

func validateLogging(cfg *LoggingConfig) ValidationErrors {
	var errs ValidationErrors

	validLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLevels[cfg.Level] {
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: "must be one of: trace, debug, info, warn, error, fatal, panic",
		})
	}

	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[cfg.Format] {
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: "must be 'json' or 'console'",
		})
	}

	return errs
}
