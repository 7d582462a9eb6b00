package config

import (
	"fmt"
	"strings"
	"time"
)

// Validate checks the configuration and returns every problem found.
func (c *Config) Validate() []error {
	var errs []error

	if c.Store.Path == "" {
		errs = append(errs, fmt.Errorf("store.path is required"))
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("invalid logging.level: %s (expected: debug, info, warn, error)", c.Logging.Level))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("invalid logging.format: %s (expected: json, text)", c.Logging.Format))
	}

	switch c.Sandbox.Mode {
	case "local":
	case "docker":
		if c.Sandbox.Image == "" {
			errs = append(errs, fmt.Errorf("sandbox.image is required when sandbox.mode is 'docker'"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid sandbox.mode: %s (expected: local, docker)", c.Sandbox.Mode))
	}

	if c.Telegram.Enabled && c.Telegram.Token == "" {
		errs = append(errs, fmt.Errorf("telegram.token is required when telegram is enabled"))
	}

	if c.Workers.PoolSize < 0 {
		errs = append(errs, fmt.Errorf("workers.pool_size must not be negative"))
	}
	if c.Scheduler.RetryInitialDelay != "" {
		if _, err := time.ParseDuration(c.Scheduler.RetryInitialDelay); err != nil {
			errs = append(errs, fmt.Errorf("invalid scheduler.retry_initial_delay: %w", err))
		}
	}
	if c.Provider.Temperature < 0 || c.Provider.Temperature > 2 {
		errs = append(errs, fmt.Errorf("provider.temperature must be between 0 and 2"))
	}
	return errs
}

// RetryInitialDelayDuration parses the configured delay, zero when unset.
func (c SchedulerConfig) RetryInitialDelayDuration() time.Duration {
	if c.RetryInitialDelay == "" {
		return 0
	}
	d, err := time.ParseDuration(c.RetryInitialDelay)
	if err != nil {
		return 0
	}
	return d
}
