// Package config loads and validates the daemon configuration. TOML files
// carry the base configuration; ${VAR} and ${VAR:default} references are
// expanded from the environment, and NIGHTSHIFT_* variables override
// individual sections.
package config

import "github.com/nightshift-run/nightshift/internal/workers"

// Config is the full daemon configuration.
type Config struct {
	Store     StoreConfig     `toml:"store"`
	Provider  ProviderConfig  `toml:"provider"`
	Executor  ExecutorConfig  `toml:"executor"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Workers   WorkersConfig   `toml:"workers"`
	Policy    PolicyConfig    `toml:"policy"`
	Sandbox   SandboxConfig   `toml:"sandbox"`
	Telegram  TelegramConfig  `toml:"telegram"`
	Metrics   MetricsConfig   `toml:"metrics"`
	Logging   LoggingConfig   `toml:"logging"`
}

// StoreConfig locates the SQLite database.
type StoreConfig struct {
	Path string `toml:"path" envconfig:"PATH"`
}

// ProviderConfig configures the LLM backend.
type ProviderConfig struct {
	APIKey             string  `toml:"api_key" envconfig:"API_KEY"`
	BaseURL            string  `toml:"base_url" envconfig:"BASE_URL"`
	Model              string  `toml:"model" envconfig:"MODEL"`
	Temperature        float64 `toml:"temperature"`
	MaxTokens          int     `toml:"max_tokens"`
	RequestsPerMinute  int     `toml:"requests_per_minute"`
	CostPerInputToken  float64 `toml:"cost_per_input_token"`
	CostPerOutputToken float64 `toml:"cost_per_output_token"`
}

// ExecutorConfig tunes run execution.
type ExecutorConfig struct {
	RunTimeoutSec  int `toml:"run_timeout_sec"`
	MaxSteps       int `toml:"max_steps"`
	ToolTimeoutSec int `toml:"tool_timeout_sec"`
}

// SchedulerConfig tunes the scheduling loop and retry policy.
type SchedulerConfig struct {
	TickIntervalMs    int     `toml:"tick_interval_ms"`
	RetryMaxAttempts  int     `toml:"retry_max_attempts"`
	RetryInitialDelay string  `toml:"retry_initial_delay"`
	RetryMultiplier   float64 `toml:"retry_multiplier"`
}

// WorkersConfig sizes the run pool.
type WorkersConfig struct {
	PoolSize  int `toml:"pool_size" envconfig:"POOL_SIZE"`
	QueueSize int `toml:"queue_size" envconfig:"QUEUE_SIZE"`
}

// PolicyConfig locates the command policy file. Empty means built-in
// defaults.
type PolicyConfig struct {
	Path string `toml:"path" envconfig:"PATH"`
}

// SandboxConfig selects where shell commands run.
type SandboxConfig struct {
	// Mode is "local" or "docker".
	Mode    string `toml:"mode" envconfig:"MODE"`
	Image   string `toml:"image"`
	WorkDir string `toml:"work_dir"`
}

// TelegramConfig configures the Telegram notification channel.
type TelegramConfig struct {
	Enabled bool   `toml:"enabled"`
	Token   string `toml:"token" envconfig:"TOKEN"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr" envconfig:"ADDR"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level  string `toml:"level" envconfig:"LEVEL"`
	Format string `toml:"format" envconfig:"FORMAT"`
	Output string `toml:"output" envconfig:"OUTPUT"`
}

func applyDefaults(c *Config) {
	if c.Store.Path == "" {
		c.Store.Path = "nightshift.db"
	}
	if c.Provider.BaseURL == "" {
		c.Provider.BaseURL = "https://api.openai.com/v1"
	}
	if c.Provider.Model == "" {
		c.Provider.Model = "gpt-4o-mini"
	}
	if c.Provider.MaxTokens == 0 {
		c.Provider.MaxTokens = 4096
	}
	if c.Executor.RunTimeoutSec == 0 {
		c.Executor.RunTimeoutSec = 300
	}
	if c.Executor.MaxSteps == 0 {
		c.Executor.MaxSteps = 20
	}
	if c.Executor.ToolTimeoutSec == 0 {
		c.Executor.ToolTimeoutSec = 60
	}
	if c.Scheduler.TickIntervalMs == 0 {
		c.Scheduler.TickIntervalMs = 1000
	}
	if c.Workers.PoolSize == 0 {
		c.Workers.PoolSize = workers.DefaultPoolSize
	}
	if c.Workers.QueueSize == 0 {
		c.Workers.QueueSize = workers.DefaultQueueSize
	}
	if c.Sandbox.Mode == "" {
		c.Sandbox.Mode = "local"
	}
	if c.Sandbox.Image == "" {
		c.Sandbox.Image = "alpine:3.20"
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9090"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}
}
