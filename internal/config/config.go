package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/kelseyhightower/envconfig"
)

// Load reads a TOML configuration file, applies defaults, expands
// environment references, and applies NIGHTSHIFT_* overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return finish(&cfg)
}

// Default returns a configuration with only defaults and environment
// overrides applied, for running without a config file.
func Default() (*Config, error) {
	return finish(&Config{})
}

func finish(cfg *Config) (*Config, error) {
	applyDefaults(cfg)
	expandEnvVars(cfg)

	if err := applyOverrides(cfg); err != nil {
		return nil, fmt.Errorf("apply environment overrides: %w", err)
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("invalid configuration: %w", errs[0])
	}
	return cfg, nil
}

// applyOverrides maps NIGHTSHIFT_<SECTION>_<FIELD> variables onto the
// config sections.
func applyOverrides(cfg *Config) error {
	sections := []struct {
		prefix string
		target any
	}{
		{"NIGHTSHIFT_STORE", &cfg.Store},
		{"NIGHTSHIFT_PROVIDER", &cfg.Provider},
		{"NIGHTSHIFT_WORKERS", &cfg.Workers},
		{"NIGHTSHIFT_POLICY", &cfg.Policy},
		{"NIGHTSHIFT_SANDBOX", &cfg.Sandbox},
		{"NIGHTSHIFT_TELEGRAM", &cfg.Telegram},
		{"NIGHTSHIFT_METRICS", &cfg.Metrics},
		{"NIGHTSHIFT_LOG", &cfg.Logging},
	}
	for _, s := range sections {
		if err := envconfig.Process(s.prefix, s.target); err != nil {
			return err
		}
	}
	return nil
}

func expandEnvVars(c *Config) {
	c.Provider.APIKey = expandEnv(c.Provider.APIKey)
	c.Telegram.Token = expandEnv(c.Telegram.Token)
	c.Store.Path = expandHome(expandEnv(c.Store.Path))
	c.Policy.Path = expandHome(expandEnv(c.Policy.Path))
	c.Sandbox.WorkDir = expandHome(expandEnv(c.Sandbox.WorkDir))
}

// expandEnv resolves ${VAR} and ${VAR:default} references.
func expandEnv(s string) string {
	if !strings.HasPrefix(s, "${") {
		return s
	}
	end := strings.Index(s, "}")
	if end == -1 {
		return s
	}

	content := s[2:end]
	if key, def, ok := strings.Cut(content, ":"); ok {
		if val := os.Getenv(key); val != "" {
			return val
		}
		return def
	}
	return os.Getenv(content)
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
