// Package config loads gateway configuration from a YAML file with
// environment overrides for credentials, so secrets can stay out of the
// file handed to operators.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/gestock/dbgate/internal/dbconfig"
	"github.com/gestock/dbgate/internal/logging"
)

// Environment variables recognized by Load. Credentials always win over
// the file.
const (
	EnvListen      = "DBGATE_LISTEN"
	EnvLogLevel    = "DBGATE_LOG_LEVEL"
	EnvLogFormat   = "DBGATE_LOG_FORMAT"
	EnvHistoryPath = "DBGATE_HISTORY_PATH"
	EnvPassword    = "DBGATE_BACKEND_PASSWORD"
	EnvAPIKey      = "DBGATE_BACKEND_API_KEY"
)

// Config is the full gateway configuration.
type Config struct {
	Listen      string          `yaml:"listen"`
	LogLevel    string          `yaml:"log_level"`
	LogFormat   string          `yaml:"log_format"`
	HistoryPath string          `yaml:"history_path"`
	Backend     dbconfig.Config `yaml:"backend"`
}

// Default returns the configuration used when no file is given: an RPC
// backend, text logs at info, serving on :8080.
func Default() Config {
	return Config{
		Listen:      ":8080",
		LogLevel:    "info",
		LogFormat:   "text",
		HistoryPath: "dbgate-history.db",
		Backend:     dbconfig.Config{Kind: dbconfig.KindRPC},
	}
}

// Load reads the file at path (optional), applies environment overrides
// and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	applyEnv(&cfg)

	if _, err := logging.ParseLevel(cfg.LogLevel); err != nil {
		return Config{}, fmt.Errorf("config log_level: %w", err)
	}
	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		return Config{}, fmt.Errorf("config log_format must be text or json, got %q", cfg.LogFormat)
	}
	cfg.Backend = cfg.Backend.Normalize()
	if err := cfg.Backend.Validate(); err != nil {
		return Config{}, fmt.Errorf("config backend: %w", err)
	}
	return cfg, nil
}

// ApplyLogging configures the process logger from the loaded settings.
func (c Config) ApplyLogging() {
	if lvl, err := logging.ParseLevel(c.LogLevel); err == nil {
		logging.SetLevel(lvl)
	}
	logging.SetFormat(c.LogFormat)
}

func applyEnv(cfg *Config) {
	if v := os.Getenv(EnvListen); v != "" {
		cfg.Listen = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv(EnvLogFormat); v != "" {
		cfg.LogFormat = v
	}
	if v := os.Getenv(EnvHistoryPath); v != "" {
		cfg.HistoryPath = v
	}
	if v := os.Getenv(EnvPassword); v != "" {
		cfg.Backend.Password = v
	}
	if v := os.Getenv(EnvAPIKey); v != "" {
		cfg.Backend.APIKey = v
	}
}
