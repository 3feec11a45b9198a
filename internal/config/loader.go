package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "RETRIEVERD_"

// Load loads configuration from a YAML file, then overrides with
// RETRIEVERD_* environment variables.
//
// Environment variables map section and field with underscores:
//
//	RETRIEVERD_SERVER_PORT           -> server.port
//	RETRIEVERD_EMBEDDINGS_BASE_URL   -> embeddings.base_url
//	RETRIEVERD_SCORING_DEFAULT_LIMIT -> scoring.default_limit
//
// The configPath parameter names the YAML file; empty uses the default
// path (~/.config/retrieverd/config.yaml). A missing file is not an
// error; defaults apply.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("get home dir: %w", err)
		}
		configPath = filepath.Join(home, ".config", "retrieverd", "config.yaml")
	}

	if content, err := os.ReadFile(configPath); err == nil {
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", configPath, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config file %s: %w", configPath, err)
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		// RETRIEVERD_SERVER_PORT -> server.port
		// Split on the first underscore only: the leading token is the
		// section, the remainder keeps its underscores as a field name.
		trimmed := strings.ToLower(strings.TrimPrefix(s, envPrefix))
		parts := strings.SplitN(trimmed, "_", 2)
		if len(parts) == 1 {
			return trimmed
		}
		return parts[0] + "." + parts[1]
	}), nil); err != nil {
		return nil, fmt.Errorf("load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := applyDefaults(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) error {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9190
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}

	if cfg.Store.Path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("get home dir: %w", err)
		}
		cfg.Store.Path = filepath.Join(home, ".config", "retrieverd", "retrieverd.db")
	}

	if cfg.Embeddings.Provider == "" {
		cfg.Embeddings.Provider = "fastembed"
	}
	if cfg.Embeddings.Model == "" {
		cfg.Embeddings.Model = "BAAI/bge-small-en-v1.5"
	}
	if cfg.Embeddings.Provider == "tei" && cfg.Embeddings.BaseURL == "" {
		cfg.Embeddings.BaseURL = "http://localhost:8080"
	}

	if cfg.Scoring.ImportanceWeight == 0 {
		cfg.Scoring.ImportanceWeight = 0.1
	}
	if cfg.Scoring.RecencyWeight == 0 {
		cfg.Scoring.RecencyWeight = 0.05
	}
	if cfg.Scoring.EmphasizedRecencyWeight == 0 {
		cfg.Scoring.EmphasizedRecencyWeight = 0.15
	}
	if cfg.Scoring.RecencyBoostWeight == 0 {
		cfg.Scoring.RecencyBoostWeight = 0.3
	}
	if cfg.Scoring.RecencyHorizon == 0 {
		cfg.Scoring.RecencyHorizon = 30 * 24 * time.Hour
	}
	if cfg.Scoring.Oversample == 0 {
		cfg.Scoring.Oversample = 2
	}
	if cfg.Scoring.DefaultLimit == 0 {
		cfg.Scoring.DefaultLimit = 10
	}

	if cfg.Decay.Interval == 0 {
		cfg.Decay.Interval = 24 * time.Hour
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	return nil
}
