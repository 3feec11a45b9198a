// Package config provides configuration loading for retrieverd.
//
// Configuration precedence (highest to lowest): environment variables,
// YAML config file, hardcoded defaults.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the complete retrieverd configuration.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Store      StoreConfig      `koanf:"store"`
	Embeddings EmbeddingsConfig `koanf:"embeddings"`
	Scoring    ScoringConfig    `koanf:"scoring"`
	Decay      DecayConfig      `koanf:"decay"`
	Logging    LoggingConfig    `koanf:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// StoreConfig holds SQLite store configuration.
type StoreConfig struct {
	Path string `koanf:"path"`
}

// EmbeddingsConfig holds embedding provider configuration.
type EmbeddingsConfig struct {
	// Provider is "fastembed" (local ONNX) or "tei" (HTTP).
	Provider string `koanf:"provider"`
	Model    string `koanf:"model"`
	BaseURL  string `koanf:"base_url"`
	CacheDir string `koanf:"cache_dir"`
}

// ScoringConfig exposes the ranking constants as configuration.
type ScoringConfig struct {
	ImportanceWeight        float64       `koanf:"importance_weight"`
	RecencyWeight           float64       `koanf:"recency_weight"`
	EmphasizedRecencyWeight float64       `koanf:"emphasized_recency_weight"`
	RecencyBoostWeight      float64       `koanf:"recency_boost_weight"`
	RecencyHorizon          time.Duration `koanf:"recency_horizon"`
	Oversample              int           `koanf:"oversample"`
	DefaultLimit            int           `koanf:"default_limit"`
}

// DecayConfig holds nightly decay scheduling configuration.
type DecayConfig struct {
	Enabled  bool          `koanf:"enabled"`
	Interval time.Duration `koanf:"interval"`
}

// LoggingConfig holds logger configuration.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `koanf:"level"`
	// Format is json or console.
	Format string `koanf:"format"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}
	if c.Store.Path == "" {
		return errors.New("store path required")
	}
	switch c.Embeddings.Provider {
	case "fastembed", "tei":
	default:
		return fmt.Errorf("unknown embeddings provider: %q", c.Embeddings.Provider)
	}
	if c.Embeddings.Provider == "tei" && c.Embeddings.BaseURL == "" {
		return errors.New("embeddings base_url required for tei provider")
	}
	if c.Scoring.ImportanceWeight < 0 || c.Scoring.RecencyWeight < 0 ||
		c.Scoring.EmphasizedRecencyWeight < 0 || c.Scoring.RecencyBoostWeight < 0 {
		return errors.New("scoring weights must be non-negative")
	}
	if c.Scoring.RecencyHorizon <= 0 {
		return errors.New("recency horizon must be positive")
	}
	if c.Scoring.Oversample < 1 {
		return errors.New("oversample must be at least 1")
	}
	if c.Decay.Enabled && c.Decay.Interval <= 0 {
		return errors.New("decay interval must be positive when decay is enabled")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level: %q", c.Logging.Level)
	}
	return nil
}
