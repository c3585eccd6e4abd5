// Package config loads the learning pipeline's YAML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/DavinciDreams/Megawatts-sub008/internal/types"
)

// Environment overrides.
const (
	EnvDB            = "MEGAWATTS_DB"
	EnvDBDriver      = "MEGAWATTS_DB_DRIVER"
	EnvLogLevel      = "MEGAWATTS_LOG_LEVEL"
	EnvMinConfidence = "MEGAWATTS_MIN_CONFIDENCE"
	EnvMetricsAddr   = "MEGAWATTS_METRICS_ADDR"
)

// Config holds all learning pipeline configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name" validate:"required"`
	Version string `yaml:"version"`

	// Policy shared by every learning component
	Constraints types.LearningConstraints `yaml:"constraints"`

	// Repository backend
	Storage StorageConfig `yaml:"storage"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`

	// Per-component limits
	Recognizer RecognizerConfig `yaml:"recognizer"`
	Behavior   BehaviorConfig   `yaml:"behavior"`
	Knowledge  KnowledgeConfig  `yaml:"knowledge"`

	// Prometheus exposition
	Metrics MetricsConfig `yaml:"metrics"`

	// Long-running ingestion
	Serve ServeConfig `yaml:"serve"`
}

// StorageConfig selects the repository backend.
type StorageConfig struct {
	Driver string `yaml:"driver" validate:"omitempty,oneof=sqlite3 sqlite memory mem"` // empty = sqlite3
	Path   string `yaml:"path"`
}

// InMemory reports whether the driver keeps no state on disk.
func (s StorageConfig) InMemory() bool {
	return s.Driver == "memory" || s.Driver == "mem"
}

// MetricsConfig configures the /metrics endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr" validate:"required_if=Enabled true"`
}

// ServeConfig configures batched cycles in `learn serve`.
type ServeConfig struct {
	BatchSize     int    `yaml:"batch_size" validate:"gte=1"`
	FlushInterval string `yaml:"flush_interval"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:        "megawatts-learning",
		Version:     "0.3.0",
		Constraints: types.DefaultConstraints(),

		Storage: StorageConfig{
			Driver: "sqlite3",
			Path:   "data/learning.db",
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},

		Recognizer: RecognizerConfig{
			BufferSoftCap: 10000,
			BufferTrimTo:  5000,
			MaxExamples:   5,
			MaxInsights:   10,
		},
		Behavior: BehaviorConfig{
			HistoryCap:    1000,
			HistoryTrimTo: 500,
		},
		Knowledge: KnowledgeConfig{
			AuditCap:    5000,
			AuditTrimTo: 2500,
		},

		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    ":9464",
		},

		Serve: ServeConfig{
			BatchSize:     100,
			FlushInterval: "30s",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults; environment overrides apply either way.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
		// defaults
	default:
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if path := os.Getenv(EnvDB); path != "" {
		c.Storage.Path = path
	}
	if driver := os.Getenv(EnvDBDriver); driver != "" {
		c.Storage.Driver = driver
	}
	if level := os.Getenv(EnvLogLevel); level != "" {
		c.Logging.Level = strings.ToLower(level)
	}
	if v := os.Getenv(EnvMinConfidence); v != "" {
		// Unparseable values are ignored.
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Constraints.MinConfidenceThreshold = f
		}
	}
	if addr := os.Getenv(EnvMetricsAddr); addr != "" {
		c.Metrics.Addr = addr
		c.Metrics.Enabled = true
	}
}

var structValidator = validator.New()

// Validate checks struct tags and cross-field limits.
func (c *Config) Validate() error {
	if err := structValidator.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if !c.Storage.InMemory() && c.Storage.Path == "" {
		return fmt.Errorf("invalid config: storage.path is required for driver %q", c.Storage.Driver)
	}
	if c.Recognizer.BufferTrimTo > c.Recognizer.BufferSoftCap {
		return fmt.Errorf("invalid config: recognizer.buffer_trim_to (%d) exceeds buffer_soft_cap (%d)",
			c.Recognizer.BufferTrimTo, c.Recognizer.BufferSoftCap)
	}
	if c.Behavior.HistoryTrimTo > c.Behavior.HistoryCap {
		return fmt.Errorf("invalid config: behavior.history_trim_to (%d) exceeds history_cap (%d)",
			c.Behavior.HistoryTrimTo, c.Behavior.HistoryCap)
	}
	if c.Knowledge.AuditTrimTo > c.Knowledge.AuditCap {
		return fmt.Errorf("invalid config: knowledge.audit_trim_to (%d) exceeds audit_cap (%d)",
			c.Knowledge.AuditTrimTo, c.Knowledge.AuditCap)
	}
	if _, err := time.ParseDuration(c.Serve.FlushInterval); err != nil {
		return fmt.Errorf("invalid config: serve.flush_interval: %w", err)
	}
	return nil
}

// GetFlushInterval returns the serve flush interval as a duration.
func (c *Config) GetFlushInterval() time.Duration {
	d, err := time.ParseDuration(c.Serve.FlushInterval)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}
