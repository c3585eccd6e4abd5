package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnvOverrides(t *testing.T) {
	t.Run("database path and driver", func(t *testing.T) {
		clearEnv(t)
		t.Setenv(EnvDB, "/tmp/other.db")
		t.Setenv(EnvDBDriver, "sqlite")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, "/tmp/other.db", cfg.Storage.Path)
		assert.Equal(t, "sqlite", cfg.Storage.Driver)
	})

	t.Run("log level is lowercased", func(t *testing.T) {
		clearEnv(t)
		t.Setenv(EnvLogLevel, "DEBUG")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, "debug", cfg.Logging.Level)
	})

	t.Run("min confidence parses", func(t *testing.T) {
		clearEnv(t)
		t.Setenv(EnvMinConfidence, "0.42")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.InDelta(t, 0.42, cfg.Constraints.MinConfidenceThreshold, 1e-9)
	})

	t.Run("unparseable min confidence is ignored", func(t *testing.T) {
		clearEnv(t)
		t.Setenv(EnvMinConfidence, "high")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.InDelta(t, 0.7, cfg.Constraints.MinConfidenceThreshold, 1e-9)
	})

	t.Run("metrics addr enables metrics", func(t *testing.T) {
		clearEnv(t)
		t.Setenv(EnvMetricsAddr, "127.0.0.1:9999")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.True(t, cfg.Metrics.Enabled)
		assert.Equal(t, "127.0.0.1:9999", cfg.Metrics.Addr)
	})

	t.Run("empty values leave config alone", func(t *testing.T) {
		clearEnv(t)

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, DefaultConfig(), cfg)
	})
}
