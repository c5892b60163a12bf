package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"PORT", "ZENO_DB_PASSWORD", "ZENO_DB_HOST", "ZENO_DB_PORT"} {
		t.Setenv(k, "")
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, "8001", cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, 20, cfg.SliceFinder.TopK)
	assert.Equal(t, 0.95, cfg.SliceFinder.DefaultAlpha)
}

func TestLoadFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
server:
  port: "9000"
  request_timeout: 45s
store:
  driver: sqlite
  path: /tmp/zeno.db
engine:
  histogram_parallelism: 8
slice_finder:
  top_k: 5
  default_max_lattice: 2
log:
  level: debug
  format: json
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, 45*time.Second, cfg.Server.RequestTimeout)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "/tmp/zeno.db", cfg.Store.Path)
	assert.Equal(t, 8, cfg.Engine.HistogramParallelism)
	assert.Equal(t, 5, cfg.SliceFinder.TopK)
	assert.Equal(t, 2, cfg.SliceFinder.MaxLattice)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)

	// untouched keys keep their defaults
	assert.Equal(t, 128, cfg.Engine.CatalogCacheSize)
	assert.Equal(t, 0.95, cfg.SliceFinder.DefaultAlpha)
	assert.Equal(t, Default().Server.AllowedOrigins, cfg.Server.AllowedOrigins)
}

func TestEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "7000")
	t.Setenv("ZENO_DB_PASSWORD", "secret")
	t.Setenv("ZENO_DB_HOST", "db.internal")
	t.Setenv("ZENO_DB_PORT", "6543")

	cfg, err := Load(writeConfig(t, "server:\n  port: \"9000\"\n"))
	require.NoError(t, err)
	assert.Equal(t, "7000", cfg.Server.Port)
	assert.Equal(t, "secret", cfg.Store.Password)
	assert.Equal(t, "db.internal", cfg.Store.Host)
	assert.Equal(t, 6543, cfg.Store.Port)

	t.Setenv("ZENO_DB_PORT", "not-a-port")
	_, err = Load("")
	assert.ErrorContains(t, err, "ZENO_DB_PORT")
}

func TestLoadErrors(t *testing.T) {
	clearEnv(t)

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read config file")

	_, err = Load(writeConfig(t, "server: [not, a, map"))
	assert.ErrorContains(t, err, "failed to parse config file")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"unknown driver", func(c *Config) { c.Store.Driver = "mysql" }, "unknown store driver"},
		{"sqlite without path", func(c *Config) { c.Store.Driver = "sqlite" }, "store.path"},
		{"log level", func(c *Config) { c.Log.Level = "verbose" }, "unknown log level"},
		{"log format", func(c *Config) { c.Log.Format = "xml" }, "unknown log format"},
		{"timeout", func(c *Config) { c.Server.RequestTimeout = 0 }, "request_timeout"},
		{"alpha zero", func(c *Config) { c.SliceFinder.DefaultAlpha = 0 }, "default_alpha"},
		{"alpha above one", func(c *Config) { c.SliceFinder.DefaultAlpha = 1.5 }, "default_alpha"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.errMsg)
		})
	}

	cfg := Default()
	cfg.Log.Level = "WARN"
	assert.NoError(t, cfg.Validate())
}
