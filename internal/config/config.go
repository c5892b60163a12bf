// Package config loads the server configuration.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/zeno-ml/zeno-hub-sub000/internal/slicefinder"
	"github.com/zeno-ml/zeno-hub-sub000/internal/store"
)

type Config struct {
	Server      ServerConfig        `yaml:"server"`
	Store       store.Config        `yaml:"store"`
	Engine      EngineConfig        `yaml:"engine"`
	SliceFinder slicefinder.Options `yaml:"slice_finder"`
	Log         LogConfig           `yaml:"log"`
}

type ServerConfig struct {
	Port           string        `yaml:"port"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

type EngineConfig struct {
	HistogramParallelism int `yaml:"histogram_parallelism"`
	CatalogCacheSize     int `yaml:"catalog_cache_size"`
	MaxFilterDepth       int `yaml:"max_filter_depth"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used for absent keys.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:           "8001",
			AllowedOrigins: []string{"http://localhost:3000", "http://127.0.0.1:3000"},
			RequestTimeout: 30 * time.Second,
		},
		Store: store.Config{
			Driver:          "postgres",
			Host:            "localhost",
			Port:            5432,
			User:            "postgres",
			DBName:          "zeno",
			SSLMode:         "disable",
			MaxOpenConns:    16,
			MaxIdleConns:    4,
			ConnMaxIdleTime: 5 * time.Minute,
		},
		Engine: EngineConfig{
			HistogramParallelism: 4,
			CatalogCacheSize:     128,
			MaxFilterDepth:       32,
		},
		SliceFinder: slicefinder.DefaultOptions(),
		Log:         LogConfig{Level: "info", Format: "logfmt"},
	}
}

// Load reads the YAML file at path over the defaults and applies the
// environment overrides. An empty path only uses defaults and env.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, errors.Wrap(err, "failed to read config file")
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, errors.Wrapf(err, "failed to parse config file %s", path)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if port := os.Getenv("PORT"); port != "" {
		c.Server.Port = port
	}
	if pw := os.Getenv("ZENO_DB_PASSWORD"); pw != "" {
		c.Store.Password = pw
	}
	if host := os.Getenv("ZENO_DB_HOST"); host != "" {
		c.Store.Host = host
	}
	if port := os.Getenv("ZENO_DB_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return errors.Wrap(err, "ZENO_DB_PORT")
		}
		c.Store.Port = p
	}
	return nil
}

// Validate rejects settings the server cannot start with.
func (c Config) Validate() error {
	switch c.Store.Driver {
	case "postgres":
	case "sqlite":
		if c.Store.Path == "" {
			return errors.New("store.path is required for the sqlite driver")
		}
	default:
		return errors.Errorf("unknown store driver %q", c.Store.Driver)
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return errors.Errorf("unknown log level %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "logfmt", "json":
	default:
		return errors.Errorf("unknown log format %q", c.Log.Format)
	}

	if c.Server.RequestTimeout <= 0 {
		return errors.New("server.request_timeout must be positive")
	}
	if a := c.SliceFinder.DefaultAlpha; a <= 0 || a > 1 {
		return errors.Errorf("slice_finder.default_alpha must be in (0, 1], got %v", a)
	}
	return nil
}
