// Package config handles loading, defaulting, and validation of the sightline
// TOML configuration file. Every section maps to a typed struct so the rest
// of the codebase gets strong typing without manual key lookups. Environment
// variables named in the env tags override values from the file.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/pelletier/go-toml/v2"
)

// Config is the top-level configuration, mirroring the TOML sections.
type Config struct {
	Server  ServerConfig  `toml:"server"  json:"server"`
	Logging LoggingConfig `toml:"logging" json:"logging"`
	Storage StorageConfig `toml:"storage" json:"storage"`
	Demo    DemoConfig    `toml:"demo"    json:"demo"`
	Engine  EngineConfig  `toml:"engine"  json:"engine"`
	Tracing TracingConfig `toml:"tracing" json:"tracing"`
}

type ServerConfig struct {
	Bind string `toml:"bind" json:"bind" env:"SIGHTLINE_BIND"`
}

type LoggingConfig struct {
	Level string `toml:"level" json:"level" env:"SIGHTLINE_LOG_LEVEL"`
}

type StorageConfig struct {
	Path           string `toml:"path"             json:"path"             env:"SIGHTLINE_DB_PATH"`
	RecentLimit    int    `toml:"recent_limit"     json:"recent_limit"`
	MaxRecentLimit int    `toml:"max_recent_limit" json:"max_recent_limit"`
}

type DemoConfig struct {
	Enabled         bool `toml:"enabled"          json:"enabled"          env:"SIGHTLINE_DEMO"`
	IntervalSeconds int  `toml:"interval_seconds" json:"interval_seconds"`
}

// EngineConfig holds the engagement engine options. Durations are in
// milliseconds to match the delivery payload's interval_ms convention.
type EngineConfig struct {
	Endpoint            string    `toml:"endpoint"              json:"endpoint"              env:"SIGHTLINE_ENDPOINT"`
	Site                string    `toml:"site"                  json:"site"                  env:"SIGHTLINE_SITE"`
	FlushIntervalMS     int       `toml:"flush_interval_ms"     json:"flush_interval_ms"     env:"SIGHTLINE_FLUSH_INTERVAL_MS"`
	HeartbeatIntervalMS int       `toml:"heartbeat_interval_ms" json:"heartbeat_interval_ms" env:"SIGHTLINE_HEARTBEAT_INTERVAL_MS"`
	IdleTimeoutMS       int       `toml:"idle_timeout_ms"       json:"idle_timeout_ms"       env:"SIGHTLINE_IDLE_TIMEOUT_MS"`
	ScrollThresholds    []float64 `toml:"scroll_thresholds"     json:"scroll_thresholds"     env:"SIGHTLINE_SCROLL_THRESHOLDS" envSeparator:","`
	ViewThresholds      []float64 `toml:"view_thresholds"       json:"view_thresholds"       env:"SIGHTLINE_VIEW_THRESHOLDS"   envSeparator:","`
	MaxBatch            int       `toml:"max_batch"             json:"max_batch"             env:"SIGHTLINE_MAX_BATCH"`
}

type TracingConfig struct {
	Endpoint    string `toml:"endpoint"     json:"endpoint"     env:"SIGHTLINE_OTEL_ENDPOINT"`
	ServiceName string `toml:"service_name" json:"service_name"`
}

// Default returns a Config populated with sane defaults. Values here are
// used whenever the TOML file omits a field.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Bind: "127.0.0.1:8090",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Storage: StorageConfig{
			Path:           "/var/lib/sightline/events.db",
			RecentLimit:    50,
			MaxRecentLimit: 500,
		},
		Demo: DemoConfig{
			Enabled:         false,
			IntervalSeconds: 20,
		},
		Engine: EngineConfig{
			Site:                "demo",
			FlushIntervalMS:     5000,
			HeartbeatIntervalMS: 15000,
			IdleTimeoutMS:       30000,
			ScrollThresholds:    []float64{0.25, 0.5, 0.75, 1},
			ViewThresholds:      []float64{0.25, 0.5, 0.75, 1},
			MaxBatch:            25,
		},
		Tracing: TracingConfig{
			ServiceName: "sightline",
		},
	}
}

// Load reads the TOML file at path, layers it on top of the defaults,
// applies environment overrides, and validates the result. An empty path
// skips the file and uses defaults plus environment.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}

	if err := validate(cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}

func validate(cfg Config) error {
	if cfg.Server.Bind == "" {
		return errors.New("server.bind must not be empty")
	}
	if cfg.Storage.Path == "" {
		return errors.New("storage.path must not be empty")
	}
	if cfg.Storage.RecentLimit < 1 {
		return errors.New("storage.recent_limit must be >= 1")
	}
	if cfg.Storage.MaxRecentLimit < cfg.Storage.RecentLimit {
		return errors.New("storage.max_recent_limit must be >= storage.recent_limit")
	}
	if cfg.Demo.IntervalSeconds < 0 {
		return errors.New("demo.interval_seconds must be >= 0")
	}
	return validateEngine(cfg.Engine)
}

func validateEngine(e EngineConfig) error {
	if e.Endpoint != "" {
		u, err := url.Parse(e.Endpoint)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("engine.endpoint must be an http(s) URL, got %q", e.Endpoint)
		}
	}
	if e.FlushIntervalMS < 0 {
		return errors.New("engine.flush_interval_ms must be >= 0")
	}
	if e.HeartbeatIntervalMS < 0 {
		return errors.New("engine.heartbeat_interval_ms must be >= 0")
	}
	if e.IdleTimeoutMS < 0 {
		return errors.New("engine.idle_timeout_ms must be >= 0")
	}
	if e.MaxBatch < 0 {
		return errors.New("engine.max_batch must be >= 0")
	}
	for _, t := range e.ScrollThresholds {
		if t < 0 || t > 1 {
			return fmt.Errorf("engine.scroll_thresholds: %v is outside [0,1]", t)
		}
	}
	for _, t := range e.ViewThresholds {
		if t < 0 || t > 1 {
			return fmt.Errorf("engine.view_thresholds: %v is outside [0,1]", t)
		}
	}
	return nil
}
