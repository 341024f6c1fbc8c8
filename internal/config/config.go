// Package config loads and validates application configuration from
// environment variables and an optional YAML file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/edgelight/edgelight/internal/deliver"
)

// Config holds all application configuration.
type Config struct {
	// CDN API settings.
	APIBaseURL   string
	APIAccessKey string
	APITimeout   time.Duration

	// HTTP server settings. Port 0 disables the operational HTTP surface
	// and the server runs MCP over stdio only.
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Observability settings.
	ServiceName      string
	Version          string
	MetricMaxHistory int
	PushInterval     time.Duration
	CheckInterval    time.Duration
	DiagInterval     time.Duration
	ExportInterval   time.Duration
	MaxTraces        int
	MaxEvents        int
	TraceRetention   time.Duration

	// OTEL settings.
	OTELEndpoint string
	OTELInsecure bool

	// Operational settings.
	LogLevel string

	// File holds the optional YAML configuration (push targets, export
	// destinations, alert thresholds).
	File FileConfig
}

// FileConfig is the shape of the optional EDGELIGHT_CONFIG_FILE YAML file.
type FileConfig struct {
	PushTargets  []PushTargetConfig  `yaml:"push_targets"`
	Destinations []DestinationConfig `yaml:"destinations"`
	Alerts       AlertConfig         `yaml:"alerts"`
}

// PushTargetConfig declares an endpoint the metric registry pushes to.
type PushTargetConfig struct {
	Name   string             `yaml:"name"`
	URL    string             `yaml:"url"`
	Format string             `yaml:"format"`
	Auth   deliver.AuthConfig `yaml:"auth"`
}

// DestinationConfig declares a telemetry export destination.
type DestinationConfig struct {
	Name   string             `yaml:"name"`
	URL    string             `yaml:"url"`
	Format string             `yaml:"format"`
	Auth   deliver.AuthConfig `yaml:"auth"`
}

// AlertConfig tunes the built-in alert thresholds.
type AlertConfig struct {
	MemoryWarnBytes uint64   `yaml:"memory_warn_bytes"`
	MemoryCritBytes uint64   `yaml:"memory_crit_bytes"`
	LagWarn         Duration `yaml:"lag_warn"`
	LagCrit         Duration `yaml:"lag_crit"`
	MaxAlerts       int      `yaml:"max_alerts"`
}

// Duration wraps time.Duration so YAML values like "25ms" parse.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Load reads configuration from environment variables with sensible defaults,
// then merges the optional YAML file named by EDGELIGHT_CONFIG_FILE.
func Load() (Config, error) {
	cfg := Config{
		APIBaseURL:       envStr("EDGELIGHT_API_BASE_URL", "https://api.bunny.net"),
		APIAccessKey:     envStr("EDGELIGHT_API_ACCESS_KEY", ""),
		APITimeout:       envDuration("EDGELIGHT_API_TIMEOUT", 30*time.Second),
		Port:             envInt("EDGELIGHT_PORT", 0),
		ReadTimeout:      envDuration("EDGELIGHT_READ_TIMEOUT", 30*time.Second),
		WriteTimeout:     envDuration("EDGELIGHT_WRITE_TIMEOUT", 30*time.Second),
		ServiceName:      envStr("EDGELIGHT_SERVICE_NAME", "edgelight"),
		Version:          envStr("EDGELIGHT_VERSION", "dev"),
		MetricMaxHistory: envInt("EDGELIGHT_METRIC_MAX_HISTORY", 1000),
		PushInterval:     envDuration("EDGELIGHT_PUSH_INTERVAL", 0),
		CheckInterval:    envDuration("EDGELIGHT_CHECK_INTERVAL", 30*time.Second),
		DiagInterval:     envDuration("EDGELIGHT_DIAG_INTERVAL", time.Minute),
		ExportInterval:   envDuration("EDGELIGHT_EXPORT_INTERVAL", 0),
		MaxTraces:        envInt("EDGELIGHT_MAX_TRACES", 500),
		MaxEvents:        envInt("EDGELIGHT_MAX_EVENTS", 1000),
		TraceRetention:   envDuration("EDGELIGHT_TRACE_RETENTION", 30*time.Minute),
		OTELEndpoint:     envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTELInsecure:     envBool("OTEL_EXPORTER_OTLP_INSECURE", false),
		LogLevel:         envStr("EDGELIGHT_LOG_LEVEL", "info"),
	}

	if path := envStr("EDGELIGHT_CONFIG_FILE", ""); path != "" {
		fc, err := LoadFile(path)
		if err != nil {
			return Config{}, err
		}
		cfg.File = fc
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFile parses a YAML configuration file.
func LoadFile(path string) (FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return FileConfig{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	var fc FileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return FileConfig{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := fc.validate(); err != nil {
		return FileConfig{}, fmt.Errorf("config: %s: %w", path, err)
	}
	return fc, nil
}

// Validate checks that configuration values are usable.
func (c Config) Validate() error {
	if c.MetricMaxHistory <= 0 {
		return fmt.Errorf("config: EDGELIGHT_METRIC_MAX_HISTORY must be positive")
	}
	if c.MaxTraces <= 0 {
		return fmt.Errorf("config: EDGELIGHT_MAX_TRACES must be positive")
	}
	if c.MaxEvents <= 0 {
		return fmt.Errorf("config: EDGELIGHT_MAX_EVENTS must be positive")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: EDGELIGHT_LOG_LEVEL %q is not one of debug, info, warn, error", c.LogLevel)
	}
	return nil
}

func (fc FileConfig) validate() error {
	for _, t := range fc.PushTargets {
		if t.Name == "" || t.URL == "" {
			return fmt.Errorf("push target requires name and url")
		}
		if err := validFormat(t.Format); err != nil {
			return fmt.Errorf("push target %s: %w", t.Name, err)
		}
	}
	for _, d := range fc.Destinations {
		if d.Name == "" || d.URL == "" {
			return fmt.Errorf("destination requires name and url")
		}
		if err := validFormat(d.Format); err != nil {
			return fmt.Errorf("destination %s: %w", d.Name, err)
		}
	}
	return nil
}

func validFormat(f string) error {
	switch f {
	case "prometheus", "json", "otel":
		return nil
	default:
		return fmt.Errorf("unknown format %q", f)
	}
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
