package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigError is a fatal startup misconfiguration. Errors of this type must
// prevent the process from starting; everything else is recovered at runtime.
type ConfigError struct {
	Field string
	Msg   string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return e.Msg
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Msg)
}

// Config is the top-level configuration document.
type Config struct {
	WatchDir        string        `yaml:"watchDir" json:"watchDir"`
	FileSuffix      string        `yaml:"fileSuffix,omitempty" json:"fileSuffix,omitempty"`
	DebounceMs      int           `yaml:"debounceMs,omitempty" json:"debounceMs,omitempty"`
	EnableBuffering bool          `yaml:"enableBuffering,omitempty" json:"enableBuffering,omitempty"`
	StateFile       string        `yaml:"stateFile,omitempty" json:"stateFile,omitempty"`
	MaxRetries      int           `yaml:"maxRetries,omitempty" json:"maxRetries,omitempty"`
	Logging         LoggingConfig `yaml:"logging,omitempty" json:"logging,omitempty"`

	Filters   []PluginConfig   `yaml:"filters,omitempty" json:"filters,omitempty"`
	Outputs   []PluginConfig   `yaml:"outputs,omitempty" json:"outputs,omitempty"`
	Pipelines []PipelineConfig `yaml:"pipelines,omitempty" json:"pipelines,omitempty"`

	GlobalFilters []string `yaml:"globalFilters,omitempty" json:"globalFilters,omitempty"`
	GlobalOutputs []string `yaml:"globalOutputs,omitempty" json:"globalOutputs,omitempty"`

	Metrics    *MetricsConfig    `yaml:"metrics,omitempty" json:"metrics,omitempty"`
	Health     *HealthConfig     `yaml:"health,omitempty" json:"health,omitempty"`
	Tracing    *TracingConfig    `yaml:"tracing,omitempty" json:"tracing,omitempty"`
	DeadLetter *DeadLetterConfig `yaml:"deadLetter,omitempty" json:"deadLetter,omitempty"`
}

// LoggingConfig defines logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level,omitempty" json:"level,omitempty"`
	Format string `yaml:"format,omitempty" json:"format,omitempty"` // json or console
}

// PluginConfig declares one filter or output plugin instance. Kind selects
// the factory from the compile-time registration table; Options is passed to
// the factory untouched.
type PluginConfig struct {
	Name    string         `yaml:"name" json:"name"`
	Kind    string         `yaml:"kind" json:"kind"`
	Options map[string]any `yaml:"options,omitempty" json:"options,omitempty"`
}

// OptionsJSON returns the plugin options re-encoded as JSON for factory
// consumption, so factories decode into their own typed config structs.
func (p PluginConfig) OptionsJSON() ([]byte, error) {
	if p.Options == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(p.Options)
}

// PipelineConfig declares one routing rule. Filter and Filters are merged;
// an empty conjunction always passes.
type PipelineConfig struct {
	Name    string   `yaml:"name" json:"name"`
	Filter  string   `yaml:"filter,omitempty" json:"filter,omitempty"`
	Filters []string `yaml:"filters,omitempty" json:"filters,omitempty"`
	Outputs []string `yaml:"outputs" json:"outputs"`
}

// FilterNames returns the full filter conjunction in declaration order.
func (p PipelineConfig) FilterNames() []string {
	var names []string
	if p.Filter != "" {
		names = append(names, p.Filter)
	}
	return append(names, p.Filters...)
}

// MetricsConfig holds prometheus exposition configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Address string `yaml:"address,omitempty" json:"address,omitempty"`
	Path    string `yaml:"path,omitempty" json:"path,omitempty"`
}

// HealthConfig holds health check endpoint configuration
type HealthConfig struct {
	Enabled   bool   `yaml:"enabled" json:"enabled"`
	Address   string `yaml:"address,omitempty" json:"address,omitempty"`
	TimeoutMs int    `yaml:"timeoutMs,omitempty" json:"timeoutMs,omitempty"`
}

// Timeout returns the configured per-check timeout as a duration, zero
// when unset.
func (h *HealthConfig) Timeout() time.Duration {
	return time.Duration(h.TimeoutMs) * time.Millisecond
}

// TracingConfig holds OpenTelemetry configuration
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled" json:"enabled"`
	Endpoint   string  `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	SampleRate float64 `yaml:"sampleRate,omitempty" json:"sampleRate,omitempty"`
}

// DeadLetterConfig holds dead letter queue configuration
type DeadLetterConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Dir     string `yaml:"dir,omitempty" json:"dir,omitempty"`
	MaxSize int64  `yaml:"maxSize,omitempty" json:"maxSize,omitempty"`
}

// Default values
const (
	DefaultFileSuffix = ".jsonl"
	DefaultDebounceMs = 1000
	DefaultMaxRetries = 3
	DefaultLogLevel   = "info"
	DefaultLogFormat  = "json"
)

// Load reads a configuration document from path. Both JSON and YAML are
// accepted; environment variables in the document are expanded before
// parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := []byte(os.ExpandEnv(string(data)))

	var cfg Config
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(expanded, &cfg)
	default:
		err = json.Unmarshal(expanded, &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// ApplyDefaults sets default values for unspecified configuration
func (c *Config) ApplyDefaults() {
	if c.FileSuffix == "" {
		c.FileSuffix = DefaultFileSuffix
	}
	if c.DebounceMs == 0 {
		c.DebounceMs = DefaultDebounceMs
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}
	if c.Metrics != nil && c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// Debounce returns the debounce window as a duration.
func (c *Config) Debounce() time.Duration {
	return time.Duration(c.DebounceMs) * time.Millisecond
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.WatchDir == "" {
		return &ConfigError{Field: "watchDir", Msg: "watch directory is required"}
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return &ConfigError{Field: "logging.level", Msg: fmt.Sprintf("invalid log level: %s", c.Logging.Level)}
	}

	validLogFormats := map[string]bool{"json": true, "console": true}
	if !validLogFormats[c.Logging.Format] {
		return &ConfigError{Field: "logging.format", Msg: fmt.Sprintf("invalid log format: %s", c.Logging.Format)}
	}

	for i, p := range c.Filters {
		if p.Name == "" || p.Kind == "" {
			return &ConfigError{Field: fmt.Sprintf("filters[%d]", i), Msg: "name and kind are required"}
		}
	}
	for i, p := range c.Outputs {
		if p.Name == "" || p.Kind == "" {
			return &ConfigError{Field: fmt.Sprintf("outputs[%d]", i), Msg: "name and kind are required"}
		}
	}
	for i, p := range c.Pipelines {
		if p.Name == "" {
			return &ConfigError{Field: fmt.Sprintf("pipelines[%d]", i), Msg: "name is required"}
		}
		if len(p.Outputs) == 0 {
			return &ConfigError{Field: fmt.Sprintf("pipelines[%d]", i), Msg: "at least one output is required"}
		}
	}

	if c.DeadLetter != nil && c.DeadLetter.Enabled && c.DeadLetter.Dir == "" {
		return &ConfigError{Field: "deadLetter.dir", Msg: "directory is required when dead letter queue is enabled"}
	}

	return nil
}
