// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// Commands depend on it rather than on *Config so tests can substitute sections.
type Interface interface {
	Logger() LoggerConfig
	Browser() BrowserConfig
	Recorder() RecorderConfig
	Selector() SelectorConfig
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	BrowserCfg  BrowserConfig  `mapstructure:"browser" yaml:"browser"`
	RecorderCfg RecorderConfig `mapstructure:"recorder" yaml:"recorder"`
	SelectorCfg SelectorConfig `mapstructure:"selector" yaml:"selector"`
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig     { return c.LoggerCfg }
func (c *Config) Browser() BrowserConfig   { return c.BrowserCfg }
func (c *Config) Recorder() RecorderConfig { return c.RecorderCfg }
func (c *Config) Selector() SelectorConfig { return c.SelectorCfg }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig holds settings for the recorded browser instance.
type BrowserConfig struct {
	Headless        bool           `mapstructure:"headless" yaml:"headless"`
	IgnoreTLSErrors bool           `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	Args            []string       `mapstructure:"args" yaml:"args"`
	Viewport        map[string]int `mapstructure:"viewport" yaml:"viewport"`
}

// RecorderConfig tunes capture and coalescing of interaction events.
type RecorderConfig struct {
	// IdentifierAttribute is the attribute temporarily stamped on every element
	// while a snapshot is serialized.
	IdentifierAttribute string        `mapstructure:"identifier_attribute" yaml:"identifier_attribute"`
	DebounceIdle        time.Duration `mapstructure:"debounce_idle" yaml:"debounce_idle"`
	DebounceMaxWait     time.Duration `mapstructure:"debounce_max_wait" yaml:"debounce_max_wait"`
	// Output is where drained messages are written as JSON lines. Empty or "-" means stdout.
	Output         string `mapstructure:"output" yaml:"output"`
	StartRecording bool   `mapstructure:"start_recording" yaml:"start_recording"`
}

// SelectorConfig bounds the selector synthesis search.
type SelectorConfig struct {
	MaxSelectors       int `mapstructure:"max_selectors" yaml:"max_selectors"`
	MaxSimpleSelectors int `mapstructure:"max_simple_selectors" yaml:"max_simple_selectors"`
	DescendantDepth    int `mapstructure:"descendant_depth" yaml:"descendant_depth"`
}

// NewDefaultConfig creates a configuration populated only with defaults.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "scalpel-recorder")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Browser --
	v.SetDefault("browser.headless", false)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.viewport", map[string]int{"width": 1280, "height": 800})

	// -- Recorder --
	v.SetDefault("recorder.identifier_attribute", "uuid")
	v.SetDefault("recorder.debounce_idle", "100ms")
	v.SetDefault("recorder.debounce_max_wait", "500ms")
	v.SetDefault("recorder.output", "-")
	v.SetDefault("recorder.start_recording", true)

	// -- Selector --
	v.SetDefault("selector.max_selectors", 10)
	v.SetDefault("selector.max_simple_selectors", 5)
	v.SetDefault("selector.descendant_depth", 3)
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := c.RecorderCfg.Validate(); err != nil {
		return fmt.Errorf("recorder configuration invalid: %w", err)
	}
	if err := c.SelectorCfg.Validate(); err != nil {
		return fmt.Errorf("selector configuration invalid: %w", err)
	}
	switch c.LoggerCfg.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logger.format must be one of console, json")
	}
	return nil
}

// Validate checks the recorder timing and identity settings.
func (r *RecorderConfig) Validate() error {
	if strings.TrimSpace(r.IdentifierAttribute) == "" {
		return fmt.Errorf("recorder.identifier_attribute must not be empty")
	}
	if strings.ContainsAny(r.IdentifierAttribute, " \t\n\"'=<>/") {
		return fmt.Errorf("recorder.identifier_attribute %q is not a valid attribute name", r.IdentifierAttribute)
	}
	if r.DebounceIdle <= 0 {
		return fmt.Errorf("recorder.debounce_idle must be a positive duration")
	}
	if r.DebounceMaxWait < r.DebounceIdle {
		return fmt.Errorf("recorder.debounce_max_wait must not be shorter than recorder.debounce_idle")
	}
	return nil
}

// Validate checks the synthesis bounds.
func (s *SelectorConfig) Validate() error {
	if s.MaxSelectors <= 0 {
		return fmt.Errorf("selector.max_selectors must be a positive integer")
	}
	if s.MaxSimpleSelectors <= 0 {
		return fmt.Errorf("selector.max_simple_selectors must be a positive integer")
	}
	if s.DescendantDepth < 0 {
		return fmt.Errorf("selector.descendant_depth must not be negative")
	}
	return nil
}
