// Package config loads duvet options from .duvet.yaml, DUVET_* environment
// variables and defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/viper"

	"github.com/Sumatoshi-tech/duvet/pkg/linediff"
	"github.com/Sumatoshi-tech/duvet/pkg/observability"
	"github.com/Sumatoshi-tech/duvet/pkg/store"
)

// Sentinel validation errors.
var (
	ErrInvalidRecursion   = errors.New("diff max recursion must not be negative")
	ErrInvalidTimeout     = errors.New("diff timeout must not be negative")
	ErrInvalidLogLevel    = errors.New("invalid log level")
	ErrInvalidExcludeGlob = errors.New("invalid exclude_files pattern")
	ErrInvalidSampleRatio = errors.New("telemetry sample ratio must be within [0, 1]")
	ErrEmptyPackagePrefix = errors.New("package_filter entries must not be empty")
)

// Config holds all duvet options.
type Config struct {
	PackageFilter      []string        `mapstructure:"package_filter"`
	ExcludeFiles       []string        `mapstructure:"exclude_files"`
	Store              StoreConfig     `mapstructure:"store"`
	Diff               DiffConfig      `mapstructure:"diff"`
	Logging            LoggingConfig   `mapstructure:"logging"`
	Telemetry          TelemetryConfig `mapstructure:"telemetry"`
	EraseBeforeRun     bool            `mapstructure:"erase_before_run"`
	SkipUnaffected     bool            `mapstructure:"skip_unaffected"`
	SortByImpact       bool            `mapstructure:"sort_by_impact"`
	IncludeTestModules bool            `mapstructure:"include_test_modules"`
}

// StoreConfig locates the coverage database.
type StoreConfig struct {
	// Path defaults to <workdir>/.duvet when empty.
	Path string `mapstructure:"path"`
}

// DiffConfig tunes the line differ.
type DiffConfig struct {
	Fallback     string        `mapstructure:"fallback"`
	MaxRecursion int           `mapstructure:"max_recursion"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// LoggingConfig selects the log handler.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

// TelemetryConfig enables OpenTelemetry and Prometheus export.
type TelemetryConfig struct {
	OTLPEndpoint       string        `mapstructure:"otlp_endpoint"`
	OTLPHeaders        string        `mapstructure:"otlp_headers"`
	PrometheusTextfile string        `mapstructure:"prometheus_textfile"`
	SampleRatio        float64       `mapstructure:"sample_ratio"`
	ShutdownTimeout    time.Duration `mapstructure:"shutdown_timeout"`
	OTLPInsecure       bool          `mapstructure:"otlp_insecure"`
}

// LoadConfig reads configPath, or .duvet.yaml in workdir when configPath is
// empty, then applies DUVET_* environment overrides. A missing default file
// is not an error.
func LoadConfig(configPath, workdir string) (*Config, error) {
	viperCfg := viper.New()

	setDefaults(viperCfg)

	viperCfg.SetEnvPrefix(EnvPrefix)
	viperCfg.AutomaticEnv()
	viperCfg.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Name lookup is avoided: viper would also try the extensionless
	// ".duvet", which is the store database.
	if configPath == "" {
		candidate := filepath.Join(workdir, FileName)
		if _, statErr := os.Stat(candidate); statErr == nil {
			configPath = candidate
		}
	}

	if configPath != "" {
		viperCfg.SetConfigFile(configPath)

		readErr := viperCfg.ReadInConfig()
		if readErr != nil {
			return nil, fmt.Errorf("failed to read config file: %w", readErr)
		}
	}

	var config Config

	unmarshalErr := viperCfg.Unmarshal(&config)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", unmarshalErr)
	}

	validateErr := validateConfig(&config)
	if validateErr != nil {
		return nil, fmt.Errorf("invalid configuration: %w", validateErr)
	}

	return &config, nil
}

func setDefaults(viperCfg *viper.Viper) {
	viperCfg.SetDefault("package_filter", []string{})
	viperCfg.SetDefault("exclude_files", []string{})
	viperCfg.SetDefault("erase_before_run", DefaultEraseBeforeRun)
	viperCfg.SetDefault("skip_unaffected", DefaultSkipUnaffected)
	viperCfg.SetDefault("sort_by_impact", DefaultSortByImpact)
	viperCfg.SetDefault("include_test_modules", DefaultIncludeTestModules)

	viperCfg.SetDefault("store.path", "")

	viperCfg.SetDefault("diff.fallback", DefaultDiffFallback)
	viperCfg.SetDefault("diff.max_recursion", DefaultDiffMaxRecursion)
	viperCfg.SetDefault("diff.timeout", DefaultDiffTimeout)

	viperCfg.SetDefault("logging.level", DefaultLogLevel)
	viperCfg.SetDefault("logging.json", DefaultLogJSON)

	viperCfg.SetDefault("telemetry.otlp_endpoint", "")
	viperCfg.SetDefault("telemetry.otlp_headers", "")
	viperCfg.SetDefault("telemetry.otlp_insecure", false)
	viperCfg.SetDefault("telemetry.sample_ratio", 0.0)
	viperCfg.SetDefault("telemetry.prometheus_textfile", "")
	viperCfg.SetDefault("telemetry.shutdown_timeout", DefaultShutdownTimeout)
}

func validateConfig(config *Config) error {
	for _, prefix := range config.PackageFilter {
		if strings.TrimSpace(prefix) == "" {
			return ErrEmptyPackagePrefix
		}
	}

	for _, pattern := range config.ExcludeFiles {
		if !doublestar.ValidatePattern(pattern) {
			return fmt.Errorf("%w: %q", ErrInvalidExcludeGlob, pattern)
		}
	}

	_, err := linediff.ParseFallback(config.Diff.Fallback)
	if err != nil {
		return err
	}

	if config.Diff.MaxRecursion < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidRecursion, config.Diff.MaxRecursion)
	}

	if config.Diff.Timeout < 0 {
		return fmt.Errorf("%w: %s", ErrInvalidTimeout, config.Diff.Timeout)
	}

	_, err = observability.ParseLevel(config.Logging.Level)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidLogLevel, config.Logging.Level)
	}

	if config.Telemetry.SampleRatio < 0 || config.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("%w: %g", ErrInvalidSampleRatio, config.Telemetry.SampleRatio)
	}

	return nil
}

// StorePath returns the configured store path, resolved against workdir.
func (c *Config) StorePath(workdir string) string {
	if c.Store.Path == "" {
		return filepath.Join(workdir, store.DefaultFileName)
	}

	if filepath.IsAbs(c.Store.Path) {
		return c.Store.Path
	}

	return filepath.Join(workdir, c.Store.Path)
}

// DiffOptions converts the diff section. The config is assumed validated.
func (c *Config) DiffOptions() linediff.Options {
	fallback, err := linediff.ParseFallback(c.Diff.Fallback)
	if err != nil {
		fallback = linediff.FallbackMyers
	}

	return linediff.Options{
		Fallback:     fallback,
		MaxRecursion: c.Diff.MaxRecursion,
		Timeout:      c.Diff.Timeout,
	}
}

// Observability builds the telemetry configuration for the given mode.
func (c *Config) Observability(mode observability.AppMode, version string) observability.Config {
	obs := observability.DefaultConfig()
	obs.Mode = mode
	obs.ServiceVersion = version
	obs.OTLPEndpoint = c.Telemetry.OTLPEndpoint
	obs.OTLPHeaders = observability.ParseOTLPHeaders(c.Telemetry.OTLPHeaders)
	obs.OTLPInsecure = c.Telemetry.OTLPInsecure
	obs.SampleRatio = c.Telemetry.SampleRatio
	obs.PrometheusTextfile = c.Telemetry.PrometheusTextfile
	obs.LogJSON = c.Logging.JSON

	if level, err := observability.ParseLevel(c.Logging.Level); err == nil {
		obs.LogLevel = level
	}

	if secs := int(c.Telemetry.ShutdownTimeout / time.Second); secs > 0 {
		obs.ShutdownTimeoutSec = secs
	}

	return obs
}
