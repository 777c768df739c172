// Package config provides configuration types, defaults and validation for
// exorcist.
package config

import (
	"fmt"
	"time"

	"github.com/zjrosen/exorcist/internal/log"
	"github.com/zjrosen/exorcist/internal/paths"
	"github.com/zjrosen/exorcist/internal/sink"
	"github.com/zjrosen/exorcist/internal/tracing"
)

// Config holds all configuration options for exorcist.
//
// Values come from, in increasing precedence: Defaults, the config file,
// EXORCIST_* environment variables (a .env file is honored) and flags.
type Config struct {
	URL             string `mapstructure:"url" yaml:"url,omitempty"`
	Root            string `mapstructure:"root" yaml:"root,omitempty"`
	Base            string `mapstructure:"base" yaml:"base,omitempty"`
	ErrorOnMissing  bool   `mapstructure:"error_on_missing" yaml:"error_on_missing"`
	ResolveExternal bool   `mapstructure:"resolve_external" yaml:"resolve_external"`

	Debug    bool   `mapstructure:"debug" yaml:"debug"`
	LogFile  string `mapstructure:"log_file" yaml:"log_file"`
	LogLevel string `mapstructure:"log_level" yaml:"log_level"`

	Watch       WatchConfig       `mapstructure:"watch" yaml:"watch"`
	ObjectStore ObjectStoreConfig `mapstructure:"object_store" yaml:"object_store"`
	Tracing     tracing.Config    `mapstructure:"tracing" yaml:"tracing"`
}

// WatchConfig holds --watch settings.
type WatchConfig struct {
	// Debounce coalesces bursts of writes to the input into one run.
	Debounce time.Duration `mapstructure:"debounce" yaml:"debounce"`
}

// ObjectStoreConfig holds settings for s3:// map destinations.
type ObjectStoreConfig struct {
	Endpoint  string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
	Region    string `mapstructure:"region" yaml:"region,omitempty"`
	AccessKey string `mapstructure:"access_key" yaml:"access_key,omitempty"`
	SecretKey string `mapstructure:"secret_key" yaml:"-"`
	UseSSL    bool   `mapstructure:"use_ssl" yaml:"use_ssl"`
}

// Sink returns the connection settings in the form the sink package takes.
func (o ObjectStoreConfig) Sink() sink.ObjectConfig {
	return sink.ObjectConfig{
		Endpoint:  o.Endpoint,
		Region:    o.Region,
		AccessKey: o.AccessKey,
		SecretKey: o.SecretKey,
		UseSSL:    o.UseSSL,
	}
}

// Defaults returns a Config with sensible default values.
func Defaults() Config {
	tc := tracing.DefaultConfig()
	tc.FilePath = paths.TracesFile()

	return Config{
		LogFile:  "exorcist-debug.log",
		LogLevel: "debug",
		Watch: WatchConfig{
			Debounce: 200 * time.Millisecond,
		},
		ObjectStore: ObjectStoreConfig{
			Region: "us-east-1",
			UseSSL: true,
		},
		Tracing: tc,
	}
}

// Validate checks the configuration for errors.
func Validate(cfg Config) error {
	if _, err := log.ParseLevel(cfg.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	if cfg.Watch.Debounce < 0 {
		return fmt.Errorf("watch.debounce must not be negative, got %s", cfg.Watch.Debounce)
	}
	if err := ValidateTracing(cfg.Tracing); err != nil {
		return err
	}
	return nil
}

// ValidateTracing checks tracing configuration for errors.
// Empty values are accepted and fall back to defaults.
func ValidateTracing(tc tracing.Config) error {
	switch tc.Exporter {
	case "", "none", "file", "stdout", "otlp":
	default:
		return fmt.Errorf("tracing.exporter must be one of none, file, stdout, otlp; got %q", tc.Exporter)
	}
	if tc.SampleRate < 0 || tc.SampleRate > 1 {
		return fmt.Errorf("tracing.sample_rate must be between 0 and 1, got %v", tc.SampleRate)
	}
	if tc.Enabled && tc.Exporter == "file" && tc.FilePath == "" {
		return fmt.Errorf("tracing.file_path is required for the file exporter")
	}
	return nil
}
