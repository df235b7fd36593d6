// Package config provides YAML-based configuration loading for symnet tools.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config is the root application configuration.
type Config struct {
	// Device holds connection settings for the DSP.
	Device DeviceConfig `mapstructure:"device"`

	// Log holds logging configuration.
	Log LogConfig `mapstructure:"log"`
}

// DeviceConfig describes how to reach one DSP.
type DeviceConfig struct {
	// Host of the device.
	Host string `mapstructure:"host"`
	// Port of the control protocol (default 48631).
	Port int `mapstructure:"port"`
	// Transport: tcp or udp.
	Transport string `mapstructure:"transport"`

	// DialTimeoutMS bounds connection establishment.
	DialTimeoutMS int `mapstructure:"dial_timeout_ms"`
	// CommandTimeoutMS bounds each command attempt.
	CommandTimeoutMS int `mapstructure:"command_timeout_ms"`
	// RetryLimit is the attempt count for retried commands.
	RetryLimit int `mapstructure:"retry_limit"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level"`
	// Format: console or json
	Format string `mapstructure:"format"`
	// Outputs: stdout, stderr, or file paths
	Outputs []string `mapstructure:"outputs"`
	// Development toggles development-friendly logging options
	Development bool `mapstructure:"development"`

	// Rotation controls file rotation when writing to files
	Rotation RotationConfig `mapstructure:"rotation"`
}

// RotationConfig controls log file rotation for file outputs.
type RotationConfig struct {
	Enable     bool   `mapstructure:"enable"`
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// Default returns a Config populated with sensible defaults.
func Default() *Config {
	return &Config{
		Device: DeviceConfig{
			Host:             "",
			Port:             48631,
			Transport:        "tcp",
			DialTimeoutMS:    5000,
			CommandTimeoutMS: 5000,
			RetryLimit:       3,
		},
		Log: LogConfig{
			Level:       "info",
			Format:      "console",
			Outputs:     []string{"stderr"},
			Development: true,
			Rotation: RotationConfig{
				Enable:     false,
				Filename:   "logs/symnet.log",
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
	}
}

// Load reads configuration from path (if non-empty), otherwise it searches
// common locations. Environment variables use the prefix SYMNET with `.`
// and `-` replaced by `_`, e.g. SYMNET_DEVICE_HOST=10.0.0.5.
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("SYMNET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// seed defaults for viper so env-only configs work
	v.SetDefault("device.host", cfg.Device.Host)
	v.SetDefault("device.port", cfg.Device.Port)
	v.SetDefault("device.transport", cfg.Device.Transport)
	v.SetDefault("device.dial_timeout_ms", cfg.Device.DialTimeoutMS)
	v.SetDefault("device.command_timeout_ms", cfg.Device.CommandTimeoutMS)
	v.SetDefault("device.retry_limit", cfg.Device.RetryLimit)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.outputs", cfg.Log.Outputs)
	v.SetDefault("log.development", cfg.Log.Development)
	v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
	v.SetDefault("log.rotation.filename", cfg.Log.Rotation.Filename)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)

	if path == "" {
		if envPath := os.Getenv("SYMNET_CONFIG"); envPath != "" {
			path = envPath
		}
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("symnet")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".symnet"))
		}
	}

	// Read config file if present; if not found, continue with defaults/env
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Log.Level)) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log.level: %q", c.Log.Level)
	}

	switch strings.ToLower(strings.TrimSpace(c.Device.Transport)) {
	case "", "tcp", "udp":
	default:
		return fmt.Errorf("invalid device.transport: %q", c.Device.Transport)
	}

	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if len(c.Log.Outputs) == 0 {
		c.Log.Outputs = []string{"stderr"}
	}
	if c.Device.Port <= 0 || c.Device.Port > 65535 {
		return fmt.Errorf("invalid device.port: %d", c.Device.Port)
	}
	return nil
}
