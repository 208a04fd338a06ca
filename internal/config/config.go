// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config loads sabrelay settings from defaults, an optional YAML
// file, SABRELAY_* environment variables and command line flags.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Thermoquad/sabrelay/internal/logging"
	"github.com/Thermoquad/sabrelay/pkg/relay"
	"github.com/Thermoquad/sabrelay/pkg/sabertooth"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. SABRELAY_INPUT_PORT
const EnvPrefix = "SABRELAY"

// InputConfig describes the host link frames arrive on
type InputConfig struct {
	Port              string `mapstructure:"port" yaml:"port"`
	URL               string `mapstructure:"url" yaml:"url"`
	Username          string `mapstructure:"username" yaml:"username"`
	NoSSLVerify       bool   `mapstructure:"no_ssl_verify" yaml:"no_ssl_verify"`
	relay.PortOptions `mapstructure:",squash" yaml:",inline"`
}

// ControllerConfig describes the Sabertooth side
type ControllerConfig struct {
	// Ports are glob patterns tried in order, e.g. /dev/ttyACM*
	Ports      []string `mapstructure:"ports" yaml:"ports"`
	Baud       int      `mapstructure:"baud" yaml:"baud"`
	Address    uint8    `mapstructure:"address" yaml:"address"`
	NightMode  bool     `mapstructure:"night_mode" yaml:"night_mode"`
	NightSpeed uint8    `mapstructure:"night_speed" yaml:"night_speed"`
	Autobaud   bool     `mapstructure:"autobaud" yaml:"autobaud"`
	Echo       bool     `mapstructure:"echo" yaml:"echo"`
	// Invert swaps forward and backward for mirrored motors in the control command
	InvertMotor1 bool `mapstructure:"invert_motor1" yaml:"invert_motor1"`
	InvertMotor2 bool `mapstructure:"invert_motor2" yaml:"invert_motor2"`
}

// RelayConfig tunes the receive loop
type RelayConfig struct {
	PollInterval   time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	RetryInterval  time.Duration `mapstructure:"retry_interval" yaml:"retry_interval"`
	MaxRetryWait   time.Duration `mapstructure:"max_retry_wait" yaml:"max_retry_wait"`
	StopOnShutdown bool          `mapstructure:"stop_on_shutdown" yaml:"stop_on_shutdown"`
}

// MetricsConfig enables the Prometheus endpoint
type MetricsConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
	Path string `mapstructure:"path" yaml:"path"`
}

// CaptureConfig enables frame capture
type CaptureConfig struct {
	File string `mapstructure:"file" yaml:"file"`
}

// Config is the complete sabrelay configuration
type Config struct {
	Input      InputConfig      `mapstructure:"input" yaml:"input"`
	Controller ControllerConfig `mapstructure:"controller" yaml:"controller"`
	Relay      RelayConfig      `mapstructure:"relay" yaml:"relay"`
	Log        logging.Config   `mapstructure:"log" yaml:"log"`
	Metrics    MetricsConfig    `mapstructure:"metrics" yaml:"metrics"`
	Capture    CaptureConfig    `mapstructure:"capture" yaml:"capture"`
}

// DriverConfig returns the Sabertooth driver settings
func (c *Config) DriverConfig() sabertooth.DriverConfig {
	return sabertooth.DriverConfig{
		Address:    c.Controller.Address,
		NightMode:  c.Controller.NightMode,
		NightSpeed: c.Controller.NightSpeed,

		InvertMotor1: c.Controller.InvertMotor1,
		InvertMotor2: c.Controller.InvertMotor2,
	}
}

// SetDefaults registers every default on v
func SetDefaults(v *viper.Viper) {
	v.SetDefault("input.port", "")
	v.SetDefault("input.url", "")
	v.SetDefault("input.username", "")
	v.SetDefault("input.no_ssl_verify", false)
	v.SetDefault("input.baud", relay.DefaultBaudRate)
	v.SetDefault("input.data_bits", 8)
	v.SetDefault("input.stop_bits", 1)
	v.SetDefault("input.parity", "N")

	v.SetDefault("controller.ports", []string{"/dev/ttyACM*", "/dev/ttyUSB*", "/dev/serial0"})
	v.SetDefault("controller.baud", sabertooth.DefaultBaudRate)
	v.SetDefault("controller.address", sabertooth.DefaultAddress)
	v.SetDefault("controller.night_mode", false)
	v.SetDefault("controller.night_speed", sabertooth.NightSpeed)
	v.SetDefault("controller.autobaud", true)
	v.SetDefault("controller.echo", false)
	v.SetDefault("controller.invert_motor1", false)
	v.SetDefault("controller.invert_motor2", false)

	v.SetDefault("relay.poll_interval", relay.DefaultPollInterval)
	v.SetDefault("relay.retry_interval", "1s")
	v.SetDefault("relay.max_retry_wait", "30s")
	v.SetDefault("relay.stop_on_shutdown", true)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.no_color", false)
	v.SetDefault("log.file.filename", "")
	v.SetDefault("log.file.max_size", 10)
	v.SetDefault("log.file.max_backups", 3)
	v.SetDefault("log.file.max_age", 28)

	v.SetDefault("metrics.addr", "")
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("capture.file", "")
}

// FlagBindings maps viper keys to the cobra flag names that override them
var FlagBindings = map[string]string{
	"input.port":            "port",
	"input.baud":            "baud",
	"input.url":             "url",
	"input.username":        "username",
	"input.no_ssl_verify":   "no-ssl-verify",
	"controller.ports":      "controller",
	"controller.baud":       "controller-baud",
	"controller.address":    "address",
	"controller.night_mode": "night",
	"metrics.addr":          "metrics-addr",
	"capture.file":          "capture",
	"log.level":             "log-level",
	"log.format":            "log-format",
	"log.file.filename":     "log-file",
	"log.no_color":          "no-color",
}

// New creates a viper instance with defaults and environment overrides
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// BindFlags binds every flag in FlagBindings that exists in flags
func BindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for key, name := range FlagBindings {
		flag := flags.Lookup(name)
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("bind flag --%s: %w", name, err)
		}
	}
	return nil
}

// Load reads the config file (if any) and decodes v into a Config.
// With an empty path, sabrelay.yaml is looked up in . and /etc/sabrelay;
// a missing file is not an error.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("sabrelay")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/sabrelay")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that would otherwise fail deep inside the relay
func (c *Config) Validate() error {
	if _, err := c.Input.PortOptions.Normalize(); err != nil {
		return fmt.Errorf("input: %w", err)
	}
	if c.Controller.Address < sabertooth.MinAddress || c.Controller.Address > sabertooth.MaxAddress {
		return fmt.Errorf("controller.address %d outside %d-%d", c.Controller.Address, sabertooth.MinAddress, sabertooth.MaxAddress)
	}
	if c.Controller.NightSpeed > sabertooth.MaxValue {
		return fmt.Errorf("controller.night_speed %d exceeds %d", c.Controller.NightSpeed, sabertooth.MaxValue)
	}
	if c.Controller.Baud <= 0 {
		return fmt.Errorf("controller.baud must be positive")
	}
	return nil
}
