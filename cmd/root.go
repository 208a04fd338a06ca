// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"

	"github.com/Thermoquad/sabrelay/internal/config"
	"github.com/Thermoquad/sabrelay/internal/logging"
	"github.com/Thermoquad/sabrelay/pkg/sabertooth"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	configFile string

	// Loaded in PersistentPreRunE, before any subcommand runs
	vcfg   = config.New()
	cfg    *config.Config
	logger = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:   "sabrelay",
	Short: "Sabertooth motor controller relay",
	Long: `Sabrelay - forwards motion commands from a host link to a Sabertooth
motor controller in packetized serial mode.

Every command is a 4-byte frame (address, command, value, checksum) where the
checksum is the 7-bit sum of the first three bytes. Frames that fail the
checksum are logged and dropped.

Connection modes (host link):
  Serial:    --port /dev/ttyAMA0 [--baud 115200]
  WebSocket: --url ws://host/path [--username user]

The controller port is found from the controller.ports glob patterns, or set
with --controller /dev/ttyACM0.

Settings are read from sabrelay.yaml (current directory or /etc/sabrelay, or
--config), SABRELAY_* environment variables and flags, in increasing order of
precedence.

For WebSocket authentication, the password is read from the SABRELAY_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell history.`,
	Version:           "1.0.0",
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

func init() {
	flags := rootCmd.PersistentFlags()

	flags.StringVarP(&configFile, "config", "c", "", "Config file (default ./sabrelay.yaml or /etc/sabrelay/sabrelay.yaml)")

	// Host link flags
	flags.StringP("port", "p", "", "Serial port device for the host link")
	flags.IntP("baud", "b", 115200, "Baud rate (serial only)")
	flags.StringP("url", "u", "", "WebSocket URL (ws:// or wss://)")
	flags.String("username", "", "Username for HTTP Basic auth")
	flags.Bool("no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	// Controller flags
	flags.StringSlice("controller", nil, "Controller serial port or glob pattern (repeatable)")
	flags.Int("controller-baud", sabertooth.DefaultBaudRate, "Controller baud rate")
	flags.Int("address", 128, "Controller address (128-135)")

	// Logging flags
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.String("log-format", "console", "Log format (console, json)")
	flags.String("log-file", "", "Also write JSON logs to this file (rotated)")
	flags.Bool("no-color", false, "Disable coloured log levels")
}

// loadConfig merges file, environment and flags into cfg and builds the logger
func loadConfig(cmd *cobra.Command, args []string) error {
	if err := config.BindFlags(vcfg, cmd.Flags()); err != nil {
		return err
	}

	loaded, err := config.Load(vcfg, configFile)
	if err != nil {
		return err
	}
	cfg = loaded

	l, err := logging.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	logger = l

	if used := vcfg.ConfigFileUsed(); used != "" {
		logger.Debug("config loaded", zap.String("file", used))
	}
	return nil
}

// Execute runs the root command
func Execute() error {
	defer func() { _ = logger.Sync() }()
	return rootCmd.Execute()
}
