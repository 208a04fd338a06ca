// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sabrelay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	testChdir(t, t.TempDir())

	cfg, err := Load(New(), "")
	require.NoError(t, err)

	assert.Equal(t, 115200, cfg.Input.BaudRate)
	assert.Equal(t, "115200 8N1", cfg.Input.PortOptions.String())
	assert.Equal(t, uint8(128), cfg.Controller.Address)
	assert.Equal(t, 115200, cfg.Controller.Baud)
	assert.Equal(t, uint8(20), cfg.Controller.NightSpeed)
	assert.False(t, cfg.Controller.NightMode)
	assert.True(t, cfg.Controller.Autobaud)
	assert.Equal(t, []string{"/dev/ttyACM*", "/dev/ttyUSB*", "/dev/serial0"}, cfg.Controller.Ports)
	assert.Equal(t, time.Millisecond, cfg.Relay.PollInterval)
	assert.Equal(t, time.Second, cfg.Relay.RetryInterval)
	assert.Equal(t, 30*time.Second, cfg.Relay.MaxRetryWait)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
input:
  port: /dev/ttyAMA0
  baud: 57600
  parity: even
controller:
  ports: [/dev/ttyACM0]
  address: 130
  night_mode: true
  night_speed: 10
relay:
  poll_interval: 5ms
log:
  level: debug
  format: json
metrics:
  addr: ":9102"
`)

	cfg, err := Load(New(), path)
	require.NoError(t, err)

	assert.Equal(t, "/dev/ttyAMA0", cfg.Input.Port)
	assert.Equal(t, "57600 8E1", cfg.Input.PortOptions.String())
	assert.Equal(t, []string{"/dev/ttyACM0"}, cfg.Controller.Ports)
	assert.Equal(t, 5*time.Millisecond, cfg.Relay.PollInterval)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, ":9102", cfg.Metrics.Addr)

	driverCfg := cfg.DriverConfig()
	assert.Equal(t, uint8(130), driverCfg.Address)
	assert.True(t, driverCfg.NightMode)
	assert.Equal(t, uint8(10), driverCfg.NightSpeed)
}

func TestLoad_EnvOverride(t *testing.T) {
	testChdir(t, t.TempDir())
	t.Setenv("SABRELAY_CONTROLLER_ADDRESS", "131")
	t.Setenv("SABRELAY_INPUT_PORT", "/dev/ttyS1")
	t.Setenv("SABRELAY_LOG_LEVEL", "warn")
	t.Setenv("SABRELAY_CONTROLLER_INVERT_MOTOR2", "true")

	cfg, err := Load(New(), "")
	require.NoError(t, err)

	assert.Equal(t, uint8(131), cfg.Controller.Address)
	assert.True(t, cfg.DriverConfig().InvertMotor2)
	assert.False(t, cfg.DriverConfig().InvertMotor1)
	assert.Equal(t, "/dev/ttyS1", cfg.Input.Port)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoad_FlagOverride(t *testing.T) {
	testChdir(t, t.TempDir())

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("port", "", "")
	flags.Int("baud", 115200, "")
	flags.String("log-level", "info", "")
	require.NoError(t, flags.Parse([]string{"--port", "/dev/ttyUSB3", "--baud", "9600"}))

	v := New()
	require.NoError(t, BindFlags(v, flags))

	cfg, err := Load(v, "")
	require.NoError(t, err)

	assert.Equal(t, "/dev/ttyUSB3", cfg.Input.Port)
	assert.Equal(t, 9600, cfg.Input.BaudRate)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"address below range", "controller:\n  address: 100\n"},
		{"night speed too high", "controller:\n  night_speed: 200\n"},
		{"bad parity", "input:\n  parity: mark\n"},
		{"zero controller baud", "controller:\n  baud: 0\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(New(), writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(New(), filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

// testChdir changes the working directory for the duration of the test,
// mirroring testing.T.Chdir (Go 1.24+) for older toolchains.
func testChdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(old) })
}
