// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sabertooth

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"
)

// Port is the serial connection to the motor controller
type Port interface {
	io.Reader
	io.Writer
	io.Closer
}

// timeoutPort is implemented by serial.Port
type timeoutPort interface {
	SetReadTimeout(t time.Duration) error
}

// DriverConfig configures a Driver
type DriverConfig struct {
	// Address is the controller address set with its DIP switches (128-135)
	Address uint8
	// NightMode caps drive values to NightSpeed
	NightMode  bool
	NightSpeed uint8
	// InvertMotor1 and InvertMotor2 swap forward and backward for a motor
	// mounted mirrored. They apply to Drive only; Apply sends commands as given.
	InvertMotor1 bool
	InvertMotor2 bool
}

// DefaultDriverConfig returns the configuration for a controller at the factory address
func DefaultDriverConfig() DriverConfig {
	return DriverConfig{
		Address:    DefaultAddress,
		NightSpeed: NightSpeed,
	}
}

// Driver sends commands to a Sabertooth controller in packetized serial mode.
// It is safe for concurrent use; writes are serialized because the controller
// cannot tolerate interleaved frames.
type Driver struct {
	port   Port
	cfg    DriverConfig
	logger *zap.Logger

	mu      sync.Mutex
	stopped atomic.Bool
}

// NewDriver creates a driver writing to port
func NewDriver(port Port, cfg DriverConfig, logger *zap.Logger) *Driver {
	if cfg.Address == 0 {
		cfg.Address = DefaultAddress
	}
	if cfg.NightSpeed == 0 {
		cfg.NightSpeed = NightSpeed
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Driver{port: port, cfg: cfg, logger: logger}
}

// OpenDriver opens the controller's serial port and returns a driver for it
func OpenDriver(path string, baudRate int, cfg DriverConfig, logger *zap.Logger) (*Driver, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open controller port %s: %w", path, err)
	}

	return NewDriver(port, cfg, logger), nil
}

// FindPort returns the first device matching any of the glob patterns.
// Patterns are tried in order; matches within a pattern are sorted.
func FindPort(patterns []string) (string, error) {
	for _, pattern := range patterns {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return "", fmt.Errorf("invalid port pattern %q: %w", pattern, err)
		}
		if len(matches) > 0 {
			sort.Strings(matches)
			return matches[0], nil
		}
	}
	return "", fmt.Errorf("%w (patterns: %s)", ErrPortNotFound, strings.Join(patterns, ", "))
}

// Config returns the driver configuration
func (d *Driver) Config() DriverConfig {
	return d.cfg
}

// Apply sends a command to the controller.
// Night mode caps drive values; while an emergency stop is latched, only
// commands that stop the motors are sent and the rest are dropped silently.
func (d *Driver) Apply(command, value uint8) error {
	if d.cfg.NightMode {
		if capped := nightCap(command, value, d.cfg.NightSpeed); capped != value {
			d.logger.Debug("night mode cap", zap.Uint8("command", command), zap.Uint8("requested", value), zap.Uint8("value", capped))
			value = capped
		}
	}

	if d.stopped.Load() && !isStopCommand(command, value) {
		d.logger.Debug("emergency stop latched, command dropped",
			zap.String("command", FormatCommand(command)), zap.Uint8("value", value))
		return nil
	}

	return d.Send(NewFrame(d.cfg.Address, command, value))
}

// MotorCommand is MotorCommand with the driver's motor inversion applied
func (d *Driver) MotorCommand(motor int, speed int) (command, value uint8) {
	if (motor == Motor1 && d.cfg.InvertMotor1) || (motor == Motor2 && d.cfg.InvertMotor2) {
		speed = -speed
	}
	return MotorCommand(motor, speed)
}

// Drive sets a motor to a signed speed (-127..127)
func (d *Driver) Drive(motor int, speed int) error {
	return d.Apply(d.MotorCommand(motor, speed))
}

// Send writes a frame to the controller as-is
func (d *Driver) Send(f Frame) error {
	b := f.Bytes()

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, err := d.port.Write(b[:]); err != nil {
		return fmt.Errorf("failed to write frame to controller: %w", err)
	}

	if f.Value != 0 {
		d.logger.Debug("frame sent",
			zap.String("command", FormatCommand(f.Command)),
			zap.Uint8("value", f.Value),
			zap.String("bytes", FormatBytes(b[:])))
	}
	return nil
}

// EmergencyStop stops both motors and latches the stop until Resume is called
func (d *Driver) EmergencyStop() error {
	d.stopped.Store(true)
	d.logger.Warn("EMERGENCY STOP")
	for _, f := range StopFrames(d.cfg.Address) {
		if err := d.Send(f); err != nil {
			return err
		}
	}
	return nil
}

// Resume clears a latched emergency stop
func (d *Driver) Resume() {
	if d.stopped.Swap(false) {
		d.logger.Info("emergency stop cleared")
	}
}

// Stopped reports whether an emergency stop is latched
func (d *Driver) Stopped() bool {
	return d.stopped.Load()
}

// Autobaud sends the baud rate detection byte
func (d *Driver) Autobaud() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, err := d.port.Write([]byte{AutobaudByte}); err != nil {
		return fmt.Errorf("failed to send autobaud byte: %w", err)
	}
	return nil
}

// maxEchoLine is the longest line Echo buffers before handing it on
const maxEchoLine = 256

// Echo reads text output from the controller and calls fn for every line
// until ctx is cancelled or the port fails. Lines longer than maxEchoLine are
// split.
func (d *Driver) Echo(ctx context.Context, fn func(line string)) error {
	if tp, ok := d.port.(timeoutPort); ok {
		if err := tp.SetReadTimeout(100 * time.Millisecond); err != nil {
			return fmt.Errorf("failed to set read timeout: %w", err)
		}
	}

	buf := make([]byte, 128)
	var line []byte
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, err := d.port.Read(buf)
		if err != nil {
			return fmt.Errorf("failed to read from controller: %w", err)
		}

		for _, b := range buf[:n] {
			if b != '\n' {
				line = append(line, b)
				if len(line) < maxEchoLine {
					continue
				}
			}
			if text := strings.TrimRight(string(line), "\r"); text != "" {
				fn(text)
			}
			line = line[:0]
		}
	}
}

// Close closes the controller port
func (d *Driver) Close() error {
	return d.port.Close()
}

// nightCap limits the speed of drive commands
func nightCap(command, value, limit uint8) uint8 {
	switch command {
	case CmdDriveMotor1, CmdDriveMotor2, CmdDriveMixed, CmdTurnMixed:
		// 7-bit commands are centred on 64
		const center = 64
		if limit >= center {
			return value
		}
		if value > center+limit {
			return center + limit
		}
		if value < center-limit {
			return center - limit
		}
		return value
	case CmdMinVoltage, CmdMaxVoltage:
		return value
	}
	if command <= CmdTurnLeftMixed && value > limit {
		return limit
	}
	return value
}

// isStopCommand reports whether a command leaves the motors stopped
func isStopCommand(command, value uint8) bool {
	switch command {
	case CmdDriveMotor1, CmdDriveMotor2, CmdDriveMixed, CmdTurnMixed:
		return value == 64
	}
	if isDriveCommand(command) {
		return value == 0
	}
	return true
}
