// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sabertooth

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

var commandNames = map[uint8]string{
	CmdDriveForwardMotor1:  "DRIVE_FORWARD_M1",
	CmdDriveBackwardMotor1: "DRIVE_BACKWARD_M1",
	CmdMinVoltage:          "MIN_VOLTAGE",
	CmdMaxVoltage:          "MAX_VOLTAGE",
	CmdDriveForwardMotor2:  "DRIVE_FORWARD_M2",
	CmdDriveBackwardMotor2: "DRIVE_BACKWARD_M2",
	CmdDriveMotor1:         "DRIVE_M1_7BIT",
	CmdDriveMotor2:         "DRIVE_M2_7BIT",
	CmdDriveForwardMixed:   "DRIVE_FORWARD_MIXED",
	CmdDriveBackwardMixed:  "DRIVE_BACKWARD_MIXED",
	CmdTurnRightMixed:      "TURN_RIGHT_MIXED",
	CmdTurnLeftMixed:       "TURN_LEFT_MIXED",
	CmdDriveMixed:          "DRIVE_MIXED_7BIT",
	CmdTurnMixed:           "TURN_MIXED_7BIT",
	CmdSerialTimeout:       "SERIAL_TIMEOUT",
	CmdBaudRate:            "BAUD_RATE",
	CmdRamping:             "RAMPING",
	CmdDeadband:            "DEADBAND",
}

// FormatCommand returns the human-readable name of a command
func FormatCommand(command uint8) string {
	if name, ok := commandNames[command]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN_%d", command)
}

// ParseCommand accepts a command name as printed by FormatCommand
// (case-insensitive) or a decimal command number.
func ParseCommand(s string) (uint8, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	for cmd, n := range commandNames {
		if n == name {
			return cmd, nil
		}
	}
	n, err := strconv.ParseUint(name, 10, 8)
	if err != nil {
		return 0, fmt.Errorf("unknown command %q", s)
	}
	return uint8(n), nil
}

// FormatFrame renders a frame as a single log line
func FormatFrame(f Frame, ts time.Time) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] %s (%d) addr=%d value=%d checksum=0x%02X",
		ts.Format("15:04:05.000"), FormatCommand(f.Command), f.Command, f.Address, f.Value, f.Checksum)
	if err := f.Verify(); err != nil {
		fmt.Fprintf(&sb, " INVALID (%v)", err)
	}
	sb.WriteString("\n")
	return sb.String()
}

// FormatBytes renders raw frame bytes as hex
func FormatBytes(data []byte) string {
	parts := make([]string, len(data))
	for i, b := range data {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(parts, " ")
}
