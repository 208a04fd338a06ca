// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package sabertooth implements the Sabertooth packetized serial protocol.
//
// A frame is four bytes: address, command, value and a 7-bit checksum of the
// first three. This package provides frame encoding/decoding, checksum
// validation, diagnostics, and a serial driver for the motor controller.
package sabertooth

// Frame layout
const (
	FrameSize    = 4
	ChecksumMask = 0x7F
)

// Addresses selectable with the controller's DIP switches
const (
	DefaultAddress = 128
	MinAddress     = 128
	MaxAddress     = 135
)

// DefaultBaudRate is the controller serial speed
const DefaultBaudRate = 115200

// Value limits
const (
	MaxValue   = 127
	NightSpeed = 20
)

// AutobaudByte must be sent once after the controller powers up so it can
// detect the baud rate.
const AutobaudByte = 0xAA

// Commands - Independent drive 0-7
const (
	CmdDriveForwardMotor1  = 0
	CmdDriveBackwardMotor1 = 1
	CmdMinVoltage          = 2
	CmdMaxVoltage          = 3
	CmdDriveForwardMotor2  = 4
	CmdDriveBackwardMotor2 = 5
	CmdDriveMotor1         = 6 // 7-bit, 64 = stop
	CmdDriveMotor2         = 7 // 7-bit, 64 = stop
)

// Commands - Mixed mode 8-13
const (
	CmdDriveForwardMixed  = 8
	CmdDriveBackwardMixed = 9
	CmdTurnRightMixed     = 10
	CmdTurnLeftMixed      = 11
	CmdDriveMixed         = 12 // 7-bit, 64 = stop
	CmdTurnMixed          = 13 // 7-bit, 64 = stop
)

// Commands - Configuration 14-17
const (
	CmdSerialTimeout = 14
	CmdBaudRate      = 15
	CmdRamping       = 16
	CmdDeadband      = 17

	MaxCommand = CmdDeadband
)

// Motor identifiers
const (
	Motor1 = 1
	Motor2 = 2
)
