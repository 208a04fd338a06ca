// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sabertooth

// Encode creates a complete wire-formatted frame, checksum included
func Encode(address, command, value uint8) []byte {
	b := NewFrame(address, command, value).Bytes()
	return b[:]
}

// MotorCommand maps a signed speed to the drive command for the given motor.
// Positive speeds drive forward, negative speeds drive backward. The returned
// value is the magnitude clamped to MaxValue.
func MotorCommand(motor int, speed int) (command, value uint8) {
	magnitude := speed
	if magnitude < 0 {
		magnitude = -magnitude
	}
	if magnitude > MaxValue {
		magnitude = MaxValue
	}

	switch {
	case motor == Motor2 && speed >= 0:
		command = CmdDriveForwardMotor2
	case motor == Motor2:
		command = CmdDriveBackwardMotor2
	case speed >= 0:
		command = CmdDriveForwardMotor1
	default:
		command = CmdDriveBackwardMotor1
	}
	return command, uint8(magnitude)
}

// StopFrames returns frames that bring both motors to a stop
func StopFrames(address uint8) []Frame {
	return []Frame{
		NewFrame(address, CmdDriveForwardMotor1, 0),
		NewFrame(address, CmdDriveForwardMotor2, 0),
	}
}

// DecodeMotorCommand maps a drive command back to a motor and signed speed.
// 7-bit commands are centred on 64. ok is false for mixed-mode and
// configuration commands, which do not address a single motor.
func DecodeMotorCommand(command, value uint8) (motor int, speed int, ok bool) {
	switch command {
	case CmdDriveForwardMotor1:
		return Motor1, int(value), true
	case CmdDriveBackwardMotor1:
		return Motor1, -int(value), true
	case CmdDriveForwardMotor2:
		return Motor2, int(value), true
	case CmdDriveBackwardMotor2:
		return Motor2, -int(value), true
	case CmdDriveMotor1:
		return Motor1, (int(value) - 64) * 2, true
	case CmdDriveMotor2:
		return Motor2, (int(value) - 64) * 2, true
	}
	return 0, 0, false
}
