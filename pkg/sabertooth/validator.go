// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sabertooth

import "fmt"

// AnomalyType represents different types of frame anomalies
type AnomalyType int

const (
	AnomalyUnknownCommand AnomalyType = iota
	AnomalyValueOutOfRange
	AnomalyAddressOutOfRange
	AnomalyChecksumError
)

// ValidationError describes a suspicious but checksum-valid frame.
// Anomalies are diagnostics only and never prevent a frame from being applied.
type ValidationError struct {
	Type    AnomalyType
	Message string
	Details map[string]interface{}
}

// Error implements the error interface
func (v *ValidationError) Error() string {
	return v.Message
}

// ValidateFrame checks a frame against the controller's documented ranges
// Returns a slice of validation errors (empty if nothing looks wrong)
func ValidateFrame(f Frame) []ValidationError {
	errors := []ValidationError{}

	if f.Address < MinAddress || f.Address > MaxAddress {
		errors = append(errors, ValidationError{
			Type:    AnomalyAddressOutOfRange,
			Message: fmt.Sprintf("Address %d outside DIP range %d-%d", f.Address, MinAddress, MaxAddress),
			Details: map[string]interface{}{"address": f.Address, "min": MinAddress, "max": MaxAddress},
		})
	}

	if f.Command > MaxCommand {
		errors = append(errors, ValidationError{
			Type:    AnomalyUnknownCommand,
			Message: fmt.Sprintf("Unknown command %d (max %d)", f.Command, MaxCommand),
			Details: map[string]interface{}{"command": f.Command, "max": MaxCommand},
		})
		return errors
	}

	if f.Value > MaxValue && isDriveCommand(f.Command) {
		errors = append(errors, ValidationError{
			Type:    AnomalyValueOutOfRange,
			Message: fmt.Sprintf("%s value %d exceeds %d", FormatCommand(f.Command), f.Value, MaxValue),
			Details: map[string]interface{}{"command": f.Command, "value": f.Value, "max": MaxValue},
		})
	}

	return errors
}

func isDriveCommand(command uint8) bool {
	return command <= CmdTurnMixed && command != CmdMinVoltage && command != CmdMaxVoltage
}
