// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sabertooth

import (
	"errors"
	"fmt"
)

var (
	// ErrShortFrame is returned when fewer than FrameSize bytes are parsed
	ErrShortFrame = errors.New("sabertooth: short frame")
	// ErrPortNotFound is returned when no serial device matches the configured patterns
	ErrPortNotFound = errors.New("sabertooth: controller port not found")
)

// ChecksumMismatchError reports a frame whose transmitted checksum does not
// match the checksum calculated from its address, command and value.
type ChecksumMismatchError struct {
	Received   uint8
	Calculated uint8
}

// Error implements the error interface
func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("checksum mismatch: received 0x%02X, calculated 0x%02X", e.Received, e.Calculated)
}

// IsChecksumMismatch reports whether err is (or wraps) a ChecksumMismatchError
func IsChecksumMismatch(err error) bool {
	var mismatch *ChecksumMismatchError
	return errors.As(err, &mismatch)
}
