// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sabertooth

import "fmt"

// Frame is one packetized serial command as it appears on the wire
type Frame struct {
	Address  uint8
	Command  uint8
	Value    uint8
	Checksum uint8
}

// NewFrame creates a frame with its checksum filled in
func NewFrame(address, command, value uint8) Frame {
	return Frame{
		Address:  address,
		Command:  command,
		Value:    value,
		Checksum: Checksum(address, command, value),
	}
}

// ParseFrame reads the first FrameSize bytes of data in wire order.
// The checksum is not verified; use Verify for that.
func ParseFrame(data []byte) (Frame, error) {
	if len(data) < FrameSize {
		return Frame{}, fmt.Errorf("%w: got %d bytes, need %d", ErrShortFrame, len(data), FrameSize)
	}
	return Frame{
		Address:  data[0],
		Command:  data[1],
		Value:    data[2],
		Checksum: data[3],
	}, nil
}

// CalculatedChecksum returns the checksum the frame should carry
func (f Frame) CalculatedChecksum() uint8 {
	return Checksum(f.Address, f.Command, f.Value)
}

// Verify returns a *ChecksumMismatchError if the transmitted checksum is wrong
func (f Frame) Verify() error {
	if calculated := f.CalculatedChecksum(); calculated != f.Checksum {
		return &ChecksumMismatchError{Received: f.Checksum, Calculated: calculated}
	}
	return nil
}

// Valid reports whether the transmitted checksum matches
func (f Frame) Valid() bool {
	return f.Verify() == nil
}

// Bytes returns the wire representation of the frame
func (f Frame) Bytes() [FrameSize]byte {
	return [FrameSize]byte{f.Address, f.Command, f.Value, f.Checksum}
}
