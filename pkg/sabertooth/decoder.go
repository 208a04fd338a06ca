// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sabertooth

// Decoder splits a byte stream into frames.
//
// The protocol has no start byte, so the decoder never resynchronizes: every
// FrameSize bytes are treated as one frame, and a frame that fails its
// checksum is dropped without searching for a new boundary.
type Decoder struct {
	buffer      [FrameSize]byte
	bufferIndex int
}

// NewDecoder creates a new frame decoder
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Reset discards any partially received frame
func (d *Decoder) Reset() {
	d.bufferIndex = 0
}

// Pending returns the number of bytes received toward the next frame
func (d *Decoder) Pending() int {
	return d.bufferIndex
}

// GetRawBytes returns the bytes received toward the next frame
func (d *Decoder) GetRawBytes() []byte {
	return d.buffer[:d.bufferIndex]
}

// DecodeByte feeds one byte to the decoder.
// Returns a completed frame every FrameSize bytes, or nil while incomplete.
// Returns a *ChecksumMismatchError (and the rejected frame) if the checksum fails.
func (d *Decoder) DecodeByte(b byte) (*Frame, error) {
	d.buffer[d.bufferIndex] = b
	d.bufferIndex++
	if d.bufferIndex < FrameSize {
		return nil, nil
	}

	d.bufferIndex = 0
	frame, err := ParseFrame(d.buffer[:])
	if err != nil {
		return nil, err
	}
	if err := frame.Verify(); err != nil {
		return &frame, err
	}
	return &frame, nil
}
