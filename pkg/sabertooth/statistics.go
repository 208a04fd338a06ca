// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sabertooth

import (
	"fmt"
	"time"
)

// Statistics tracks frame statistics and error rates
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	TotalFrames      uint64
	ValidFrames      uint64
	ChecksumErrors   uint64
	DecodeErrors     uint64
	Anomalies        uint64
	UnknownCommands  uint64
	ValuesOutOfRange uint64
	BadAddresses     uint64
	DispatchErrors   uint64

	// Consecutive checksum errors; a long run usually means the stream is
	// misaligned rather than corrupted
	MismatchStreak    uint64
	MaxMismatchStreak uint64

	// Rates (calculated)
	FrameRate float64 // frames/sec
	ErrorRate float64 // errors/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
	}
}

// Update updates statistics based on a frame and its errors
func (s *Statistics) Update(frame *Frame, decodeErr error, validationErrors []ValidationError) {
	s.TotalFrames++
	s.LastUpdateTime = time.Now()

	if decodeErr != nil {
		if IsChecksumMismatch(decodeErr) {
			s.ChecksumErrors++
			s.MismatchStreak++
			if s.MismatchStreak > s.MaxMismatchStreak {
				s.MaxMismatchStreak = s.MismatchStreak
			}
		} else {
			s.DecodeErrors++
		}
		return
	}

	s.MismatchStreak = 0
	s.ValidFrames++

	for _, err := range validationErrors {
		s.Anomalies++
		switch err.Type {
		case AnomalyUnknownCommand:
			s.UnknownCommands++
		case AnomalyValueOutOfRange:
			s.ValuesOutOfRange++
		case AnomalyAddressOutOfRange:
			s.BadAddresses++
		}
	}
}

// RecordDispatchError counts a valid frame the actuator failed to apply
func (s *Statistics) RecordDispatchError() {
	s.DispatchErrors++
}

// CalculateRates calculates frame and error rates
func (s *Statistics) CalculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.FrameRate = float64(s.TotalFrames) / elapsed
		s.ErrorRate = float64(s.ErrorCount()) / elapsed
	}
}

// ErrorCount returns the number of frames that were not applied
func (s *Statistics) ErrorCount() uint64 {
	return s.ChecksumErrors + s.DecodeErrors + s.DispatchErrors
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	s.CalculateRates()

	var validPercent, checksumPercent float64
	if s.TotalFrames > 0 {
		validPercent = float64(s.ValidFrames) * 100.0 / float64(s.TotalFrames)
		checksumPercent = float64(s.ChecksumErrors) * 100.0 / float64(s.TotalFrames)
	}

	elapsed := time.Since(s.StartTime)

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Total Frames:    %8d\n", s.TotalFrames)
	result += fmt.Sprintf("Valid Frames:    %8d (%.1f%%)\n", s.ValidFrames, validPercent)

	if s.ChecksumErrors > 0 {
		result += fmt.Sprintf("Checksum Errors: %8d (%.1f%%)\n", s.ChecksumErrors, checksumPercent)
		result += fmt.Sprintf("  Longest Run:      %5d\n", s.MaxMismatchStreak)
	}
	if s.DecodeErrors > 0 {
		result += fmt.Sprintf("Decode Errors:   %8d\n", s.DecodeErrors)
	}
	if s.DispatchErrors > 0 {
		result += fmt.Sprintf("Dispatch Errors: %8d\n", s.DispatchErrors)
	}
	if s.Anomalies > 0 {
		result += fmt.Sprintf("Anomalies:       %8d\n", s.Anomalies)
		if s.UnknownCommands > 0 {
			result += fmt.Sprintf("  Unknown Command:  %5d\n", s.UnknownCommands)
		}
		if s.ValuesOutOfRange > 0 {
			result += fmt.Sprintf("  Value > 127:      %5d\n", s.ValuesOutOfRange)
		}
		if s.BadAddresses > 0 {
			result += fmt.Sprintf("  Bad Address:      %5d\n", s.BadAddresses)
		}
	}

	result += fmt.Sprintf("Frame Rate:      %8.1f frames/sec\n", s.FrameRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/sec\n", s.ErrorRate)
	result += "================================\n"

	return result
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	*s = *NewStatistics()
}
