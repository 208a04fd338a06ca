// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sabertooth

// Checksum computes the 7-bit frame checksum: (address + command + value) & 0x7F
func Checksum(address, command, value uint8) uint8 {
	return uint8((uint16(address) + uint16(command) + uint16(value)) & ChecksumMask)
}
