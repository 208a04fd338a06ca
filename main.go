// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// Sabrelay - Sabertooth Motor Controller Relay
//
// Forwards checksum-verified command frames from a host link to a
// Sabertooth controller in packetized serial mode.

package main

import (
	"os"

	"github.com/Thermoquad/sabrelay/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
