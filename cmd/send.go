// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strconv"
	"time"

	"github.com/Thermoquad/sabrelay/pkg/sabertooth"
	"github.com/spf13/cobra"
)

var (
	sendCount       int
	sendInterval    time.Duration
	sendBadChecksum bool
)

var sendCmd = &cobra.Command{
	Use:   "send <command> <value>",
	Short: "Send command frames over the host link",
	Long: `Encode a command frame and write it to the host link, acting as the host.

The command is a name as shown by raw_log (e.g. DRIVE_FORWARD_M1) or a
number 0-255. The frame uses the configured controller address.

Use --bad-checksum to send a corrupted frame and check that the relay drops it.

Examples:
  # Motor 1 forward at half speed, five times a second for two seconds
  sabrelay send DRIVE_FORWARD_M1 64 --port /dev/ttyUSB0 --count 10 --interval 200ms

  # Frame the relay must reject
  sabrelay send 0 100 --url ws://bridge.local/motion --bad-checksum`,
	Args: cobra.ExactArgs(2),
	RunE: runSend,
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().IntVar(&sendCount, "count", 1, "Number of frames to send")
	sendCmd.Flags().DurationVar(&sendInterval, "interval", 100*time.Millisecond, "Delay between frames")
	sendCmd.Flags().BoolVar(&sendBadChecksum, "bad-checksum", false, "Corrupt the checksum")
}

// buildFrame parses command and value arguments into a frame
func buildFrame(address uint8, commandArg, valueArg string, badChecksum bool) (sabertooth.Frame, error) {
	command, err := sabertooth.ParseCommand(commandArg)
	if err != nil {
		return sabertooth.Frame{}, err
	}

	value, err := strconv.ParseUint(valueArg, 10, 8)
	if err != nil {
		return sabertooth.Frame{}, fmt.Errorf("invalid value %q: must be 0-255", valueArg)
	}

	frame := sabertooth.NewFrame(address, command, uint8(value))
	if badChecksum {
		frame.Checksum = (frame.Checksum + 1) & sabertooth.ChecksumMask
	}
	return frame, nil
}

func runSend(cmd *cobra.Command, args []string) error {
	frame, err := buildFrame(cfg.Controller.Address, args[0], args[1], sendBadChecksum)
	if err != nil {
		return err
	}

	conn, connInfo, err := OpenConnection(cfg.Input)
	if err != nil {
		return err
	}
	defer conn.Close()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Connection: %s\n", connInfo)

	b := frame.Bytes()
	for i := 0; i < sendCount; i++ {
		if i > 0 {
			time.Sleep(sendInterval)
		}
		if _, err := conn.Write(b[:]); err != nil {
			return fmt.Errorf("SEND FAILED: %w", err)
		}
		fmt.Fprint(out, sabertooth.FormatFrame(frame, time.Now()))
	}

	return nil
}
