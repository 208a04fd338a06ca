// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/Thermoquad/sabrelay/pkg/sabertooth"
	"github.com/spf13/cobra"
)

var (
	frameTestTimeout int
)

var frameTestCmd = &cobra.Command{
	Use:   "frame_test",
	Short: "Test the host link by waiting for a valid frame",
	Long: `Wait for a frame with a valid checksum on the host link until timeout.

Frames with a bad checksum are counted but do not end the test.

Exit codes:
  0 - Valid frame received before timeout
  1 - Timeout reached without receiving a valid frame
  2 - Connection error

Useful for checking wiring and baud rate before starting the relay.`,
	RunE: runFrameTest,
}

func init() {
	rootCmd.AddCommand(frameTestCmd)
	frameTestCmd.Flags().IntVar(&frameTestTimeout, "timeout", 10, "Timeout in seconds to wait for a frame")
}

func runFrameTest(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection(cfg.Input)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer conn.Close()

	fmt.Printf("Sabrelay - Frame Test\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %d seconds\n", frameTestTimeout)
	fmt.Printf("Waiting for valid frame...\n\n")

	frameChan := make(chan sabertooth.Frame, 1)
	errChan := make(chan error, 1)

	go func() {
		rejected := 0
		decoder := sabertooth.NewDecoder()
		buf := make([]byte, 128)
		for {
			n, err := conn.Read(buf)
			if err != nil {
				errChan <- err
				return
			}

			for i := 0; i < n; i++ {
				frame, decodeErr := decoder.DecodeByte(buf[i])
				if decodeErr != nil {
					rejected++
					continue
				}
				if frame != nil {
					if rejected > 0 {
						fmt.Printf("(%d frames failed their checksum first)\n", rejected)
					}
					frameChan <- *frame
					return
				}
			}
		}
	}()

	select {
	case frame := <-frameChan:
		b := frame.Bytes()
		fmt.Printf("SUCCESS: Received valid frame\n")
		fmt.Printf("  Command: %s (%d)\n", sabertooth.FormatCommand(frame.Command), frame.Command)
		fmt.Printf("  Address: %d\n", frame.Address)
		fmt.Printf("  Value: %d\n", frame.Value)
		fmt.Printf("  Checksum: 0x%02X\n", frame.Checksum)
		fmt.Printf("  Bytes: %s\n", sabertooth.FormatBytes(b[:]))
		os.Exit(0)

	case err := <-errChan:
		fmt.Fprintf(os.Stderr, "Read error: %v\n", err)
		os.Exit(2)

	case <-time.After(time.Duration(frameTestTimeout) * time.Second):
		fmt.Fprintf(os.Stderr, "TIMEOUT: No valid frame received within %d seconds\n", frameTestTimeout)
		os.Exit(1)
	}

	return nil
}
