// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/Thermoquad/sabrelay/pkg/sabertooth"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var rawLogHex bool

var rawLogCmd = &cobra.Command{
	Use:   "raw_log",
	Short: "Display host link frames in human-readable format",
	Long: `Continuously decode and display command frames as they arrive on the host link.

Every fourth byte completes a frame. Frames with a bad checksum are shown with
an INVALID marker and the calculated checksum; nothing is sent to the controller.

Supports both serial and WebSocket connections.`,
	RunE: runRawLog,
}

func init() {
	rootCmd.AddCommand(rawLogCmd)
	rawLogCmd.Flags().BoolVar(&rawLogHex, "hex", false, "Also print the raw frame bytes")
}

func runRawLog(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection(cfg.Input)
	if err != nil {
		return err
	}
	defer conn.Close()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Sabrelay - Raw Frame Log\n")
	fmt.Fprintf(out, "Connection: %s\n", connInfo)
	fmt.Fprintf(out, "Press Ctrl+C to exit\n\n")

	return logFrames(conn, out, rawLogHex)
}

// logFrames prints every frame read from r until r fails
func logFrames(r io.Reader, out io.Writer, withHex bool) error {
	decoder := sabertooth.NewDecoder()
	buf := make([]byte, 128)

	for {
		n, err := r.Read(buf)
		for i := 0; i < n; i++ {
			frame, _ := decoder.DecodeByte(buf[i])
			if frame == nil {
				continue
			}
			line := sabertooth.FormatFrame(*frame, time.Now())
			if withHex {
				b := frame.Bytes()
				line = fmt.Sprintf("%s  bytes: %s\n", line[:len(line)-1], sabertooth.FormatBytes(b[:]))
			}
			fmt.Fprint(out, line)
		}

		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, ErrConnectionClosed) {
				logger.Info("connection closed")
				return nil
			}
			if n == 0 {
				return fmt.Errorf("read error: %w", err)
			}
			logger.Warn("read error", zap.Error(err))
		}
	}
}
