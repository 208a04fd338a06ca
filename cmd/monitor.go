// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/Thermoquad/sabrelay/pkg/sabertooth"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

// A run of this many checksum errors in a row usually means the stream is
// misaligned, which the relay never corrects by itself
const misalignmentStreak = 3

var (
	showAll       bool
	statsInterval int
	useTUI        bool
)

var monitorCmd = &cobra.Command{
	Use:     "monitor",
	Aliases: []string{"error_detection"},
	Short:   "Detect and analyze bad frames on the host link",
	Long: `Track checksum errors and suspicious commands with statistics.

This command checks each frame and detects:
  - Checksum mismatches (the relay would drop these)
  - Runs of consecutive mismatches, a sign of a misaligned stream
  - Unknown commands, drive values above 127, addresses outside 128-135
  - Statistics and trends (frame rate, error rate, success rate)

By default, only errors are displayed. Use --show-all to display valid frames too.

Nothing is sent to the controller.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().BoolVar(&showAll, "show-all", false, "Show all frames (not just errors)")
	monitorCmd.Flags().IntVar(&statsInterval, "stats-interval", 10, "Statistics update interval (seconds)")
	monitorCmd.Flags().BoolVar(&useTUI, "tui", true, "Use terminal UI (false for text mode)")
}

// frameMsg is one decoded frame and what is wrong with it
type frameMsg struct {
	frame            sabertooth.Frame
	decodeErr        error
	validationErrors []sabertooth.ValidationError
}

// readFrames decodes frames from r and hands them to fn until r fails
func readFrames(r io.Reader, fn func(frameMsg)) error {
	decoder := sabertooth.NewDecoder()
	buf := make([]byte, 128)
	for {
		n, err := r.Read(buf)
		for i := 0; i < n; i++ {
			frame, decodeErr := decoder.DecodeByte(buf[i])
			if frame == nil {
				continue
			}
			msg := frameMsg{frame: *frame, decodeErr: decodeErr}
			if decodeErr == nil {
				msg.validationErrors = sabertooth.ValidateFrame(*frame)
			}
			fn(msg)
		}
		if err != nil {
			return err
		}
	}
}

func runMonitor(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection(cfg.Input)
	if err != nil {
		return err
	}
	defer conn.Close()

	if useTUI {
		return runTUIMode(conn, connInfo)
	}
	return runTextMode(conn, connInfo, cmd.OutOrStdout())
}

// printChecksumError prints a rejected frame in highlighted format
func printChecksumError(out io.Writer, msg frameMsg, streak uint64) {
	timestamp := time.Now().Format("15:04:05.000")
	b := msg.frame.Bytes()
	fmt.Fprintf(out, "[%s] \033[1;31mCHECKSUM ERROR:\033[0m %v\n", timestamp, msg.decodeErr)
	fmt.Fprintf(out, "  Bytes: %s\n", sabertooth.FormatBytes(b[:]))
	if streak >= misalignmentStreak {
		fmt.Fprintf(out, "  \033[1;33m%d consecutive errors, stream may be misaligned\033[0m\n", streak)
	}
	fmt.Fprintf(out, "  >>> FRAME DROPPED <<<\n\n")
}

// printValidationErrors prints anomalies for a frame that passed its checksum
func printValidationErrors(out io.Writer, frame sabertooth.Frame, errors []sabertooth.ValidationError) {
	timestamp := time.Now().Format("15:04:05.000")

	fmt.Fprintf(out, "[%s] \033[1;33mANOMALY:\033[0m %s (%d)\n", timestamp, sabertooth.FormatCommand(frame.Command), frame.Command)
	fmt.Fprintf(out, "  Checksum: \033[1;32mOK\033[0m\n")

	for i, err := range errors {
		switch err.Type {
		case sabertooth.AnomalyUnknownCommand:
			fmt.Fprintf(out, "  Issue %d: \033[1;31m%s\033[0m\n", i+1, err.Message)
		case sabertooth.AnomalyValueOutOfRange:
			fmt.Fprintf(out, "  Issue %d: \033[1;33m%s\033[0m\n", i+1, err.Message)
			if value, ok := err.Details["value"].(uint8); ok {
				fmt.Fprintf(out, "    value=%d (max %d)\n", value, sabertooth.MaxValue)
			}
		case sabertooth.AnomalyAddressOutOfRange:
			fmt.Fprintf(out, "  Issue %d: \033[1;33m%s\033[0m\n", i+1, err.Message)
		default:
			fmt.Fprintf(out, "  Issue %d: %s\n", i+1, err.Message)
		}
	}

	fmt.Fprintf(out, "  >>> FRAME APPLIED (check sender) <<<\n\n")
}

// runTUIMode runs the monitor in TUI mode
func runTUIMode(conn Connection, connInfo string) error {
	m := initialModel(connInfo, showAll)
	p := tea.NewProgram(m)

	go func() {
		err := readFrames(conn, func(msg frameMsg) {
			p.Send(msg)
		})
		p.Send(linkClosedMsg{err: err})
	}()

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}

	return nil
}

// runTextMode runs the monitor in text mode
func runTextMode(conn Connection, connInfo string, out io.Writer) error {
	fmt.Fprintf(out, "Sabrelay - Frame Monitor\n")
	fmt.Fprintf(out, "Connection: %s\n", connInfo)
	fmt.Fprintf(out, "Statistics interval: %d seconds\n", statsInterval)
	if showAll {
		fmt.Fprintf(out, "Mode: All frames\n")
	} else {
		fmt.Fprintf(out, "Mode: Errors only\n")
	}
	fmt.Fprintf(out, "Press Ctrl+C to exit\n\n")

	stats := sabertooth.NewStatistics()

	statsTicker := time.NewTicker(time.Duration(statsInterval) * time.Second)
	defer statsTicker.Stop()

	frames := make(chan frameMsg, 64)
	readErr := make(chan error, 1)
	go func() {
		readErr <- readFrames(conn, func(msg frameMsg) {
			frames <- msg
		})
	}()

	for {
		select {
		case msg := <-frames:
			handleTextFrame(out, stats, msg)

		case err := <-readErr:
			// Drain what the reader queued before it stopped
			for len(frames) > 0 {
				handleTextFrame(out, stats, <-frames)
			}
			fmt.Fprintln(out)
			fmt.Fprint(out, stats.String())
			return fmt.Errorf("connection lost: %w", err)

		case <-statsTicker.C:
			fmt.Fprintln(out)
			fmt.Fprint(out, stats.String())
			fmt.Fprintln(out)
		}
	}
}

func handleTextFrame(out io.Writer, stats *sabertooth.Statistics, msg frameMsg) {
	if msg.decodeErr != nil {
		stats.Update(nil, msg.decodeErr, nil)
		printChecksumError(out, msg, stats.MismatchStreak)
		return
	}

	stats.Update(&msg.frame, nil, msg.validationErrors)
	if len(msg.validationErrors) > 0 {
		printValidationErrors(out, msg.frame, msg.validationErrors)
	} else if showAll {
		fmt.Fprint(out, sabertooth.FormatFrame(msg.frame, time.Now()))
	}
}
