// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/Thermoquad/sabrelay/internal/logging"
	"github.com/Thermoquad/sabrelay/pkg/capture"
	"github.com/Thermoquad/sabrelay/pkg/relay"
	"github.com/Thermoquad/sabrelay/pkg/sabertooth"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	replayLive     bool
	replayRealtime bool
)

var replayCmd = &cobra.Command{
	Use:   "replay <capture-file>",
	Short: "Replay a frame capture through the relay",
	Long: `Feed the frames of a capture recorded with 'relay --capture' through the
same receive and checksum logic as the live relay.

By default commands are only printed. With --live they are sent to the
controller; with --realtime the recorded timing between frames is kept.`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func init() {
	rootCmd.AddCommand(replayCmd)
	replayCmd.Flags().BoolVar(&replayLive, "live", false, "Send replayed commands to the controller")
	replayCmd.Flags().BoolVar(&replayRealtime, "realtime", false, "Keep the recorded timing between frames")
}

func runReplay(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	out := cmd.OutOrStdout()

	var act relay.Actuator = relay.ActuatorFunc(func(command, value uint8) error {
		fmt.Fprintf(out, "  -> %s value=%d\n", sabertooth.FormatCommand(command), value)
		return nil
	})
	if replayLive {
		driver, info, err := OpenController(cfg.Controller, cfg.DriverConfig())
		if err != nil {
			return err
		}
		defer func() {
			_ = driver.EmergencyStop()
			driver.Close()
		}()
		fmt.Fprintf(out, "Controller: %s\n", info)
		act = driver
	}

	stats, err := replayCapture(f, act, out, replayRealtime)
	fmt.Fprintln(out)
	fmt.Fprint(out, stats.String())
	return err
}

// replayCapture pushes every record of a capture through a Receiver
func replayCapture(r io.Reader, act relay.Actuator, out io.Writer, realtime bool) (*sabertooth.Statistics, error) {
	stats := sabertooth.NewStatistics()

	rd, err := capture.NewReader(r)
	if err != nil {
		return stats, err
	}

	hdr := rd.Header()
	fmt.Fprintf(out, "Capture: session %s from %s, started %s\n\n",
		hdr.Session, hdr.Source, hdr.Started.Local().Format(time.RFC3339))

	ch := relay.NewBytesChannel(nil)
	receiver := relay.NewReceiver(ch, act, relay.Config{},
		relay.WithLogger(logger.Named(logging.NameRelay)),
		relay.WithObserver(relay.StatisticsObserver(stats)))

	var last time.Time
	for {
		rec, err := rd.Next()
		if errors.Is(err, io.EOF) {
			return stats, nil
		}
		if err != nil {
			return stats, err
		}

		if realtime && !last.IsZero() && rec.Time.After(last) {
			time.Sleep(rec.Time.Sub(last))
		}
		last = rec.Time

		fmt.Fprintf(out, "#%d [%s] %s (recorded: %s)\n",
			rec.Seq, rec.Time.Local().Format("15:04:05.000"), sabertooth.FormatBytes(rec.Raw), rec.Outcome)

		ch.Write(rec.Raw)
		res, err := receiver.Poll()
		if err != nil {
			logger.Warn("replayed command failed", zap.Uint64("seq", rec.Seq), zap.Error(err))
			continue
		}
		if res.Outcome == relay.OutcomeRejected {
			fmt.Fprintf(out, "  -> dropped: %v\n", res.Err)
		}
	}
}
