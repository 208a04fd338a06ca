// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Thermoquad/sabrelay/internal/logging"
	"github.com/Thermoquad/sabrelay/pkg/capture"
	"github.com/Thermoquad/sabrelay/pkg/relay"
	"github.com/Thermoquad/sabrelay/pkg/sabertooth"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var relayDryRun bool

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Forward host link frames to the motor controller",
	Long: `Read 4-byte command frames from the host link and apply every frame whose
checksum matches to the Sabertooth controller.

Frames with a bad checksum are logged with the received and calculated
checksum and dropped. The stream is never realigned: the next four bytes are
always read as the next frame.

If either link fails the motors are stopped, both ports are closed and the
relay reconnects with exponential backoff. Ctrl+C stops the motors before
exiting.

Examples:
  # Serial host link, controller found from controller.ports
  sabrelay relay --port /dev/ttyAMA0

  # WebSocket host link with metrics and capture
  sabrelay relay --url ws://bridge.local/motion --metrics-addr :9102 --capture run.cbor

  # Log frames without a controller attached
  sabrelay relay --port /dev/ttyUSB0 --dry-run`,
	RunE: runRelay,
}

func init() {
	rootCmd.AddCommand(relayCmd)
	relayCmd.Flags().Bool("night", false, "Night mode: cap drive speed to controller.night_speed")
	relayCmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9102)")
	relayCmd.Flags().String("capture", "", "Record every frame to this CBOR capture file")
	relayCmd.Flags().BoolVar(&relayDryRun, "dry-run", false, "Log commands instead of sending them to a controller")
}

// relaySession is everything that outlives a reconnect
type relaySession struct {
	log      *zap.Logger
	stLog    *zap.Logger
	metrics  *relay.Metrics
	observer []relay.Observer
}

func runRelay(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s := &relaySession{
		log:   logger.Named(logging.NameRelay),
		stLog: logger.Named(logging.NameSabertooth),
	}

	reg := relay.NewRegistry()
	s.metrics = relay.NewMetrics(reg)
	s.observer = append(s.observer, s.metrics)

	if cfg.Metrics.Addr != "" {
		srv := startMetricsServer(cfg.Metrics.Addr, cfg.Metrics.Path, relay.MetricsHandler(reg), s.log)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	if cfg.Capture.File != "" {
		f, err := os.Create(cfg.Capture.File)
		if err != nil {
			return fmt.Errorf("failed to create capture file: %w", err)
		}
		defer f.Close()

		source := cfg.Input.Port
		if cfg.Input.URL != "" {
			source = cfg.Input.URL
		}
		rec, err := capture.NewRecorder(f, source)
		if err != nil {
			return err
		}
		s.observer = append(s.observer, rec)
		s.log.Info("capturing frames", zap.String("file", cfg.Capture.File), zap.Stringer("session", rec.Session()))
		defer func() {
			if err := rec.Err(); err != nil {
				s.log.Error("capture incomplete", zap.Error(err))
			}
			s.log.Info("capture closed", zap.Uint64("frames", rec.Count()))
		}()
	}

	backoff := cfg.Relay.RetryInterval
	for {
		connected, err := s.run(ctx)
		if ctx.Err() != nil {
			s.log.Info("relay stopped")
			return nil
		}
		if connected {
			backoff = cfg.Relay.RetryInterval
		}

		s.log.Warn("relay interrupted, reconnecting", zap.Error(err), zap.Duration("retry_in", backoff))
		select {
		case <-ctx.Done():
			s.log.Info("relay stopped")
			return nil
		case <-time.After(backoff):
		}
		backoff = nextBackoff(backoff, cfg.Relay.MaxRetryWait)
	}
}

// run opens both links and relays until one of them fails or ctx is done.
// connected reports whether both links came up.
func (s *relaySession) run(ctx context.Context) (connected bool, err error) {
	var act relay.Actuator
	var driver *sabertooth.Driver
	controllerInfo := "dry run"

	if relayDryRun {
		act = relay.ActuatorFunc(func(command, value uint8) error {
			s.stLog.Info("dry run",
				zap.String("command", sabertooth.FormatCommand(command)),
				zap.Uint8("value", value))
			return nil
		})
	} else {
		driver, controllerInfo, err = OpenController(cfg.Controller, cfg.DriverConfig())
		if err != nil {
			return false, err
		}
		defer driver.Close()
		act = driver
	}

	conn, connInfo, err := OpenConnection(cfg.Input)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if driver != nil && cfg.Controller.Echo {
		go func() {
			err := driver.Echo(sessionCtx, func(line string) {
				s.stLog.Info(line)
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				s.stLog.Debug("controller echo stopped", zap.Error(err))
			}
		}()
	}

	s.log.Info("relay started",
		zap.String("input", connInfo),
		zap.String("controller", controllerInfo),
		zap.Bool("night_mode", cfg.Controller.NightMode),
		zap.Duration("poll_interval", cfg.Relay.PollInterval))

	receiver := relay.NewReceiver(relay.NewStreamChannel(conn), act,
		relay.Config{PollInterval: cfg.Relay.PollInterval},
		relay.WithLogger(s.log),
		relay.WithObserver(s.observer...))

	err = receiver.Run(sessionCtx)

	shuttingDown := ctx.Err() != nil
	if driver != nil && (!shuttingDown || cfg.Relay.StopOnShutdown) {
		if stopErr := driver.EmergencyStop(); stopErr != nil {
			s.log.Error("emergency stop failed", zap.Error(stopErr))
		} else {
			s.metrics.EmergencyStops.Inc()
		}
	}

	if shuttingDown {
		return true, nil
	}
	return true, err
}

// startMetricsServer serves handler on addr until Shutdown
func startMetricsServer(addr, path string, handler http.Handler, log *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(path, handler)

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("metrics listening", zap.String("addr", addr), zap.String("path", path))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", zap.Error(err))
		}
	}()
	return srv
}
