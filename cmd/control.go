// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Thermoquad/sabrelay/pkg/sabertooth"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

var controlCmd = &cobra.Command{
	Use:   "control",
	Short: "Interactive TUI for driving the motor controller",
	Long: `Drive the Sabertooth controller directly from an interactive terminal UI.

This command opens the controller port (bypassing the host link) and is meant
for bench testing wiring, DIP switch settings and motor direction.

Features:
  - Per-motor speed entry (-127 to 127)
  - Emergency stop (space) with latch, resume with 'r'
  - Controller text output in the event log
  - Automatic reconnection on connection loss

Tab cycles between the motor list, the speed input and the buttons. Arrow
keys select the motor. The motors are stopped when the TUI exits.`,
	Args: cobra.NoArgs,
	RunE: runControl,
}

func init() {
	rootCmd.AddCommand(controlCmd)
}

// controllerManager handles the controller connection lifecycle and reconnection
type controllerManager struct {
	driver *sabertooth.Driver
	info   string
	mu     sync.RWMutex
	p      *tea.Program
	ctx    context.Context
	cancel context.CancelFunc
}

func newControllerManager(driver *sabertooth.Driver, info string) *controllerManager {
	ctx, cancel := context.WithCancel(context.Background())
	return &controllerManager{driver: driver, info: info, ctx: ctx, cancel: cancel}
}

func (cm *controllerManager) getDriver() *sabertooth.Driver {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.driver
}

func (cm *controllerManager) setDriver(driver *sabertooth.Driver, info string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.driver = driver
	cm.info = info
}

// swapDriver installs a reconnected driver. A latched emergency stop stays
// latched on the new driver until the operator resumes.
func (cm *controllerManager) swapDriver(driver *sabertooth.Driver, info string, latched bool) error {
	cm.setDriver(driver, info)
	if latched {
		return driver.EmergencyStop()
	}
	return nil
}

func runControl(cmd *cobra.Command, args []string) error {
	driver, info, err := OpenController(cfg.Controller, cfg.DriverConfig())
	if err != nil {
		return err
	}

	cm := newControllerManager(driver, info)

	m := initialControlModel(cm, info)
	p := tea.NewProgram(m, tea.WithAltScreen())
	cm.p = p

	go cm.echoLoop()

	_, runErr := p.Run()

	cm.cancel()
	if d := cm.getDriver(); d != nil {
		if err := d.EmergencyStop(); err != nil {
			fmt.Printf("Failed to stop motors: %v\n", err)
		}
		d.Close()
	}

	if runErr != nil {
		return fmt.Errorf("TUI error: %w", runErr)
	}
	return nil
}

// echoLoop forwards controller output to the TUI and reconnects when the port fails
func (cm *controllerManager) echoLoop() {
	for {
		driver := cm.getDriver()
		err := driver.Echo(cm.ctx, func(line string) {
			cm.p.Send(controllerLineMsg{line: line})
		})
		if cm.ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return
		}

		cm.p.Send(connectionLostMsg{err: err})
		if !cm.reconnect() {
			return
		}
	}
}

// reconnect attempts to reconnect with exponential backoff
// Returns false if shutdown was requested during reconnection
func (cm *controllerManager) reconnect() bool {
	latched := false
	if driver := cm.getDriver(); driver != nil {
		latched = driver.Stopped()
		driver.Close()
	}

	backoff := cfg.Relay.RetryInterval
	for {
		select {
		case <-cm.ctx.Done():
			return false
		case <-time.After(backoff):
		}

		driver, info, err := OpenController(cfg.Controller, cfg.DriverConfig())
		if err == nil {
			if err := cm.swapDriver(driver, info, latched); err != nil {
				cm.p.Send(controllerLineMsg{line: fmt.Sprintf("emergency stop after reconnect failed: %v", err)})
			}
			cm.p.Send(reconnectedMsg{connInfo: info})
			return true
		}

		backoff = nextBackoff(backoff, cfg.Relay.MaxRetryWait)
	}
}
