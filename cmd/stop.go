// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop both motors on the controller",
	Long: `Open the controller port directly and send stop commands for both motors.

Use this when the relay is not running and the motors were left moving.`,
	Args: cobra.NoArgs,
	RunE: runStop,
}

func init() {
	rootCmd.AddCommand(stopCmd)
}

func runStop(cmd *cobra.Command, args []string) error {
	driver, info, err := OpenController(cfg.Controller, cfg.DriverConfig())
	if err != nil {
		return err
	}
	defer driver.Close()

	if err := driver.EmergencyStop(); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Motors stopped (%s, address %d)\n", info, driver.Config().Address)
	return nil
}
