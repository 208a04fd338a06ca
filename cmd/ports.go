// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/Thermoquad/sabrelay/pkg/sabertooth"
	"github.com/spf13/cobra"
	"go.bug.st/serial/enumerator"
)

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List serial ports and the controller port that would be used",
	Long: `List the serial ports on this machine and show which one matches the
controller.ports patterns.

Exit codes:
  0 - A controller port was found
  1 - No port matches the controller patterns
  2 - Ports could not be listed`,
	Args: cobra.NoArgs,
	RunE: runPorts,
}

func init() {
	rootCmd.AddCommand(portsCmd)
}

func runPorts(cmd *cobra.Command, args []string) error {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to list ports: %v\n", err)
		os.Exit(2)
	}

	controller, findErr := sabertooth.FindPort(cfg.Controller.Ports)
	printPorts(cmd.OutOrStdout(), details, controller)

	fmt.Fprintf(cmd.OutOrStdout(), "\nController patterns: %s\n", strings.Join(cfg.Controller.Ports, ", "))
	if findErr != nil {
		fmt.Fprintf(os.Stderr, "%v\n", findErr)
		os.Exit(1)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Controller port: %s\n", controller)
	return nil
}

// printPorts writes one line per port, marking the controller port
func printPorts(out io.Writer, details []*enumerator.PortDetails, controller string) {
	if len(details) == 0 {
		fmt.Fprintf(out, "No serial ports found\n")
		return
	}

	for _, d := range details {
		marker := " "
		if d.Name == controller {
			marker = "*"
		}
		fmt.Fprintf(out, "%s %s", marker, d.Name)
		if d.IsUSB {
			fmt.Fprintf(out, "  USB %s:%s", d.VID, d.PID)
			if d.SerialNumber != "" {
				fmt.Fprintf(out, " serial=%s", d.SerialNumber)
			}
			if d.Product != "" {
				fmt.Fprintf(out, " (%s)", d.Product)
			}
		}
		fmt.Fprintln(out)
	}
}
