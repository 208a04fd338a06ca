// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"

	"github.com/Thermoquad/sabrelay/internal/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long: `Print the configuration after merging defaults, the config file,
SABRELAY_* environment variables and flags, as YAML.

The output can be saved as sabrelay.yaml and edited.`,
	Args: cobra.NoArgs,
	RunE: runConfig,
}

func init() {
	rootCmd.AddCommand(configCmd)
}

func runConfig(cmd *cobra.Command, args []string) error {
	out, err := marshalConfig(cfg)
	if err != nil {
		return err
	}

	if used := vcfg.ConfigFileUsed(); used != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "# loaded from %s\n", used)
	}
	_, err = cmd.OutOrStdout().Write(out)
	return err
}

// marshalConfig renders c as YAML
func marshalConfig(c *config.Config) ([]byte, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	return out, nil
}
