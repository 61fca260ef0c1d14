// Copyright (c) 2025, the sekolahdesk contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/sekolahdesk/sekolahdesk/internal/config"
)

// RunGenerateConfigCommand writes a default config.toml without starting
// the application.
func RunGenerateConfigCommand() *cobra.Command {
	var configDir string

	cmd := &cobra.Command{
		Use:   "generate-config",
		Short: "Generate a default config.toml",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := configDir
			if dir == "" {
				dir = config.GetDefaultConfigDir()
			}

			configPath := filepath.Join(dir, "config.toml")
			if _, err := os.Stat(configPath); err == nil {
				cmd.Printf("Config file already exists at %s. Skipping generation.\n", configPath)
				return nil
			}

			if err := config.WriteDefaultConfig(configPath); err != nil {
				return fmt.Errorf("generate config: %w", err)
			}

			cmd.Printf("Generated config file at %s\n", configPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&configDir, "config-dir", "", "directory to write config.toml into")

	return cmd
}
