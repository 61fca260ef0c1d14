// Copyright (c) 2025, the sekolahdesk contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Sekolahdesk is a records-management backend for a small school:
// student rosters, class enrollments, grades and simple inventory over a
// local SQLite database. This binary hosts the data layer and its
// maintenance commands; the windowed UI talks to it in-process.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sekolahdesk/sekolahdesk/internal/buildinfo"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "sekolahdesk",
		Short: "School records management",
		Long:  "Local-first school records management: students, classes, grades, inventory.",
	}

	rootCmd.AddCommand(RunServeCommand())
	rootCmd.AddCommand(RunGenerateConfigCommand())
	rootCmd.AddCommand(RunCheckpointCommand())
	rootCmd.AddCommand(RunVacuumCommand())
	rootCmd.AddCommand(RunCleanupCommand())
	rootCmd.AddCommand(RunBackupCommand())
	rootCmd.AddCommand(RunPruneBackupsCommand())
	rootCmd.AddCommand(versionCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Print(buildinfo.String())
		},
	}
}
