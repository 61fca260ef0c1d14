// Copyright (c) 2025, the sekolahdesk contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sekolahdesk/sekolahdesk/internal/buildinfo"
	"github.com/sekolahdesk/sekolahdesk/internal/config"
	"github.com/sekolahdesk/sekolahdesk/internal/database"
)

// openDatabase loads the config and opens the database for a one-shot
// maintenance command. Seeding and the periodic maintenance loop stay off:
// these commands do one thing and exit.
func openDatabase(configDir string) (*config.AppConfig, *database.DB, error) {
	cfg, err := config.New(configDir, buildinfo.Version)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	db, err := database.New(cfg.DatabasePath(), database.Options{
		PoolSize: cfg.Config.PoolSize,
		SkipSeed: true,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	return cfg, db, nil
}

func RunCheckpointCommand() *cobra.Command {
	var configDir string

	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Checkpoint the WAL into the main database file",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, db, err := openDatabase(configDir)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := db.Checkpoint(cmd.Context()); err != nil {
				return fmt.Errorf("checkpoint: %w", err)
			}
			cmd.Println("Checkpoint complete.")
			return nil
		},
	}

	cmd.Flags().StringVar(&configDir, "config-dir", "", "config directory")
	return cmd
}

func RunVacuumCommand() *cobra.Command {
	var configDir string

	cmd := &cobra.Command{
		Use:   "vacuum",
		Short: "Rebuild the database file to reclaim space",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, db, err := openDatabase(configDir)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := db.Vacuum(cmd.Context()); err != nil {
				return fmt.Errorf("vacuum: %w", err)
			}
			cmd.Println("Vacuum complete.")
			return nil
		},
	}

	cmd.Flags().StringVar(&configDir, "config-dir", "", "config directory")
	return cmd
}

func RunCleanupCommand() *cobra.Command {
	var configDir string

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete orphaned reference rows",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.New(configDir, buildinfo.Version)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			db, err := database.New(cfg.DatabasePath(), database.Options{
				PoolSize: cfg.Config.PoolSize,
				SkipSeed: true,
				Cleanup: database.CleanupFlags{
					Subjects: cfg.Config.CleanupSubjects,
					Roles:    cfg.Config.CleanupRoles,
					Classes:  cfg.Config.CleanupClasses,
				},
			})
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer db.Close()

			deleted, err := db.CleanupOrphans(cmd.Context())
			if err != nil {
				return fmt.Errorf("cleanup: %w", err)
			}
			cmd.Printf("Deleted %d orphaned rows.\n", deleted)
			return nil
		},
	}

	cmd.Flags().StringVar(&configDir, "config-dir", "", "config directory")
	return cmd
}

func RunBackupCommand() *cobra.Command {
	var configDir string
	var destDir string

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Write a dated copy of the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, db, err := openDatabase(configDir)
			if err != nil {
				return err
			}
			defer db.Close()

			dir := destDir
			if dir == "" {
				dir = cfg.BackupDir()
			}
			if dir == "" {
				return fmt.Errorf("no backup directory: set backupDir in config.toml or pass --dest")
			}

			// Flush the WAL so the copied file is the complete database.
			if err := db.Checkpoint(cmd.Context()); err != nil {
				return fmt.Errorf("checkpoint before backup: %w", err)
			}

			result, err := db.Backup(dir)
			if err != nil {
				return fmt.Errorf("backup: %w", err)
			}
			if result.Skipped {
				cmd.Printf("Backup already current at %s. Skipping.\n", result.Path)
			} else {
				cmd.Printf("Backup written to %s\n", result.Path)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&configDir, "config-dir", "", "config directory")
	cmd.Flags().StringVar(&destDir, "dest", "", "backup destination directory")
	return cmd
}

func RunPruneBackupsCommand() *cobra.Command {
	var configDir string
	var destDir string
	var retention int

	cmd := &cobra.Command{
		Use:   "prune-backups",
		Short: "Delete dated backups older than the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, db, err := openDatabase(configDir)
			if err != nil {
				return err
			}
			defer db.Close()

			dir := destDir
			if dir == "" {
				dir = cfg.BackupDir()
			}
			if dir == "" {
				return fmt.Errorf("no backup directory: set backupDir in config.toml or pass --dest")
			}

			months := retention
			if months <= 0 {
				months = cfg.Config.BackupRetentionMonths
			}

			pruned, err := db.PruneBackups(dir, months)
			if err != nil {
				return fmt.Errorf("prune backups: %w", err)
			}
			cmd.Printf("Pruned %d old backups.\n", pruned)
			return nil
		},
	}

	cmd.Flags().StringVar(&configDir, "config-dir", "", "config directory")
	cmd.Flags().StringVar(&destDir, "dest", "", "backup directory")
	cmd.Flags().IntVar(&retention, "retention-months", 0, "retention window in months (0 uses config)")
	return cmd
}
