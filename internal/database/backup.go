// Copyright (c) 2025, the sekolahdesk contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package database

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// backupDateLayout produces the dd-MM-yyyy suffix carried by backup files.
const backupDateLayout = "02-01-2006"

// BackupResult reports what a backup run did.
type BackupResult struct {
	Path    string
	Skipped bool // an up-to-date copy for today already existed
}

// Backup copies the primary database file into destDir under a dated name
// (<base>_dd-MM-yyyy<ext>). When today's backup already exists and matches
// the source's modification time and size, the copy is skipped. Run
// Checkpoint first so the copy is a single consolidated file.
func (db *DB) Backup(destDir string) (*BackupResult, error) {
	srcPath := db.Path()
	srcInfo, err := os.Stat(srcPath)
	if err != nil {
		return nil, fmt.Errorf("stat database file: %w", err)
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, fmt.Errorf("create backup directory: %w", err)
	}

	base := filepath.Base(srcPath)
	ext := filepath.Ext(base)
	name := strings.TrimSuffix(base, ext)
	destPath := filepath.Join(destDir, fmt.Sprintf("%s_%s%s", name, time.Now().Format(backupDateLayout), ext))

	if destInfo, err := os.Stat(destPath); err == nil {
		if destInfo.Size() == srcInfo.Size() && !destInfo.ModTime().Before(srcInfo.ModTime()) {
			log.Debug().Str("backup", destPath).Msg("backup up to date, skipping copy")
			return &BackupResult{Path: destPath, Skipped: true}, nil
		}
	}

	if err := copyFile(srcPath, destPath); err != nil {
		return nil, fmt.Errorf("copy database to backup: %w", err)
	}

	log.Info().Str("backup", destPath).Msg("database backed up")
	return &BackupResult{Path: destPath}, nil
}

// PruneBackups deletes dated backups in destDir older than retentionMonths
// months. Files whose names do not parse as dated backups of this database
// are left alone. Returns the number of files removed.
func (db *DB) PruneBackups(destDir string, retentionMonths int) (int, error) {
	if retentionMonths <= 0 {
		return 0, nil
	}

	base := filepath.Base(db.Path())
	ext := filepath.Ext(base)
	prefix := strings.TrimSuffix(base, ext) + "_"
	cutoff := time.Now().AddDate(0, -retentionMonths, 0)

	entries, err := os.ReadDir(destDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read backup directory: %w", err)
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ext) {
			continue
		}

		dateStr := strings.TrimSuffix(strings.TrimPrefix(name, prefix), ext)
		stamp, err := time.Parse(backupDateLayout, dateStr)
		if err != nil {
			continue
		}
		if stamp.After(cutoff) {
			continue
		}

		full := filepath.Join(destDir, name)
		if err := os.Remove(full); err != nil {
			log.Warn().Err(err).Str("backup", full).Msg("failed to remove expired backup")
			continue
		}
		removed++
		log.Debug().Str("backup", full).Msg("expired backup removed")
	}

	return removed, nil
}

// copyFile copies src to a temp file beside dst and renames into place, so a
// crashed copy never leaves a half-written backup under the final name.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".backup-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, dst)
}
