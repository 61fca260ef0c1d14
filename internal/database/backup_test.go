// Copyright (c) 2025, the sekolahdesk contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package database

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackupCreatesDatedCopy(t *testing.T) {
	t.Parallel()

	db := openTestDB(t, Options{})
	destDir := filepath.Join(t.TempDir(), "backups")

	result, err := db.Backup(destDir)
	require.NoError(t, err)
	assert.False(t, result.Skipped)

	wantName := fmt.Sprintf("test_%s.db", time.Now().Format("02-01-2006"))
	assert.Equal(t, wantName, filepath.Base(result.Path))

	srcInfo, err := os.Stat(db.Path())
	require.NoError(t, err)
	destInfo, err := os.Stat(result.Path)
	require.NoError(t, err)
	assert.Equal(t, srcInfo.Size(), destInfo.Size())
}

func TestBackupSkipsWhenUpToDate(t *testing.T) {
	t.Parallel()

	db := openTestDB(t, Options{})
	destDir := filepath.Join(t.TempDir(), "backups")

	first, err := db.Backup(destDir)
	require.NoError(t, err)
	require.False(t, first.Skipped)

	second, err := db.Backup(destDir)
	require.NoError(t, err)
	assert.True(t, second.Skipped)
	assert.Equal(t, first.Path, second.Path)
}

func TestPruneBackupsRemovesOnlyExpiredFiles(t *testing.T) {
	t.Parallel()

	db := openTestDB(t, Options{})
	destDir := t.TempDir()

	old := time.Now().AddDate(0, -4, 0).Format("02-01-2006")
	recent := time.Now().AddDate(0, -1, 0).Format("02-01-2006")

	oldPath := filepath.Join(destDir, "test_"+old+".db")
	recentPath := filepath.Join(destDir, "test_"+recent+".db")
	unrelatedPath := filepath.Join(destDir, "notes.txt")
	for _, path := range []string{oldPath, recentPath, unrelatedPath} {
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	}

	removed, err := db.PruneBackups(destDir, 3)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	assert.NoFileExists(t, oldPath)
	assert.FileExists(t, recentPath)
	assert.FileExists(t, unrelatedPath)
}

func TestPruneBackupsNoDirectory(t *testing.T) {
	t.Parallel()

	db := openTestDB(t, Options{})

	removed, err := db.PruneBackups(filepath.Join(t.TempDir(), "missing"), 3)
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestPruneBackupsDisabledRetention(t *testing.T) {
	t.Parallel()

	db := openTestDB(t, Options{})

	removed, err := db.PruneBackups(t.TempDir(), 0)
	require.NoError(t, err)
	assert.Zero(t, removed)
}
