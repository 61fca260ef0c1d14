// Copyright (c) 2025, the sekolahdesk contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package database

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/avast/retry-go"
	"github.com/rs/zerolog/log"
)

// CleanupFlags selects which orphan-row cleanup passes run. Each pass is
// independent and user-configurable; any of them is safe to skip.
type CleanupFlags struct {
	Subjects bool // mapel rows with no assignment
	Roles    bool // jabatan_guru rows with no assignment
	Classes  bool // kelas rows with no enrollment and no assignment
}

// Checkpoint folds the write-ahead log back into the main database file:
// wal_checkpoint(TRUNCATE), release the write connection, close all pooled
// read connections, delete the -wal/-shm sidecars. After Checkpoint the
// database is a single consolidated file, safe to copy for a file-level
// backup. The DB is disconnected afterwards; call Reload to resume.
func (db *DB) Checkpoint(ctx context.Context) error {
	conn := db.writer()
	if conn == nil {
		return ErrPoolClosed
	}

	db.writerMu.Lock()
	_, err := conn.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)")
	db.writerMu.Unlock()
	if err != nil {
		return fmt.Errorf("wal checkpoint: %w", err)
	}

	db.closeConns()

	path := db.Path()
	for _, sidecar := range []string{path + "-wal", path + "-shm"} {
		if err := os.Remove(sidecar); err != nil && !os.IsNotExist(err) {
			log.Warn().Err(err).Str("file", sidecar).Msg("failed to remove WAL sidecar")
		}
	}

	recordCheckpoint()
	log.Info().Str("path", path).Msg("database checkpointed and flushed to a single file")
	return nil
}

// Vacuum reclaims space. Invoke after bulk deletes or photo clears, never
// synchronously on every write: it rewrites the whole file and would stall
// interactive edits.
func (db *DB) Vacuum(ctx context.Context) error {
	db.writerMu.Lock()
	defer db.writerMu.Unlock()

	conn := db.writer()
	if conn == nil {
		return ErrPoolClosed
	}
	if _, err := conn.ExecContext(ctx, "VACUUM"); err != nil {
		return fmt.Errorf("vacuum: %w", err)
	}
	recordVacuum()
	log.Info().Msg("database vacuumed")
	return nil
}

type cleanupPass struct {
	name    string
	enabled func(CleanupFlags) bool
	query   string
}

var cleanupPasses = []cleanupPass{
	{
		name:    "subjects",
		enabled: func(f CleanupFlags) bool { return f.Subjects },
		query: `DELETE FROM mapel WHERE NOT EXISTS (
			SELECT 1 FROM penugasan_guru_mapel_kelas p WHERE p.mapel_id = mapel.id
		)`,
	},
	{
		name:    "roles",
		enabled: func(f CleanupFlags) bool { return f.Roles },
		query: `DELETE FROM jabatan_guru WHERE NOT EXISTS (
			SELECT 1 FROM penugasan_guru_mapel_kelas p WHERE p.jabatan_id = jabatan_guru.id
		)`,
	},
	{
		name:    "classes",
		enabled: func(f CleanupFlags) bool { return f.Classes },
		query: `DELETE FROM kelas WHERE NOT EXISTS (
			SELECT 1 FROM siswa_kelas sk WHERE sk.kelas_id = kelas.id
		) AND NOT EXISTS (
			SELECT 1 FROM penugasan_guru_mapel_kelas p WHERE p.kelas_id = kelas.id
		)`,
	},
}

// CleanupOrphans removes reference rows no longer referenced by any foreign
// key holder, per the configured flags. Passes are independent: one failing
// pass is logged and the rest still run. Each pass gets a bounded busy
// retry. Returns the total rows deleted.
func (db *DB) CleanupOrphans(ctx context.Context) (int64, error) {
	var total int64
	var firstErr error

	for _, pass := range cleanupPasses {
		if !pass.enabled(db.opts.Cleanup) {
			continue
		}

		var deleted int64
		err := retry.Do(
			func() error {
				result, execErr := db.ExecContext(ctx, pass.query)
				if execErr != nil {
					return execErr
				}
				deleted, _ = result.RowsAffected()
				return nil
			},
			retry.Attempts(busyRetryAttempts),
			retry.RetryIf(isBusyErr),
			retry.LastErrorOnly(true),
			retry.Delay(50*time.Millisecond),
		)
		if err != nil {
			log.Warn().Err(err).Str("pass", pass.name).Msg("orphan cleanup pass failed")
			if firstErr == nil {
				firstErr = fmt.Errorf("cleanup %s: %w", pass.name, err)
			}
			continue
		}

		if deleted > 0 {
			total += deleted
			recordOrphanRowsDeleted(uint64(deleted))
			log.Debug().Str("pass", pass.name).Int64("deleted", deleted).Msg("orphan cleanup pass removed rows")
		}
	}

	return total, firstErr
}

const defaultMaintenanceInterval = 24 * time.Hour

// maintenanceLoop runs the orphan cleanup passes periodically, with an
// initial delay so startup is not competing with projection loads. Tracks
// consecutive failures so a persistently failing pass is escalated instead
// of silently retried forever.
func (db *DB) maintenanceLoop(ctx context.Context) {
	interval := db.opts.MaintenanceInterval
	if interval <= 0 {
		interval = defaultMaintenanceInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	initialDelay := time.NewTimer(time.Hour)
	defer initialDelay.Stop()

	consecutiveFailures := 0
	const maxConsecutiveFailures = 5

	run := func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		deleted, err := db.CleanupOrphans(cleanupCtx)
		if err != nil {
			consecutiveFailures++
			log.Warn().Err(err).Int("consecutiveFailures", consecutiveFailures).Msg("orphan cleanup failed")
			if consecutiveFailures >= maxConsecutiveFailures {
				log.Error().Int("consecutiveFailures", consecutiveFailures).Msg("orphan cleanup failing repeatedly - manual intervention may be needed")
			}
			return
		}
		if deleted > 0 {
			log.Debug().Int64("deleted", deleted).Msg("periodic orphan cleanup removed rows")
		}
		consecutiveFailures = 0
	}

	for {
		select {
		case <-initialDelay.C:
			run()
		case <-ticker.C:
			run()
		case <-ctx.Done():
			return
		}
	}
}
