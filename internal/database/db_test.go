// Copyright (c) 2025, the sekolahdesk contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package database

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sekolahdesk/sekolahdesk/internal/events"
)

func openTestDB(t *testing.T, opts Options) *DB {
	t.Helper()
	opts.SkipSeed = true
	db, err := New(filepath.Join(t.TempDir(), "test.db"), opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestNewCreatesSchema(t *testing.T) {
	db := openTestDB(t, Options{})
	ctx := context.Background()

	var count int
	err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'siswa'").Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestReopenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	db, err := New(path, Options{SkipSeed: true})
	require.NoError(t, err)

	_, err = db.ExecContext(ctx, "INSERT INTO siswa (nama) VALUES ('Budi')")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = New(path, Options{SkipSeed: true})
	require.NoError(t, err)
	defer db.Close()

	var nama string
	require.NoError(t, db.QueryRowContext(ctx, "SELECT nama FROM siswa").Scan(&nama))
	assert.Equal(t, "Budi", nama)
}

func TestReadYourWrites(t *testing.T) {
	db := openTestDB(t, Options{})
	ctx := context.Background()

	_, err := db.ExecContext(ctx, "INSERT INTO mapel (nama_mapel) VALUES ('Matematika')")
	require.NoError(t, err)

	var nama string
	require.NoError(t, db.QueryRowContext(ctx,
		"SELECT nama_mapel FROM mapel WHERE nama_mapel = 'Matematika'").Scan(&nama))
	assert.Equal(t, "Matematika", nama)
}

func TestSeedRunsOnceAcrossReopens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	db, err := New(path, Options{})
	require.NoError(t, err)

	var before int
	require.NoError(t, db.QueryRowContext(ctx, "SELECT COUNT(*) FROM siswa").Scan(&before))
	assert.Positive(t, before, "first launch should seed sample rows")

	// Empty the table; a second launch must not reseed.
	_, err = db.ExecContext(ctx, "DELETE FROM nilai_siswa_mapel")
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, "DELETE FROM siswa_kelas")
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, "DELETE FROM siswa")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = New(path, Options{})
	require.NoError(t, err)
	defer db.Close()

	var after int
	require.NoError(t, db.QueryRowContext(ctx, "SELECT COUNT(*) FROM siswa").Scan(&after))
	assert.Zero(t, after)
}

func TestTransactionCommitAndRollback(t *testing.T) {
	db := openTestDB(t, Options{})
	ctx := context.Background()

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	_, err = tx.ExecContext(ctx, "INSERT INTO mapel (nama_mapel) VALUES ('IPA')")
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	tx, err = db.BeginTx(ctx, nil)
	require.NoError(t, err)
	_, err = tx.ExecContext(ctx, "INSERT INTO mapel (nama_mapel) VALUES ('IPS')")
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())

	var count int
	require.NoError(t, db.QueryRowContext(ctx, "SELECT COUNT(*) FROM mapel").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestConcurrentWritersSerialize(t *testing.T) {
	db := openTestDB(t, Options{})
	ctx := context.Background()

	const writers = 8
	const perWriter = 10

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				_, err := db.ExecContext(ctx,
					"INSERT INTO siswa (nama) VALUES (?)", "Siswa")
				assert.NoError(t, err)
			}
		}(w)
	}
	wg.Wait()

	var count int
	require.NoError(t, db.QueryRowContext(ctx, "SELECT COUNT(*) FROM siswa").Scan(&count))
	assert.Equal(t, writers*perWriter, count)
}

func TestReadPoolObservesCommittedWrites(t *testing.T) {
	db := openTestDB(t, Options{PoolSize: 2})
	ctx := context.Background()

	_, err := db.ExecContext(ctx, "INSERT INTO siswa (nama) VALUES ('Ani')")
	require.NoError(t, err)

	var nama string
	err = db.Read(ctx, func(conn *sql.Conn) error {
		return conn.QueryRowContext(ctx, "SELECT nama FROM siswa").Scan(&nama)
	})
	require.NoError(t, err)
	assert.Equal(t, "Ani", nama)
}

func TestReloadSwapsDatabaseAndNotifies(t *testing.T) {
	dir := t.TempDir()
	bus := events.NewBus(4)
	defer bus.Close()

	db, err := New(filepath.Join(dir, "a.db"), Options{SkipSeed: true, Bus: bus})
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	_, err = db.ExecContext(ctx, "INSERT INTO siswa (nama) VALUES ('OldFile')")
	require.NoError(t, err)

	ch, cancel := bus.Subscribe()
	defer cancel()

	require.NoError(t, db.Reload(filepath.Join(dir, "b.db")))

	var count int
	require.NoError(t, db.QueryRowContext(ctx, "SELECT COUNT(*) FROM siswa").Scan(&count))
	assert.Zero(t, count, "new file must start empty")

	select {
	case ev := <-ch:
		assert.Equal(t, events.DatabaseSwapped, ev.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("expected a database swap event")
	}
}

func TestCheckpointTruncatesWAL(t *testing.T) {
	db := openTestDB(t, Options{})
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		_, err := db.ExecContext(ctx, "INSERT INTO siswa (nama) VALUES ('X')")
		require.NoError(t, err)
	}

	require.NoError(t, db.Checkpoint(ctx))

	// Checkpoint leaves the DB disconnected; Reload on the same path resumes.
	require.NoError(t, db.Reload(db.Path()))

	var count int
	require.NoError(t, db.QueryRowContext(ctx, "SELECT COUNT(*) FROM siswa").Scan(&count))
	assert.Equal(t, 50, count)
}

func TestRoutedQueriesFailClosedWhileDisconnected(t *testing.T) {
	db := openTestDB(t, Options{Cleanup: CleanupFlags{Subjects: true}})
	ctx := context.Background()

	_, err := db.ExecContext(ctx, "INSERT INTO siswa (nama) VALUES ('Sinta')")
	require.NoError(t, err)

	// Checkpoint tears the connections down. Until Reload, every routed
	// call must return an error instead of dereferencing a nil writer;
	// the maintenance loop keeps issuing these in the background.
	require.NoError(t, db.Checkpoint(ctx))

	_, err = db.ExecContext(ctx, "INSERT INTO siswa (nama) VALUES ('Tono')")
	assert.ErrorIs(t, err, ErrPoolClosed)

	_, err = db.QueryContext(ctx, "SELECT id FROM siswa")
	assert.ErrorIs(t, err, ErrPoolClosed)

	var count int
	assert.Error(t, db.QueryRowContext(ctx, "SELECT COUNT(*) FROM siswa").Scan(&count))

	_, err = db.BeginTx(ctx, nil)
	assert.ErrorIs(t, err, ErrPoolClosed)

	_, err = db.CleanupOrphans(ctx)
	assert.ErrorIs(t, err, ErrPoolClosed)

	require.NoError(t, db.Reload(db.Path()))

	_, err = db.ExecContext(ctx, "INSERT INTO siswa (nama) VALUES ('Tono')")
	require.NoError(t, err)
	require.NoError(t, db.QueryRowContext(ctx, "SELECT COUNT(*) FROM siswa").Scan(&count))
	assert.Equal(t, 2, count)
}

func TestVacuum(t *testing.T) {
	db := openTestDB(t, Options{})
	ctx := context.Background()

	_, err := db.ExecContext(ctx, "INSERT INTO siswa (nama) VALUES ('Y')")
	require.NoError(t, err)
	require.NoError(t, db.Vacuum(ctx))

	var count int
	require.NoError(t, db.QueryRowContext(ctx, "SELECT COUNT(*) FROM siswa").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestCleanupOrphansRemovesUnreferencedSubjects(t *testing.T) {
	db := openTestDB(t, Options{Cleanup: CleanupFlags{Subjects: true, Roles: true}})
	ctx := context.Background()

	_, err := db.ExecContext(ctx, "INSERT INTO mapel (nama_mapel) VALUES ('Terpakai')")
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, "INSERT INTO mapel (nama_mapel) VALUES ('Yatim')")
	require.NoError(t, err)

	// Reference the first subject through a full assignment chain.
	_, err = db.ExecContext(ctx, "INSERT INTO guru (nama_guru) VALUES ('Pak Guru')")
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, "INSERT INTO jabatan_guru (nama_jabatan) VALUES ('Wali Kelas')")
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `
		INSERT INTO kelas (nama_kelas, tingkat_kelas, tahun_ajaran, semester)
		VALUES ('1A', 1, '2024/2025', '1')`)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `
		INSERT INTO penugasan_guru_mapel_kelas (guru_id, jabatan_id, mapel_id, kelas_id)
		SELECT g.id, j.id, m.id, k.id
		FROM guru g, jabatan_guru j, mapel m, kelas k
		WHERE m.nama_mapel = 'Terpakai'`)
	require.NoError(t, err)

	deleted, err := db.CleanupOrphans(ctx)
	require.NoError(t, err)
	assert.Positive(t, deleted)

	var count int
	require.NoError(t, db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM mapel WHERE nama_mapel = 'Yatim'").Scan(&count))
	assert.Zero(t, count)

	require.NoError(t, db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM mapel WHERE nama_mapel = 'Terpakai'").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestCloseIsIdempotent(t *testing.T) {
	db := openTestDB(t, Options{})
	require.NoError(t, db.Close())
	require.NoError(t, db.Close())
}
