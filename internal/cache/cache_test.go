// Copyright (c) 2025, the sekolahdesk contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package cache_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sekolahdesk/sekolahdesk/internal/cache"
	"github.com/sekolahdesk/sekolahdesk/internal/database"
)

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.New(filepath.Join(t.TempDir(), "test.db"), database.Options{SkipSeed: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestIDCacheLoadAndLookup(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	ctx := context.Background()

	_, err := db.ExecContext(ctx, "INSERT INTO mapel (nama_mapel) VALUES ('Matematika'), ('IPA')")
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, "INSERT INTO jabatan_guru (nama_jabatan) VALUES ('Wali Kelas')")
	require.NoError(t, err)

	ids := cache.NewIDCache(db)
	require.NoError(t, ids.Load(ctx))

	mathID, err := ids.SubjectID(ctx, "Matematika")
	require.NoError(t, err)
	assert.Positive(t, mathID)

	roleID, err := ids.RoleID(ctx, "Wali Kelas")
	require.NoError(t, err)
	assert.Equal(t, "Wali Kelas", ids.RoleName(roleID))
	assert.Empty(t, ids.RoleName(9999))
}

func TestIDCacheInsertsOnMiss(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	ctx := context.Background()

	ids := cache.NewIDCache(db)
	require.NoError(t, ids.Load(ctx))

	first, err := ids.SubjectID(ctx, "Bahasa Indonesia")
	require.NoError(t, err)

	// Second lookup must return the same id, not mint a duplicate row.
	second, err := ids.SubjectID(ctx, "Bahasa Indonesia")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	var count int
	err = db.QueryRowContext(ctx, "SELECT COUNT(*) FROM mapel WHERE nama_mapel = ?", "Bahasa Indonesia").Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestIDCacheFindsUncachedRow(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	ctx := context.Background()

	var existing int64
	err := db.QueryRowContext(ctx, "INSERT INTO mapel (nama_mapel) VALUES ('IPS') RETURNING id").Scan(&existing)
	require.NoError(t, err)

	// A fresh cache that never loaded must still resolve the row instead
	// of inserting a duplicate.
	ids := cache.NewIDCache(db)
	got, err := ids.SubjectID(ctx, "IPS")
	require.NoError(t, err)
	assert.Equal(t, existing, got)
}

func TestIDCacheConcurrentMissesSingleInsert(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	ctx := context.Background()

	ids := cache.NewIDCache(db)

	const workers = 8
	results := make([]int64, workers)
	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := ids.SubjectID(ctx, "PJOK")
			assert.NoError(t, err)
			results[i] = id
		}()
	}
	wg.Wait()

	for _, id := range results[1:] {
		assert.Equal(t, results[0], id)
	}

	var count int
	err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM mapel WHERE nama_mapel = ?", "PJOK").Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestIDCacheClearRepopulates(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	ctx := context.Background()

	ids := cache.NewIDCache(db)
	first, err := ids.SubjectID(ctx, "Seni Budaya")
	require.NoError(t, err)

	ids.Clear()

	second, err := ids.SubjectID(ctx, "Seni Budaya")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestInternerReturnsCanonicalInstance(t *testing.T) {
	t.Parallel()

	interner := cache.NewInterner()

	a := interner.Intern("Siti Aminah")
	b := interner.Intern("Siti" + " Aminah")
	assert.Equal(t, a, b)
	assert.Equal(t, 1, interner.Len())

	assert.Empty(t, interner.Intern(""))
	assert.Equal(t, 1, interner.Len())

	interner.Clear()
	assert.Zero(t, interner.Len())
	assert.Equal(t, "Siti Aminah", interner.Intern("Siti Aminah"))
}

func TestInternerConcurrentAccess(t *testing.T) {
	t.Parallel()

	interner := cache.NewInterner()

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, s := range []string{"Kelas 1", "Kelas 2", "Kelas 3"} {
				assert.Equal(t, s, interner.Intern(s))
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, interner.Len())
}

func TestImageCacheSetGetClear(t *testing.T) {
	t.Parallel()

	images, err := cache.NewImageCache(1 << 20)
	require.NoError(t, err)
	t.Cleanup(images.Close)

	photo := []byte{1, 2, 3, 4}
	images.Set(cache.KindStudent, 7, photo)
	images.Wait()

	got, ok := images.Get(cache.KindStudent, 7)
	require.True(t, ok)
	assert.Equal(t, photo, got)

	// Same id under a different kind is a distinct key.
	_, ok = images.Get(cache.KindInventory, 7)
	assert.False(t, ok)

	images.Clear(cache.KindStudent, 7)
	images.Wait()
	_, ok = images.Get(cache.KindStudent, 7)
	assert.False(t, ok)
}

func TestImageCacheClearAll(t *testing.T) {
	t.Parallel()

	images, err := cache.NewImageCache(1 << 20)
	require.NoError(t, err)
	t.Cleanup(images.Close)

	images.Set(cache.KindStudent, 1, []byte{1})
	images.Set(cache.KindInventory, 2, []byte{2})
	images.Wait()

	images.ClearAll()
	images.Wait()

	_, ok := images.Get(cache.KindStudent, 1)
	assert.False(t, ok)
	_, ok = images.Get(cache.KindInventory, 2)
	assert.False(t, ok)
}
