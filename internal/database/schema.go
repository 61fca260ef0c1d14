// Copyright (c) 2025, the sekolahdesk contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
)

// The authoritative schema. Table and column names are load-bearing: backup
// tooling and the export pipeline address them directly, so they are not to
// be altered casually. Every foreign key is ON DELETE RESTRICT; hard deletes
// are explicit, ordered, and run inside one transaction.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS siswa (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		nama TEXT NOT NULL,
		alamat TEXT NOT NULL DEFAULT '',
		ttl TEXT NOT NULL DEFAULT '',
		nis TEXT NOT NULL DEFAULT '',
		nisn TEXT NOT NULL DEFAULT '',
		namawali TEXT NOT NULL DEFAULT '',
		ayah TEXT NOT NULL DEFAULT '',
		ibu TEXT NOT NULL DEFAULT '',
		telepon TEXT NOT NULL DEFAULT '',
		jeniskelamin TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'aktif'
			CHECK (status IN ('aktif', 'berhenti', 'lulus')),
		tanggaldaftar TEXT NOT NULL DEFAULT '',
		tanggalberhenti TEXT NOT NULL DEFAULT '',
		foto BLOB
	)`,
	`CREATE TABLE IF NOT EXISTS jabatan_guru (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		nama_jabatan TEXT NOT NULL UNIQUE
	)`,
	`CREATE TABLE IF NOT EXISTS guru (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		nama_guru TEXT NOT NULL,
		alamat_guru TEXT NOT NULL DEFAULT '',
		tahun_aktif TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS mapel (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		nama_mapel TEXT NOT NULL UNIQUE
	)`,
	`CREATE TABLE IF NOT EXISTS kelas (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		nama_kelas TEXT NOT NULL,
		tingkat_kelas INTEGER NOT NULL CHECK (tingkat_kelas BETWEEN 1 AND 6),
		tahun_ajaran TEXT NOT NULL,
		semester TEXT NOT NULL,
		UNIQUE (nama_kelas, tingkat_kelas, tahun_ajaran, semester)
	)`,
	`CREATE TABLE IF NOT EXISTS siswa_kelas (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		siswa_id INTEGER NOT NULL REFERENCES siswa(id) ON DELETE RESTRICT,
		kelas_id INTEGER NOT NULL REFERENCES kelas(id) ON DELETE RESTRICT,
		status_enrollment TEXT NOT NULL DEFAULT 'aktif'
			CHECK (status_enrollment IN ('aktif', 'lulus', 'berhenti')),
		tanggal_masuk TEXT NOT NULL DEFAULT '',
		tanggal_keluar TEXT,
		UNIQUE (siswa_id, kelas_id)
	)`,
	`CREATE TABLE IF NOT EXISTS penugasan_guru_mapel_kelas (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		guru_id INTEGER NOT NULL REFERENCES guru(id) ON DELETE RESTRICT,
		jabatan_id INTEGER NOT NULL REFERENCES jabatan_guru(id) ON DELETE RESTRICT,
		mapel_id INTEGER NOT NULL REFERENCES mapel(id) ON DELETE RESTRICT,
		kelas_id INTEGER NOT NULL REFERENCES kelas(id) ON DELETE RESTRICT,
		tanggal_mulai TEXT NOT NULL DEFAULT '',
		tanggal_selesai TEXT,
		status_penugasan TEXT NOT NULL DEFAULT 'aktif'
	)`,
	`CREATE TABLE IF NOT EXISTS nilai_siswa_mapel (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		siswa_kelas_id INTEGER NOT NULL REFERENCES siswa_kelas(id) ON DELETE RESTRICT,
		penugasan_guru_id INTEGER NOT NULL REFERENCES penugasan_guru_mapel_kelas(id) ON DELETE RESTRICT,
		nilai INTEGER,
		tanggal_nilai TEXT NOT NULL DEFAULT '',
		UNIQUE (siswa_kelas_id, penugasan_guru_id, tanggal_nilai)
	)`,
	`CREATE TABLE IF NOT EXISTS main_table (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		"Nama Barang" TEXT,
		"Lokasi" TEXT,
		"Kondisi" TEXT,
		"Tanggal Dibuat" TEXT,
		"Foto" BLOB
	)`,
	// Persisted flags, e.g. whether first-launch seeding already ran.
	`CREATE TABLE IF NOT EXISTS app_flags (
		name TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,
}

var indexStatements = []string{
	`CREATE INDEX IF NOT EXISTS idx_siswa_nama ON siswa(nama)`,
	`CREATE INDEX IF NOT EXISTS idx_siswa_status ON siswa(status)`,
	`CREATE INDEX IF NOT EXISTS idx_siswa_kelas_siswa ON siswa_kelas(siswa_id)`,
	`CREATE INDEX IF NOT EXISTS idx_siswa_kelas_kelas ON siswa_kelas(kelas_id)`,
	`CREATE INDEX IF NOT EXISTS idx_nilai_siswa_kelas ON nilai_siswa_mapel(siswa_kelas_id)`,
	`CREATE INDEX IF NOT EXISTS idx_nilai_penugasan ON nilai_siswa_mapel(penugasan_guru_id)`,
	`CREATE INDEX IF NOT EXISTS idx_penugasan_kelas ON penugasan_guru_mapel_kelas(kelas_id)`,
	`CREATE INDEX IF NOT EXISTS idx_penugasan_guru ON penugasan_guru_mapel_kelas(guru_id)`,
}

// setupSchema idempotently creates all core tables, then all secondary
// indexes. Safe to run on every launch. Statements are independent: one
// failure does not stop the rest, but every failure is collected and the
// aggregate is returned rather than swallowed.
func setupSchema(ctx context.Context, conn *sql.DB) error {
	var errs []error

	for _, stmt := range schemaStatements {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			errs = append(errs, fmt.Errorf("create table: %w", err))
		}
	}
	for _, stmt := range indexStatements {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			errs = append(errs, fmt.Errorf("create index: %w", err))
		}
	}

	if len(errs) > 0 {
		err := errors.Join(errs...)
		log.Error().Err(err).Int("failures", len(errs)).Msg("schema setup completed with failures")
		return err
	}

	log.Debug().Msg("schema setup complete")
	return nil
}

// getFlag reads a persisted app flag; missing flags return "".
func getFlag(ctx context.Context, conn *sql.DB, name string) (string, error) {
	var value string
	err := conn.QueryRowContext(ctx, "SELECT value FROM app_flags WHERE name = ?", name).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

func setFlag(ctx context.Context, conn *sql.DB, name, value string) error {
	_, err := conn.ExecContext(ctx,
		"INSERT INTO app_flags (name, value) VALUES (?, ?) ON CONFLICT(name) DO UPDATE SET value = excluded.value",
		name, value)
	return err
}
