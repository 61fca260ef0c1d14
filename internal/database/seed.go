// Copyright (c) 2025, the sekolahdesk contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog/log"
)

const seededFlag = "seeded"

// seedDefaults populates a brand-new database with a small fixed sample
// dataset so the first launch is not an empty screen. Bootstrap data only,
// not business logic: it runs once (persisted flag), and Options.SkipSeed
// turns it off entirely.
func seedDefaults(ctx context.Context, conn *sql.DB) error {
	done, err := getFlag(ctx, conn, seededFlag)
	if err != nil {
		return fmt.Errorf("read seeded flag: %w", err)
	}
	if done == "true" {
		return nil
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin seed transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range seedStatements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("seed statement failed: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO app_flags (name, value) VALUES (?, 'true') ON CONFLICT(name) DO UPDATE SET value = 'true'",
		seededFlag); err != nil {
		return fmt.Errorf("persist seeded flag: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit seed transaction: %w", err)
	}

	log.Info().Msg("first launch: sample data seeded")
	return nil
}

var seedStatements = []string{
	`INSERT INTO jabatan_guru (nama_jabatan) VALUES ('Wali Kelas'), ('Guru Mapel'), ('Kepala Sekolah')`,
	`INSERT INTO mapel (nama_mapel) VALUES ('Matematika'), ('Bahasa Indonesia'), ('IPA')`,
	`INSERT INTO guru (nama_guru, alamat_guru, tahun_aktif) VALUES
		('Siti Aminah', 'Jl. Melati 1', '2024'),
		('Budi Santoso', 'Jl. Kenanga 5', '2024')`,
	`INSERT INTO kelas (nama_kelas, tingkat_kelas, tahun_ajaran, semester) VALUES
		('A', 1, '2024/2025', '1'),
		('A', 2, '2024/2025', '1')`,
	`INSERT INTO siswa (nama, alamat, jeniskelamin, status, tanggaldaftar) VALUES
		('Ahmad Fauzi', 'Jl. Mawar 10', 'Laki-laki', 'aktif', '2024-07-11'),
		('Dewi Lestari', 'Jl. Anggrek 3', 'Perempuan', 'aktif', '2024-07-11'),
		('Rizky Pratama', 'Jl. Cempaka 7', 'Laki-laki', 'aktif', '2024-07-12')`,
	`INSERT INTO siswa_kelas (siswa_id, kelas_id, status_enrollment, tanggal_masuk)
		SELECT s.id, k.id, 'aktif', '2024-07-11'
		FROM siswa s, kelas k
		WHERE k.tingkat_kelas = 1 AND k.nama_kelas = 'A'`,
	`INSERT INTO main_table ("Nama Barang", "Lokasi", "Kondisi", "Tanggal Dibuat") VALUES
		('Papan Tulis', 'Kelas 1A', 'Baik', '2024-07-01'),
		('Proyektor', 'Ruang Guru', 'Baik', '2024-07-01')`,
}
