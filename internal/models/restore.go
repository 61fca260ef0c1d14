// Copyright (c) 2025, the sekolahdesk contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/sekolahdesk/sekolahdesk/internal/dbinterface"
)

// Restore re-inserts previously deleted students under their original ids
// in one transaction, the write half of undoing a delete. Explicit ids keep
// every recorded identity in the undo history valid.
func (s *StudentStore) Restore(ctx context.Context, students []Student) error {
	if len(students) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin restore transaction: %w", err)
	}
	defer tx.Rollback()

	for _, st := range students {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO siswa (id, nama, alamat, ttl, nis, nisn, namawali, ayah, ibu, telepon, jeniskelamin, status, tanggaldaftar, tanggalberhenti)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, st.ID, st.Nama, st.Alamat, st.TTL, st.NIS, st.NISN, st.NamaWali,
			st.Ayah, st.Ibu, st.Telepon, st.JenisKelamin, st.Status,
			st.TanggalDaftar, st.TanggalBerhenti); err != nil {
			return fmt.Errorf("restore student %d: %w", st.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit restore: %w", err)
	}
	return nil
}

// Restore re-inserts a deleted enrollment and its grade rows under their
// original ids, the write half of undoing an enrollment delete.
func (s *EnrollmentStore) Restore(ctx context.Context, e Enrollment, grades []Grade) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin enrollment restore: %w", err)
	}
	defer tx.Rollback()

	if err := dbinterface.DeferForeignKeyChecks(tx); err != nil {
		return fmt.Errorf("defer foreign keys: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO siswa_kelas (id, siswa_id, kelas_id, status_enrollment, tanggal_masuk, tanggal_keluar)
		VALUES (?, ?, ?, ?, ?, ?)
	`, e.ID, e.SiswaID, e.KelasID, e.Status, e.TanggalMasuk, e.TanggalKeluar); err != nil {
		return fmt.Errorf("restore enrollment %d: %w", e.ID, err)
	}

	for _, g := range grades {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO nilai_siswa_mapel (id, siswa_kelas_id, penugasan_guru_id, nilai, tanggal_nilai)
			VALUES (?, ?, ?, ?, ?)
		`, g.ID, g.SiswaKelasID, g.PenugasanID, g.Nilai, g.TanggalNilai); err != nil {
			return fmt.Errorf("restore grade %d: %w", g.ID, err)
		}
	}

	return tx.Commit()
}

// Restore re-inserts deleted grade rows under their original ids.
func (s *GradeStore) Restore(ctx context.Context, grades []Grade) error {
	if len(grades) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin grade restore: %w", err)
	}
	defer tx.Rollback()

	for _, g := range grades {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO nilai_siswa_mapel (id, siswa_kelas_id, penugasan_guru_id, nilai, tanggal_nilai)
			VALUES (?, ?, ?, ?, ?)
		`, g.ID, g.SiswaKelasID, g.PenugasanID, g.Nilai, g.TanggalNilai); err != nil {
			return fmt.Errorf("restore grade %d: %w", g.ID, err)
		}
	}

	return tx.Commit()
}

// GetStudentGroupRow loads one student joined with their latest enrollment,
// the grouped projection's row shape.
func GetStudentGroupRow(ctx context.Context, q RowQuerier, siswaID int64) (*StudentGroupRow, error) {
	var r StudentGroupRow
	err := q.QueryRowContext(ctx, `
		SELECT `+prefixColumns("s", studentSelectColumns)+`,
		       COALESCE(sk.id, 0), COALESCE(sk.status_enrollment, ''),
		       COALESCE(k.id, 0), COALESCE(k.nama_kelas, ''), COALESCE(k.tingkat_kelas, 0)
		FROM siswa s
		LEFT JOIN siswa_kelas sk ON sk.id = (
			SELECT MAX(id) FROM siswa_kelas WHERE siswa_id = s.id)
		LEFT JOIN kelas k ON k.id = sk.kelas_id
		WHERE s.id = ?`, siswaID).
		Scan(&r.ID, &r.Nama, &r.Alamat, &r.TTL, &r.NIS, &r.NISN,
			&r.NamaWali, &r.Ayah, &r.Ibu, &r.Telepon, &r.JenisKelamin,
			&r.Status, &r.TanggalDaftar, &r.TanggalBerhenti,
			&r.EnrollmentID, &r.EnrollmentStatus,
			&r.KelasID, &r.NamaKelas, &r.Tingkat)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrStudentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get student group row %d: %w", siswaID, err)
	}
	return &r, nil
}
