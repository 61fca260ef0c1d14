// Copyright (c) 2025, the sekolahdesk contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/sekolahdesk/sekolahdesk/internal/cache"
)

// RowQuerier is the read-only slice of a connection. Both the database's
// Querier and a pooled *sql.Conn satisfy it, so projection bulk loads can
// run on read-pool workers while everything else stays on the writer.
type RowQuerier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// StudentGroupRow is a student joined with their latest enrollment and its
// class, the shape the grouped-by-class projection displays. Class fields
// are zero for never-enrolled students.
type StudentGroupRow struct {
	Student
	EnrollmentID     int64            `json:"enrollmentId,omitempty"`
	EnrollmentStatus EnrollmentStatus `json:"enrollmentStatus,omitempty"`
	KelasID          int64            `json:"kelasId,omitempty"`
	NamaKelas        string           `json:"namaKelas,omitempty"`
	Tingkat          int64            `json:"tingkat,omitempty"`
}

// ListStudents loads every student on q, photos excluded. interner may be
// nil.
func ListStudents(ctx context.Context, q RowQuerier, interner *cache.Interner) ([]Student, error) {
	rows, err := q.QueryContext(ctx, "SELECT "+studentSelectColumns+" FROM siswa ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("list students: %w", err)
	}
	defer rows.Close()

	var out []Student
	for rows.Next() {
		var st Student
		if err := rows.Scan(&st.ID, &st.Nama, &st.Alamat, &st.TTL, &st.NIS, &st.NISN,
			&st.NamaWali, &st.Ayah, &st.Ibu, &st.Telepon, &st.JenisKelamin,
			&st.Status, &st.TanggalDaftar, &st.TanggalBerhenti); err != nil {
			return nil, fmt.Errorf("scan student: %w", err)
		}
		if interner != nil {
			st.Nama = interner.Intern(st.Nama)
			st.JenisKelamin = interner.Intern(st.JenisKelamin)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// ListStudentGroupRows loads every student joined with their latest
// enrollment, determined by max enrollment-row id per student.
func ListStudentGroupRows(ctx context.Context, q RowQuerier, interner *cache.Interner) ([]StudentGroupRow, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+prefixColumns("s", studentSelectColumns)+`,
		       COALESCE(sk.id, 0), COALESCE(sk.status_enrollment, ''),
		       COALESCE(k.id, 0), COALESCE(k.nama_kelas, ''), COALESCE(k.tingkat_kelas, 0)
		FROM siswa s
		LEFT JOIN siswa_kelas sk ON sk.id = (
			SELECT MAX(id) FROM siswa_kelas WHERE siswa_id = s.id)
		LEFT JOIN kelas k ON k.id = sk.kelas_id
		ORDER BY s.id`)
	if err != nil {
		return nil, fmt.Errorf("list student group rows: %w", err)
	}
	defer rows.Close()

	var out []StudentGroupRow
	for rows.Next() {
		var r StudentGroupRow
		if err := rows.Scan(&r.ID, &r.Nama, &r.Alamat, &r.TTL, &r.NIS, &r.NISN,
			&r.NamaWali, &r.Ayah, &r.Ibu, &r.Telepon, &r.JenisKelamin,
			&r.Status, &r.TanggalDaftar, &r.TanggalBerhenti,
			&r.EnrollmentID, &r.EnrollmentStatus,
			&r.KelasID, &r.NamaKelas, &r.Tingkat); err != nil {
			return nil, fmt.Errorf("scan student group row: %w", err)
		}
		if interner != nil {
			r.Nama = interner.Intern(r.Nama)
			r.JenisKelamin = interner.Intern(r.JenisKelamin)
			r.NamaKelas = interner.Intern(r.NamaKelas)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListGradeRows loads the denormalized grade rows of one class on q.
func ListGradeRows(ctx context.Context, q RowQuerier, interner *cache.Interner, kelasID int64) ([]GradeRow, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT n.id, n.siswa_kelas_id, s.id, s.nama,
		       m.id, m.nama_mapel, g.id, g.nama_guru,
		       n.nilai, n.tanggal_nilai
		FROM nilai_siswa_mapel n
		JOIN siswa_kelas sk ON sk.id = n.siswa_kelas_id
		JOIN siswa s ON s.id = sk.siswa_id
		JOIN penugasan_guru_mapel_kelas p ON p.id = n.penugasan_guru_id
		JOIN mapel m ON m.id = p.mapel_id
		JOIN guru g ON g.id = p.guru_id
		WHERE sk.kelas_id = ?
		ORDER BY s.nama, m.nama_mapel, n.tanggal_nilai`, kelasID)
	if err != nil {
		return nil, fmt.Errorf("list grade rows for class %d: %w", kelasID, err)
	}
	defer rows.Close()

	var out []GradeRow
	for rows.Next() {
		var r GradeRow
		if err := rows.Scan(&r.GradeID, &r.SiswaKelasID, &r.SiswaID, &r.NamaSiswa,
			&r.MapelID, &r.NamaMapel, &r.GuruID, &r.NamaGuru,
			&r.Nilai, &r.TanggalNilai); err != nil {
			return nil, fmt.Errorf("scan grade row: %w", err)
		}
		if interner != nil {
			r.NamaSiswa = interner.Intern(r.NamaSiswa)
			r.NamaMapel = interner.Intern(r.NamaMapel)
			r.NamaGuru = interner.Intern(r.NamaGuru)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListClassHistory loads one student's class history on q, newest first.
func ListClassHistory(ctx context.Context, q RowQuerier, siswaID int64) ([]ClassHistoryRow, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT sk.id, sk.status_enrollment, sk.tanggal_masuk, sk.tanggal_keluar,
		       k.id, k.nama_kelas, k.tingkat_kelas, k.tahun_ajaran, k.semester
		FROM siswa_kelas sk
		JOIN kelas k ON k.id = sk.kelas_id
		WHERE sk.siswa_id = ?
		ORDER BY sk.id DESC`, siswaID)
	if err != nil {
		return nil, fmt.Errorf("load class history for student %d: %w", siswaID, err)
	}
	defer rows.Close()

	var out []ClassHistoryRow
	for rows.Next() {
		var h ClassHistoryRow
		if err := rows.Scan(&h.EnrollmentID, &h.Status, &h.TanggalMasuk, &h.TanggalKeluar,
			&h.Class.ID, &h.Class.NamaKelas, &h.Class.Tingkat, &h.Class.TahunAjaran, &h.Class.Semester); err != nil {
			return nil, fmt.Errorf("scan class history: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// prefixColumns qualifies a comma-separated column list with a table alias.
func prefixColumns(alias, columns string) string {
	parts := strings.Split(columns, ", ")
	for i, p := range parts {
		parts[i] = alias + "." + p
	}
	return strings.Join(parts, ", ")
}
