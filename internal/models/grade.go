// Copyright (c) 2025, the sekolahdesk contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

var (
	ErrGradeNotFound = errors.New("grade not found")
	ErrGradeExists   = errors.New("grade already recorded for this date")
)

// Grade is one score, unique per (enrollment, assignment, date).
type Grade struct {
	ID             int64  `json:"id"`
	SiswaKelasID   int64  `json:"siswaKelasId"`
	PenugasanID    int64  `json:"penugasanId"`
	Nilai          *int64 `json:"nilai"`
	TanggalNilai   string `json:"tanggalNilai"`
}

// GradeRow is a grade denormalized for the per-class grade projection:
// student, subject and teacher names joined in so the view never touches
// the reference tables.
type GradeRow struct {
	GradeID      int64  `json:"gradeId"`
	SiswaKelasID int64  `json:"siswaKelasId"`
	SiswaID      int64  `json:"siswaId"`
	NamaSiswa    string `json:"namaSiswa"`
	MapelID      int64  `json:"mapelId"`
	NamaMapel    string `json:"namaMapel"`
	GuruID       int64  `json:"guruId"`
	NamaGuru     string `json:"namaGuru"`
	Nilai        *int64 `json:"nilai"`
	TanggalNilai string `json:"tanggalNilai"`
}

type GradeStore struct {
	db dbQuerier
}

func NewGradeStore(db dbQuerier) *GradeStore {
	return &GradeStore{db: db}
}

// Create inserts a grade row. A duplicate (enrollment, assignment, date)
// triple returns ErrGradeExists.
func (s *GradeStore) Create(ctx context.Context, g *Grade) (int64, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO nilai_siswa_mapel (siswa_kelas_id, penugasan_guru_id, nilai, tanggal_nilai)
		VALUES (?, ?, ?, ?)
		RETURNING id
	`, g.SiswaKelasID, g.PenugasanID, g.Nilai, g.TanggalNilai).Scan(&g.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, ErrGradeExists
		}
		return 0, fmt.Errorf("insert grade: %w", err)
	}
	return g.ID, nil
}

func (s *GradeStore) Get(ctx context.Context, id int64) (*Grade, error) {
	var g Grade
	err := s.db.QueryRowContext(ctx, `
		SELECT id, siswa_kelas_id, penugasan_guru_id, nilai, tanggal_nilai
		FROM nilai_siswa_mapel WHERE id = ?`, id).
		Scan(&g.ID, &g.SiswaKelasID, &g.PenugasanID, &g.Nilai, &g.TanggalNilai)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrGradeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get grade %d: %w", id, err)
	}
	return &g, nil
}

// UpdateScore changes the score of one grade. This is the undo unit for
// grade edits, so the previous score is returned alongside.
func (s *GradeStore) UpdateScore(ctx context.Context, id int64, nilai *int64) (previous *int64, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin grade update: %w", err)
	}
	defer tx.Rollback()

	err = tx.QueryRowContext(ctx, "SELECT nilai FROM nilai_siswa_mapel WHERE id = ?", id).Scan(&previous)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrGradeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read grade %d: %w", id, err)
	}

	if _, err := tx.ExecContext(ctx, "UPDATE nilai_siswa_mapel SET nilai = ? WHERE id = ?", nilai, id); err != nil {
		return nil, fmt.Errorf("update grade %d: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit grade update: %w", err)
	}
	return previous, nil
}

func (s *GradeStore) Delete(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM nilai_siswa_mapel WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete grade %d: %w", id, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrGradeNotFound
	}
	return nil
}

// ListByClass loads the denormalized grade rows of one class, ordered for
// stable display.
func (s *GradeStore) ListByClass(ctx context.Context, kelasID int64) ([]GradeRow, error) {
	rows, err := s.db.QueryContext(ctx, `
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
		return nil, fmt.Errorf("list grades for class %d: %w", kelasID, err)
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
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListByEnrollment loads a student's grades within one enrollment.
func (s *GradeStore) ListByEnrollment(ctx context.Context, siswaKelasID int64) ([]Grade, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, siswa_kelas_id, penugasan_guru_id, nilai, tanggal_nilai
		FROM nilai_siswa_mapel WHERE siswa_kelas_id = ? ORDER BY tanggal_nilai, id`, siswaKelasID)
	if err != nil {
		return nil, fmt.Errorf("list grades for enrollment %d: %w", siswaKelasID, err)
	}
	defer rows.Close()

	var out []Grade
	for rows.Next() {
		var g Grade
		if err := rows.Scan(&g.ID, &g.SiswaKelasID, &g.PenugasanID, &g.Nilai, &g.TanggalNilai); err != nil {
			return nil, fmt.Errorf("scan grade: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}
