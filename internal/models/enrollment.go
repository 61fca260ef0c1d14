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

var (
	ErrEnrollmentNotFound = errors.New("enrollment not found")
	ErrAlreadyEnrolled    = errors.New("student already enrolled in class")
)

// EnrollmentStatus mirrors the student lifecycle at the class link level.
type EnrollmentStatus string

const (
	EnrollActive    EnrollmentStatus = "aktif"
	EnrollGraduated EnrollmentStatus = "lulus"
	EnrollLeft      EnrollmentStatus = "berhenti"
)

// Enrollment links a student to a class, unique on (student, class).
type Enrollment struct {
	ID            int64            `json:"id"`
	SiswaID       int64            `json:"siswaId"`
	KelasID       int64            `json:"kelasId"`
	Status        EnrollmentStatus `json:"status"`
	TanggalMasuk  string           `json:"tanggalMasuk"`
	TanggalKeluar *string          `json:"tanggalKeluar,omitempty"`
}

// ClassHistoryRow is one entry of a student's class history, with the class
// joined in for display.
type ClassHistoryRow struct {
	EnrollmentID int64            `json:"enrollmentId"`
	Class        Class            `json:"class"`
	Status       EnrollmentStatus `json:"status"`
	TanggalMasuk string           `json:"tanggalMasuk"`
	TanggalKeluar *string         `json:"tanggalKeluar,omitempty"`
}

type EnrollmentStore struct {
	db dbQuerier
}

func NewEnrollmentStore(db dbQuerier) *EnrollmentStore {
	return &EnrollmentStore{db: db}
}

// Enroll inserts an enrollment row; a duplicate (student, class) pair
// returns ErrAlreadyEnrolled.
func (s *EnrollmentStore) Enroll(ctx context.Context, e *Enrollment) (int64, error) {
	if e.Status == "" {
		e.Status = EnrollActive
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO siswa_kelas (siswa_id, kelas_id, status_enrollment, tanggal_masuk, tanggal_keluar)
		VALUES (?, ?, ?, ?, ?)
		RETURNING id
	`, e.SiswaID, e.KelasID, e.Status, e.TanggalMasuk, e.TanggalKeluar).Scan(&e.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("%w: student %d class %d", ErrAlreadyEnrolled, e.SiswaID, e.KelasID)
		}
		return 0, fmt.Errorf("insert enrollment: %w", err)
	}
	return e.ID, nil
}

// Get fetches one enrollment by id.
func (s *EnrollmentStore) Get(ctx context.Context, id int64) (*Enrollment, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, siswa_id, kelas_id, status_enrollment, tanggal_masuk, tanggal_keluar
		FROM siswa_kelas WHERE id = ?`, id)
	return s.scan(row)
}

// Latest returns the student's most recent enrollment, determined by max
// enrollment-row id: a student has at most one latest enrollment per query
// window. ErrEnrollmentNotFound for never-enrolled students.
func (s *EnrollmentStore) Latest(ctx context.Context, siswaID int64) (*Enrollment, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, siswa_id, kelas_id, status_enrollment, tanggal_masuk, tanggal_keluar
		FROM siswa_kelas WHERE siswa_id = ?
		ORDER BY id DESC LIMIT 1`, siswaID)
	return s.scan(row)
}

func (s *EnrollmentStore) scan(row *sql.Row) (*Enrollment, error) {
	var e Enrollment
	err := row.Scan(&e.ID, &e.SiswaID, &e.KelasID, &e.Status, &e.TanggalMasuk, &e.TanggalKeluar)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEnrollmentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan enrollment: %w", err)
	}
	return &e, nil
}

// SetStatus transitions an enrollment (promote, activate, and their undo
// counterparts all come through here) and records the exit date when one
// applies.
func (s *EnrollmentStore) SetStatus(ctx context.Context, id int64, status EnrollmentStatus, exitDate *string) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE siswa_kelas SET status_enrollment = ?, tanggal_keluar = ? WHERE id = ?",
		status, exitDate, id)
	if err != nil {
		return fmt.Errorf("update enrollment %d status: %w", id, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrEnrollmentNotFound
	}
	return nil
}

// Delete removes an enrollment and its grade rows in one transaction.
func (s *EnrollmentStore) Delete(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin enrollment delete: %w", err)
	}
	defer tx.Rollback()

	if err := dbinterface.DeferForeignKeyChecks(tx); err != nil {
		return fmt.Errorf("defer foreign keys: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM nilai_siswa_mapel WHERE siswa_kelas_id = ?", id); err != nil {
		return fmt.Errorf("delete enrollment grades: %w", err)
	}
	result, err := tx.ExecContext(ctx, "DELETE FROM siswa_kelas WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete enrollment %d: %w", id, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrEnrollmentNotFound
	}

	return tx.Commit()
}

// History returns a student's class history, newest first, for the
// per-student projection.
func (s *EnrollmentStore) History(ctx context.Context, siswaID int64) ([]ClassHistoryRow, error) {
	rows, err := s.db.QueryContext(ctx, `
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

// ListByClass returns the enrollments of one class.
func (s *EnrollmentStore) ListByClass(ctx context.Context, kelasID int64) ([]Enrollment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, siswa_id, kelas_id, status_enrollment, tanggal_masuk, tanggal_keluar
		FROM siswa_kelas WHERE kelas_id = ? ORDER BY id`, kelasID)
	if err != nil {
		return nil, fmt.Errorf("list enrollments for class %d: %w", kelasID, err)
	}
	defer rows.Close()

	var out []Enrollment
	for rows.Next() {
		var e Enrollment
		if err := rows.Scan(&e.ID, &e.SiswaID, &e.KelasID, &e.Status, &e.TanggalMasuk, &e.TanggalKeluar); err != nil {
			return nil, fmt.Errorf("scan enrollment: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
