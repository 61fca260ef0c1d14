// Copyright (c) 2025, the sekolahdesk contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/sekolahdesk/sekolahdesk/internal/cache"
)

var (
	ErrTeacherNotFound    = errors.New("teacher not found")
	ErrAssignmentNotFound = errors.New("assignment not found")
	ErrTeacherInUse       = errors.New("teacher still referenced by assignments")
)

// Teacher is a guru row.
type Teacher struct {
	ID         int64  `json:"id"`
	NamaGuru   string `json:"namaGuru"`
	AlamatGuru string `json:"alamatGuru"`
	TahunAktif string `json:"tahunAktif"`
}

// Assignment links a teacher to a subject taught in a class under a role.
type Assignment struct {
	ID              int64   `json:"id"`
	GuruID          int64   `json:"guruId"`
	JabatanID       int64   `json:"jabatanId"`
	MapelID         int64   `json:"mapelId"`
	KelasID         int64   `json:"kelasId"`
	TanggalMulai    string  `json:"tanggalMulai"`
	TanggalSelesai  *string `json:"tanggalSelesai,omitempty"`
	StatusPenugasan string  `json:"statusPenugasan"`
}

// AssignmentRow is an assignment denormalized with reference-table names
// for display.
type AssignmentRow struct {
	Assignment
	NamaGuru    string `json:"namaGuru"`
	NamaJabatan string `json:"namaJabatan"`
	NamaMapel   string `json:"namaMapel"`
	NamaKelas   string `json:"namaKelas"`
}

type TeacherStore struct {
	db dbQuerier
}

func NewTeacherStore(db dbQuerier) *TeacherStore {
	return &TeacherStore{db: db}
}

func (s *TeacherStore) Create(ctx context.Context, t *Teacher) (int64, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO guru (nama_guru, alamat_guru, tahun_aktif)
		VALUES (?, ?, ?)
		RETURNING id
	`, t.NamaGuru, t.AlamatGuru, t.TahunAktif).Scan(&t.ID)
	if err != nil {
		return 0, fmt.Errorf("insert teacher: %w", err)
	}
	return t.ID, nil
}

func (s *TeacherStore) Get(ctx context.Context, id int64) (*Teacher, error) {
	var t Teacher
	err := s.db.QueryRowContext(ctx,
		"SELECT id, nama_guru, alamat_guru, tahun_aktif FROM guru WHERE id = ?", id).
		Scan(&t.ID, &t.NamaGuru, &t.AlamatGuru, &t.TahunAktif)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTeacherNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get teacher %d: %w", id, err)
	}
	return &t, nil
}

func (s *TeacherStore) List(ctx context.Context) ([]Teacher, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, nama_guru, alamat_guru, tahun_aktif FROM guru ORDER BY nama_guru")
	if err != nil {
		return nil, fmt.Errorf("list teachers: %w", err)
	}
	defer rows.Close()

	var out []Teacher
	for rows.Next() {
		var t Teacher
		if err := rows.Scan(&t.ID, &t.NamaGuru, &t.AlamatGuru, &t.TahunAktif); err != nil {
			return nil, fmt.Errorf("scan teacher: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// UpdateField overwrites one whitelisted column and returns the previous
// value, the undo unit for teacher edits.
func (s *TeacherStore) UpdateField(ctx context.Context, id int64, column, value string) (previous string, err error) {
	if !teacherColumns[column] {
		return "", fmt.Errorf("%w: %s", ErrInvalidField, column)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin teacher update: %w", err)
	}
	defer tx.Rollback()

	query := fmt.Sprintf("SELECT %s FROM guru WHERE id = ?", column)
	err = tx.QueryRowContext(ctx, query, id).Scan(&previous)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrTeacherNotFound
	}
	if err != nil {
		return "", fmt.Errorf("read teacher %d: %w", id, err)
	}

	query = fmt.Sprintf("UPDATE guru SET %s = ? WHERE id = ?", column)
	if _, err := tx.ExecContext(ctx, query, value, id); err != nil {
		return "", fmt.Errorf("update teacher %d: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit teacher update: %w", err)
	}
	return previous, nil
}

var teacherColumns = map[string]bool{
	"nama_guru":   true,
	"alamat_guru": true,
	"tahun_aktif": true,
}

// Delete removes a teacher. Active assignments keep the row alive:
// the foreign key restriction surfaces as ErrTeacherInUse.
func (s *TeacherStore) Delete(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM guru WHERE id = ?", id)
	if err != nil {
		if isForeignKeyViolation(err) {
			return ErrTeacherInUse
		}
		return fmt.Errorf("delete teacher %d: %w", id, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrTeacherNotFound
	}
	return nil
}

type AssignmentStore struct {
	db  dbQuerier
	ids *cache.IDCache
}

func NewAssignmentStore(db dbQuerier, ids *cache.IDCache) *AssignmentStore {
	return &AssignmentStore{db: db, ids: ids}
}

// Create inserts an assignment. Subject and role arrive as names and are
// resolved through the id cache, inserting new reference rows on first use.
func (s *AssignmentStore) Create(ctx context.Context, a *Assignment, subjectName, roleName string) (int64, error) {
	mapelID, err := s.ids.SubjectID(ctx, subjectName)
	if err != nil {
		return 0, err
	}
	jabatanID, err := s.ids.RoleID(ctx, roleName)
	if err != nil {
		return 0, err
	}
	a.MapelID = mapelID
	a.JabatanID = jabatanID
	if a.StatusPenugasan == "" {
		a.StatusPenugasan = "aktif"
	}

	err = s.db.QueryRowContext(ctx, `
		INSERT INTO penugasan_guru_mapel_kelas
			(guru_id, jabatan_id, mapel_id, kelas_id, tanggal_mulai, tanggal_selesai, status_penugasan)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`, a.GuruID, a.JabatanID, a.MapelID, a.KelasID, a.TanggalMulai, a.TanggalSelesai, a.StatusPenugasan).Scan(&a.ID)
	if err != nil {
		return 0, fmt.Errorf("insert assignment: %w", err)
	}
	return a.ID, nil
}

func (s *AssignmentStore) Get(ctx context.Context, id int64) (*Assignment, error) {
	var a Assignment
	err := s.db.QueryRowContext(ctx, `
		SELECT id, guru_id, jabatan_id, mapel_id, kelas_id, tanggal_mulai, tanggal_selesai, status_penugasan
		FROM penugasan_guru_mapel_kelas WHERE id = ?`, id).
		Scan(&a.ID, &a.GuruID, &a.JabatanID, &a.MapelID, &a.KelasID,
			&a.TanggalMulai, &a.TanggalSelesai, &a.StatusPenugasan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAssignmentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get assignment %d: %w", id, err)
	}
	return &a, nil
}

// End closes an assignment without deleting it, keeping grade history
// resolvable.
func (s *AssignmentStore) End(ctx context.Context, id int64, endDate string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE penugasan_guru_mapel_kelas
		SET status_penugasan = 'selesai', tanggal_selesai = ?
		WHERE id = ?`, endDate, id)
	if err != nil {
		return fmt.Errorf("end assignment %d: %w", id, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrAssignmentNotFound
	}
	return nil
}

func (s *AssignmentStore) Delete(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM penugasan_guru_mapel_kelas WHERE id = ?", id)
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("assignment %d still referenced by grades: %w", id, err)
		}
		return fmt.Errorf("delete assignment %d: %w", id, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrAssignmentNotFound
	}
	return nil
}

// ListByClass loads the denormalized assignment rows of one class.
func (s *AssignmentStore) ListByClass(ctx context.Context, kelasID int64) ([]AssignmentRow, error) {
	return s.list(ctx, "p.kelas_id = ?", kelasID)
}

// ListByTeacher loads all assignments of one teacher across classes.
func (s *AssignmentStore) ListByTeacher(ctx context.Context, guruID int64) ([]AssignmentRow, error) {
	return s.list(ctx, "p.guru_id = ?", guruID)
}

func (s *AssignmentStore) list(ctx context.Context, where string, arg int64) ([]AssignmentRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.guru_id, p.jabatan_id, p.mapel_id, p.kelas_id,
		       p.tanggal_mulai, p.tanggal_selesai, p.status_penugasan,
		       g.nama_guru, j.nama_jabatan, m.nama_mapel, k.nama_kelas
		FROM penugasan_guru_mapel_kelas p
		JOIN guru g ON g.id = p.guru_id
		JOIN jabatan_guru j ON j.id = p.jabatan_id
		JOIN mapel m ON m.id = p.mapel_id
		JOIN kelas k ON k.id = p.kelas_id
		WHERE `+where+`
		ORDER BY g.nama_guru, m.nama_mapel`, arg)
	if err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	defer rows.Close()

	var out []AssignmentRow
	for rows.Next() {
		var r AssignmentRow
		if err := rows.Scan(&r.ID, &r.GuruID, &r.JabatanID, &r.MapelID, &r.KelasID,
			&r.TanggalMulai, &r.TanggalSelesai, &r.StatusPenugasan,
			&r.NamaGuru, &r.NamaJabatan, &r.NamaMapel, &r.NamaKelas); err != nil {
			return nil, fmt.Errorf("scan assignment row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
