// Copyright (c) 2025, the sekolahdesk contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package models holds the domain stores. One store per entity, each a thin
// typed layer over the database's Querier: stores never touch connections
// directly, and reads issued here observe this process's writes immediately.
package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/sekolahdesk/sekolahdesk/internal/cache"
	"github.com/sekolahdesk/sekolahdesk/internal/dbinterface"
)

var (
	ErrStudentNotFound = errors.New("student not found")
	ErrInvalidField    = errors.New("field is not editable")
)

// StudentStatus is the enrollment lifecycle marker on the student row.
type StudentStatus string

const (
	StatusActive    StudentStatus = "aktif"
	StatusLeft      StudentStatus = "berhenti"
	StatusGraduated StudentStatus = "lulus"
)

// Student is one siswa row. The photo blob is deliberately absent: bulk
// loads never carry photos, they are fetched one at a time through Photo.
type Student struct {
	ID              int64         `json:"id"`
	Nama            string        `json:"nama"`
	Alamat          string        `json:"alamat"`
	TTL             string        `json:"ttl"` // birth place/date, free text
	NIS             string        `json:"nis"`
	NISN            string        `json:"nisn"`
	NamaWali        string        `json:"namaWali"`
	Ayah            string        `json:"ayah"`
	Ibu             string        `json:"ibu"`
	Telepon         string        `json:"telepon"`
	JenisKelamin    string        `json:"jenisKelamin"`
	Status          StudentStatus `json:"status"`
	TanggalDaftar   string        `json:"tanggalDaftar"`
	TanggalBerhenti string        `json:"tanggalBerhenti"`
}

// studentColumns whitelists the editable columns for field-level updates,
// which is the unit the undo coordinator works in.
var studentColumns = map[string]struct{}{
	"nama": {}, "alamat": {}, "ttl": {}, "nis": {}, "nisn": {},
	"namawali": {}, "ayah": {}, "ibu": {}, "telepon": {},
	"jeniskelamin": {}, "status": {}, "tanggaldaftar": {}, "tanggalberhenti": {},
}

const studentSelectColumns = `id, nama, alamat, ttl, nis, nisn, namawali, ayah, ibu, telepon, jeniskelamin, status, tanggaldaftar, tanggalberhenti`

type StudentStore struct {
	db       dbinterface.Querier
	interner *cache.Interner
	photos   *cache.ImageCache
}

// NewStudentStore returns a store over db. interner and photos may be nil.
func NewStudentStore(db dbinterface.Querier, interner *cache.Interner, photos *cache.ImageCache) *StudentStore {
	return &StudentStore{db: db, interner: interner, photos: photos}
}

func (s *StudentStore) intern(v string) string {
	if s.interner == nil {
		return v
	}
	return s.interner.Intern(v)
}

// Create inserts a new student on admission and returns its id.
func (s *StudentStore) Create(ctx context.Context, st *Student) (int64, error) {
	if st.Status == "" {
		st.Status = StatusActive
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO siswa (nama, alamat, ttl, nis, nisn, namawali, ayah, ibu, telepon, jeniskelamin, status, tanggaldaftar, tanggalberhenti)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`, st.Nama, st.Alamat, st.TTL, st.NIS, st.NISN, st.NamaWali, st.Ayah, st.Ibu,
		st.Telepon, st.JenisKelamin, st.Status, st.TanggalDaftar, st.TanggalBerhenti,
	).Scan(&st.ID)
	if err != nil {
		return 0, fmt.Errorf("insert student: %w", err)
	}
	return st.ID, nil
}

func (s *StudentStore) scan(row interface{ Scan(...any) error }) (*Student, error) {
	var st Student
	err := row.Scan(&st.ID, &st.Nama, &st.Alamat, &st.TTL, &st.NIS, &st.NISN,
		&st.NamaWali, &st.Ayah, &st.Ibu, &st.Telepon, &st.JenisKelamin,
		&st.Status, &st.TanggalDaftar, &st.TanggalBerhenti)
	if err != nil {
		return nil, err
	}
	st.Nama = s.intern(st.Nama)
	st.JenisKelamin = s.intern(st.JenisKelamin)
	return &st, nil
}

// Get fetches one student by id.
func (s *StudentStore) Get(ctx context.Context, id int64) (*Student, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+studentSelectColumns+" FROM siswa WHERE id = ?", id)
	st, err := s.scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrStudentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get student %d: %w", id, err)
	}
	return st, nil
}

// List fetches every student, photos excluded.
func (s *StudentStore) List(ctx context.Context) ([]Student, error) {
	return s.list(ctx, "SELECT "+studentSelectColumns+" FROM siswa ORDER BY id")
}

// ListByStatus fetches students with the given lifecycle status.
func (s *StudentStore) ListByStatus(ctx context.Context, status StudentStatus) ([]Student, error) {
	return s.list(ctx, "SELECT "+studentSelectColumns+" FROM siswa WHERE status = ? ORDER BY id", status)
}

func (s *StudentStore) list(ctx context.Context, query string, args ...any) ([]Student, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list students: %w", err)
	}
	defer rows.Close()

	var out []Student
	for rows.Next() {
		st, err := s.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan student: %w", err)
		}
		out = append(out, *st)
	}
	return out, rows.Err()
}

// UpdateField sets one editable column. The undo coordinator records the
// previous value via GetField before calling this.
func (s *StudentStore) UpdateField(ctx context.Context, id int64, column, value string) error {
	if _, ok := studentColumns[column]; !ok {
		return fmt.Errorf("%w: %s", ErrInvalidField, column)
	}

	result, err := s.db.ExecContext(ctx,
		fmt.Sprintf("UPDATE siswa SET %s = ? WHERE id = ?", column), value, id)
	if err != nil {
		return fmt.Errorf("update student %d %s: %w", id, column, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrStudentNotFound
	}
	return nil
}

// GetField reads one editable column's current value.
func (s *StudentStore) GetField(ctx context.Context, id int64, column string) (string, error) {
	if _, ok := studentColumns[column]; !ok {
		return "", fmt.Errorf("%w: %s", ErrInvalidField, column)
	}

	var value string
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM siswa WHERE id = ?", column), id).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrStudentNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get student %d %s: %w", id, column, err)
	}
	return value, nil
}

// Delete hard-deletes the given students, cascading explicitly to their
// grade and enrollment rows inside one transaction. The RESTRICT foreign
// keys force this ordering; deferring checks lets the whole cascade be
// validated at commit.
func (s *StudentStore) Delete(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete transaction: %w", err)
	}
	defer tx.Rollback()

	if err := dbinterface.DeferForeignKeyChecks(tx); err != nil {
		return fmt.Errorf("defer foreign keys: %w", err)
	}

	placeholders := dbinterface.BuildQueryWithPlaceholders("%s", 1, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	statements := []string{
		`DELETE FROM nilai_siswa_mapel WHERE siswa_kelas_id IN (
			SELECT id FROM siswa_kelas WHERE siswa_id IN (` + flatten(placeholders) + `))`,
		`DELETE FROM siswa_kelas WHERE siswa_id IN (` + flatten(placeholders) + `)`,
		`DELETE FROM siswa WHERE id IN (` + flatten(placeholders) + `)`,
	}
	for _, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
			return fmt.Errorf("cascade delete students: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete: %w", err)
	}

	if s.photos != nil {
		for _, id := range ids {
			s.photos.Clear(cache.KindStudent, id)
		}
	}
	return nil
}

// Photo fetches one student's photo, cache first, database on a miss.
func (s *StudentStore) Photo(ctx context.Context, id int64) ([]byte, error) {
	if s.photos != nil {
		if data, ok := s.photos.Get(cache.KindStudent, id); ok {
			return data, nil
		}
	}

	var data []byte
	err := s.db.QueryRowContext(ctx, "SELECT foto FROM siswa WHERE id = ?", id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrStudentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load student photo %d: %w", id, err)
	}

	if s.photos != nil && data != nil {
		s.photos.Set(cache.KindStudent, id, data)
	}
	return data, nil
}

// SetPhoto stores a student's photo and refreshes the cache entry. A nil
// data clears the photo.
func (s *StudentStore) SetPhoto(ctx context.Context, id int64, data []byte) error {
	result, err := s.db.ExecContext(ctx, "UPDATE siswa SET foto = ? WHERE id = ?", data, id)
	if err != nil {
		return fmt.Errorf("set student photo %d: %w", id, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrStudentNotFound
	}

	if s.photos != nil {
		if data == nil {
			s.photos.Clear(cache.KindStudent, id)
		} else {
			s.photos.Set(cache.KindStudent, id, data)
		}
	}
	return nil
}

// flatten strips the surrounding parens BuildQueryWithPlaceholders adds for
// a single row, leaving the bare placeholder list for IN clauses.
func flatten(placeholders string) string {
	if len(placeholders) >= 2 && placeholders[0] == '(' {
		return placeholders[1 : len(placeholders)-1]
	}
	return placeholders
}
