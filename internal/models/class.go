// Copyright (c) 2025, the sekolahdesk contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrClassNotFound = errors.New("class not found")
	ErrClassExists   = errors.New("class already exists")
	ErrClassInUse    = errors.New("class still has enrollments or assignments")
)

// Class is one kelas row, unique on (label, level, year, semester).
type Class struct {
	ID          int64  `json:"id"`
	NamaKelas   string `json:"namaKelas"` // section label, e.g. "A"
	Tingkat     int    `json:"tingkat"`   // grade level 1..6
	TahunAjaran string `json:"tahunAjaran"`
	Semester    string `json:"semester"`
}

// Label renders the display name, e.g. "Kelas 1 A".
func (c Class) Label() string {
	return fmt.Sprintf("Kelas %d %s", c.Tingkat, c.NamaKelas)
}

type ClassStore struct {
	db dbQuerier
}

func NewClassStore(db dbQuerier) *ClassStore {
	return &ClassStore{db: db}
}

// Create inserts a class; duplicate (label, level, year, semester) returns
// ErrClassExists.
func (s *ClassStore) Create(ctx context.Context, c *Class) (int64, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO kelas (nama_kelas, tingkat_kelas, tahun_ajaran, semester)
		VALUES (?, ?, ?, ?)
		RETURNING id
	`, c.NamaKelas, c.Tingkat, c.TahunAjaran, c.Semester).Scan(&c.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("%w: %s %s/%s", ErrClassExists, c.Label(), c.TahunAjaran, c.Semester)
		}
		return 0, fmt.Errorf("insert class: %w", err)
	}
	return c.ID, nil
}

// Get fetches one class by id.
func (s *ClassStore) Get(ctx context.Context, id int64) (*Class, error) {
	var c Class
	err := s.db.QueryRowContext(ctx,
		"SELECT id, nama_kelas, tingkat_kelas, tahun_ajaran, semester FROM kelas WHERE id = ?", id,
	).Scan(&c.ID, &c.NamaKelas, &c.Tingkat, &c.TahunAjaran, &c.Semester)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrClassNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get class %d: %w", id, err)
	}
	return &c, nil
}

// List fetches all classes ordered by level then label.
func (s *ClassStore) List(ctx context.Context) ([]Class, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, nama_kelas, tingkat_kelas, tahun_ajaran, semester FROM kelas ORDER BY tingkat_kelas, nama_kelas, tahun_ajaran")
	if err != nil {
		return nil, fmt.Errorf("list classes: %w", err)
	}
	defer rows.Close()

	var out []Class
	for rows.Next() {
		var c Class
		if err := rows.Scan(&c.ID, &c.NamaKelas, &c.Tingkat, &c.TahunAjaran, &c.Semester); err != nil {
			return nil, fmt.Errorf("scan class: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Delete removes an empty class. RESTRICT foreign keys reject the delete
// while enrollments or assignments still reference it.
func (s *ClassStore) Delete(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM kelas WHERE id = ?", id)
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: id %d", ErrClassInUse, id)
		}
		return fmt.Errorf("delete class %d: %w", id, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrClassNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isForeignKeyViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}
