// Copyright (c) 2025, the sekolahdesk contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package projection

import (
	"context"
	"database/sql"

	"github.com/sekolahdesk/sekolahdesk/internal/models"
)

// History is the per-student class-history projection: each student's
// enrollments newest first, loaded lazily and dropped on invalidation.
type History struct {
	reader  Reader
	entries map[int64][]models.ClassHistoryRow
}

func NewHistory(reader Reader) *History {
	return &History{
		reader:  reader,
		entries: make(map[int64][]models.ClassHistoryRow),
	}
}

// Get returns a student's class history, loading it on first access.
func (p *History) Get(ctx context.Context, siswaID int64) ([]models.ClassHistoryRow, error) {
	if rows, ok := p.entries[siswaID]; ok {
		return rows, nil
	}

	var rows []models.ClassHistoryRow
	err := p.reader.Read(ctx, func(conn *sql.Conn) error {
		var err error
		rows, err = models.ListClassHistory(ctx, conn, siswaID)
		return err
	})
	if err != nil {
		return nil, err
	}

	p.entries[siswaID] = rows
	return rows, nil
}

// Invalidate drops one student's cached history so the next Get reloads.
func (p *History) Invalidate(siswaID int64) {
	delete(p.entries, siswaID)
}

// InvalidateAll drops every cached history.
func (p *History) InvalidateAll() {
	p.entries = make(map[int64][]models.ClassHistoryRow)
}
