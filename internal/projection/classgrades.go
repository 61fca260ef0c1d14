// Copyright (c) 2025, the sekolahdesk contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package projection

import (
	"context"
	"database/sql"
	"sort"

	"github.com/sekolahdesk/sekolahdesk/internal/cache"
	"github.com/sekolahdesk/sekolahdesk/internal/models"
)

// ClassGrades is the per-class grade sheet: one class's grade rows with
// student, subject and teacher names joined in.
type ClassGrades struct {
	reader   Reader
	interner *cache.Interner

	kelasID int64
	rows    []models.GradeRow
	desc    SortDescriptor
}

func NewClassGrades(reader Reader, interner *cache.Interner, kelasID int64) *ClassGrades {
	return &ClassGrades{
		reader:   reader,
		interner: interner,
		kelasID:  kelasID,
		desc:     SortDescriptor{Key: "nama", Ascending: true},
	}
}

// KelasID is the class this sheet projects.
func (p *ClassGrades) KelasID() int64 { return p.kelasID }

func (p *ClassGrades) comparator() Comparator[models.GradeRow] {
	desc := p.desc
	return func(a, b models.GradeRow) int {
		var c int
		switch desc.Key {
		case "mapel":
			c = CompareFolded(a.NamaMapel, b.NamaMapel, desc.Ascending)
		case "guru":
			c = CompareFolded(a.NamaGuru, b.NamaGuru, desc.Ascending)
		case "tanggal":
			c = CompareFolded(a.TanggalNilai, b.TanggalNilai, desc.Ascending)
		case "nilai":
			c = CompareInt64(scoreOf(a), scoreOf(b), desc.Ascending)
		default:
			c = CompareFolded(a.NamaSiswa, b.NamaSiswa, desc.Ascending)
		}
		if c != 0 {
			return c
		}
		return CompareInt64(a.GradeID, b.GradeID, true)
	}
}

// scoreOf orders missing scores before every recorded one.
func scoreOf(r models.GradeRow) int64 {
	if r.Nilai == nil {
		return -1
	}
	return *r.Nilai
}

// Load re-derives the sheet from the database on a pooled read connection.
func (p *ClassGrades) Load(ctx context.Context) error {
	var rows []models.GradeRow
	err := p.reader.Read(ctx, func(conn *sql.Conn) error {
		var err error
		rows, err = models.ListGradeRows(ctx, conn, p.interner, p.kelasID)
		return err
	})
	if err != nil {
		return err
	}

	cmp := p.comparator()
	sort.SliceStable(rows, func(i, j int) bool { return cmp(rows[i], rows[j]) < 0 })

	if err := ctx.Err(); err != nil {
		return err
	}
	p.rows = rows
	return nil
}

// Rows returns the sheet's rows in display order, read-only.
func (p *ClassGrades) Rows() []models.GradeRow { return p.rows }

func (p *ClassGrades) Len() int { return len(p.rows) }

// IndexOfGrade locates a grade row by identity.
func (p *ClassGrades) IndexOfGrade(gradeID int64) int {
	return IndexOf(p.rows, func(r models.GradeRow) bool { return r.GradeID == gradeID })
}

// SetSort switches the active descriptor and reorders in place.
func (p *ClassGrades) SetSort(desc SortDescriptor) Op {
	p.desc = desc
	cmp := p.comparator()
	sort.SliceStable(p.rows, func(i, j int) bool { return cmp(p.rows[i], p.rows[j]) < 0 })
	return ReloadAll()
}

// Insert places a grade row at its comparator-derived position.
func (p *ClassGrades) Insert(r models.GradeRow) Op {
	at := InsertionIndex(p.rows, r, p.comparator())
	p.rows = append(p.rows[:at], append([]models.GradeRow{r}, p.rows[at:]...)...)
	return Insert(at)
}

// Remove drops a grade row by identity.
func (p *ClassGrades) Remove(gradeID int64) (Op, bool) {
	at := p.IndexOfGrade(gradeID)
	if at < 0 {
		return Op{}, false
	}
	p.rows = append(p.rows[:at], p.rows[at+1:]...)
	return Remove(at), true
}

// RemoveByEnrollment drops every grade row of one enrollment, emitting one
// remove per row in application order. Used when an enrollment is deleted.
func (p *ClassGrades) RemoveByEnrollment(siswaKelasID int64) []Op {
	var ops []Op
	for {
		at := IndexOf(p.rows, func(r models.GradeRow) bool { return r.SiswaKelasID == siswaKelasID })
		if at < 0 {
			return ops
		}
		p.rows = append(p.rows[:at], p.rows[at+1:]...)
		ops = append(ops, Remove(at))
	}
}

// UpdateScore rewrites one grade row's score in place. Score edits only
// move the row when the sheet is sorted by score.
func (p *ClassGrades) UpdateScore(gradeID int64, nilai *int64) (Op, bool) {
	from := p.IndexOfGrade(gradeID)
	if from < 0 {
		return Op{}, false
	}
	r := p.rows[from]
	r.Nilai = nilai

	if p.desc.Key != "nilai" {
		p.rows[from] = r
		return Reload(from), true
	}

	cmp := p.comparator()
	p.rows = append(p.rows[:from], p.rows[from+1:]...)
	to := InsertionIndex(p.rows, r, cmp)
	p.rows = append(p.rows[:to], append([]models.GradeRow{r}, p.rows[to:]...)...)
	if to == from {
		return Reload(from), true
	}
	return MoveAndReloadColumn(from, to, p.desc.Key), true
}
