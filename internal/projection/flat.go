// Copyright (c) 2025, the sekolahdesk contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package projection

import (
	"context"
	"database/sql"
	"sort"

	"github.com/lithammer/fuzzysearch/fuzzy"

	"github.com/sekolahdesk/sekolahdesk/internal/cache"
	"github.com/sekolahdesk/sekolahdesk/internal/models"
	"github.com/sekolahdesk/sekolahdesk/pkg/stringutils"
)

// loadBatchSize is how many rows are processed between cancellation checks
// during bulk loads.
const loadBatchSize = 100

// Reader runs a function on a pooled read-only connection. *database.DB
// satisfies it.
type Reader interface {
	Read(ctx context.Context, fn func(conn *sql.Conn) error) error
}

// FlatStudents is the plain, ungrouped student list: every student in one
// sorted, filterable sequence.
type FlatStudents struct {
	reader   Reader
	interner *cache.Interner

	backing []models.Student // all rows, sorted per desc
	visible []models.Student // backing minus filtered-out rows
	desc    SortDescriptor
	filter  string
}

func NewFlatStudents(reader Reader, interner *cache.Interner) *FlatStudents {
	return &FlatStudents{
		reader:   reader,
		interner: interner,
		desc:     SortDescriptor{Key: "nama", Ascending: true},
	}
}

// comparator derives the active ordering from the sort descriptor, with an
// id tiebreak so equal keys still order deterministically.
func (p *FlatStudents) comparator() Comparator[models.Student] {
	desc := p.desc
	return func(a, b models.Student) int {
		var c int
		switch desc.Key {
		case "nis":
			c = CompareFolded(a.NIS, b.NIS, desc.Ascending)
		case "nisn":
			c = CompareFolded(a.NISN, b.NISN, desc.Ascending)
		case "tanggaldaftar":
			c = CompareFolded(a.TanggalDaftar, b.TanggalDaftar, desc.Ascending)
		case "status":
			c = CompareFolded(string(a.Status), string(b.Status), desc.Ascending)
		default:
			c = CompareFolded(a.Nama, b.Nama, desc.Ascending)
		}
		if c != 0 {
			return c
		}
		return CompareInt64(a.ID, b.ID, true)
	}
}

// Load re-derives the projection from the database on a pooled read
// connection. Cancellation is honored between batches; a cancelled load
// leaves the previous rows intact.
func (p *FlatStudents) Load(ctx context.Context) error {
	var students []models.Student
	err := p.reader.Read(ctx, func(conn *sql.Conn) error {
		var err error
		students, err = models.ListStudents(ctx, conn, p.interner)
		return err
	})
	if err != nil {
		return err
	}

	cmp := p.comparator()
	sort.SliceStable(students, func(i, j int) bool { return cmp(students[i], students[j]) < 0 })

	visible := make([]models.Student, 0, len(students))
	for i, st := range students {
		if i%loadBatchSize == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if p.matches(st) {
			visible = append(visible, st)
		}
	}

	p.backing = students
	p.visible = visible
	return nil
}

func (p *FlatStudents) matches(st models.Student) bool {
	if p.filter == "" {
		return true
	}
	needle := stringutils.FoldName(p.filter)
	return fuzzy.Match(needle, stringutils.FoldName(st.Nama)) ||
		fuzzy.Match(needle, stringutils.FoldName(st.NIS)) ||
		fuzzy.Match(needle, stringutils.FoldName(st.NISN))
}

// Rows returns the visible rows in display order. Callers must treat the
// slice as read-only.
func (p *FlatStudents) Rows() []models.Student { return p.visible }

// Len is the visible row count.
func (p *FlatStudents) Len() int { return len(p.visible) }

// IndexOfID locates a student in the visible rows by identity, -1 when the
// student is filtered out or absent.
func (p *FlatStudents) IndexOfID(id int64) int {
	return IndexOf(p.visible, func(st models.Student) bool { return st.ID == id })
}

// SetSort switches the active sort descriptor and reorders in place.
func (p *FlatStudents) SetSort(desc SortDescriptor) Op {
	p.desc = desc
	cmp := p.comparator()
	sort.SliceStable(p.backing, func(i, j int) bool { return cmp(p.backing[i], p.backing[j]) < 0 })
	sort.SliceStable(p.visible, func(i, j int) bool { return cmp(p.visible[i], p.visible[j]) < 0 })
	return ReloadAll()
}

// Sort returns the active sort descriptor.
func (p *FlatStudents) Sort() SortDescriptor { return p.desc }

// SetFilter changes the filter string and recomputes visibility from the
// backing rows.
func (p *FlatStudents) SetFilter(query string) Op {
	p.filter = query
	visible := p.visible[:0]
	for _, st := range p.backing {
		if p.matches(st) {
			visible = append(visible, st)
		}
	}
	p.visible = visible
	return ReloadAll()
}

// Insert places a student at its comparator-derived position. The second
// return is false when the row is filtered out of view, in which case only
// the backing rows changed.
func (p *FlatStudents) Insert(st models.Student) (Op, bool) {
	cmp := p.comparator()
	at := InsertionIndex(p.backing, st, cmp)
	p.backing = append(p.backing[:at], append([]models.Student{st}, p.backing[at:]...)...)

	if !p.matches(st) {
		return Op{}, false
	}
	return p.insertVisible(st), true
}

func (p *FlatStudents) insertVisible(st models.Student) Op {
	at := InsertionIndex(p.visible, st, p.comparator())
	p.visible = append(p.visible[:at], append([]models.Student{st}, p.visible[at:]...)...)
	return Insert(at)
}

// Remove drops a student by identity. The second return is false when no
// visible row changed.
func (p *FlatStudents) Remove(id int64) (Op, bool) {
	if at := IndexOf(p.backing, func(st models.Student) bool { return st.ID == id }); at >= 0 {
		p.backing = append(p.backing[:at], p.backing[at+1:]...)
	}
	at := p.IndexOfID(id)
	if at < 0 {
		return Op{}, false
	}
	p.visible = append(p.visible[:at], p.visible[at+1:]...)
	return Remove(at), true
}

// Update replaces a student's row in place. When the active sort key moved
// the row, the op is a move with the sorted column marked for redraw;
// otherwise a plain reload of the row's position.
func (p *FlatStudents) Update(st models.Student) (Op, bool) {
	if at := IndexOf(p.backing, func(s models.Student) bool { return s.ID == st.ID }); at >= 0 {
		p.backing[at] = st
		cmp := p.comparator()
		sort.SliceStable(p.backing, func(i, j int) bool { return cmp(p.backing[i], p.backing[j]) < 0 })
	}

	from := p.IndexOfID(st.ID)
	stillVisible := p.matches(st)

	switch {
	case from < 0 && !stillVisible:
		return Op{}, false
	case from < 0:
		// Edited into view.
		return p.insertVisible(st), true
	case !stillVisible:
		op, _ := p.Remove(st.ID)
		return op, true
	}

	cmp := p.comparator()
	p.visible = append(p.visible[:from], p.visible[from+1:]...)
	to := InsertionIndex(p.visible, st, cmp)
	p.visible = append(p.visible[:to], append([]models.Student{st}, p.visible[to:]...)...)

	if to == from {
		return Reload(from), true
	}
	return MoveAndReloadColumn(from, to, p.desc.Key), true
}
