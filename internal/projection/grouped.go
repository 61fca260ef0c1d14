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

// Bucket indices of the grouped projection: six grade levels, then
// graduated students, then students with no enrollment at all.
const (
	BucketLevel1 = iota
	BucketLevel2
	BucketLevel3
	BucketLevel4
	BucketLevel5
	BucketLevel6
	BucketGraduated
	BucketUnassigned
	BucketCount
)

var bucketLabels = [BucketCount]string{
	"Kelas 1", "Kelas 2", "Kelas 3", "Kelas 4", "Kelas 5", "Kelas 6",
	"Lulus", "Tanpa Kelas",
}

// BucketLabel is the display name of a bucket.
func BucketLabel(bucket int) string {
	if bucket < 0 || bucket >= BucketCount {
		return ""
	}
	return bucketLabels[bucket]
}

// BucketFor decides which bucket a row belongs to. Graduation wins over
// class level: a graduated student files under graduated even while their
// last enrollment still names a class.
func BucketFor(r models.StudentGroupRow) int {
	if r.Status == models.StatusGraduated {
		return BucketGraduated
	}
	if r.KelasID == 0 {
		return BucketUnassigned
	}
	if r.Tingkat >= 1 && r.Tingkat <= 6 {
		return int(r.Tingkat) - 1
	}
	return BucketUnassigned
}

// GroupOp is an Op scoped to one bucket of the grouped projection.
type GroupOp struct {
	Bucket int
	Op     Op
}

// GroupedStudents is the grouped-by-class student list: eight
// independently sorted buckets over the same students as the flat list.
type GroupedStudents struct {
	reader   Reader
	interner *cache.Interner

	buckets [BucketCount][]models.StudentGroupRow
	desc    SortDescriptor
}

func NewGroupedStudents(reader Reader, interner *cache.Interner) *GroupedStudents {
	return &GroupedStudents{
		reader:   reader,
		interner: interner,
		desc:     SortDescriptor{Key: "nama", Ascending: true},
	}
}

func (p *GroupedStudents) comparator() Comparator[models.StudentGroupRow] {
	desc := p.desc
	return func(a, b models.StudentGroupRow) int {
		var c int
		switch desc.Key {
		case "nis":
			c = CompareFolded(a.NIS, b.NIS, desc.Ascending)
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

// Load re-derives every bucket from the database on a pooled read
// connection. Cancellation is honored between batches; a cancelled load
// leaves the previous buckets intact.
func (p *GroupedStudents) Load(ctx context.Context) error {
	var rows []models.StudentGroupRow
	err := p.reader.Read(ctx, func(conn *sql.Conn) error {
		var err error
		rows, err = models.ListStudentGroupRows(ctx, conn, p.interner)
		return err
	})
	if err != nil {
		return err
	}

	var buckets [BucketCount][]models.StudentGroupRow
	for i, r := range rows {
		if i%loadBatchSize == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		b := BucketFor(r)
		buckets[b] = append(buckets[b], r)
	}

	cmp := p.comparator()
	for b := range buckets {
		rows := buckets[b]
		sort.SliceStable(rows, func(i, j int) bool { return cmp(rows[i], rows[j]) < 0 })
	}

	p.buckets = buckets
	return nil
}

// Rows returns one bucket's rows in display order, read-only.
func (p *GroupedStudents) Rows(bucket int) []models.StudentGroupRow {
	if bucket < 0 || bucket >= BucketCount {
		return nil
	}
	return p.buckets[bucket]
}

// Locate finds a student across buckets by identity.
func (p *GroupedStudents) Locate(id int64) (bucket, index int, ok bool) {
	for b := range p.buckets {
		if at := IndexOf(p.buckets[b], func(r models.StudentGroupRow) bool { return r.ID == id }); at >= 0 {
			return b, at, true
		}
	}
	return 0, 0, false
}

// SetSort switches the active descriptor and reorders every bucket.
func (p *GroupedStudents) SetSort(desc SortDescriptor) []GroupOp {
	p.desc = desc
	cmp := p.comparator()
	ops := make([]GroupOp, 0, BucketCount)
	for b := range p.buckets {
		rows := p.buckets[b]
		sort.SliceStable(rows, func(i, j int) bool { return cmp(rows[i], rows[j]) < 0 })
		ops = append(ops, GroupOp{Bucket: b, Op: ReloadAll()})
	}
	return ops
}

// Insert places a row into its bucket at the comparator-derived position.
func (p *GroupedStudents) Insert(r models.StudentGroupRow) GroupOp {
	b := BucketFor(r)
	at := InsertionIndex(p.buckets[b], r, p.comparator())
	p.buckets[b] = append(p.buckets[b][:at], append([]models.StudentGroupRow{r}, p.buckets[b][at:]...)...)
	return GroupOp{Bucket: b, Op: Insert(at)}
}

// Remove drops a student by identity from whichever bucket holds it.
func (p *GroupedStudents) Remove(id int64) (GroupOp, bool) {
	b, at, ok := p.Locate(id)
	if !ok {
		return GroupOp{}, false
	}
	p.buckets[b] = append(p.buckets[b][:at], p.buckets[b][at+1:]...)
	return GroupOp{Bucket: b, Op: Remove(at)}, true
}

// Update replaces a student's row. Promotion and graduation move rows
// across buckets, which surfaces as a remove in the old bucket and an
// insert in the new one.
func (p *GroupedStudents) Update(r models.StudentGroupRow) []GroupOp {
	oldBucket, from, ok := p.Locate(r.ID)
	if !ok {
		return []GroupOp{p.Insert(r)}
	}

	newBucket := BucketFor(r)
	if newBucket != oldBucket {
		p.buckets[oldBucket] = append(p.buckets[oldBucket][:from], p.buckets[oldBucket][from+1:]...)
		return []GroupOp{
			{Bucket: oldBucket, Op: Remove(from)},
			p.Insert(r),
		}
	}

	cmp := p.comparator()
	rows := append(p.buckets[newBucket][:from], p.buckets[newBucket][from+1:]...)
	to := InsertionIndex(rows, r, cmp)
	rows = append(rows[:to], append([]models.StudentGroupRow{r}, rows[to:]...)...)
	p.buckets[newBucket] = rows

	if to == from {
		return []GroupOp{{Bucket: newBucket, Op: Reload(from)}}
	}
	return []GroupOp{{Bucket: newBucket, Op: MoveAndReloadColumn(from, to, p.desc.Key)}}
}
