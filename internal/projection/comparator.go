// Copyright (c) 2025, the sekolahdesk contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package projection

import (
	"sort"
	"strings"

	"github.com/sekolahdesk/sekolahdesk/pkg/stringutils"
)

// SortDescriptor is the active sort order of a projection: which key and
// which direction. The comparator derived from it is used both for display
// ordering and for recomputing insertion points after a mutation, so index
// stability is never assumed.
type SortDescriptor struct {
	Key       string
	Ascending bool
}

// Comparator orders two rows: negative when a sorts before b.
type Comparator[T any] func(a, b T) int

// CompareFolded compares two strings under name folding, honoring the
// descriptor's direction. Equal folded strings compare equal so callers
// can apply an identity tiebreak.
func CompareFolded(a, b string, ascending bool) int {
	c := strings.Compare(
		stringutils.DefaultNameNormalizer.Normalize(a),
		stringutils.DefaultNameNormalizer.Normalize(b),
	)
	if !ascending {
		return -c
	}
	return c
}

// CompareInt64 compares two integers honoring direction.
func CompareInt64(a, b int64, ascending bool) int {
	var c int
	switch {
	case a < b:
		c = -1
	case a > b:
		c = 1
	}
	if !ascending {
		return -c
	}
	return c
}

// InsertionIndex returns the position at which row belongs in rows, which
// must already be ordered by cmp. Rows comparing equal sort after existing
// ones, keeping insertion stable.
func InsertionIndex[T any](rows []T, row T, cmp Comparator[T]) int {
	return sort.Search(len(rows), func(i int) bool {
		return cmp(rows[i], row) > 0
	})
}

// IndexOf scans rows for the first element matching pred, -1 if absent.
// Identity lookups go through this, never through remembered indices.
func IndexOf[T any](rows []T, pred func(T) bool) int {
	for i, r := range rows {
		if pred(r) {
			return i
		}
	}
	return -1
}
