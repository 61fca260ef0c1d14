// Copyright (c) 2025, the sekolahdesk contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package projection maintains denormalized in-memory views of database
// rows: a flat student list, a grouped-by-class list, a per-class grade
// sheet and a per-student class history. The database is authoritative;
// every projection can be dropped and re-derived from it at any time.
//
// Projections are single-owner state. All mutating methods must be called
// from one goroutine (the UI-confined context); background work computes
// snapshots off that goroutine and hands the finished patch back to it.
package projection

import "fmt"

// OpKind enumerates the minimal patch operations a rendering surface can
// apply without a full reload.
type OpKind uint8

const (
	OpInsert OpKind = iota
	OpRemove
	OpMove
	OpReload
	OpMoveAndReloadColumn
	// OpReloadAll tells the surface to drop everything and re-render from
	// the projection's current rows. Emitted when an incremental patch
	// cannot be trusted.
	OpReloadAll
)

func (k OpKind) String() string {
	switch k {
	case OpInsert:
		return "insert"
	case OpRemove:
		return "remove"
	case OpMove:
		return "move"
	case OpReload:
		return "reload"
	case OpMoveAndReloadColumn:
		return "moveAndReloadColumn"
	case OpReloadAll:
		return "reloadAll"
	default:
		return fmt.Sprintf("OpKind(%d)", k)
	}
}

// Op describes one change to a projection's visible row order. Positions
// are indices valid at the moment the op is emitted; a surface must apply
// ops in emission order.
type Op struct {
	Kind   OpKind
	At     int
	From   int
	To     int
	Column string
}

func Insert(at int) Op  { return Op{Kind: OpInsert, At: at} }
func Remove(at int) Op  { return Op{Kind: OpRemove, At: at} }
func Reload(at int) Op  { return Op{Kind: OpReload, At: at} }
func ReloadAll() Op     { return Op{Kind: OpReloadAll} }
func Move(from, to int) Op {
	return Op{Kind: OpMove, From: from, To: to}
}

// MoveAndReloadColumn moves a row whose sort key changed and marks the
// sorted column for redraw in the same pass.
func MoveAndReloadColumn(from, to int, column string) Op {
	return Op{Kind: OpMoveAndReloadColumn, From: from, To: to, Column: column}
}
