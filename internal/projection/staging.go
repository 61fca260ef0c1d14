// Copyright (c) 2025, the sekolahdesk contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package projection

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

// StagingKind says what a staged operation will do at save time.
type StagingKind uint8

const (
	// StageDeleteRow hides the row now and deletes it at save time.
	StageDeleteRow StagingKind = iota
	// StageDeleteColumn hides the column now and drops it at save time.
	StageDeleteColumn
	// StageInsertRow marks a row that was written ahead of the save
	// boundary; discarding the session deletes it again.
	StageInsertRow
)

// StagedOp is one pending operation in the session log.
type StagedOp struct {
	Kind   StagingKind
	RowID  int64
	Column string
}

// TableOps is the slice of table mutations a staging commit needs.
// *dynamictable.Table satisfies it.
type TableOps interface {
	DeleteRow(ctx context.Context, id int64) error
	DropColumn(ctx context.Context, name string) error
}

// Staging is the per-session log of operations that are applied to the
// database only at save time. Until then it answers visibility questions:
// a row staged for deletion is hidden from every projection, but still
// present in the table so that undo before the save boundary is a pure
// log rewind. It implements dynamictable.Visibility.
type Staging struct {
	mu          sync.RWMutex
	ops         []StagedOp
	hiddenRows  map[int64]bool
	hiddenCols  map[string]bool
	pendingRows map[int64]bool
}

func NewStaging() *Staging {
	return &Staging{
		hiddenRows:  make(map[int64]bool),
		hiddenCols:  make(map[string]bool),
		pendingRows: make(map[int64]bool),
	}
}

// RowHidden reports whether a row is staged for deletion.
func (s *Staging) RowHidden(id int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hiddenRows[id]
}

// ColumnHidden reports whether a column is staged for removal.
func (s *Staging) ColumnHidden(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hiddenCols[name]
}

// DeleteRow stages a row deletion. No-op if already staged.
func (s *Staging) DeleteRow(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hiddenRows[id] {
		return
	}
	s.hiddenRows[id] = true
	s.ops = append(s.ops, StagedOp{Kind: StageDeleteRow, RowID: id})
}

// DeleteColumn stages a column removal.
func (s *Staging) DeleteColumn(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hiddenCols[name] {
		return
	}
	s.hiddenCols[name] = true
	s.ops = append(s.ops, StagedOp{Kind: StageDeleteColumn, Column: name})
}

// InsertRow records a row written before the save boundary so that a
// discarded session can remove it.
func (s *Staging) InsertRow(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingRows[id] = true
	s.ops = append(s.ops, StagedOp{Kind: StageInsertRow, RowID: id})
}

// Unstage removes the most recent staged op matching the given row or
// column, the rewind primitive undo uses before the save boundary. It
// reports whether anything was removed.
func (s *Staging) Unstage(kind StagingKind, rowID int64, column string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.ops) - 1; i >= 0; i-- {
		op := s.ops[i]
		if op.Kind != kind || op.RowID != rowID || op.Column != column {
			continue
		}
		s.ops = append(s.ops[:i], s.ops[i+1:]...)
		switch kind {
		case StageDeleteRow:
			delete(s.hiddenRows, rowID)
		case StageDeleteColumn:
			delete(s.hiddenCols, column)
		case StageInsertRow:
			delete(s.pendingRows, rowID)
		}
		return true
	}
	return false
}

// Pending returns a copy of the log, oldest first.
func (s *Staging) Pending() []StagedOp {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]StagedOp, len(s.ops))
	copy(out, s.ops)
	return out
}

// Empty reports whether the session has no pending operations.
func (s *Staging) Empty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ops) == 0
}

// Commit applies the staged deletions to the table in log order, then
// clears the log. Staged inserts are already in the database and only
// need forgetting. Failures are collected; successfully applied ops are
// removed from the log even when a later op fails.
func (s *Staging) Commit(ctx context.Context, table TableOps) error {
	s.mu.Lock()
	ops := s.ops
	s.ops = nil
	s.mu.Unlock()

	var errs []error
	for _, op := range ops {
		var err error
		switch op.Kind {
		case StageDeleteRow:
			err = table.DeleteRow(ctx, op.RowID)
		case StageDeleteColumn:
			err = table.DropColumn(ctx, op.Column)
		case StageInsertRow:
			// Already persisted.
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("apply staged %v: %w", op.Kind, err))
			log.Error().Err(err).Int64("rowId", op.RowID).Str("column", op.Column).
				Msg("staged operation failed at commit")
		}
	}

	s.mu.Lock()
	s.hiddenRows = make(map[int64]bool)
	s.hiddenCols = make(map[string]bool)
	s.pendingRows = make(map[int64]bool)
	s.mu.Unlock()

	return errors.Join(errs...)
}

// Discard abandons the session: staged deletions are forgotten (the rows
// were never removed) and rows inserted ahead of the boundary are deleted
// from the table.
func (s *Staging) Discard(ctx context.Context, table TableOps) error {
	s.mu.Lock()
	pending := make([]int64, 0, len(s.pendingRows))
	for id := range s.pendingRows {
		pending = append(pending, id)
	}
	s.ops = nil
	s.hiddenRows = make(map[int64]bool)
	s.hiddenCols = make(map[string]bool)
	s.pendingRows = make(map[int64]bool)
	s.mu.Unlock()

	var errs []error
	for _, id := range pending {
		if err := table.DeleteRow(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("discard pending row %d: %w", id, err))
		}
	}
	return errors.Join(errs...)
}
