// Copyright (c) 2025, the sekolahdesk contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package undo implements multi-level undo/redo as explicit command
// values. Every mutation records the identities and values needed to
// reverse it, never a row index and never a closure over live state:
// indices shift and projections reload, but identity plus old/new value
// stays replayable. Undo replays the inverse through the same
// write-then-project pipeline as a forward edit, so redo is simply
// undo-of-undo.
package undo

import "github.com/sekolahdesk/sekolahdesk/internal/models"

// Kind discriminates the command variants.
type Kind uint8

const (
	// KindStudentField is a one-column student edit.
	KindStudentField Kind = iota
	// KindGradeScore is a score change on one grade row.
	KindGradeScore
	// KindEnrollmentStatus is a promote/activate style status change.
	KindEnrollmentStatus
	// KindStudentDelete removes students; its inverse re-inserts the
	// carried snapshots.
	KindStudentDelete
	// KindStudentInsert adds students; its inverse deletes them.
	KindStudentInsert
	// KindEnrollmentDelete removes one enrollment with its grades.
	KindEnrollmentDelete
	// KindEnrollmentInsert adds one enrollment.
	KindEnrollmentInsert
	// KindGradeDelete removes one grade row.
	KindGradeDelete
	// KindGradeInsert adds one grade row.
	KindGradeInsert
	// KindBatch groups commands recorded as one user action.
	KindBatch
)

// Command is one undoable mutation. Only the fields relevant to its Kind
// are set. Inverting a command is a pure value transformation; applying
// one is the Coordinator's job.
type Command struct {
	Kind Kind

	// Student field edits.
	StudentID int64
	Column    string
	Old, New  string

	// Grade score edits.
	GradeID            int64
	OldScore, NewScore *int64

	// Enrollment status changes.
	EnrollmentID         int64
	OldStatus, NewStatus models.EnrollmentStatus
	OldExit, NewExit     *string

	// ClassID routes enrollment and grade commands to the right
	// per-class sheet. StudentID doubles as the grouped-projection key
	// for enrollment commands.
	ClassID int64

	// Snapshots carried by delete/insert commands so the inverse can
	// rebuild the exact rows.
	Students   []models.Student
	Enrollment *models.Enrollment
	Grades     []models.Grade

	// Batch members, in application order.
	Commands []Command
}

// Invert returns the command that reverses c. Inverting twice yields c
// again, which is what makes redo undo-of-undo. Batches invert member by
// member in reverse order.
func (c Command) Invert() Command {
	inv := c
	switch c.Kind {
	case KindStudentField:
		inv.Old, inv.New = c.New, c.Old
	case KindGradeScore:
		inv.OldScore, inv.NewScore = c.NewScore, c.OldScore
	case KindEnrollmentStatus:
		inv.OldStatus, inv.NewStatus = c.NewStatus, c.OldStatus
		inv.OldExit, inv.NewExit = c.NewExit, c.OldExit
	case KindStudentDelete:
		inv.Kind = KindStudentInsert
	case KindStudentInsert:
		inv.Kind = KindStudentDelete
	case KindEnrollmentDelete:
		inv.Kind = KindEnrollmentInsert
	case KindEnrollmentInsert:
		inv.Kind = KindEnrollmentDelete
	case KindGradeDelete:
		inv.Kind = KindGradeInsert
	case KindGradeInsert:
		inv.Kind = KindGradeDelete
	case KindBatch:
		inv.Commands = make([]Command, len(c.Commands))
		for i, member := range c.Commands {
			inv.Commands[len(c.Commands)-1-i] = member.Invert()
		}
	}
	return inv
}

// TargetIDs collects the row identities a command touches, batches
// included. The coordinator compares these against currently visible
// identities to detect stale undo state.
func (c Command) TargetIDs() []int64 {
	switch c.Kind {
	case KindStudentField:
		return []int64{c.StudentID}
	case KindGradeScore, KindGradeDelete, KindGradeInsert:
		return []int64{c.GradeID}
	case KindEnrollmentStatus, KindEnrollmentDelete, KindEnrollmentInsert:
		return []int64{c.EnrollmentID}
	case KindStudentDelete, KindStudentInsert:
		ids := make([]int64, len(c.Students))
		for i, st := range c.Students {
			ids[i] = st.ID
		}
		return ids
	case KindBatch:
		var ids []int64
		for _, member := range c.Commands {
			ids = append(ids, member.TargetIDs()...)
		}
		return ids
	}
	return nil
}
