// Copyright (c) 2025, the sekolahdesk contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package undo

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/sekolahdesk/sekolahdesk/internal/events"
	"github.com/sekolahdesk/sekolahdesk/internal/models"
	"github.com/sekolahdesk/sekolahdesk/internal/projection"
)

// Patch collects the UpdateData ops one action produced across the live
// projections, for the rendering surfaces to apply in order.
type Patch struct {
	Flat    []projection.Op
	Grouped []projection.GroupOp
	Sheets  map[int64][]projection.Op
}

func newPatch() *Patch {
	return &Patch{Sheets: make(map[int64][]projection.Op)}
}

func (p *Patch) sheet(kelasID int64, ops ...projection.Op) {
	p.Sheets[kelasID] = append(p.Sheets[kelasID], ops...)
}

// Coordinator is the write-then-project pipeline. Every mutation goes
// write to the database first, then patch the in-memory projections, then
// record the inverse command, then broadcast the change by identity.
// Undo and redo replay commands through the very same pipeline.
type Coordinator struct {
	manager     *Manager
	students    *models.StudentStore
	enrollments *models.EnrollmentStore
	grades      *models.GradeStore

	// q serves the coordinator's own row refetches; it observes this
	// process's writes immediately.
	q models.RowQuerier

	flat    *projection.FlatStudents
	grouped *projection.GroupedStudents
	sheets  map[int64]*projection.ClassGrades
	history *projection.History

	bus     *events.Bus
	busStop func()
}

type CoordinatorOptions struct {
	Manager     *Manager
	Students    *models.StudentStore
	Enrollments *models.EnrollmentStore
	Grades      *models.GradeStore
	Querier     models.RowQuerier
	Flat        *projection.FlatStudents
	Grouped     *projection.GroupedStudents
	History     *projection.History
	Bus         *events.Bus
}

func NewCoordinator(opts CoordinatorOptions) *Coordinator {
	c := &Coordinator{
		manager:     opts.Manager,
		students:    opts.Students,
		enrollments: opts.Enrollments,
		grades:      opts.Grades,
		q:           opts.Querier,
		flat:        opts.Flat,
		grouped:     opts.Grouped,
		sheets:      make(map[int64]*projection.ClassGrades),
		history:     opts.History,
		bus:         opts.Bus,
	}
	if c.bus != nil {
		c.busStop = c.clearOnSwap()
	}
	return c
}

// clearOnSwap drops both undo stacks whenever the backing database file is
// swapped. Recorded commands replay by row id; after a swap those ids belong
// to a different database identity and must never be replayed against it.
func (c *Coordinator) clearOnSwap() func() {
	ch, cancel := c.bus.Subscribe()
	done := make(chan struct{})

	go func() {
		defer close(done)
		for ev := range ch {
			if ev.Kind != events.DatabaseSwapped {
				continue
			}
			c.manager.Clear()
			log.Info().Msg("database swapped, undo history cleared")
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

// Close unsubscribes the coordinator from the event bus.
func (c *Coordinator) Close() {
	if c.busStop != nil {
		c.busStop()
	}
}

// Manager exposes the undo stacks, for menu enablement.
func (c *Coordinator) Manager() *Manager { return c.manager }

// RegisterSheet attaches an open per-class grade sheet so edits and
// replays patch it. Closing the window should Unregister it.
func (c *Coordinator) RegisterSheet(sheet *projection.ClassGrades) {
	c.sheets[sheet.KelasID()] = sheet
}

func (c *Coordinator) UnregisterSheet(kelasID int64) {
	delete(c.sheets, kelasID)
}

func (c *Coordinator) publish(ev events.Event) {
	if c.bus != nil {
		c.bus.Publish(ev)
	}
}

// EditStudentField writes one student column and records its inverse.
func (c *Coordinator) EditStudentField(ctx context.Context, id int64, column, value string) (*Patch, error) {
	old, err := c.students.GetField(ctx, id, column)
	if err != nil {
		return nil, err
	}
	if err := c.students.UpdateField(ctx, id, column, value); err != nil {
		return nil, err
	}

	c.manager.Record(Command{
		Kind:      KindStudentField,
		StudentID: id,
		Column:    column,
		Old:       old,
		New:       value,
	})

	return c.projectStudent(ctx, id)
}

// projectStudent refetches one student and patches every projection that
// shows them.
func (c *Coordinator) projectStudent(ctx context.Context, id int64) (*Patch, error) {
	patch := newPatch()

	st, err := c.students.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if op, changed := c.flat.Update(*st); changed {
		patch.Flat = append(patch.Flat, op)
	}

	row, err := models.GetStudentGroupRow(ctx, c.q, id)
	if err != nil {
		return nil, err
	}
	patch.Grouped = append(patch.Grouped, c.grouped.Update(*row)...)
	c.history.Invalidate(id)

	c.publish(events.Event{Kind: events.StudentEdited, IDs: []int64{id}, Name: st.Nama, ClassID: row.KelasID})
	return patch, nil
}

// AddStudent creates a student and records the insert for undo.
func (c *Coordinator) AddStudent(ctx context.Context, st *models.Student) (*Patch, error) {
	if _, err := c.students.Create(ctx, st); err != nil {
		return nil, err
	}

	c.manager.Record(Command{Kind: KindStudentInsert, Students: []models.Student{*st}})

	patch := newPatch()
	if op, changed := c.flat.Insert(*st); changed {
		patch.Flat = append(patch.Flat, op)
	}
	row, err := models.GetStudentGroupRow(ctx, c.q, st.ID)
	if err != nil {
		return nil, err
	}
	patch.Grouped = append(patch.Grouped, c.grouped.Insert(*row))

	c.publish(events.Event{Kind: events.StudentAdded, IDs: []int64{st.ID}, Name: st.Nama})
	return patch, nil
}

// DeleteStudents removes students as one grouped action: undoing restores
// every one of them by identity, however the sort order has changed since.
func (c *Coordinator) DeleteStudents(ctx context.Context, ids []int64) (*Patch, error) {
	snapshots := make([]models.Student, 0, len(ids))
	for _, id := range ids {
		st, err := c.students.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, *st)
	}

	if err := c.students.Delete(ctx, ids); err != nil {
		return nil, err
	}

	c.manager.Record(Command{Kind: KindStudentDelete, Students: snapshots})

	patch := newPatch()
	for _, id := range ids {
		if op, changed := c.flat.Remove(id); changed {
			patch.Flat = append(patch.Flat, op)
		}
		if op, ok := c.grouped.Remove(id); ok {
			patch.Grouped = append(patch.Grouped, op)
		}
		c.history.Invalidate(id)
	}

	c.publish(events.Event{Kind: events.StudentRemoved, IDs: ids})
	return patch, nil
}

// SetEnrollmentStatus promotes, graduates or reactivates an enrollment.
func (c *Coordinator) SetEnrollmentStatus(ctx context.Context, enrollmentID int64, status models.EnrollmentStatus, exitDate *string) (*Patch, error) {
	prev, err := c.enrollments.Get(ctx, enrollmentID)
	if err != nil {
		return nil, err
	}
	if err := c.enrollments.SetStatus(ctx, enrollmentID, status, exitDate); err != nil {
		return nil, err
	}

	c.manager.Record(Command{
		Kind:         KindEnrollmentStatus,
		EnrollmentID: enrollmentID,
		StudentID:    prev.SiswaID,
		ClassID:      prev.KelasID,
		OldStatus:    prev.Status,
		NewStatus:    status,
		OldExit:      prev.TanggalKeluar,
		NewExit:      exitDate,
	})

	patch, err := c.refreshGrouped(ctx, prev.SiswaID)
	if err != nil {
		return nil, err
	}
	c.publish(events.Event{Kind: events.EnrollmentChanged, IDs: []int64{prev.SiswaID}, ClassID: prev.KelasID})
	return patch, nil
}

func (c *Coordinator) refreshGrouped(ctx context.Context, siswaID int64) (*Patch, error) {
	patch := newPatch()
	row, err := models.GetStudentGroupRow(ctx, c.q, siswaID)
	if err != nil {
		return nil, err
	}
	patch.Grouped = append(patch.Grouped, c.grouped.Update(*row)...)
	c.history.Invalidate(siswaID)
	return patch, nil
}

// Enroll links a student to a class and records the insert for undo.
func (c *Coordinator) Enroll(ctx context.Context, e *models.Enrollment) (*Patch, error) {
	if _, err := c.enrollments.Enroll(ctx, e); err != nil {
		return nil, err
	}

	snapshot := *e
	c.manager.Record(Command{
		Kind:         KindEnrollmentInsert,
		EnrollmentID: e.ID,
		StudentID:    e.SiswaID,
		ClassID:      e.KelasID,
		Enrollment:   &snapshot,
	})

	patch, err := c.refreshGrouped(ctx, e.SiswaID)
	if err != nil {
		return nil, err
	}
	c.publish(events.Event{Kind: events.EnrollmentChanged, IDs: []int64{e.SiswaID}, ClassID: e.KelasID})
	return patch, nil
}

// DeleteEnrollment removes an enrollment and its grades, carrying full
// snapshots so undo can rebuild the exact rows.
func (c *Coordinator) DeleteEnrollment(ctx context.Context, enrollmentID int64) (*Patch, error) {
	prev, err := c.enrollments.Get(ctx, enrollmentID)
	if err != nil {
		return nil, err
	}
	grades, err := c.grades.ListByEnrollment(ctx, enrollmentID)
	if err != nil {
		return nil, err
	}

	if err := c.enrollments.Delete(ctx, enrollmentID); err != nil {
		return nil, err
	}

	c.manager.Record(Command{
		Kind:         KindEnrollmentDelete,
		EnrollmentID: enrollmentID,
		StudentID:    prev.SiswaID,
		ClassID:      prev.KelasID,
		Enrollment:   prev,
		Grades:       grades,
	})

	patch, err := c.refreshGrouped(ctx, prev.SiswaID)
	if err != nil {
		return nil, err
	}
	if sheet, ok := c.sheets[prev.KelasID]; ok {
		patch.sheet(prev.KelasID, sheet.RemoveByEnrollment(enrollmentID)...)
	}

	c.publish(events.Event{Kind: events.EnrollmentChanged, IDs: []int64{prev.SiswaID}, ClassID: prev.KelasID})
	return patch, nil
}

// AddGrade records a grade and its undo.
func (c *Coordinator) AddGrade(ctx context.Context, kelasID int64, g *models.Grade) (*Patch, error) {
	if _, err := c.grades.Create(ctx, g); err != nil {
		return nil, err
	}

	c.manager.Record(Command{
		Kind:    KindGradeInsert,
		GradeID: g.ID,
		ClassID: kelasID,
		Grades:  []models.Grade{*g},
	})

	return c.reloadSheet(ctx, kelasID, events.Event{Kind: events.GradeChanged, IDs: []int64{g.ID}, ClassID: kelasID})
}

// SetGradeScore edits one grade's score.
func (c *Coordinator) SetGradeScore(ctx context.Context, kelasID, gradeID int64, score *int64) (*Patch, error) {
	previous, err := c.grades.UpdateScore(ctx, gradeID, score)
	if err != nil {
		return nil, err
	}

	c.manager.Record(Command{
		Kind:     KindGradeScore,
		GradeID:  gradeID,
		ClassID:  kelasID,
		OldScore: previous,
		NewScore: score,
	})

	patch := newPatch()
	if sheet, ok := c.sheets[kelasID]; ok {
		if op, changed := sheet.UpdateScore(gradeID, score); changed {
			patch.sheet(kelasID, op)
		} else {
			// The row is not where the history last saw it; the sheet
			// cannot be patched incrementally anymore.
			return c.reloadSheet(ctx, kelasID, events.Event{Kind: events.GradeChanged, IDs: []int64{gradeID}, ClassID: kelasID})
		}
	}
	c.publish(events.Event{Kind: events.GradeChanged, IDs: []int64{gradeID}, ClassID: kelasID})
	return patch, nil
}

// DeleteGrade removes one grade row, snapshotting it for undo.
func (c *Coordinator) DeleteGrade(ctx context.Context, kelasID, gradeID int64) (*Patch, error) {
	g, err := c.grades.Get(ctx, gradeID)
	if err != nil {
		return nil, err
	}
	if err := c.grades.Delete(ctx, gradeID); err != nil {
		return nil, err
	}

	c.manager.Record(Command{
		Kind:    KindGradeDelete,
		GradeID: gradeID,
		ClassID: kelasID,
		Grades:  []models.Grade{*g},
	})

	patch := newPatch()
	if sheet, ok := c.sheets[kelasID]; ok {
		if op, ok := sheet.Remove(gradeID); ok {
			patch.sheet(kelasID, op)
		}
	}
	c.publish(events.Event{Kind: events.GradeChanged, IDs: []int64{gradeID}, ClassID: kelasID})
	return patch, nil
}

// BeginGroup opens a grouped action covering every subsequent edit until
// EndGroup, e.g. pasting N rows.
func (c *Coordinator) BeginGroup() { c.manager.BeginGroup() }
func (c *Coordinator) EndGroup()   { c.manager.EndGroup() }

// Undo reverses the most recent action by applying its inverse through the
// forward pipeline.
func (c *Coordinator) Undo(ctx context.Context) (*Patch, error) {
	cmd, err := c.manager.PopUndo()
	if err != nil {
		return nil, err
	}
	patch, err := c.apply(ctx, cmd.Invert())
	if err != nil {
		c.manager.Disable()
		return nil, fmt.Errorf("undo failed, history disabled: %w", err)
	}
	return patch, nil
}

// Redo reapplies the most recently undone action.
func (c *Coordinator) Redo(ctx context.Context) (*Patch, error) {
	cmd, err := c.manager.PopRedo()
	if err != nil {
		return nil, err
	}
	patch, err := c.apply(ctx, cmd)
	if err != nil {
		c.manager.Disable()
		return nil, fmt.Errorf("redo failed, history disabled: %w", err)
	}
	return patch, nil
}

// apply replays one command forward: database write first, then the same
// projection patching a live edit gets. When the command targets rows that
// the projections no longer show where the history recorded them, apply
// falls back to a full reload instead of patching half-wrong.
func (c *Coordinator) apply(ctx context.Context, cmd Command) (*Patch, error) {
	switch cmd.Kind {
	case KindStudentField:
		if stale := c.flat.IndexOfID(cmd.StudentID) < 0; stale {
			if _, _, ok := c.grouped.Locate(cmd.StudentID); !ok {
				log.Warn().Int64("studentId", cmd.StudentID).
					Msg("undo target no longer visible, reloading projections")
				if err := c.students.UpdateField(ctx, cmd.StudentID, cmd.Column, cmd.New); err != nil {
					return nil, err
				}
				return c.reloadAll(ctx)
			}
		}
		if err := c.students.UpdateField(ctx, cmd.StudentID, cmd.Column, cmd.New); err != nil {
			return nil, err
		}
		return c.projectStudent(ctx, cmd.StudentID)

	case KindGradeScore:
		if _, err := c.grades.UpdateScore(ctx, cmd.GradeID, cmd.NewScore); err != nil {
			return nil, err
		}
		patch := newPatch()
		if sheet, ok := c.sheets[cmd.ClassID]; ok {
			if op, changed := sheet.UpdateScore(cmd.GradeID, cmd.NewScore); changed {
				patch.sheet(cmd.ClassID, op)
			} else {
				return c.reloadSheet(ctx, cmd.ClassID, events.Event{Kind: events.GradeChanged, IDs: []int64{cmd.GradeID}, ClassID: cmd.ClassID})
			}
		}
		c.publish(events.Event{Kind: events.GradeChanged, IDs: []int64{cmd.GradeID}, ClassID: cmd.ClassID})
		return patch, nil

	case KindEnrollmentStatus:
		if err := c.enrollments.SetStatus(ctx, cmd.EnrollmentID, cmd.NewStatus, cmd.NewExit); err != nil {
			return nil, err
		}
		patch, err := c.refreshGrouped(ctx, cmd.StudentID)
		if err != nil {
			return nil, err
		}
		c.publish(events.Event{Kind: events.EnrollmentChanged, IDs: []int64{cmd.StudentID}, ClassID: cmd.ClassID})
		return patch, nil

	case KindStudentInsert:
		if err := c.students.Restore(ctx, cmd.Students); err != nil {
			return nil, err
		}
		patch := newPatch()
		ids := make([]int64, 0, len(cmd.Students))
		for _, st := range cmd.Students {
			ids = append(ids, st.ID)
			if op, changed := c.flat.Insert(st); changed {
				patch.Flat = append(patch.Flat, op)
			}
			row, err := models.GetStudentGroupRow(ctx, c.q, st.ID)
			if err != nil {
				return nil, err
			}
			patch.Grouped = append(patch.Grouped, c.grouped.Insert(*row))
		}
		c.publish(events.Event{Kind: events.StudentAdded, IDs: ids})
		return patch, nil

	case KindStudentDelete:
		ids := make([]int64, 0, len(cmd.Students))
		for _, st := range cmd.Students {
			ids = append(ids, st.ID)
		}
		if err := c.students.Delete(ctx, ids); err != nil {
			return nil, err
		}
		patch := newPatch()
		for _, id := range ids {
			if op, changed := c.flat.Remove(id); changed {
				patch.Flat = append(patch.Flat, op)
			}
			if op, ok := c.grouped.Remove(id); ok {
				patch.Grouped = append(patch.Grouped, op)
			}
			c.history.Invalidate(id)
		}
		c.publish(events.Event{Kind: events.StudentRemoved, IDs: ids})
		return patch, nil

	case KindEnrollmentInsert:
		if cmd.Enrollment == nil {
			return nil, fmt.Errorf("enrollment insert without snapshot")
		}
		if err := c.enrollments.Restore(ctx, *cmd.Enrollment, cmd.Grades); err != nil {
			return nil, err
		}
		patch, err := c.refreshGrouped(ctx, cmd.StudentID)
		if err != nil {
			return nil, err
		}
		if _, ok := c.sheets[cmd.ClassID]; ok {
			reload, err := c.reloadSheet(ctx, cmd.ClassID, events.Event{Kind: events.EnrollmentChanged, IDs: []int64{cmd.StudentID}, ClassID: cmd.ClassID})
			if err != nil {
				return nil, err
			}
			patch.Sheets = reload.Sheets
			return patch, nil
		}
		c.publish(events.Event{Kind: events.EnrollmentChanged, IDs: []int64{cmd.StudentID}, ClassID: cmd.ClassID})
		return patch, nil

	case KindEnrollmentDelete:
		if err := c.enrollments.Delete(ctx, cmd.EnrollmentID); err != nil {
			return nil, err
		}
		patch, err := c.refreshGrouped(ctx, cmd.StudentID)
		if err != nil {
			return nil, err
		}
		if sheet, ok := c.sheets[cmd.ClassID]; ok {
			patch.sheet(cmd.ClassID, sheet.RemoveByEnrollment(cmd.EnrollmentID)...)
		}
		c.publish(events.Event{Kind: events.EnrollmentChanged, IDs: []int64{cmd.StudentID}, ClassID: cmd.ClassID})
		return patch, nil

	case KindGradeInsert:
		if err := c.grades.Restore(ctx, cmd.Grades); err != nil {
			return nil, err
		}
		return c.reloadSheet(ctx, cmd.ClassID, events.Event{Kind: events.GradeChanged, IDs: []int64{cmd.GradeID}, ClassID: cmd.ClassID})

	case KindGradeDelete:
		if err := c.grades.Delete(ctx, cmd.GradeID); err != nil {
			return nil, err
		}
		patch := newPatch()
		if sheet, ok := c.sheets[cmd.ClassID]; ok {
			if op, ok := sheet.Remove(cmd.GradeID); ok {
				patch.sheet(cmd.ClassID, op)
			}
		}
		c.publish(events.Event{Kind: events.GradeChanged, IDs: []int64{cmd.GradeID}, ClassID: cmd.ClassID})
		return patch, nil

	case KindBatch:
		patch := newPatch()
		for _, member := range cmd.Commands {
			p, err := c.apply(ctx, member)
			if err != nil {
				return nil, err
			}
			patch.Flat = append(patch.Flat, p.Flat...)
			patch.Grouped = append(patch.Grouped, p.Grouped...)
			for kelasID, ops := range p.Sheets {
				patch.sheet(kelasID, ops...)
			}
		}
		return patch, nil
	}

	return nil, fmt.Errorf("unknown command kind %d", cmd.Kind)
}

// reloadSheet fully re-derives one per-class sheet and tells its surface
// to redraw from scratch.
func (c *Coordinator) reloadSheet(ctx context.Context, kelasID int64, ev events.Event) (*Patch, error) {
	patch := newPatch()
	if sheet, ok := c.sheets[kelasID]; ok {
		if err := sheet.Load(ctx); err != nil {
			return nil, err
		}
		patch.sheet(kelasID, projection.ReloadAll())
	}
	c.publish(ev)
	return patch, nil
}

// reloadAll re-derives every projection from the database, the fallback
// when incremental patches can no longer be trusted.
func (c *Coordinator) reloadAll(ctx context.Context) (*Patch, error) {
	patch := newPatch()
	if err := c.flat.Load(ctx); err != nil {
		return nil, err
	}
	patch.Flat = append(patch.Flat, projection.ReloadAll())
	if err := c.grouped.Load(ctx); err != nil {
		return nil, err
	}
	for b := 0; b < projection.BucketCount; b++ {
		patch.Grouped = append(patch.Grouped, projection.GroupOp{Bucket: b, Op: projection.ReloadAll()})
	}
	for kelasID, sheet := range c.sheets {
		if err := sheet.Load(ctx); err != nil {
			return nil, err
		}
		patch.sheet(kelasID, projection.ReloadAll())
	}
	c.history.InvalidateAll()
	c.publish(events.Event{Kind: events.ReloadAll})
	return patch, nil
}
