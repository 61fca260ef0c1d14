// Copyright (c) 2025, the sekolahdesk contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sekolahdesk/sekolahdesk/internal/cache"
	"github.com/sekolahdesk/sekolahdesk/internal/database"
	"github.com/sekolahdesk/sekolahdesk/internal/models"
)

// fixture wires every store over one temp database, with a class, a teacher
// and a subject assignment already in place.
type fixture struct {
	db          *database.DB
	students    *models.StudentStore
	classes     *models.ClassStore
	teachers    *models.TeacherStore
	enrollments *models.EnrollmentStore
	grades      *models.GradeStore
	assignments *models.AssignmentStore

	kelasID      int64
	guruID       int64
	assignmentID int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	db, err := database.New(filepath.Join(t.TempDir(), "test.db"), database.Options{SkipSeed: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	f := &fixture{
		db:          db,
		students:    models.NewStudentStore(db, cache.NewInterner(), nil),
		classes:     models.NewClassStore(db),
		teachers:    models.NewTeacherStore(db),
		enrollments: models.NewEnrollmentStore(db),
		grades:      models.NewGradeStore(db),
		assignments: models.NewAssignmentStore(db, cache.NewIDCache(db)),
	}

	kelas := &models.Class{NamaKelas: "A", Tingkat: 1, TahunAjaran: "2024/2025", Semester: "Ganjil"}
	f.kelasID, err = f.classes.Create(ctx, kelas)
	require.NoError(t, err)

	guru := &models.Teacher{NamaGuru: "Budi Santoso", AlamatGuru: "Jl. Merdeka 1", TahunAktif: "2020"}
	f.guruID, err = f.teachers.Create(ctx, guru)
	require.NoError(t, err)

	assignment := &models.Assignment{GuruID: f.guruID, KelasID: f.kelasID, TanggalMulai: "2024-07-01"}
	f.assignmentID, err = f.assignments.Create(ctx, assignment, "Matematika", "Guru Mapel")
	require.NoError(t, err)

	return f
}

func (f *fixture) addStudent(t *testing.T, nama string) int64 {
	t.Helper()
	id, err := f.students.Create(context.Background(), &models.Student{
		Nama: nama, NIS: "NIS-" + nama, TanggalDaftar: "2024-07-01",
	})
	require.NoError(t, err)
	return id
}

func (f *fixture) enroll(t *testing.T, siswaID int64) int64 {
	t.Helper()
	id, err := f.enrollments.Enroll(context.Background(), &models.Enrollment{
		SiswaID: siswaID, KelasID: f.kelasID, TanggalMasuk: "2024-07-01",
	})
	require.NoError(t, err)
	return id
}

func (f *fixture) grade(t *testing.T, enrollmentID int64, nilai int64, tanggal string) int64 {
	t.Helper()
	id, err := f.grades.Create(context.Background(), &models.Grade{
		SiswaKelasID: enrollmentID, PenugasanID: f.assignmentID,
		Nilai: &nilai, TanggalNilai: tanggal,
	})
	require.NoError(t, err)
	return id
}

func TestStudentCreateAndGet(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	id := f.addStudent(t, "Andi Wijaya")

	st, err := f.students.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Andi Wijaya", st.Nama)
	assert.Equal(t, models.StatusActive, st.Status)

	_, err = f.students.Get(ctx, 9999)
	assert.ErrorIs(t, err, models.ErrStudentNotFound)
}

func TestStudentListByStatus(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	aktif := f.addStudent(t, "Dina Puspita")
	lulus := f.addStudent(t, "Eko Prasetyo")
	require.NoError(t, f.students.UpdateField(ctx, lulus, "status", string(models.StatusGraduated)))

	graduated, err := f.students.ListByStatus(ctx, models.StatusGraduated)
	require.NoError(t, err)
	require.Len(t, graduated, 1)
	assert.Equal(t, lulus, graduated[0].ID)

	active, err := f.students.ListByStatus(ctx, models.StatusActive)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, aktif, active[0].ID)

	left, err := f.students.ListByStatus(ctx, models.StatusLeft)
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestStudentUpdateFieldWhitelist(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	id := f.addStudent(t, "Citra Dewi")

	require.NoError(t, f.students.UpdateField(ctx, id, "alamat", "Jl. Anggrek 5"))
	got, err := f.students.GetField(ctx, id, "alamat")
	require.NoError(t, err)
	assert.Equal(t, "Jl. Anggrek 5", got)

	// Non-whitelisted columns are rejected before any SQL runs.
	assert.ErrorIs(t, f.students.UpdateField(ctx, id, "foto", "x"), models.ErrInvalidField)
	assert.ErrorIs(t, f.students.UpdateField(ctx, id, "id; DROP TABLE siswa", "x"), models.ErrInvalidField)
	_, err = f.students.GetField(ctx, id, "foto")
	assert.ErrorIs(t, err, models.ErrInvalidField)

	assert.ErrorIs(t, f.students.UpdateField(ctx, 9999, "alamat", "x"), models.ErrStudentNotFound)
}

func TestStudentDeleteCascades(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	siswaID := f.addStudent(t, "Dedi Pratama")
	enrollmentID := f.enroll(t, siswaID)
	gradeID := f.grade(t, enrollmentID, 80, "2024-08-01")

	keepID := f.addStudent(t, "Eka Putri")

	require.NoError(t, f.students.Delete(ctx, []int64{siswaID}))

	_, err := f.students.Get(ctx, siswaID)
	assert.ErrorIs(t, err, models.ErrStudentNotFound)
	_, err = f.enrollments.Get(ctx, enrollmentID)
	assert.ErrorIs(t, err, models.ErrEnrollmentNotFound)
	_, err = f.grades.Get(ctx, gradeID)
	assert.ErrorIs(t, err, models.ErrGradeNotFound)

	// Unrelated rows survive the cascade.
	_, err = f.students.Get(ctx, keepID)
	assert.NoError(t, err)

	assert.NoError(t, f.students.Delete(ctx, nil))
}

func TestStudentPhoto(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	images, err := cache.NewImageCache(1 << 20)
	require.NoError(t, err)
	t.Cleanup(images.Close)
	students := models.NewStudentStore(f.db, nil, images)

	id := f.addStudent(t, "Fajar Nugroho")

	photo := []byte{0xff, 0xd8, 0xff}
	require.NoError(t, students.SetPhoto(ctx, id, photo))

	got, err := students.Photo(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, photo, got)

	images.Wait()
	cached, ok := images.Get(cache.KindStudent, id)
	require.True(t, ok)
	assert.Equal(t, photo, cached)

	// Clearing the photo also evicts the cache entry.
	require.NoError(t, students.SetPhoto(ctx, id, nil))
	images.Wait()
	_, ok = images.Get(cache.KindStudent, id)
	assert.False(t, ok)

	got, err = students.Photo(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, got)

	assert.ErrorIs(t, students.SetPhoto(ctx, 9999, photo), models.ErrStudentNotFound)
}

func TestClassCreateRejectsDuplicate(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	dup := &models.Class{NamaKelas: "A", Tingkat: 1, TahunAjaran: "2024/2025", Semester: "Ganjil"}
	_, err := f.classes.Create(ctx, dup)
	assert.ErrorIs(t, err, models.ErrClassExists)

	// Same label at another level is a different class.
	other := &models.Class{NamaKelas: "A", Tingkat: 2, TahunAjaran: "2024/2025", Semester: "Ganjil"}
	_, err = f.classes.Create(ctx, other)
	assert.NoError(t, err)
	assert.Equal(t, "Kelas 2 A", other.Label())
}

func TestClassDeleteInUse(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	// The fixture's assignment references the class.
	assert.ErrorIs(t, f.classes.Delete(ctx, f.kelasID), models.ErrClassInUse)

	empty := &models.Class{NamaKelas: "B", Tingkat: 3, TahunAjaran: "2024/2025", Semester: "Ganjil"}
	id, err := f.classes.Create(ctx, empty)
	require.NoError(t, err)
	assert.NoError(t, f.classes.Delete(ctx, id))
	assert.ErrorIs(t, f.classes.Delete(ctx, id), models.ErrClassNotFound)
}

func TestEnrollRejectsDuplicatePair(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	siswaID := f.addStudent(t, "Gita Lestari")
	f.enroll(t, siswaID)

	_, err := f.enrollments.Enroll(ctx, &models.Enrollment{
		SiswaID: siswaID, KelasID: f.kelasID, TanggalMasuk: "2024-07-02",
	})
	assert.ErrorIs(t, err, models.ErrAlreadyEnrolled)
}

func TestEnrollmentLatest(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	second := &models.Class{NamaKelas: "A", Tingkat: 2, TahunAjaran: "2025/2026", Semester: "Ganjil"}
	secondID, err := f.classes.Create(ctx, second)
	require.NoError(t, err)

	siswaID := f.addStudent(t, "Hana Safitri")
	f.enroll(t, siswaID)

	promoted, err := f.enrollments.Enroll(ctx, &models.Enrollment{
		SiswaID: siswaID, KelasID: secondID, TanggalMasuk: "2025-07-01",
	})
	require.NoError(t, err)

	latest, err := f.enrollments.Latest(ctx, siswaID)
	require.NoError(t, err)
	assert.Equal(t, promoted, latest.ID)
	assert.Equal(t, secondID, latest.KelasID)

	_, err = f.enrollments.Latest(ctx, 9999)
	assert.ErrorIs(t, err, models.ErrEnrollmentNotFound)
}

func TestEnrollmentSetStatus(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	siswaID := f.addStudent(t, "Indra Kurnia")
	enrollmentID := f.enroll(t, siswaID)

	exit := "2025-06-30"
	require.NoError(t, f.enrollments.SetStatus(ctx, enrollmentID, models.EnrollGraduated, &exit))

	e, err := f.enrollments.Get(ctx, enrollmentID)
	require.NoError(t, err)
	assert.Equal(t, models.EnrollGraduated, e.Status)
	require.NotNil(t, e.TanggalKeluar)
	assert.Equal(t, exit, *e.TanggalKeluar)

	// Reverting clears the exit date again.
	require.NoError(t, f.enrollments.SetStatus(ctx, enrollmentID, models.EnrollActive, nil))
	e, err = f.enrollments.Get(ctx, enrollmentID)
	require.NoError(t, err)
	assert.Equal(t, models.EnrollActive, e.Status)
	assert.Nil(t, e.TanggalKeluar)

	assert.ErrorIs(t, f.enrollments.SetStatus(ctx, 9999, models.EnrollActive, nil), models.ErrEnrollmentNotFound)
}

func TestEnrollmentDeleteRemovesGrades(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	siswaID := f.addStudent(t, "Joko Susilo")
	enrollmentID := f.enroll(t, siswaID)
	gradeID := f.grade(t, enrollmentID, 76, "2024-07-11")

	require.NoError(t, f.enrollments.Delete(ctx, enrollmentID))

	_, err := f.grades.Get(ctx, gradeID)
	assert.ErrorIs(t, err, models.ErrGradeNotFound)
	_, err = f.students.Get(ctx, siswaID)
	assert.NoError(t, err)

	assert.ErrorIs(t, f.enrollments.Delete(ctx, enrollmentID), models.ErrEnrollmentNotFound)
}

func TestEnrollmentHistoryNewestFirst(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	second := &models.Class{NamaKelas: "A", Tingkat: 2, TahunAjaran: "2025/2026", Semester: "Ganjil"}
	secondID, err := f.classes.Create(ctx, second)
	require.NoError(t, err)

	siswaID := f.addStudent(t, "Kartika Sari")
	first := f.enroll(t, siswaID)
	promoted, err := f.enrollments.Enroll(ctx, &models.Enrollment{
		SiswaID: siswaID, KelasID: secondID, TanggalMasuk: "2025-07-01",
	})
	require.NoError(t, err)

	history, err := f.enrollments.History(ctx, siswaID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, promoted, history[0].EnrollmentID)
	assert.Equal(t, 2, history[0].Class.Tingkat)
	assert.Equal(t, first, history[1].EnrollmentID)
	assert.Equal(t, 1, history[1].Class.Tingkat)
}

func TestGradeCreateRejectsDuplicateTriple(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	siswaID := f.addStudent(t, "Lina Marlina")
	enrollmentID := f.enroll(t, siswaID)
	f.grade(t, enrollmentID, 76, "2024-07-11")

	nilai := int64(90)
	_, err := f.grades.Create(ctx, &models.Grade{
		SiswaKelasID: enrollmentID, PenugasanID: f.assignmentID,
		Nilai: &nilai, TanggalNilai: "2024-07-11",
	})
	assert.ErrorIs(t, err, models.ErrGradeExists)

	// A different date is a fresh grade.
	_, err = f.grades.Create(ctx, &models.Grade{
		SiswaKelasID: enrollmentID, PenugasanID: f.assignmentID,
		Nilai: &nilai, TanggalNilai: "2024-07-18",
	})
	assert.NoError(t, err)
}

func TestGradeUpdateScoreReturnsPrevious(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	siswaID := f.addStudent(t, "Mega Utami")
	enrollmentID := f.enroll(t, siswaID)
	gradeID := f.grade(t, enrollmentID, 76, "2024-07-11")

	updated := int64(80)
	previous, err := f.grades.UpdateScore(ctx, gradeID, &updated)
	require.NoError(t, err)
	require.NotNil(t, previous)
	assert.EqualValues(t, 76, *previous)

	g, err := f.grades.Get(ctx, gradeID)
	require.NoError(t, err)
	require.NotNil(t, g.Nilai)
	assert.EqualValues(t, 80, *g.Nilai)

	// Blanking a score returns the prior value and stores NULL.
	previous, err = f.grades.UpdateScore(ctx, gradeID, nil)
	require.NoError(t, err)
	require.NotNil(t, previous)
	assert.EqualValues(t, 80, *previous)

	g, err = f.grades.Get(ctx, gradeID)
	require.NoError(t, err)
	assert.Nil(t, g.Nilai)

	_, err = f.grades.UpdateScore(ctx, 9999, &updated)
	assert.ErrorIs(t, err, models.ErrGradeNotFound)
}

func TestGradeListByClassDenormalizes(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	siswaID := f.addStudent(t, "Nur Aini")
	enrollmentID := f.enroll(t, siswaID)
	f.grade(t, enrollmentID, 88, "2024-08-01")

	rows, err := f.grades.ListByClass(ctx, f.kelasID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Nur Aini", rows[0].NamaSiswa)
	assert.Equal(t, "Matematika", rows[0].NamaMapel)
	assert.Equal(t, "Budi Santoso", rows[0].NamaGuru)
	require.NotNil(t, rows[0].Nilai)
	assert.EqualValues(t, 88, *rows[0].Nilai)
}

func TestTeacherUpdateFieldReturnsPrevious(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	previous, err := f.teachers.UpdateField(ctx, f.guruID, "alamat_guru", "Jl. Baru 9")
	require.NoError(t, err)
	assert.Equal(t, "Jl. Merdeka 1", previous)

	got, err := f.teachers.Get(ctx, f.guruID)
	require.NoError(t, err)
	assert.Equal(t, "Jl. Baru 9", got.AlamatGuru)

	_, err = f.teachers.UpdateField(ctx, f.guruID, "nama_guru; --", "x")
	assert.ErrorIs(t, err, models.ErrInvalidField)

	_, err = f.teachers.UpdateField(ctx, 9999, "nama_guru", "x")
	assert.ErrorIs(t, err, models.ErrTeacherNotFound)
}

func TestTeacherDeleteInUse(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	// The fixture's assignment pins the teacher row.
	assert.ErrorIs(t, f.teachers.Delete(ctx, f.guruID), models.ErrTeacherInUse)

	free := &models.Teacher{NamaGuru: "Rina Hartati"}
	id, err := f.teachers.Create(ctx, free)
	require.NoError(t, err)
	assert.NoError(t, f.teachers.Delete(ctx, id))
	assert.ErrorIs(t, f.teachers.Delete(ctx, id), models.ErrTeacherNotFound)
}

func TestAssignmentCreateResolvesReferenceNames(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	a := &models.Assignment{GuruID: f.guruID, KelasID: f.kelasID, TanggalMulai: "2024-07-01"}
	_, err := f.assignments.Create(ctx, a, "IPA", "Wali Kelas")
	require.NoError(t, err)
	assert.Positive(t, a.MapelID)
	assert.Positive(t, a.JabatanID)
	assert.Equal(t, "aktif", a.StatusPenugasan)

	rows, err := f.assignments.ListByClass(ctx, f.kelasID)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	names := []string{rows[0].NamaMapel, rows[1].NamaMapel}
	assert.ElementsMatch(t, []string{"Matematika", "IPA"}, names)
}

func TestAssignmentEnd(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.assignments.End(ctx, f.assignmentID, "2025-06-30"))

	a, err := f.assignments.Get(ctx, f.assignmentID)
	require.NoError(t, err)
	assert.Equal(t, "selesai", a.StatusPenugasan)
	require.NotNil(t, a.TanggalSelesai)
	assert.Equal(t, "2025-06-30", *a.TanggalSelesai)

	assert.ErrorIs(t, f.assignments.End(ctx, 9999, "2025-06-30"), models.ErrAssignmentNotFound)
}

func TestStudentRestoreKeepsIDs(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	siswaID := f.addStudent(t, "Putra Ramadhan")
	before, err := f.students.Get(ctx, siswaID)
	require.NoError(t, err)

	require.NoError(t, f.students.Delete(ctx, []int64{siswaID}))
	require.NoError(t, f.students.Restore(ctx, []models.Student{*before}))

	after, err := f.students.Get(ctx, siswaID)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestEnrollmentRestoreWithGrades(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	siswaID := f.addStudent(t, "Queenara Zahra")
	enrollmentID := f.enroll(t, siswaID)
	gradeID := f.grade(t, enrollmentID, 76, "2024-07-11")

	enrollment, err := f.enrollments.Get(ctx, enrollmentID)
	require.NoError(t, err)
	grades, err := f.grades.ListByEnrollment(ctx, enrollmentID)
	require.NoError(t, err)

	require.NoError(t, f.enrollments.Delete(ctx, enrollmentID))
	require.NoError(t, f.enrollments.Restore(ctx, *enrollment, grades))

	restored, err := f.enrollments.Get(ctx, enrollmentID)
	require.NoError(t, err)
	assert.Equal(t, enrollment, restored)

	g, err := f.grades.Get(ctx, gradeID)
	require.NoError(t, err)
	require.NotNil(t, g.Nilai)
	assert.EqualValues(t, 76, *g.Nilai)
}

func TestGetStudentGroupRow(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	enrolled := f.addStudent(t, "Rizky Maulana")
	f.enroll(t, enrolled)

	row, err := models.GetStudentGroupRow(ctx, f.db, enrolled)
	require.NoError(t, err)
	assert.Equal(t, "Rizky Maulana", row.Nama)
	assert.Positive(t, row.EnrollmentID)
	assert.Equal(t, f.kelasID, row.KelasID)
	assert.EqualValues(t, 1, row.Tingkat)

	// A never-enrolled student comes back with zeroed join columns.
	loner := f.addStudent(t, "Salsabila Azmi")
	row, err = models.GetStudentGroupRow(ctx, f.db, loner)
	require.NoError(t, err)
	assert.Zero(t, row.EnrollmentID)
	assert.Zero(t, row.KelasID)
	assert.Empty(t, row.NamaKelas)

	_, err = models.GetStudentGroupRow(ctx, f.db, 9999)
	assert.ErrorIs(t, err, models.ErrStudentNotFound)
}

func TestListStudentGroupRowsUsesLatestEnrollment(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	second := &models.Class{NamaKelas: "A", Tingkat: 2, TahunAjaran: "2025/2026", Semester: "Ganjil"}
	secondID, err := f.classes.Create(ctx, second)
	require.NoError(t, err)

	siswaID := f.addStudent(t, "Taufik Hidayat")
	f.enroll(t, siswaID)
	_, err = f.enrollments.Enroll(ctx, &models.Enrollment{
		SiswaID: siswaID, KelasID: secondID, TanggalMasuk: "2025-07-01",
	})
	require.NoError(t, err)

	rows, err := models.ListStudentGroupRows(ctx, f.db, nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, secondID, rows[0].KelasID)
	assert.EqualValues(t, 2, rows[0].Tingkat)
}

func TestListClassHistory(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	siswaID := f.addStudent(t, "Umar Bakri")
	enrollmentID := f.enroll(t, siswaID)

	rows, err := models.ListClassHistory(ctx, f.db, siswaID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, enrollmentID, rows[0].EnrollmentID)
	assert.Equal(t, "A", rows[0].Class.NamaKelas)
}
