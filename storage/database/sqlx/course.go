package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/divecert/core"
	"github.com/trezcool/divecert/core/course"
)

const (
	courseColumns     = `id, code, name, starts_on, ends_on, created_at`
	lessonColumns     = `id, course_id, title, kind, instructor_id, scheduled_at, created_at`
	enrollmentColumns = `course_id, student_id, enrolled_at`

	pqUniqueViolation = "23505"
)

var courseOrderings = map[string]string{
	"code":       "code",
	"name":       "name",
	"starts_on":  "starts_on",
	"ends_on":    "ends_on",
	"created_at": "created_at",
}

type courseRow struct {
	ID        int64     `db:"id"`
	Code      string    `db:"code"`
	Name      string    `db:"name"`
	StartsOn  time.Time `db:"starts_on"`
	EndsOn    time.Time `db:"ends_on"`
	CreatedAt time.Time `db:"created_at"`
}

type lessonRow struct {
	ID           int64       `db:"id"`
	CourseID     int64       `db:"course_id"`
	Title        string      `db:"title"`
	Kind         string      `db:"kind"`
	InstructorID null.String `db:"instructor_id"`
	ScheduledAt  time.Time   `db:"scheduled_at"`
	CreatedAt    time.Time   `db:"created_at"`
}

type enrollmentRow struct {
	CourseID   int64     `db:"course_id"`
	StudentID  string    `db:"student_id"`
	EnrolledAt time.Time `db:"enrolled_at"`
}

type courseRepository struct {
	repository
}

var _ course.Repository = (*courseRepository)(nil)

func NewCourseRepository(exec core.DBExecutor) course.Repository {
	return &courseRepository{repository{exec: exec}}
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func (repo courseRepository) unboil(row courseRow) course.Course {
	return course.Course{
		ID:        row.ID,
		Code:      row.Code,
		Name:      row.Name,
		StartsOn:  dateOnly(row.StartsOn),
		EndsOn:    dateOnly(row.EndsOn),
		CreatedAt: row.CreatedAt.UTC(),
	}
}

func (repo courseRepository) CreateCourse(ctx context.Context, c course.Course, exec ...core.DBExecutor) (course.Course, error) {
	row := courseRow{Code: c.Code, Name: c.Name, StartsOn: c.StartsOn, EndsOn: c.EndsOn, CreatedAt: dbTime(c.CreatedAt)}
	err := namedReturning(ctx, repo.getExec(exec), `
		INSERT INTO courses (code, name, starts_on, ends_on, created_at)
		VALUES (:code, :name, :starts_on, :ends_on, :created_at)
		RETURNING id`,
		row, &row.ID)
	if err != nil {
		if pqErr, ok := errors.Cause(err).(*pq.Error); ok && pqErr.Code == pqUniqueViolation {
			return course.Course{}, course.ErrCodeExists
		}
		return course.Course{}, errors.Wrap(err, "inserting course")
	}
	return repo.unboil(row), nil
}

func (repo courseRepository) QueryCourses(ctx context.Context, filter *course.QueryFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]course.Course, error) {
	var w where

	if filter != nil {
		if filter.Search != "" {
			val := "%" + filter.Search + "%"
			w.add("(code ILIKE ? OR name ILIKE ?)", val, val)
		}
		if filter.StudentID != "" {
			w.add("id IN (SELECT course_id FROM enrollments WHERE student_id::text = ?)", filter.StudentID)
		}
		if filter.Active != nil {
			today := dateOnly(time.Now().UTC())
			if *filter.Active {
				w.add("(starts_on <= ? AND ends_on >= ?)", today, today)
			} else {
				w.add("(starts_on > ? OR ends_on < ?)", today, today)
			}
		}
	}

	q := "SELECT " + courseColumns + " FROM courses" + w.String() + core.OrderByClause(ordering, courseOrderings, "starts_on DESC")
	var rows []courseRow
	if err := selectAll(ctx, repo.getExec(exec), &rows, q, w.args...); err != nil {
		return nil, errors.Wrap(err, "querying courses")
	}
	courses := make([]course.Course, 0, len(rows))
	for _, row := range rows {
		courses = append(courses, repo.unboil(row))
	}
	return courses, nil
}

func (repo courseRepository) GetCourse(ctx context.Context, id int64, exec ...core.DBExecutor) (course.Course, error) {
	row, err := selectOne[courseRow](ctx, repo.getExec(exec), "SELECT "+courseColumns+" FROM courses WHERE id = ?", id)
	if err != nil {
		if err == sql.ErrNoRows {
			return course.Course{}, course.ErrNotFound
		}
		return course.Course{}, errors.Wrap(err, "finding course")
	}
	return repo.unboil(row), nil
}

func (repo courseRepository) DeleteCoursesByID(ctx context.Context, ids []int64, exec ...core.DBExecutor) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	cnt, err := execIn(ctx, repo.getExec(exec), "DELETE FROM courses WHERE id IN (?)", ids)
	if err != nil {
		return 0, errors.Wrap(err, "deleting courses")
	}
	return cnt, nil
}

func (repo courseRepository) CreateEnrollment(ctx context.Context, e course.Enrollment, exec ...core.DBExecutor) (course.Enrollment, error) {
	exe := repo.getExec(exec)
	row := enrollmentRow{CourseID: e.CourseID, StudentID: e.StudentID, EnrolledAt: dbTime(e.EnrolledAt)}
	if _, err := namedExec(ctx, exe, `
		INSERT INTO enrollments (course_id, student_id, enrolled_at)
		VALUES (:course_id, :student_id, :enrolled_at)
		ON CONFLICT (course_id, student_id) DO NOTHING`,
		row); err != nil {
		return course.Enrollment{}, errors.Wrap(err, "inserting enrollment")
	}

	row, err := selectOne[enrollmentRow](ctx, exe,
		"SELECT "+enrollmentColumns+" FROM enrollments WHERE course_id = ? AND student_id::text = ?", e.CourseID, e.StudentID)
	if err != nil {
		return course.Enrollment{}, errors.Wrap(err, "finding enrollment")
	}
	return course.Enrollment{CourseID: row.CourseID, StudentID: row.StudentID, EnrolledAt: row.EnrolledAt.UTC()}, nil
}

func (repo courseRepository) QueryEnrollments(ctx context.Context, courseID int64, exec ...core.DBExecutor) ([]course.Enrollment, error) {
	var rows []enrollmentRow
	err := selectAll(ctx, repo.getExec(exec), &rows,
		"SELECT "+enrollmentColumns+" FROM enrollments WHERE course_id = ? ORDER BY enrolled_at", courseID)
	if err != nil {
		return nil, errors.Wrap(err, "querying enrollments")
	}
	enrollments := make([]course.Enrollment, 0, len(rows))
	for _, row := range rows {
		enrollments = append(enrollments, course.Enrollment{CourseID: row.CourseID, StudentID: row.StudentID, EnrolledAt: row.EnrolledAt.UTC()})
	}
	return enrollments, nil
}

func (repo courseRepository) unboilLesson(row lessonRow) course.Lesson {
	return course.Lesson{
		ID:           row.ID,
		CourseID:     row.CourseID,
		Title:        row.Title,
		Kind:         row.Kind,
		InstructorID: row.InstructorID,
		ScheduledAt:  row.ScheduledAt.UTC(),
		CreatedAt:    row.CreatedAt.UTC(),
	}
}

func (repo courseRepository) CreateLesson(ctx context.Context, l course.Lesson, exec ...core.DBExecutor) (course.Lesson, error) {
	row := lessonRow{
		CourseID:     l.CourseID,
		Title:        l.Title,
		Kind:         l.Kind,
		InstructorID: l.InstructorID,
		ScheduledAt:  dbTime(l.ScheduledAt),
		CreatedAt:    dbTime(l.CreatedAt),
	}
	err := namedReturning(ctx, repo.getExec(exec), `
		INSERT INTO lessons (course_id, title, kind, instructor_id, scheduled_at, created_at)
		VALUES (:course_id, :title, :kind, :instructor_id, :scheduled_at, :created_at)
		RETURNING id`,
		row, &row.ID)
	if err != nil {
		return course.Lesson{}, errors.Wrap(err, "inserting lesson")
	}
	return repo.unboilLesson(row), nil
}

func (repo courseRepository) QueryLessons(ctx context.Context, courseID int64, exec ...core.DBExecutor) ([]course.Lesson, error) {
	var rows []lessonRow
	err := selectAll(ctx, repo.getExec(exec), &rows,
		"SELECT "+lessonColumns+" FROM lessons WHERE course_id = ? ORDER BY scheduled_at, id", courseID)
	if err != nil {
		return nil, errors.Wrap(err, "querying lessons")
	}
	lessons := make([]course.Lesson, 0, len(rows))
	for _, row := range rows {
		lessons = append(lessons, repo.unboilLesson(row))
	}
	return lessons, nil
}
