package course

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/divecert/core"
	"github.com/trezcool/divecert/core/user"
)

var (
	// errors
	ErrNotFound   = errors.New("course not found")
	ErrCodeExists = errors.New("a course with this code already exists")

	errInvalidCourse = errors.New("invalid course")

	// NowFunc returns the current time; mockable.
	NowFunc = time.Now
)

type (
	Repository interface {
		// CreateCourse returns ErrCodeExists when the code is taken.
		CreateCourse(ctx context.Context, c Course, exec ...core.DBExecutor) (Course, error)
		QueryCourses(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]Course, error)
		GetCourse(ctx context.Context, id int64, exec ...core.DBExecutor) (Course, error)
		DeleteCoursesByID(ctx context.Context, ids []int64, exec ...core.DBExecutor) (int, error)

		// CreateEnrollment is a no-op returning the existing enrollment when the student is already enrolled.
		CreateEnrollment(ctx context.Context, e Enrollment, exec ...core.DBExecutor) (Enrollment, error)
		QueryEnrollments(ctx context.Context, courseID int64, exec ...core.DBExecutor) ([]Enrollment, error)

		CreateLesson(ctx context.Context, l Lesson, exec ...core.DBExecutor) (Lesson, error)
		QueryLessons(ctx context.Context, courseID int64, exec ...core.DBExecutor) ([]Lesson, error)
	}

	Service interface {
		Create(ctx context.Context, nc NewCourse) (Course, error)
		Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Course, error)
		Get(ctx context.Context, id int64) (Course, error)
		Delete(ctx context.Context, ids ...int64) error
		Enroll(ctx context.Context, courseID int64, studentID string) (Enrollment, error)
		Enrollments(ctx context.Context, courseID int64) ([]Enrollment, error)
		ScheduleLesson(ctx context.Context, courseID int64, nl NewLesson) (Lesson, error)
		Lessons(ctx context.Context, courseID int64) ([]Lesson, error)
	}

	service struct {
		repo   Repository
		usrSvc user.Service
	}
)

var _ Service = (*service)(nil)

func NewService(repo Repository, usrSvc user.Service) Service {
	return &service{repo: repo, usrSvc: usrSvc}
}

func (svc *service) Create(ctx context.Context, nc NewCourse) (Course, error) {
	var flds []core.FieldError
	startsOn, err := time.Parse(DateLayout, nc.StartsOn)
	if err != nil {
		flds = append(flds, core.FieldError{Field: "starts_on", Error: "must be a date (YYYY-MM-DD)"})
	}
	endsOn, err := time.Parse(DateLayout, nc.EndsOn)
	if err != nil {
		flds = append(flds, core.FieldError{Field: "ends_on", Error: "must be a date (YYYY-MM-DD)"})
	} else if flds == nil && endsOn.Before(startsOn) {
		flds = append(flds, core.FieldError{Field: "ends_on", Error: "must not be before starts_on"})
	}
	if flds != nil {
		return Course{}, core.NewValidationError(errInvalidCourse, flds...)
	}

	c, err := svc.repo.CreateCourse(ctx, Course{
		Code:      nc.Code,
		Name:      nc.Name,
		StartsOn:  startsOn,
		EndsOn:    endsOn,
		CreatedAt: NowFunc().UTC(),
	})
	if errors.Cause(err) == ErrCodeExists {
		return Course{}, core.NewValidationError(err, core.FieldError{Field: "code", Error: ErrCodeExists.Error()})
	}
	return c, err
}

func (svc *service) Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Course, error) {
	if filter != nil {
		filter.Clean()
	}
	return svc.repo.QueryCourses(ctx, filter, ordering)
}

func (svc *service) Get(ctx context.Context, id int64) (Course, error) {
	return svc.repo.GetCourse(ctx, id)
}

func (svc *service) Delete(ctx context.Context, ids ...int64) error {
	_, err := svc.repo.DeleteCoursesByID(ctx, ids)
	return err
}

func (svc *service) Enroll(ctx context.Context, courseID int64, studentID string) (Enrollment, error) {
	c, err := svc.repo.GetCourse(ctx, courseID)
	if err != nil {
		return Enrollment{}, err
	}

	student, err := svc.usrSvc.GetByID(ctx, studentID)
	if err != nil {
		if errors.Cause(err) == user.ErrNotFound {
			return Enrollment{}, core.NewValidationError(err, core.FieldError{Field: "student_id", Error: err.Error()})
		}
		return Enrollment{}, errors.Wrap(err, "finding student")
	}
	if !student.IsStudent() {
		return Enrollment{}, core.NewValidationError(errInvalidCourse, core.FieldError{Field: "student_id", Error: "user is not a student"})
	}
	if !student.IsActive {
		return Enrollment{}, core.NewValidationError(errInvalidCourse, core.FieldError{Field: "student_id", Error: "student account is deactivated"})
	}

	return svc.repo.CreateEnrollment(ctx, Enrollment{CourseID: c.ID, StudentID: student.ID, EnrolledAt: NowFunc().UTC()})
}

func (svc *service) Enrollments(ctx context.Context, courseID int64) ([]Enrollment, error) {
	if _, err := svc.repo.GetCourse(ctx, courseID); err != nil {
		return nil, err
	}
	return svc.repo.QueryEnrollments(ctx, courseID)
}

// ScheduleLesson adds a lesson to the course; it must be scheduled between the course start and end dates.
func (svc *service) ScheduleLesson(ctx context.Context, courseID int64, nl NewLesson) (Lesson, error) {
	c, err := svc.repo.GetCourse(ctx, courseID)
	if err != nil {
		return Lesson{}, err
	}

	var flds []core.FieldError
	scheduledAt := nl.ScheduledAt.UTC()
	if scheduledAt.Before(c.StartsOn) || !scheduledAt.Before(c.EndsOn.AddDate(0, 0, 1)) {
		flds = append(flds, core.FieldError{
			Field: "scheduled_at",
			Error: "must be between " + c.StartsOn.Format(DateLayout) + " and " + c.EndsOn.Format(DateLayout),
		})
	}
	if nl.InstructorID != "" {
		instructor, err := svc.usrSvc.GetByID(ctx, nl.InstructorID)
		switch {
		case errors.Cause(err) == user.ErrNotFound:
			flds = append(flds, core.FieldError{Field: "instructor_id", Error: err.Error()})
		case err != nil:
			return Lesson{}, errors.Wrap(err, "finding instructor")
		case !instructor.IsStaff():
			flds = append(flds, core.FieldError{Field: "instructor_id", Error: "user is not an instructor"})
		}
	}
	if flds != nil {
		return Lesson{}, core.NewValidationError(errInvalidCourse, flds...)
	}

	return svc.repo.CreateLesson(ctx, Lesson{
		CourseID:     c.ID,
		Title:        nl.Title,
		Kind:         nl.Kind,
		InstructorID: null.NewString(nl.InstructorID, nl.InstructorID != ""),
		ScheduledAt:  scheduledAt,
		CreatedAt:    NowFunc().UTC(),
	})
}

func (svc *service) Lessons(ctx context.Context, courseID int64) ([]Lesson, error) {
	if _, err := svc.repo.GetCourse(ctx, courseID); err != nil {
		return nil, err
	}
	return svc.repo.QueryLessons(ctx, courseID)
}
