package course

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/divecert/core"
)

// Lesson kinds
const (
	KindLecture       = "lecture"
	KindConfinedWater = "confined_water"
	KindOpenWater     = "open_water"
)

// DateLayout is the layout of course dates.
const DateLayout = "2006-01-02"

var LessonKinds = []string{KindLecture, KindConfinedWater, KindOpenWater}

// Course is one run of the instructor certification program.
type Course struct {
	ID        int64     `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	StartsOn  time.Time `json:"starts_on"`
	EndsOn    time.Time `json:"ends_on"`
	CreatedAt time.Time `json:"created_at"`
}

// Lesson is a scheduled lecture or water session of a course.
type Lesson struct {
	ID           int64       `json:"id"`
	CourseID     int64       `json:"course_id"`
	Title        string      `json:"title"`
	Kind         string      `json:"kind"`
	InstructorID null.String `json:"instructor_id"`
	ScheduledAt  time.Time   `json:"scheduled_at"`
	CreatedAt    time.Time   `json:"created_at"`
}

type Enrollment struct {
	CourseID   int64     `json:"course_id"`
	StudentID  string    `json:"student_id"`
	EnrolledAt time.Time `json:"enrolled_at"`
}

type NewCourse struct {
	Code     string `json:"code" validate:"required,alphanum_"`
	Name     string `json:"name" validate:"required"`
	StartsOn string `json:"starts_on" validate:"required,datetime=2006-01-02"`
	EndsOn   string `json:"ends_on" validate:"required,datetime=2006-01-02"`
}

func (nc *NewCourse) Validate(validate *validator.Validate) error {
	nc.Code = core.CleanString(nc.Code, true /* lower */)
	nc.Name = core.CleanString(nc.Name)
	nc.StartsOn = core.CleanString(nc.StartsOn)
	nc.EndsOn = core.CleanString(nc.EndsOn)
	return validate.Struct(nc)
}

type NewLesson struct {
	Title        string    `json:"title" validate:"required"`
	Kind         string    `json:"kind" validate:"required,lessonkind"`
	InstructorID string    `json:"instructor_id"`
	ScheduledAt  time.Time `json:"scheduled_at" validate:"required"`
}

func (nl *NewLesson) Validate(validate *validator.Validate) error {
	nl.Title = core.CleanString(nl.Title)
	nl.Kind = core.CleanString(nl.Kind, true /* lower */)
	nl.InstructorID = core.CleanString(nl.InstructorID)
	return validate.Struct(nl)
}

type NewEnrollment struct {
	StudentID string `json:"student_id" validate:"required"`
}

type QueryFilter struct {
	Search    string `query:"search"`
	StudentID string `query:"student_id"` // courses the student is enrolled in
	Active    *bool  `query:"active"`     // courses running today
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
	qf.StudentID = core.CleanString(qf.StudentID)
}
