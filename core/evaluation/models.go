package evaluation

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/divecert/core"
	"github.com/trezcool/divecert/core/scoring"
)

// Modes
const (
	ModePractice = "practice"
	ModeTest     = "test"
)

// DateLayout is the layout of evaluation dates.
const DateLayout = "2006-01-02"

var Modes = []string{ModePractice, ModeTest}

// Evaluation is the immutable record of one rubric evaluation of a student on a subject.
type Evaluation struct {
	ID              int64       `json:"id"`
	Ref             string      `json:"ref"`
	SubjectID       int64       `json:"subject_id"`
	StudentID       string      `json:"student_id"`
	InstructorID    null.String `json:"instructor_id"`
	Mode            string      `json:"mode"`
	LessonLabel     string      `json:"lesson_label"`
	EvaluatedOn     time.Time   `json:"evaluated_on"`
	RawScore        int         `json:"raw_score"`
	PercentageScore float64     `json:"percentage_score"`
	FinalScore      float64     `json:"final_score"`
	IsPassing       bool        `json:"is_passing"`
	HasCriticalFail bool        `json:"has_critical_fail"`
	Notes           null.String `json:"notes"`
	CreatedAt       time.Time   `json:"created_at"`
	Scores          []ItemScore `json:"scores,omitempty"`
}

// Verdict returns the computed part of the evaluation.
func (ev Evaluation) Verdict() scoring.Verdict {
	return scoring.Verdict{
		RawScore:        ev.RawScore,
		Percentage:      ev.PercentageScore,
		IsPassing:       ev.IsPassing,
		HasCriticalFail: ev.HasCriticalFail,
	}
}

// ItemScore is the score given to one criterion of an evaluation.
type ItemScore struct {
	ID            int64  `json:"id"`
	EvaluationID  int64  `json:"evaluation_id"`
	EvaluationRef string `json:"-"`
	CriterionID   int64  `json:"criterion_id"`
	Score         int    `json:"score"`
}

// NewItemScore returns an ItemScore after checking value is on the score scale.
func NewItemScore(criterionID int64, value int) (ItemScore, error) {
	if criterionID <= 0 {
		return ItemScore{}, core.NewValidationError(nil, core.FieldError{Field: "criterion_id", Error: "this field is required"})
	}
	if err := scoring.CheckScale([]scoring.Entry{{CriterionID: criterionID, Value: value}}); err != nil {
		return ItemScore{}, err
	}
	return ItemScore{CriterionID: criterionID, Score: value}, nil
}

// ScoreInput is the value given to one criterion.
type ScoreInput struct {
	CriterionID int64 `json:"criterion_id" validate:"required"`
	Value       int   `json:"value" validate:"required,scorescale"`
}

// NewEvaluation contains the information needed to evaluate a student on a subject.
type NewEvaluation struct {
	SubjectID    int64        `json:"subject_id" validate:"required"`
	StudentID    string       `json:"student_id" validate:"required"`
	InstructorID string       `json:"instructor_id"`
	Mode         string       `json:"mode" validate:"omitempty,evalmode"`
	LessonLabel  string       `json:"lesson_label"`
	EvaluatedOn  string       `json:"evaluated_on" validate:"omitempty,datetime=2006-01-02"`
	Notes        string       `json:"notes"`
	Scores       []ScoreInput `json:"scores" validate:"required,min=1,dive"`
}

// Clean normalizes the free-text fields and defaults the mode to practice.
func (ne *NewEvaluation) Clean() {
	ne.StudentID = core.CleanString(ne.StudentID)
	ne.InstructorID = core.CleanString(ne.InstructorID)
	ne.Mode = core.CleanString(ne.Mode, true /* lower */)
	if ne.Mode == "" {
		ne.Mode = ModePractice
	}
	ne.LessonLabel = core.CleanString(ne.LessonLabel)
	ne.EvaluatedOn = core.CleanString(ne.EvaluatedOn)
	ne.Notes = core.CleanString(ne.Notes)
}

func (ne *NewEvaluation) Validate(validate *validator.Validate) error {
	ne.Clean()
	return validate.Struct(ne)
}

// QueryFilter applies AND operation on the set fields.
type QueryFilter struct {
	SubjectID    int64     `query:"subject_id"`
	StudentID    string    `query:"student_id"`
	InstructorID string    `query:"instructor_id"`
	Mode         string    `query:"mode"`
	IsPassing    *bool     `query:"is_passing"`
	From         time.Time `query:"from"`
	To           time.Time `query:"to"`
}

func (qf *QueryFilter) Clean() {
	qf.StudentID = core.CleanString(qf.StudentID)
	qf.InstructorID = core.CleanString(qf.InstructorID)
	qf.Mode = core.CleanString(qf.Mode, true /* lower */)
}
