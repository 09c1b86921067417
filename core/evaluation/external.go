package evaluation

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/divecert/core"
	"github.com/trezcool/divecert/core/scoring"
)

var errInvalidExternalTest = errors.New("invalid external test")

// ExternalScores are the 0-100 results of the theory exams taken outside the rubric evaluations.
type ExternalScores struct {
	Physics       null.Float64 `json:"physics"`
	Physiology    null.Float64 `json:"physiology"`
	Equipment     null.Float64 `json:"equipment"`
	Decompression null.Float64 `json:"decompression"`
	Environment   null.Float64 `json:"environment"`
}

func (s ExternalScores) all() []null.Float64 {
	return []null.Float64{s.Physics, s.Physiology, s.Equipment, s.Decompression, s.Environment}
}

// Validate checks every present score is within 0-100.
func (s ExternalScores) Validate() error {
	names := []string{"physics", "physiology", "equipment", "decompression", "environment"}
	var flds []core.FieldError
	for i, score := range s.all() {
		if score.Valid && (score.Float64 < 0 || score.Float64 > 100) {
			flds = append(flds, core.FieldError{Field: names[i], Error: fmt.Sprintf("%s must be between 0 and 100", names[i])})
		}
	}
	if flds != nil {
		return core.NewValidationError(errInvalidExternalTest, flds...)
	}
	return nil
}

// Average is the mean of the present scores (0 when none is).
func (s ExternalScores) Average() float64 {
	return scoring.Average(s.all()...)
}

// ExternalTest holds a student's external scores; there is at most one per student.
type ExternalTest struct {
	ID        int64     `json:"id"`
	StudentID string    `json:"student_id"`
	UpdatedAt time.Time `json:"updated_at"`
	Average   float64   `json:"average"`
	ExternalScores
}

func (svc *service) UpsertExternalTest(ctx context.Context, studentID string, scores ExternalScores) (ExternalTest, error) {
	for _, sc := range []*null.Float64{&scores.Physics, &scores.Physiology, &scores.Equipment, &scores.Decompression, &scores.Environment} {
		if sc.Valid {
			sc.Float64 = core.Round2(sc.Float64)
		}
	}
	if err := scores.Validate(); err != nil {
		return ExternalTest{}, err
	}

	student, err := svc.usrSvc.GetByID(ctx, studentID)
	if err != nil {
		return ExternalTest{}, err
	}
	if !student.IsStudent() {
		return ExternalTest{}, core.NewValidationError(errInvalidExternalTest, core.FieldError{Field: "student_id", Error: "user is not a student"})
	}

	et, err := svc.repo.UpsertExternalTest(ctx, ExternalTest{
		StudentID:      student.ID,
		UpdatedAt:      NowFunc().UTC(),
		ExternalScores: scores,
	})
	if err != nil {
		return ExternalTest{}, errors.Wrap(err, "saving external test")
	}
	et.Average = et.ExternalScores.Average()
	return et, nil
}

func (svc *service) GetExternalTest(ctx context.Context, studentID string) (ExternalTest, error) {
	et, err := svc.repo.GetExternalTest(ctx, studentID)
	if err != nil {
		return ExternalTest{}, err
	}
	et.Average = et.ExternalScores.Average()
	return et, nil
}

func (svc *service) QueryExternalTests(ctx context.Context, studentIDs ...string) ([]ExternalTest, error) {
	tests, err := svc.repo.QueryExternalTests(ctx, studentIDs)
	if err != nil {
		return nil, err
	}
	for i := range tests {
		tests[i].Average = tests[i].ExternalScores.Average()
	}
	return tests, nil
}
