package evaluation

import (
	"context"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/divecert/core"
	"github.com/trezcool/divecert/core/catalog"
	"github.com/trezcool/divecert/core/scoring"
	"github.com/trezcool/divecert/core/user"
)

// confinedWater has 5 criteria of weight 10 (max 50, pass 35); criterion 12 is critical.
var confinedWater = catalog.Subject{
	ID: 3, Code: "confined_water", Name: "Confined water", MaxRawScore: 50, PassingRawScore: 35,
	Criteria: []catalog.Criterion{
		{ID: 11, SubjectID: 3, Code: "briefing", DisplayOrder: 1, Weight: 10},
		{ID: 12, SubjectID: 3, Code: "control", DisplayOrder: 2, Weight: 10, IsCritical: true},
		{ID: 13, SubjectID: 3, Code: "demonstration", DisplayOrder: 3, Weight: 10},
		{ID: 14, SubjectID: 3, Code: "correction", DisplayOrder: 4, Weight: 10},
		{ID: 15, SubjectID: 3, Code: "debriefing", DisplayOrder: 5, Weight: 10},
	},
}

func scores(values ...int) []ScoreInput {
	in := make([]ScoreInput, 0, len(values))
	for i, v := range values {
		in = append(in, ScoreInput{CriterionID: int64(11 + i), Value: v})
	}
	return in
}

func newEvaluation(values ...int) NewEvaluation {
	return NewEvaluation{
		SubjectID:    3,
		StudentID:    "student",
		InstructorID: "instructor",
		Mode:         ModeTest,
		LessonLabel:  "CW 2",
		EvaluatedOn:  "2026-03-14",
		Scores:       scores(values...),
	}
}

func TestBuild(t *testing.T) {
	snap := catalog.NewSnapshot(confinedWater)

	tests := []struct {
		name        string
		ne          NewEvaluation
		wantVerdict scoring.Verdict
	}{
		{
			name:        "all excellent",
			ne:          newEvaluation(10, 10, 10, 10, 10),
			wantVerdict: scoring.Verdict{RawScore: 50, Percentage: 100, IsPassing: true},
		},
		{
			name:        "critical failure",
			ne:          newEvaluation(10, 1, 10, 10, 10),
			wantVerdict: scoring.Verdict{RawScore: 41, Percentage: 82, HasCriticalFail: true},
		},
		{
			name:        "non critical failure still passes",
			ne:          newEvaluation(1, 10, 10, 10, 7),
			wantVerdict: scoring.Verdict{RawScore: 38, Percentage: 76, IsPassing: true},
		},
		{
			name:        "exactly passing",
			ne:          newEvaluation(7, 7, 7, 7, 7),
			wantVerdict: scoring.Verdict{RawScore: 35, Percentage: 70, IsPassing: true},
		},
		{
			name:        "all poor",
			ne:          newEvaluation(4, 4, 4, 4, 4),
			wantVerdict: scoring.Verdict{RawScore: 20, Percentage: 40},
		},
		{
			name:        "partial scoring",
			ne:          newEvaluation(10, 10),
			wantVerdict: scoring.Verdict{RawScore: 20, Percentage: 40},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, items, err := Build(snap, tt.ne, true)
			require.NoError(t, err)

			assert.Equal(t, tt.wantVerdict, ev.Verdict())
			assert.Equal(t, ev.PercentageScore, ev.FinalScore)
			assert.NotEmpty(t, ev.Ref)
			assert.Equal(t, int64(3), ev.SubjectID)
			assert.Equal(t, "student", ev.StudentID)
			assert.Equal(t, null.StringFrom("instructor"), ev.InstructorID)
			assert.Equal(t, ModeTest, ev.Mode)
			assert.Equal(t, time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC), ev.EvaluatedOn)
			assert.False(t, ev.Notes.Valid)

			require.Len(t, items, len(tt.ne.Scores))
			for i, item := range items {
				assert.Equal(t, ev.Ref, item.EvaluationRef)
				assert.Equal(t, tt.ne.Scores[i].CriterionID, item.CriterionID)
				assert.Equal(t, tt.ne.Scores[i].Value, item.Score)
			}
		})
	}

	t.Run("refs are unique", func(t *testing.T) {
		ev1, _, err := Build(snap, newEvaluation(10), true)
		require.NoError(t, err)
		ev2, _, err := Build(snap, newEvaluation(10), true)
		require.NoError(t, err)
		assert.NotEqual(t, ev1.Ref, ev2.Ref)
	})
}

func TestBuild_validation(t *testing.T) {
	snap := catalog.NewSnapshot(confinedWater)

	tests := []struct {
		name              string
		ne                func() NewEvaluation
		requireInstructor bool
		wantFlds          map[string]string
	}{
		{
			name: "missing student",
			ne: func() NewEvaluation {
				ne := newEvaluation(10)
				ne.StudentID = "  "
				return ne
			},
			wantFlds: map[string]string{"student_id": "this field is required"},
		},
		{
			name: "missing instructor on test",
			ne: func() NewEvaluation {
				ne := newEvaluation(10)
				ne.InstructorID = ""
				return ne
			},
			requireInstructor: true,
			wantFlds:          map[string]string{"instructor_id": "an instructor is required for test evaluations"},
		},
		{
			name: "no scores",
			ne: func() NewEvaluation {
				ne := newEvaluation()
				return ne
			},
			wantFlds: map[string]string{"scores": "at least one score is required"},
		},
		{
			name: "criterion of another subject",
			ne: func() NewEvaluation {
				ne := newEvaluation(10)
				ne.Scores = append(ne.Scores, ScoreInput{CriterionID: 99, Value: 7})
				return ne
			},
			wantFlds: map[string]string{"scores[1].criterion_id": criterionMismatchText},
		},
		{
			name: "criterion scored twice",
			ne: func() NewEvaluation {
				ne := newEvaluation(10, 7)
				ne.Scores = append(ne.Scores, ScoreInput{CriterionID: 11, Value: 4})
				return ne
			},
			wantFlds: map[string]string{"scores[2].criterion_id": duplicateScoreText},
		},
		{
			name:     "off scale",
			ne:       func() NewEvaluation { return newEvaluation(10, 5, 0) },
			wantFlds: map[string]string{"scores[1].value": "5 is not a valid score (1, 4, 7 or 10)", "scores[2].value": "0 is not a valid score (1, 4, 7 or 10)"},
		},
		{
			name: "bad date & mode",
			ne: func() NewEvaluation {
				ne := newEvaluation(10)
				ne.EvaluatedOn = "14/03/2026"
				ne.Mode = "exam"
				return ne
			},
			wantFlds: map[string]string{"evaluated_on": "must be a date (YYYY-MM-DD)", "mode": "must be one of practice or test"},
		},
		{
			name: "subject mismatch",
			ne: func() NewEvaluation {
				ne := newEvaluation(10)
				ne.SubjectID = 4
				return ne
			},
			wantFlds: map[string]string{"subject_id": "does not match the catalog snapshot"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, items, err := Build(snap, tt.ne(), tt.requireInstructor)
			var vErr *core.ValidationError
			require.True(t, errors.As(err, &vErr), "got %v", err)
			assert.Equal(t, tt.wantFlds, vErr.FieldMap())
			assert.Nil(t, items)
		})
	}

	t.Run("practice does not need an instructor", func(t *testing.T) {
		ne := newEvaluation(10)
		ne.Mode = ""
		ne.InstructorID = ""
		ev, _, err := Build(snap, ne, false)
		require.NoError(t, err)
		assert.Equal(t, ModePractice, ev.Mode)
		assert.False(t, ev.InstructorID.Valid)
	})

	knots, err := catalog.NewCriterion("knots", "Ties the required knots", 1, 5, false)
	require.NoError(t, err)
	knots.ID, knots.SubjectID = 91, 9
	trim, err := catalog.NewCriterion("trim", "Holds horizontal trim", 2, 10, false)
	require.NoError(t, err)
	trim.ID, trim.SubjectID = 92, 9
	seamanship, err := catalog.NewSubject("seamanship", "Seamanship", 1, 3, []catalog.Criterion{knots, trim})
	require.NoError(t, err)
	seamanship.ID = 9
	lightSnap := catalog.NewSnapshot(seamanship)

	t.Run("score above the criterion weight", func(t *testing.T) {
		ne := NewEvaluation{SubjectID: 9, StudentID: "student", EvaluatedOn: "2026-03-14", Scores: []ScoreInput{{CriterionID: 91, Value: 10}, {CriterionID: 92, Value: 10}}}
		_, items, err := Build(lightSnap, ne, false)
		var vErr *core.ValidationError
		require.True(t, errors.As(err, &vErr), "got %v", err)
		assert.Equal(t, map[string]string{"scores[0].value": "10 exceeds the criterion weight (5)"}, vErr.FieldMap())
		assert.Nil(t, items)

		_, err = Preview(lightSnap, ne.Scores)
		assert.Error(t, err)
	})

	t.Run("raw score never exceeds max", func(t *testing.T) {
		for _, a := range scoring.Scale {
			for _, b := range scoring.Scale {
				ne := NewEvaluation{SubjectID: 9, StudentID: "student", EvaluatedOn: "2026-03-14", Scores: []ScoreInput{{CriterionID: 91, Value: a}, {CriterionID: 92, Value: b}}}
				ev, _, err := Build(lightSnap, ne, false)
				if a > knots.Weight {
					assert.Error(t, err, "%d/%d", a, b)
					continue
				}
				require.NoError(t, err, "%d/%d", a, b)
				assert.LessOrEqual(t, ev.RawScore, seamanship.MaxRawScore, "%d/%d", a, b)
				assert.LessOrEqual(t, ev.PercentageScore, 100.0, "%d/%d", a, b)
			}
		}
	})
}

func TestPreview(t *testing.T) {
	snap := catalog.NewSnapshot(confinedWater)

	v, err := Preview(snap, scores(10, 1, 10, 10, 10))
	require.NoError(t, err)
	assert.Equal(t, scoring.Verdict{RawScore: 41, Percentage: 82, HasCriticalFail: true}, v)

	_, err = Preview(snap, nil)
	assert.True(t, core.IsValidationError(err))
}

func TestNewItemScore(t *testing.T) {
	is, err := NewItemScore(4, 7)
	require.NoError(t, err)
	assert.Equal(t, ItemScore{CriterionID: 4, Score: 7}, is)

	_, err = NewItemScore(4, 8)
	assert.True(t, core.IsValidationError(err))
	_, err = NewItemScore(0, 7)
	assert.True(t, core.IsValidationError(err))
}

func TestExternalScores(t *testing.T) {
	s := ExternalScores{Physics: null.Float64From(80), Equipment: null.Float64From(60)}
	assert.NoError(t, s.Validate())
	assert.Equal(t, 70.0, s.Average())
	assert.Equal(t, 0.0, ExternalScores{}.Average())

	s.Decompression = null.Float64From(100.5)
	s.Environment = null.Float64From(-1)
	err := s.Validate()
	var vErr *core.ValidationError
	require.True(t, errors.As(err, &vErr))
	assert.Equal(t, map[string]string{
		"decompression": "decompression must be between 0 and 100",
		"environment":   "environment must be between 0 and 100",
	}, vErr.FieldMap())
}

func TestNewEvaluation_Validate(t *testing.T) {
	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	InitValidators(validate, translator)

	ne := NewEvaluation{
		SubjectID:   3,
		StudentID:   " s ",
		Mode:        "Exam",
		EvaluatedOn: "2026-13-01",
		Scores:      []ScoreInput{{CriterionID: 11, Value: 5}},
	}
	err := ne.Validate(validate)
	vErrs, ok := err.(validator.ValidationErrors)
	require.True(t, ok, "got %v", err)
	flds := core.TranslateErrors(vErrs, translator)
	assert.Len(t, flds, 3)
	assert.Equal(t, evalModeText, flds["mode"])
	assert.Equal(t, scoreScaleText, flds["value"])
	assert.Contains(t, flds, "evaluated_on")
	assert.Equal(t, "s", ne.StudentID)

	ne = NewEvaluation{SubjectID: 3, StudentID: "s", Scores: scores(10)}
	require.NoError(t, ne.Validate(validate))
	assert.Equal(t, ModePractice, ne.Mode)
}

type catalogSvcMock struct {
	catalog.Service
}

func (catalogSvcMock) Snapshot(_ context.Context, id int64) (catalog.Snapshot, error) {
	if id == confinedWater.ID {
		return catalog.NewSnapshot(confinedWater), nil
	}
	return catalog.Snapshot{}, catalog.ErrNotFound
}

type userSvcMock struct {
	user.Service
	users map[string]user.User
}

func (m userSvcMock) GetByID(_ context.Context, id string) (user.User, error) {
	if usr, ok := m.users[id]; ok {
		return usr, nil
	}
	return user.User{}, user.ErrNotFound
}

func TestService_Create_validation(t *testing.T) {
	usrs := userSvcMock{users: map[string]user.User{
		"student":    {ID: "student", Roles: []string{user.RoleStudent}},
		"instructor": {ID: "instructor", Roles: []string{user.RoleInstructor}},
	}}
	conf := &core.Config{Evaluation: core.EvaluationConfig{RequireInstructorForTests: true}}
	svc := NewService(nil, nil, catalogSvcMock{}, usrs, nil, conf)
	ctx := context.Background()

	tests := []struct {
		name     string
		ne       func() NewEvaluation
		wantFlds map[string]string
	}{
		{
			name: "unknown subject",
			ne: func() NewEvaluation {
				ne := newEvaluation(10)
				ne.SubjectID = 42
				return ne
			},
			wantFlds: map[string]string{"subject_id": catalog.ErrNotFound.Error()},
		},
		{
			name: "test without instructor",
			ne: func() NewEvaluation {
				ne := newEvaluation(10)
				ne.InstructorID = ""
				return ne
			},
			wantFlds: map[string]string{"instructor_id": "an instructor is required for test evaluations"},
		},
		{
			name: "student is not a student",
			ne: func() NewEvaluation {
				ne := newEvaluation(10)
				ne.StudentID = "instructor"
				return ne
			},
			wantFlds: map[string]string{"student_id": "user is not a student"},
		},
		{
			name: "unknown users",
			ne: func() NewEvaluation {
				ne := newEvaluation(10)
				ne.StudentID = "ghost"
				ne.InstructorID = "student"
				return ne
			},
			wantFlds: map[string]string{"student_id": user.ErrNotFound.Error(), "instructor_id": "user is not an instructor"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(ctx, tt.ne())
			var vErr *core.ValidationError
			require.True(t, errors.As(err, &vErr), "got %v", err)
			assert.Equal(t, tt.wantFlds, vErr.FieldMap())
		})
	}
}
