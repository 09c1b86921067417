package evaluation

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/divecert/core"
	"github.com/trezcool/divecert/core/catalog"
	"github.com/trezcool/divecert/core/scoring"
)

var (
	errInvalidEvaluation = errors.New("invalid evaluation")

	requiredText          = "this field is required"
	criterionMismatchText = "criterion mismatch: criterion does not belong to the subject"
	duplicateScoreText    = "criterion scored more than once"
)

// Build validates ne against the snapshot, computes its verdict and returns the evaluation
// with one ItemScore per scored criterion. Nothing is persisted.
//
// The evaluation gets a fresh Ref shared by its item scores; its CreatedAt is left for the caller to set.
func Build(snap catalog.Snapshot, ne NewEvaluation, requireInstructor bool) (Evaluation, []ItemScore, error) {
	subj := snap.Subject()

	var flds []core.FieldError
	if ne.SubjectID != 0 && ne.SubjectID != subj.ID {
		flds = append(flds, core.FieldError{Field: "subject_id", Error: "does not match the catalog snapshot"})
	}
	if core.CleanString(ne.StudentID) == "" {
		flds = append(flds, core.FieldError{Field: "student_id", Error: requiredText})
	}
	if requireInstructor && core.CleanString(ne.InstructorID) == "" {
		flds = append(flds, core.FieldError{Field: "instructor_id", Error: "an instructor is required for test evaluations"})
	}
	mode := ne.Mode
	if mode == "" {
		mode = ModePractice
	}
	if mode != ModePractice && mode != ModeTest {
		flds = append(flds, core.FieldError{Field: "mode", Error: "must be one of practice or test"})
	}
	var evaluatedOn time.Time
	if ne.EvaluatedOn == "" {
		flds = append(flds, core.FieldError{Field: "evaluated_on", Error: requiredText})
	} else if d, err := time.Parse(DateLayout, ne.EvaluatedOn); err != nil {
		flds = append(flds, core.FieldError{Field: "evaluated_on", Error: "must be a date (YYYY-MM-DD)"})
	} else {
		evaluatedOn = d
	}
	if len(ne.Scores) == 0 {
		flds = append(flds, core.FieldError{Field: "scores", Error: "at least one score is required"})
	}

	entries, scoreFlds := scoreEntries(snap, ne.Scores)
	flds = append(flds, scoreFlds...)
	if flds != nil {
		return Evaluation{}, nil, core.NewValidationError(errInvalidEvaluation, flds...)
	}

	verdict := scoring.ComputeVerdict(entries, subj.MaxRawScore, subj.PassingRawScore)
	ev := Evaluation{
		Ref:             uuid.New().String(),
		SubjectID:       subj.ID,
		StudentID:       core.CleanString(ne.StudentID),
		InstructorID:    null.NewString(core.CleanString(ne.InstructorID), core.CleanString(ne.InstructorID) != ""),
		Mode:            mode,
		LessonLabel:     core.CleanString(ne.LessonLabel),
		EvaluatedOn:     evaluatedOn,
		RawScore:        verdict.RawScore,
		PercentageScore: verdict.Percentage,
		FinalScore:      verdict.Percentage,
		IsPassing:       verdict.IsPassing,
		HasCriticalFail: verdict.HasCriticalFail,
		Notes:           null.NewString(core.CleanString(ne.Notes), core.CleanString(ne.Notes) != ""),
	}

	items := make([]ItemScore, 0, len(entries))
	for _, e := range entries {
		items = append(items, ItemScore{EvaluationRef: ev.Ref, CriterionID: e.CriterionID, Score: e.Value})
	}
	return ev, items, nil
}

// scoreEntries resolves the weight and criticality of each score from the snapshot.
// A score may not exceed its criterion's weight, so the raw score never exceeds the subject's max.
func scoreEntries(snap catalog.Snapshot, scores []ScoreInput) ([]scoring.Entry, []core.FieldError) {
	var flds []core.FieldError
	entries := make([]scoring.Entry, 0, len(scores))
	seen := make(map[int64]bool, len(scores))
	for i, s := range scores {
		entry := scoring.Entry{CriterionID: s.CriterionID, Value: s.Value}
		c, ok := snap.Criterion(s.CriterionID)
		switch {
		case !ok:
			flds = append(flds, core.FieldError{Field: fmt.Sprintf("scores[%d].criterion_id", i), Error: criterionMismatchText})
		case seen[s.CriterionID]:
			flds = append(flds, core.FieldError{Field: fmt.Sprintf("scores[%d].criterion_id", i), Error: duplicateScoreText})
		default:
			entry.Weight = c.Weight
			entry.IsCritical = c.IsCritical
			if scoring.OnScale(s.Value) && s.Value > c.Weight {
				flds = append(flds, core.FieldError{
					Field: fmt.Sprintf("scores[%d].value", i),
					Error: fmt.Sprintf("%d exceeds the criterion weight (%d)", s.Value, c.Weight),
				})
			}
		}
		seen[s.CriterionID] = true
		entries = append(entries, entry)
	}
	if err := scoring.CheckScale(entries); err != nil {
		if vErr, ok := errors.Cause(err).(*core.ValidationError); ok {
			flds = append(flds, vErr.Fields...)
		}
	}
	return entries, flds
}

// Preview computes the verdict scores would get on the snapshot's subject.
func Preview(snap catalog.Snapshot, scores []ScoreInput) (scoring.Verdict, error) {
	var flds []core.FieldError
	if len(scores) == 0 {
		flds = append(flds, core.FieldError{Field: "scores", Error: "at least one score is required"})
	}
	entries, scoreFlds := scoreEntries(snap, scores)
	flds = append(flds, scoreFlds...)
	if flds != nil {
		return scoring.Verdict{}, core.NewValidationError(errInvalidEvaluation, flds...)
	}
	subj := snap.Subject()
	return scoring.ComputeVerdict(entries, subj.MaxRawScore, subj.PassingRawScore), nil
}
