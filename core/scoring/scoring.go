// Package scoring computes rubric verdicts.
//
// A rubric evaluation scores each criterion of a subject on the ordinal scale
// {1, 4, 7, 10}. The raw score is the plain sum of the values: a criterion weight
// only contributes to the subject's maximum raw score and is never multiplied in.
// A 1 on a critical criterion is a critical failure and fails the evaluation
// whatever the totals.
package scoring

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/trezcool/divecert/core"
)

// Score scale
const (
	ValueFail      = 1
	ValuePoor      = 4
	ValueGood      = 7
	ValueExcellent = 10
)

// Scale lists the allowed score values, ascending.
var Scale = []int{ValueFail, ValuePoor, ValueGood, ValueExcellent}

var errOffScale = errors.New("score values must be one of 1, 4, 7 or 10")

// OnScale reports whether v is an allowed score value.
func OnScale(v int) bool {
	for _, s := range Scale {
		if v == s {
			return true
		}
	}
	return false
}

// Entry is one scored criterion.
type Entry struct {
	CriterionID int64
	Value       int
	Weight      int
	IsCritical  bool
}

// Verdict is the outcome of scoring an evaluation.
type Verdict struct {
	RawScore        int     `json:"raw_score"`
	Percentage      float64 `json:"percentage_score"`
	IsPassing       bool    `json:"is_passing"`
	HasCriticalFail bool    `json:"has_critical_fail"`
}

// ComputeVerdict aggregates entries against a subject's max and passing raw scores.
//
// The percentage is Round2(100 * raw / max) and is 0 when maxRawScore is not positive,
// in which case the verdict never passes. An empty entries list never passes either.
// ComputeVerdict trusts its input range: use CheckScale to reject off-scale values.
func ComputeVerdict(entries []Entry, maxRawScore, passingRawScore int) Verdict {
	var v Verdict
	for _, e := range entries {
		v.RawScore += e.Value
		if e.IsCritical && e.Value == ValueFail {
			v.HasCriticalFail = true
		}
	}
	if len(entries) == 0 || maxRawScore <= 0 {
		return v
	}

	v.Percentage = core.Round2(float64(v.RawScore) * 100 / float64(maxRawScore))
	v.IsPassing = v.Percentage >= PassingThreshold(passingRawScore, maxRawScore) && !v.HasCriticalFail
	return v
}

// PassingThreshold is the minimum percentage to pass, rounded like percentages are.
func PassingThreshold(passingRawScore, maxRawScore int) float64 {
	if maxRawScore <= 0 {
		return 0
	}
	return core.Round2(float64(passingRawScore) * 100 / float64(maxRawScore))
}

// CheckScale returns a *core.ValidationError listing every entry whose value is off the scale.
func CheckScale(entries []Entry) error {
	var flds []core.FieldError
	for i, e := range entries {
		if !OnScale(e.Value) {
			flds = append(flds, core.FieldError{
				Field: fmt.Sprintf("scores[%d].value", i),
				Error: fmt.Sprintf("%d is not a valid score (1, 4, 7 or 10)", e.Value),
			})
		}
	}
	if len(flds) > 0 {
		return core.NewValidationError(errOffScale, flds...)
	}
	return nil
}
