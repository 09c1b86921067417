package catalog

import (
	"fmt"
	"sort"

	"github.com/pkg/errors"

	"github.com/trezcool/divecert/core"
)

var errInvalidSubject = errors.New("invalid subject")

// Criterion is one scored line of a Subject's rubric.
type Criterion struct {
	ID           int64  `json:"id"`
	SubjectID    int64  `json:"subject_id"`
	Code         string `json:"code"`
	Label        string `json:"label"`
	DisplayOrder int    `json:"display_order"`
	Weight       int    `json:"weight"`
	IsCritical   bool   `json:"is_critical"`
}

// Subject is an evaluation category (e.g. lecture delivery) and its ordered criteria.
type Subject struct {
	ID              int64       `json:"id"`
	Code            string      `json:"code"`
	Name            string      `json:"name"`
	DisplayOrder    int         `json:"display_order"`
	MaxRawScore     int         `json:"max_raw_score"`
	PassingRawScore int         `json:"passing_raw_score"`
	Criteria        []Criterion `json:"criteria"`
}

// NewCriterion returns a validated Criterion.
func NewCriterion(code, label string, displayOrder, weight int, isCritical bool) (Criterion, error) {
	c := Criterion{
		Code:         core.CleanString(code, true /* lower */),
		Label:        core.CleanString(label),
		DisplayOrder: displayOrder,
		Weight:       weight,
		IsCritical:   isCritical,
	}

	var flds []core.FieldError
	if c.Code == "" {
		flds = append(flds, core.FieldError{Field: "code", Error: "this field is required"})
	}
	if c.Label == "" {
		flds = append(flds, core.FieldError{Field: "label", Error: "this field is required"})
	}
	if c.DisplayOrder < 0 {
		flds = append(flds, core.FieldError{Field: "display_order", Error: "display_order must be 0 or greater"})
	}
	if c.Weight <= 0 {
		flds = append(flds, core.FieldError{Field: "weight", Error: "weight must be greater than 0"})
	}
	if flds != nil {
		return Criterion{}, core.NewValidationError(errors.Errorf("invalid criterion %q", c.Code), flds...)
	}
	return c, nil
}

// NewSubject returns a validated Subject whose max raw score is the sum of its criteria weights.
func NewSubject(code, name string, displayOrder, passingRawScore int, criteria []Criterion) (Subject, error) {
	s := Subject{
		Code:            core.CleanString(code, true /* lower */),
		Name:            core.CleanString(name),
		DisplayOrder:    displayOrder,
		PassingRawScore: passingRawScore,
		Criteria:        make([]Criterion, len(criteria)),
	}
	copy(s.Criteria, criteria)
	sortCriteria(s.Criteria)

	var flds []core.FieldError
	if s.Code == "" {
		flds = append(flds, core.FieldError{Field: "code", Error: "this field is required"})
	}
	if s.Name == "" {
		flds = append(flds, core.FieldError{Field: "name", Error: "this field is required"})
	}
	if len(s.Criteria) == 0 {
		flds = append(flds, core.FieldError{Field: "criteria", Error: "a subject needs at least one criterion"})
	}

	seen := make(map[string]bool, len(s.Criteria))
	for _, c := range s.Criteria {
		if seen[c.Code] {
			flds = append(flds, core.FieldError{Field: "criteria", Error: fmt.Sprintf("duplicate criterion %q", c.Code)})
		}
		seen[c.Code] = true
		s.MaxRawScore += c.Weight
	}
	if s.PassingRawScore < 0 || s.PassingRawScore > s.MaxRawScore {
		flds = append(flds, core.FieldError{
			Field: "passing_raw_score",
			Error: fmt.Sprintf("passing_raw_score must be between 0 and %d", s.MaxRawScore),
		})
	}

	if flds != nil {
		return Subject{}, core.NewValidationError(errors.Wrapf(errInvalidSubject, "%q", s.Code), flds...)
	}
	return s, nil
}

// Validate checks the invariants of a Subject loaded from storage.
func (s Subject) Validate() error {
	sum := 0
	for _, c := range s.Criteria {
		if c.SubjectID != s.ID {
			return errors.Wrapf(errInvalidSubject, "criterion %d does not belong to subject %d", c.ID, s.ID)
		}
		sum += c.Weight
	}
	if sum != s.MaxRawScore {
		return errors.Wrapf(errInvalidSubject, "subject %q max_raw_score %d != sum of weights %d", s.Code, s.MaxRawScore, sum)
	}
	if s.PassingRawScore < 0 || s.PassingRawScore > s.MaxRawScore {
		return errors.Wrapf(errInvalidSubject, "subject %q passing_raw_score out of range", s.Code)
	}
	return nil
}

func sortCriteria(criteria []Criterion) {
	sort.SliceStable(criteria, func(i, j int) bool {
		if criteria[i].DisplayOrder != criteria[j].DisplayOrder {
			return criteria[i].DisplayOrder < criteria[j].DisplayOrder
		}
		return criteria[i].ID < criteria[j].ID
	})
}
