package catalog

import (
	"fmt"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"github.com/trezcool/divecert/core"
)

type (
	// Definition is the YAML description of a catalog (see fs/catalog/default.yaml).
	Definition struct {
		Subjects []SubjectDefinition `yaml:"subjects"`
	}

	SubjectDefinition struct {
		Code            string                `yaml:"code"`
		Name            string                `yaml:"name"`
		DisplayOrder    int                   `yaml:"display_order"`
		MaxRawScore     int                   `yaml:"max_raw_score"` // optional; must match the weights when set
		PassingRawScore int                   `yaml:"passing_raw_score"`
		Criteria        []CriterionDefinition `yaml:"criteria"`
	}

	CriterionDefinition struct {
		Code         string `yaml:"code"`
		Label        string `yaml:"label"`
		DisplayOrder int    `yaml:"display_order"` // defaults to the position in the list
		Weight       int    `yaml:"weight"`
		Critical     bool   `yaml:"critical"`
	}
)

// ParseDefinition decodes a YAML catalog definition. Unknown keys are rejected.
func ParseDefinition(data []byte) (Definition, error) {
	var def Definition
	if err := yaml.UnmarshalStrict(data, &def); err != nil {
		return Definition{}, errors.Wrap(err, "parsing catalog definition")
	}
	return def, nil
}

// Build validates the definition and returns its subjects.
func (d Definition) Build() ([]Subject, error) {
	if len(d.Subjects) == 0 {
		return nil, core.NewValidationError(errors.New("catalog definition has no subjects"))
	}

	subjects := make([]Subject, 0, len(d.Subjects))
	codes := make(map[string]bool, len(d.Subjects))
	for i, sd := range d.Subjects {
		criteria := make([]Criterion, 0, len(sd.Criteria))
		for j, cd := range sd.Criteria {
			order := cd.DisplayOrder
			if order == 0 {
				order = j + 1
			}
			c, err := NewCriterion(cd.Code, cd.Label, order, cd.Weight, cd.Critical)
			if err != nil {
				return nil, errors.Wrapf(err, "subjects[%d].criteria[%d]", i, j)
			}
			criteria = append(criteria, c)
		}

		order := sd.DisplayOrder
		if order == 0 {
			order = i + 1
		}
		s, err := NewSubject(sd.Code, sd.Name, order, sd.PassingRawScore, criteria)
		if err != nil {
			return nil, errors.Wrapf(err, "subjects[%d]", i)
		}
		if sd.MaxRawScore != 0 && sd.MaxRawScore != s.MaxRawScore {
			return nil, core.NewValidationError(
				errors.Errorf("subjects[%d]: max_raw_score %d does not match the sum of weights %d", i, sd.MaxRawScore, s.MaxRawScore),
				core.FieldError{Field: "max_raw_score", Error: fmt.Sprintf("must equal the sum of criteria weights (%d)", s.MaxRawScore)},
			)
		}
		if codes[s.Code] {
			return nil, core.NewValidationError(errors.Errorf("subjects[%d]: duplicate subject %q", i, s.Code))
		}
		codes[s.Code] = true
		subjects = append(subjects, s)
	}
	return subjects, nil
}
