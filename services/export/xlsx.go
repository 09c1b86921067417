// Package export renders evaluation reports.
package export

import (
	"io"

	"github.com/pkg/errors"
	"github.com/xuri/excelize/v2"

	"github.com/trezcool/divecert/core/evaluation"
)

const (
	SheetName   = "Evaluations"
	ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

var header = []interface{}{
	"Date", "Student", "Instructor", "Subject", "Mode",
	"Raw score", "Percentage", "Passing", "Critical fail", "Notes",
}

// Names resolves the display names of the ids referenced by evaluations.
// Unknown ids are written as-is.
type Names struct {
	Users    map[string]string
	Subjects map[int64]string
}

func (n Names) user(id string) string {
	if name, ok := n.Users[id]; ok && name != "" {
		return name
	}
	return id
}

func (n Names) subject(id int64) interface{} {
	if name, ok := n.Subjects[id]; ok && name != "" {
		return name
	}
	return id
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// WriteEvaluations writes rows as an xlsx workbook to w.
func WriteEvaluations(w io.Writer, rows []evaluation.Evaluation, names Names) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return errors.Wrap(err, "naming sheet")
	}
	if err := f.SetSheetRow(SheetName, "A1", &header); err != nil {
		return errors.Wrap(err, "writing header")
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return errors.Wrap(err, "creating header style")
	}
	if err = f.SetRowStyle(SheetName, 1, 1, bold); err != nil {
		return errors.Wrap(err, "styling header")
	}

	for i, ev := range rows {
		instructor := ""
		if ev.InstructorID.Valid {
			instructor = names.user(ev.InstructorID.String)
		}
		row := []interface{}{
			ev.EvaluatedOn.Format(evaluation.DateLayout),
			names.user(ev.StudentID),
			instructor,
			names.subject(ev.SubjectID),
			ev.Mode,
			ev.RawScore,
			ev.PercentageScore,
			yesNo(ev.IsPassing),
			yesNo(ev.HasCriticalFail),
			ev.Notes.String,
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return errors.Wrap(err, "computing cell name")
		}
		if err = f.SetSheetRow(SheetName, cell, &row); err != nil {
			return errors.Wrapf(err, "writing evaluation %d", ev.ID)
		}
	}

	if _, err = f.WriteTo(w); err != nil {
		return errors.Wrap(err, "writing workbook")
	}
	return nil
}
