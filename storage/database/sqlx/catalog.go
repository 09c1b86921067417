package sqlxrepos

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"github.com/trezcool/divecert/core"
	"github.com/trezcool/divecert/core/catalog"
)

const (
	subjectColumns   = `id, code, name, display_order, max_raw_score, passing_raw_score`
	criterionColumns = `id, subject_id, code, label, display_order, weight, is_critical`
)

type subjectRow struct {
	ID              int64  `db:"id"`
	Code            string `db:"code"`
	Name            string `db:"name"`
	DisplayOrder    int    `db:"display_order"`
	MaxRawScore     int    `db:"max_raw_score"`
	PassingRawScore int    `db:"passing_raw_score"`
}

type criterionRow struct {
	ID           int64  `db:"id"`
	SubjectID    int64  `db:"subject_id"`
	Code         string `db:"code"`
	Label        string `db:"label"`
	DisplayOrder int    `db:"display_order"`
	Weight       int    `db:"weight"`
	IsCritical   bool   `db:"is_critical"`
}

type catalogRepository struct {
	repository
}

var _ catalog.Repository = (*catalogRepository)(nil)

func NewCatalogRepository(exec core.DBExecutor) catalog.Repository {
	return &catalogRepository{repository{exec: exec}}
}

func (repo catalogRepository) unboilSubject(row subjectRow, criteria []criterionRow) catalog.Subject {
	subj := catalog.Subject{
		ID:              row.ID,
		Code:            row.Code,
		Name:            row.Name,
		DisplayOrder:    row.DisplayOrder,
		MaxRawScore:     row.MaxRawScore,
		PassingRawScore: row.PassingRawScore,
		Criteria:        make([]catalog.Criterion, 0, len(criteria)),
	}
	for _, c := range criteria {
		subj.Criteria = append(subj.Criteria, catalog.Criterion{
			ID:           c.ID,
			SubjectID:    c.SubjectID,
			Code:         c.Code,
			Label:        c.Label,
			DisplayOrder: c.DisplayOrder,
			Weight:       c.Weight,
			IsCritical:   c.IsCritical,
		})
	}
	return subj
}

func (repo catalogRepository) trapNoRowsErr(err error, msg string) error {
	if err == sql.ErrNoRows {
		return catalog.ErrNotFound
	}
	return errors.Wrap(err, msg)
}

func (repo catalogRepository) criteriaOf(ctx context.Context, exec core.DBExecutor, subjectID int64) ([]criterionRow, error) {
	var rows []criterionRow
	err := selectAll(ctx, exec, &rows,
		"SELECT "+criterionColumns+" FROM criteria WHERE subject_id = ? ORDER BY display_order, id", subjectID)
	return rows, err
}

func (repo catalogRepository) QuerySubjects(ctx context.Context, exec ...core.DBExecutor) ([]catalog.Subject, error) {
	exe := repo.getExec(exec)

	var subjRows []subjectRow
	if err := selectAll(ctx, exe, &subjRows, "SELECT "+subjectColumns+" FROM subjects ORDER BY display_order, id"); err != nil {
		return nil, errors.Wrap(err, "querying subjects")
	}
	var critRows []criterionRow
	if err := selectAll(ctx, exe, &critRows, "SELECT "+criterionColumns+" FROM criteria ORDER BY subject_id, display_order, id"); err != nil {
		return nil, errors.Wrap(err, "querying criteria")
	}

	bySubject := make(map[int64][]criterionRow, len(subjRows))
	for _, c := range critRows {
		bySubject[c.SubjectID] = append(bySubject[c.SubjectID], c)
	}
	subjects := make([]catalog.Subject, 0, len(subjRows))
	for _, s := range subjRows {
		subjects = append(subjects, repo.unboilSubject(s, bySubject[s.ID]))
	}
	return subjects, nil
}

func (repo catalogRepository) getSubject(ctx context.Context, exe core.DBExecutor, cond string, arg interface{}) (catalog.Subject, error) {
	row, err := selectOne[subjectRow](ctx, exe, "SELECT "+subjectColumns+" FROM subjects WHERE "+cond, arg)
	if err != nil {
		return catalog.Subject{}, repo.trapNoRowsErr(err, "finding subject")
	}
	criteria, err := repo.criteriaOf(ctx, exe, row.ID)
	if err != nil {
		return catalog.Subject{}, errors.Wrap(err, "finding criteria")
	}
	return repo.unboilSubject(row, criteria), nil
}

func (repo catalogRepository) GetSubject(ctx context.Context, id int64, exec ...core.DBExecutor) (catalog.Subject, error) {
	return repo.getSubject(ctx, repo.getExec(exec), "id = ?", id)
}

func (repo catalogRepository) GetSubjectByCode(ctx context.Context, code string, exec ...core.DBExecutor) (catalog.Subject, error) {
	return repo.getSubject(ctx, repo.getExec(exec), "code = ?", code)
}

func (repo catalogRepository) SaveSubject(ctx context.Context, subj catalog.Subject, exec ...core.DBExecutor) (catalog.Subject, error) {
	exe := repo.getExec(exec)

	row := subjectRow{
		Code:            subj.Code,
		Name:            subj.Name,
		DisplayOrder:    subj.DisplayOrder,
		MaxRawScore:     subj.MaxRawScore,
		PassingRawScore: subj.PassingRawScore,
	}
	err := namedReturning(ctx, exe, `
		INSERT INTO subjects (code, name, display_order, max_raw_score, passing_raw_score)
		VALUES (:code, :name, :display_order, :max_raw_score, :passing_raw_score)
		ON CONFLICT (code) DO UPDATE
		SET name = EXCLUDED.name, display_order = EXCLUDED.display_order,
			max_raw_score = EXCLUDED.max_raw_score, passing_raw_score = EXCLUDED.passing_raw_score
		RETURNING id`,
		row, &row.ID)
	if err != nil {
		return catalog.Subject{}, errors.Wrap(err, "saving subject")
	}

	codes := make([]string, 0, len(subj.Criteria))
	for _, c := range subj.Criteria {
		crit := criterionRow{
			SubjectID:    row.ID,
			Code:         c.Code,
			Label:        c.Label,
			DisplayOrder: c.DisplayOrder,
			Weight:       c.Weight,
			IsCritical:   c.IsCritical,
		}
		err = namedReturning(ctx, exe, `
			INSERT INTO criteria (subject_id, code, label, display_order, weight, is_critical)
			VALUES (:subject_id, :code, :label, :display_order, :weight, :is_critical)
			ON CONFLICT (subject_id, code) DO UPDATE
			SET label = EXCLUDED.label, display_order = EXCLUDED.display_order,
				weight = EXCLUDED.weight, is_critical = EXCLUDED.is_critical
			RETURNING id`,
			crit, &crit.ID)
		if err != nil {
			return catalog.Subject{}, errors.Wrapf(err, "saving criterion %q", c.Code)
		}
		codes = append(codes, c.Code)
	}

	if len(codes) > 0 {
		_, err = execIn(ctx, exe, "DELETE FROM criteria WHERE subject_id = ? AND code NOT IN (?)", row.ID, codes)
		if err != nil {
			return catalog.Subject{}, errors.Wrap(err, "deleting removed criteria")
		}
	}
	return repo.GetSubject(ctx, row.ID, exe)
}

func (repo catalogRepository) ReferencedCriteria(ctx context.Context, subjectID int64, exec ...core.DBExecutor) (map[int64]bool, error) {
	var ids []int64
	err := selectAll(ctx, repo.getExec(exec), &ids, `
		SELECT DISTINCT c.id
		FROM criteria c
		JOIN item_scores s ON s.criterion_id = c.id
		WHERE c.subject_id = ?`,
		subjectID)
	if err != nil {
		return nil, errors.Wrap(err, "querying referenced criteria")
	}
	used := make(map[int64]bool, len(ids))
	for _, id := range ids {
		used[id] = true
	}
	return used, nil
}
