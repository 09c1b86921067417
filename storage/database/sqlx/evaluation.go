package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/divecert/core"
	"github.com/trezcool/divecert/core/evaluation"
)

const (
	evaluationColumns = `id, ref, subject_id, student_id, instructor_id, mode, lesson_label, evaluated_on, raw_score,
		percentage_score, final_score, is_passing, has_critical_fail, notes, created_at`
	itemScoreColumns    = `id, evaluation_id, criterion_id, score`
	externalTestColumns = `id, student_id, physics, physiology, equipment, decompression, environment, updated_at`
)

var evaluationOrderings = map[string]string{
	"evaluated_on":     "evaluated_on",
	"created_at":       "created_at",
	"percentage_score": "percentage_score",
	"raw_score":        "raw_score",
	"subject_id":       "subject_id",
}

type evaluationRow struct {
	ID              int64       `db:"id"`
	Ref             string      `db:"ref"`
	SubjectID       int64       `db:"subject_id"`
	StudentID       string      `db:"student_id"`
	InstructorID    null.String `db:"instructor_id"`
	Mode            string      `db:"mode"`
	LessonLabel     string      `db:"lesson_label"`
	EvaluatedOn     time.Time   `db:"evaluated_on"`
	RawScore        int         `db:"raw_score"`
	PercentageScore float64     `db:"percentage_score"`
	FinalScore      float64     `db:"final_score"`
	IsPassing       bool        `db:"is_passing"`
	HasCriticalFail bool        `db:"has_critical_fail"`
	Notes           null.String `db:"notes"`
	CreatedAt       time.Time   `db:"created_at"`
}

type itemScoreRow struct {
	ID           int64 `db:"id"`
	EvaluationID int64 `db:"evaluation_id"`
	CriterionID  int64 `db:"criterion_id"`
	Score        int   `db:"score"`
}

type externalTestRow struct {
	ID            int64        `db:"id"`
	StudentID     string       `db:"student_id"`
	Physics       null.Float64 `db:"physics"`
	Physiology    null.Float64 `db:"physiology"`
	Equipment     null.Float64 `db:"equipment"`
	Decompression null.Float64 `db:"decompression"`
	Environment   null.Float64 `db:"environment"`
	UpdatedAt     time.Time    `db:"updated_at"`
}

type evaluationRepository struct {
	repository
}

var _ evaluation.Repository = (*evaluationRepository)(nil)

func NewEvaluationRepository(exec core.DBExecutor) evaluation.Repository {
	return &evaluationRepository{repository{exec: exec}}
}

func (repo evaluationRepository) boil(ev evaluation.Evaluation) evaluationRow {
	return evaluationRow{
		ID:              ev.ID,
		Ref:             ev.Ref,
		SubjectID:       ev.SubjectID,
		StudentID:       ev.StudentID,
		InstructorID:    ev.InstructorID,
		Mode:            ev.Mode,
		LessonLabel:     ev.LessonLabel,
		EvaluatedOn:     ev.EvaluatedOn.UTC(),
		RawScore:        ev.RawScore,
		PercentageScore: ev.PercentageScore,
		FinalScore:      ev.FinalScore,
		IsPassing:       ev.IsPassing,
		HasCriticalFail: ev.HasCriticalFail,
		Notes:           ev.Notes,
		CreatedAt:       dbTime(ev.CreatedAt),
	}
}

func (repo evaluationRepository) unboil(row evaluationRow) evaluation.Evaluation {
	y, m, d := row.EvaluatedOn.Date()
	return evaluation.Evaluation{
		ID:              row.ID,
		Ref:             row.Ref,
		SubjectID:       row.SubjectID,
		StudentID:       row.StudentID,
		InstructorID:    row.InstructorID,
		Mode:            row.Mode,
		LessonLabel:     row.LessonLabel,
		EvaluatedOn:     time.Date(y, m, d, 0, 0, 0, 0, time.UTC),
		RawScore:        row.RawScore,
		PercentageScore: row.PercentageScore,
		FinalScore:      row.FinalScore,
		IsPassing:       row.IsPassing,
		HasCriticalFail: row.HasCriticalFail,
		Notes:           row.Notes,
		CreatedAt:       row.CreatedAt.UTC(),
	}
}

func (repo evaluationRepository) unboilExternalTest(row externalTestRow) evaluation.ExternalTest {
	return evaluation.ExternalTest{
		ID:        row.ID,
		StudentID: row.StudentID,
		UpdatedAt: row.UpdatedAt.UTC(),
		ExternalScores: evaluation.ExternalScores{
			Physics:       row.Physics,
			Physiology:    row.Physiology,
			Equipment:     row.Equipment,
			Decompression: row.Decompression,
			Environment:   row.Environment,
		},
	}
}

func (repo evaluationRepository) trapNoRowsErr(err error, notFound error, msg string) error {
	if err == sql.ErrNoRows {
		return notFound
	}
	return errors.Wrap(err, msg)
}

func (repo evaluationRepository) CreateEvaluation(ctx context.Context, ev evaluation.Evaluation, items []evaluation.ItemScore, exec ...core.DBExecutor) (evaluation.Evaluation, error) {
	exe := repo.getExec(exec)

	row := repo.boil(ev)
	err := namedReturning(ctx, exe, `
		INSERT INTO evaluations (ref, subject_id, student_id, instructor_id, mode, lesson_label, evaluated_on, raw_score,
			percentage_score, final_score, is_passing, has_critical_fail, notes, created_at)
		VALUES (:ref, :subject_id, :student_id, :instructor_id, :mode, :lesson_label, :evaluated_on, :raw_score,
			:percentage_score, :final_score, :is_passing, :has_critical_fail, :notes, :created_at)
		RETURNING id`,
		row, &row.ID)
	if err != nil {
		return evaluation.Evaluation{}, errors.Wrap(err, "inserting evaluation")
	}

	saved := repo.unboil(row)
	saved.Scores = make([]evaluation.ItemScore, 0, len(items))
	for _, item := range items {
		itemRow := itemScoreRow{EvaluationID: row.ID, CriterionID: item.CriterionID, Score: item.Score}
		err = namedReturning(ctx, exe, `
			INSERT INTO item_scores (evaluation_id, criterion_id, score)
			VALUES (:evaluation_id, :criterion_id, :score)
			RETURNING id`,
			itemRow, &itemRow.ID)
		if err != nil {
			return evaluation.Evaluation{}, errors.Wrapf(err, "inserting score of criterion %d", item.CriterionID)
		}
		saved.Scores = append(saved.Scores, evaluation.ItemScore{
			ID:            itemRow.ID,
			EvaluationID:  row.ID,
			EvaluationRef: row.Ref,
			CriterionID:   itemRow.CriterionID,
			Score:         itemRow.Score,
		})
	}
	return saved, nil
}

func (repo evaluationRepository) GetEvaluation(ctx context.Context, id int64, exec ...core.DBExecutor) (evaluation.Evaluation, error) {
	exe := repo.getExec(exec)

	row, err := selectOne[evaluationRow](ctx, exe, "SELECT "+evaluationColumns+" FROM evaluations WHERE id = ?", id)
	if err != nil {
		return evaluation.Evaluation{}, repo.trapNoRowsErr(err, evaluation.ErrNotFound, "finding evaluation")
	}
	var items []itemScoreRow
	err = selectAll(ctx, exe, &items, `
		SELECT s.id, s.evaluation_id, s.criterion_id, s.score
		FROM item_scores s
		JOIN criteria c ON c.id = s.criterion_id
		WHERE s.evaluation_id = ?
		ORDER BY c.display_order, c.id`,
		id)
	if err != nil {
		return evaluation.Evaluation{}, errors.Wrap(err, "finding item scores")
	}

	ev := repo.unboil(row)
	ev.Scores = make([]evaluation.ItemScore, 0, len(items))
	for _, item := range items {
		ev.Scores = append(ev.Scores, evaluation.ItemScore{
			ID:            item.ID,
			EvaluationID:  item.EvaluationID,
			EvaluationRef: ev.Ref,
			CriterionID:   item.CriterionID,
			Score:         item.Score,
		})
	}
	return ev, nil
}

func (repo evaluationRepository) QueryEvaluations(ctx context.Context, filter *evaluation.QueryFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]evaluation.Evaluation, error) {
	var w where

	if filter != nil {
		if filter.SubjectID != 0 {
			w.add("subject_id = ?", filter.SubjectID)
		}
		if filter.StudentID != "" {
			w.add("student_id::text = ?", filter.StudentID)
		}
		if filter.InstructorID != "" {
			w.add("instructor_id::text = ?", filter.InstructorID)
		}
		if filter.Mode != "" {
			w.add("mode = ?", filter.Mode)
		}
		if filter.IsPassing != nil {
			w.add("is_passing = ?", *filter.IsPassing)
		}
		if !filter.From.IsZero() {
			w.add("evaluated_on >= ?", filter.From.UTC().Format(evaluation.DateLayout))
		}
		if !filter.To.IsZero() {
			w.add("evaluated_on <= ?", filter.To.UTC().Format(evaluation.DateLayout))
		}
	}

	q := "SELECT " + evaluationColumns + " FROM evaluations" + w.String() +
		core.OrderByClause(ordering, evaluationOrderings, "evaluated_on DESC, id DESC")
	var rows []evaluationRow
	if err := selectAll(ctx, repo.getExec(exec), &rows, q, w.args...); err != nil {
		return nil, errors.Wrap(err, "querying evaluations")
	}
	evals := make([]evaluation.Evaluation, 0, len(rows))
	for _, row := range rows {
		evals = append(evals, repo.unboil(row))
	}
	return evals, nil
}

func (repo evaluationRepository) DeleteEvaluationsByID(ctx context.Context, ids []int64, exec ...core.DBExecutor) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	cnt, err := execIn(ctx, repo.getExec(exec), "DELETE FROM evaluations WHERE id IN (?)", ids)
	if err != nil {
		return 0, errors.Wrap(err, "deleting evaluations")
	}
	return cnt, nil
}

func (repo evaluationRepository) UpsertExternalTest(ctx context.Context, et evaluation.ExternalTest, exec ...core.DBExecutor) (evaluation.ExternalTest, error) {
	row := externalTestRow{
		StudentID:     et.StudentID,
		Physics:       et.Physics,
		Physiology:    et.Physiology,
		Equipment:     et.Equipment,
		Decompression: et.Decompression,
		Environment:   et.Environment,
		UpdatedAt:     dbTime(et.UpdatedAt),
	}
	err := namedReturning(ctx, repo.getExec(exec), `
		INSERT INTO external_tests (student_id, physics, physiology, equipment, decompression, environment, updated_at)
		VALUES (:student_id, :physics, :physiology, :equipment, :decompression, :environment, :updated_at)
		ON CONFLICT (student_id) DO UPDATE
		SET physics = EXCLUDED.physics, physiology = EXCLUDED.physiology, equipment = EXCLUDED.equipment,
			decompression = EXCLUDED.decompression, environment = EXCLUDED.environment, updated_at = EXCLUDED.updated_at
		RETURNING id`,
		row, &row.ID)
	if err != nil {
		return evaluation.ExternalTest{}, errors.Wrap(err, "upserting external test")
	}
	return repo.unboilExternalTest(row), nil
}

func (repo evaluationRepository) GetExternalTest(ctx context.Context, studentID string, exec ...core.DBExecutor) (evaluation.ExternalTest, error) {
	row, err := selectOne[externalTestRow](ctx, repo.getExec(exec),
		"SELECT "+externalTestColumns+" FROM external_tests WHERE student_id::text = ?", studentID)
	if err != nil {
		return evaluation.ExternalTest{}, repo.trapNoRowsErr(err, evaluation.ErrExternalTestNotFound, "finding external test")
	}
	return repo.unboilExternalTest(row), nil
}

func (repo evaluationRepository) QueryExternalTests(ctx context.Context, studentIDs []string, exec ...core.DBExecutor) ([]evaluation.ExternalTest, error) {
	q := "SELECT " + externalTestColumns + " FROM external_tests"
	var args []interface{}
	if len(studentIDs) > 0 {
		var err error
		q, args, err = in(q+" WHERE student_id::text IN (?)", studentIDs)
		if err != nil {
			return nil, errors.Wrap(err, "querying external tests")
		}
	}

	var rows []externalTestRow
	if err := selectAll(ctx, repo.getExec(exec), &rows, q+" ORDER BY updated_at DESC", args...); err != nil {
		return nil, errors.Wrap(err, "querying external tests")
	}
	tests := make([]evaluation.ExternalTest, 0, len(rows))
	for _, row := range rows {
		tests = append(tests, repo.unboilExternalTest(row))
	}
	return tests, nil
}
