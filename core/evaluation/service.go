package evaluation

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/divecert/core"
	"github.com/trezcool/divecert/core/catalog"
	"github.com/trezcool/divecert/core/scoring"
	"github.com/trezcool/divecert/core/user"
)

var (
	// errors
	ErrNotFound             = errors.New("evaluation not found")
	ErrExternalTestNotFound = errors.New("external test not found")

	// NowFunc returns the current time; mockable.
	NowFunc = time.Now
)

type (
	Repository interface {
		// CreateEvaluation inserts ev and its item scores; use a transaction as exec to keep them atomic.
		CreateEvaluation(ctx context.Context, ev Evaluation, items []ItemScore, exec ...core.DBExecutor) (Evaluation, error)
		// GetEvaluation returns the evaluation with its item scores.
		GetEvaluation(ctx context.Context, id int64, exec ...core.DBExecutor) (Evaluation, error)
		QueryEvaluations(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]Evaluation, error)
		DeleteEvaluationsByID(ctx context.Context, ids []int64, exec ...core.DBExecutor) (int, error)

		UpsertExternalTest(ctx context.Context, et ExternalTest, exec ...core.DBExecutor) (ExternalTest, error)
		GetExternalTest(ctx context.Context, studentID string, exec ...core.DBExecutor) (ExternalTest, error)
		QueryExternalTests(ctx context.Context, studentIDs []string, exec ...core.DBExecutor) ([]ExternalTest, error)
	}

	// Observer is notified of every persisted evaluation.
	Observer interface {
		ObserveEvaluation(subjectCode, mode string, verdict scoring.Verdict, took time.Duration)
	}

	Service interface {
		Create(ctx context.Context, ne NewEvaluation) (Evaluation, error)
		// Preview computes the verdict of scores on a subject without persisting anything.
		Preview(ctx context.Context, subjectID int64, scores []ScoreInput) (scoring.Verdict, error)
		Get(ctx context.Context, id int64) (Evaluation, error)
		Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Evaluation, error)
		Delete(ctx context.Context, ids ...int64) error

		UpsertExternalTest(ctx context.Context, studentID string, scores ExternalScores) (ExternalTest, error)
		GetExternalTest(ctx context.Context, studentID string) (ExternalTest, error)
		QueryExternalTests(ctx context.Context, studentIDs ...string) ([]ExternalTest, error)
	}

	service struct {
		db                        core.DB
		repo                      Repository
		catalogSvc                catalog.Service
		usrSvc                    user.Service
		observer                  Observer
		requireInstructorForTests bool
	}
)

var _ Service = (*service)(nil)

// NewService returns the evaluation Service. observer may be nil.
func NewService(db core.DB, repo Repository, catalogSvc catalog.Service, usrSvc user.Service, observer Observer, conf *core.Config) Service {
	return &service{
		db:                        db,
		repo:                      repo,
		catalogSvc:                catalogSvc,
		usrSvc:                    usrSvc,
		observer:                  observer,
		requireInstructorForTests: conf.Evaluation.RequireInstructorForTests,
	}
}

func (svc *service) snapshot(ctx context.Context, subjectID int64) (catalog.Snapshot, error) {
	snap, err := svc.catalogSvc.Snapshot(ctx, subjectID)
	if err != nil {
		if errors.Cause(err) == catalog.ErrNotFound {
			return catalog.Snapshot{}, core.NewValidationError(err, core.FieldError{Field: "subject_id", Error: err.Error()})
		}
		return catalog.Snapshot{}, errors.Wrap(err, "taking catalog snapshot")
	}
	return snap, nil
}

// checkUsers verifies the student and instructor of ne exist with the proper roles.
func (svc *service) checkUsers(ctx context.Context, ne NewEvaluation) error {
	var flds []core.FieldError

	student, err := svc.usrSvc.GetByID(ctx, ne.StudentID)
	switch {
	case errors.Cause(err) == user.ErrNotFound:
		flds = append(flds, core.FieldError{Field: "student_id", Error: err.Error()})
	case err != nil:
		return errors.Wrap(err, "finding student")
	case !student.IsStudent():
		flds = append(flds, core.FieldError{Field: "student_id", Error: "user is not a student"})
	}

	if ne.InstructorID != "" {
		instructor, err := svc.usrSvc.GetByID(ctx, ne.InstructorID)
		switch {
		case errors.Cause(err) == user.ErrNotFound:
			flds = append(flds, core.FieldError{Field: "instructor_id", Error: err.Error()})
		case err != nil:
			return errors.Wrap(err, "finding instructor")
		case !instructor.IsStaff():
			flds = append(flds, core.FieldError{Field: "instructor_id", Error: "user is not an instructor"})
		}
	}

	if flds != nil {
		return core.NewValidationError(errInvalidEvaluation, flds...)
	}
	return nil
}

func (svc *service) Create(ctx context.Context, ne NewEvaluation) (Evaluation, error) {
	ne.Clean()
	now := NowFunc().UTC()
	if ne.EvaluatedOn == "" {
		ne.EvaluatedOn = now.Format(DateLayout)
	}

	snap, err := svc.snapshot(ctx, ne.SubjectID)
	if err != nil {
		return Evaluation{}, err
	}

	start := time.Now()
	ev, items, err := Build(snap, ne, ne.Mode == ModeTest && svc.requireInstructorForTests)
	took := time.Since(start)
	if err != nil {
		return Evaluation{}, err
	}
	if err = svc.checkUsers(ctx, ne); err != nil {
		return Evaluation{}, err
	}
	ev.CreatedAt = now

	err = core.RunInTx(ctx, svc.db, func(tx core.DBExecutor) error {
		var err error
		ev, err = svc.repo.CreateEvaluation(ctx, ev, items, tx)
		return err
	})
	if err != nil {
		return Evaluation{}, errors.Wrap(err, "creating evaluation")
	}

	if svc.observer != nil {
		svc.observer.ObserveEvaluation(snap.Subject().Code, ev.Mode, ev.Verdict(), took)
	}
	return ev, nil
}

func (svc *service) Preview(ctx context.Context, subjectID int64, scores []ScoreInput) (scoring.Verdict, error) {
	snap, err := svc.snapshot(ctx, subjectID)
	if err != nil {
		return scoring.Verdict{}, err
	}
	return Preview(snap, scores)
}

func (svc *service) Get(ctx context.Context, id int64) (Evaluation, error) {
	return svc.repo.GetEvaluation(ctx, id)
}

func (svc *service) Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Evaluation, error) {
	if filter != nil {
		filter.Clean()
	}
	return svc.repo.QueryEvaluations(ctx, filter, ordering)
}

func (svc *service) Delete(ctx context.Context, ids ...int64) error {
	_, err := svc.repo.DeleteEvaluationsByID(ctx, ids)
	return err
}
