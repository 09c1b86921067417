package catalog

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/trezcool/divecert/core"
)

var (
	// errors
	ErrNotFound = errors.New("subject not found")

	errCriterionInUse = errors.New("criterion already used by evaluations")
)

type (
	Repository interface {
		// QuerySubjects returns all subjects, with their criteria, by display order.
		QuerySubjects(ctx context.Context, exec ...core.DBExecutor) ([]Subject, error)
		GetSubject(ctx context.Context, id int64, exec ...core.DBExecutor) (Subject, error)
		GetSubjectByCode(ctx context.Context, code string, exec ...core.DBExecutor) (Subject, error)
		// SaveSubject inserts or updates a subject by code, along with its criteria (by code).
		// Criteria of the subject missing from subj.Criteria are deleted.
		SaveSubject(ctx context.Context, subj Subject, exec ...core.DBExecutor) (Subject, error)
		// ReferencedCriteria returns the IDs of the subject's criteria that have item scores.
		ReferencedCriteria(ctx context.Context, subjectID int64, exec ...core.DBExecutor) (map[int64]bool, error)
	}

	Service interface {
		Subjects(ctx context.Context) ([]Subject, error)
		GetSubject(ctx context.Context, id int64) (Subject, error)
		// Snapshot returns a consistent, read-only view of a subject and its criteria.
		Snapshot(ctx context.Context, subjectID int64) (Snapshot, error)
		// Load inserts or updates every subject of def in a single transaction.
		Load(ctx context.Context, def Definition) ([]Subject, error)
	}

	service struct {
		db   core.DB
		repo Repository
	}
)

var _ Service = (*service)(nil)

func NewService(db core.DB, repo Repository) Service {
	return &service{db: db, repo: repo}
}

func (svc *service) Subjects(ctx context.Context) ([]Subject, error) {
	return svc.repo.QuerySubjects(ctx)
}

func (svc *service) GetSubject(ctx context.Context, id int64) (Subject, error) {
	return svc.repo.GetSubject(ctx, id)
}

func (svc *service) Snapshot(ctx context.Context, subjectID int64) (Snapshot, error) {
	subj, err := svc.repo.GetSubject(ctx, subjectID)
	if err != nil {
		return Snapshot{}, err
	}
	if err = subj.Validate(); err != nil {
		return Snapshot{}, err
	}
	return NewSnapshot(subj), nil
}

func (svc *service) Load(ctx context.Context, def Definition) ([]Subject, error) {
	subjects, err := def.Build()
	if err != nil {
		return nil, err
	}

	saved := make([]Subject, 0, len(subjects))
	err = core.RunInTx(ctx, svc.db, func(tx core.DBExecutor) error {
		for _, subj := range subjects {
			if err := svc.checkReferencedCriteria(ctx, tx, subj); err != nil {
				return err
			}
			s, err := svc.repo.SaveSubject(ctx, subj, tx)
			if err != nil {
				return errors.Wrapf(err, "saving subject %q", subj.Code)
			}
			saved = append(saved, s)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return saved, nil
}

// checkReferencedCriteria rejects definitions that remove, re-weight or change the criticality
// of a criterion evaluations were already scored against.
func (svc *service) checkReferencedCriteria(ctx context.Context, tx core.DBExecutor, subj Subject) error {
	existing, err := svc.repo.GetSubjectByCode(ctx, subj.Code, tx)
	if err != nil {
		if errors.Cause(err) == ErrNotFound {
			return nil
		}
		return errors.Wrapf(err, "finding subject %q", subj.Code)
	}
	used, err := svc.repo.ReferencedCriteria(ctx, existing.ID, tx)
	if err != nil {
		return errors.Wrapf(err, "finding referenced criteria of %q", subj.Code)
	}
	if len(used) == 0 {
		return nil
	}

	next := make(map[string]Criterion, len(subj.Criteria))
	for _, c := range subj.Criteria {
		next[c.Code] = c
	}
	var flds []core.FieldError
	for _, c := range existing.Criteria {
		if !used[c.ID] {
			continue
		}
		n, ok := next[c.Code]
		switch {
		case !ok:
			flds = append(flds, core.FieldError{Field: subj.Code + "." + c.Code, Error: "cannot be removed: " + errCriterionInUse.Error()})
		case n.Weight != c.Weight || n.IsCritical != c.IsCritical:
			flds = append(flds, core.FieldError{
				Field: subj.Code + "." + c.Code,
				Error: fmt.Sprintf("weight and criticality cannot change: %v", errCriterionInUse),
			})
		}
	}
	if flds != nil {
		return core.NewValidationError(errors.Wrapf(errCriterionInUse, "subject %q", subj.Code), flds...)
	}
	return nil
}
